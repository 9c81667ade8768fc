package noise

import "testing"

func TestSourcesStayInRange(t *testing.T) {
	types := []Type{TypeOpenSimplex, TypePerlin, TypeValue, TypeCellular}
	fractals := []Fractal{FractalNone, FractalFBm, FractalRidged}
	for _, ty := range types {
		for _, fr := range fractals {
			src := New(Spec{Seed: 7, Type: ty, Fractal: fr, Octaves: 4, Lacunarity: 2, Gain: 0.5})
			for i := 0; i < 400; i++ {
				x := float64(i) * 0.137
				y := float64(i%23) * 0.291
				v := src.Eval2(x, y)
				if v < -1 || v > 1 {
					t.Fatalf("%s/%s: Eval2(%v,%v)=%v out of [-1,1]", ty, fr, x, y, v)
				}
			}
		}
	}
}

func TestSourcesDeterministic(t *testing.T) {
	spec := Spec{Seed: 1337, Type: TypePerlin, Fractal: FractalFBm, Octaves: 3, Lacunarity: 2, Gain: 0.5}
	a, b := New(spec), New(spec)
	for i := 0; i < 50; i++ {
		x, y := float64(i)*0.31, float64(i)*0.17
		if a.Eval2(x, y) != b.Eval2(x, y) {
			t.Fatalf("same spec diverged at (%v,%v)", x, y)
		}
	}
}

func TestParse(t *testing.T) {
	if ty, err := ParseType(" Perlin "); err != nil || ty != TypePerlin {
		t.Fatalf("ParseType: got %q, %v", ty, err)
	}
	if ty, err := ParseType(""); err != nil || ty != TypeOpenSimplex {
		t.Fatalf("ParseType default: got %q, %v", ty, err)
	}
	if _, err := ParseType("simplex3d"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if fr, err := ParseFractal("RIDGED"); err != nil || fr != FractalRidged {
		t.Fatalf("ParseFractal: got %q, %v", fr, err)
	}
}
