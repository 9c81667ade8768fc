package settlement

import "testing"

func TestBFS4_ManhattanFromSingleSource(t *testing.T) {
	src := make([]bool, 16)
	src[0] = true
	dist := bfs4(src, 4, 4, 0)
	if got := dist[3*4+3]; got != 6 {
		t.Fatalf("dist(3,3): got %d want 6", got)
	}
	if got := dist[2]; got != 2 {
		t.Fatalf("dist(2,0): got %d want 2", got)
	}

	clipped := bfs4(src, 4, 4, 2)
	if got := clipped[2]; got != 2 {
		t.Fatalf("clipped dist(2,0): got %d want 2", got)
	}
	if got := clipped[3*4+3]; got != Unreached {
		t.Fatalf("clipped dist(3,3): got %d want unreached", got)
	}
}

func TestSeed8_ChebyshevAndIncremental(t *testing.T) {
	f := newField(16)
	seed8(f, 4, 4, 0, 0)
	if got := f[3*4+3]; got != 3 {
		t.Fatalf("dist(3,3): got %d want 3", got)
	}
	seed8(f, 4, 4, 3, 3)
	if got := f[3*4+3]; got != 0 {
		t.Fatalf("second seed not zero: %d", got)
	}
	if got := f[0]; got != 0 {
		t.Fatalf("first seed overwritten: %d", got)
	}
	// (1,2) is 2 from the first seed and 2 from the second.
	if got := f[2*4+1]; got != 2 {
		t.Fatalf("dist(1,2): got %d want 2", got)
	}
	if got := f[1*4+2]; got != 2 {
		t.Fatalf("dist(2,1): got %d want 2", got)
	}
	seed8(f, 4, 4, -1, 9)
}

func TestSAT_CountClips(t *testing.T) {
	mask := []bool{
		true, false, true,
		true, true, false,
		false, true, true,
	}
	s := newSAT(mask, 3, 3)
	if set, area := s.count(0, 0, 2, 2); set != 6 || area != 9 {
		t.Fatalf("full: got %d/%d want 6/9", set, area)
	}
	if set, area := s.count(1, 1, 2, 2); set != 3 || area != 4 {
		t.Fatalf("lower right: got %d/%d want 3/4", set, area)
	}
	if set, area := s.count(-5, -5, 0, 0); set != 1 || area != 1 {
		t.Fatalf("clipped corner: got %d/%d want 1/1", set, area)
	}
	if _, area := s.count(5, 5, 9, 9); area != 0 {
		t.Fatalf("outside: area %d want 0", area)
	}
}

func TestNormalizeMap(t *testing.T) {
	land := []bool{true, true, true, false, true}
	v := []float32{2, 4, 3, 9, 0}
	normalizeMap(v, land)
	want := []float32{0, 1, 0.5, 0, 0}
	for i := range want {
		if v[i] != want[i] {
			t.Fatalf("v[%d]: got %v want %v (all %v)", i, v[i], want[i], v)
		}
	}

	flat := []float32{0.3, 0.3, 5}
	normalizeMap(flat, []bool{true, true, false})
	if flat[0] != 0.3 || flat[1] != 0.3 || flat[2] != 0 {
		t.Fatalf("flat map rescaled: %v", flat)
	}
}
