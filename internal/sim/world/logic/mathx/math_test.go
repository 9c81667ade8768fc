package mathx

import "testing"

func TestFloorDivMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{7, 4, 1, 3},
		{-1, 4, -1, 3},
		{-4, 4, -1, 0},
		{-5, 4, -2, 3},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d): got %d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d): got %d want %d", c.a, c.b, got, c.m)
		}
	}
}

func TestSmoothstep(t *testing.T) {
	if got := Smoothstep(-1); got != 0 {
		t.Fatalf("Smoothstep(-1): got %v want 0", got)
	}
	if got := Smoothstep(0.5); got != 0.5 {
		t.Fatalf("Smoothstep(0.5): got %v want 0.5", got)
	}
	if got := Smoothstep(2); got != 1 {
		t.Fatalf("Smoothstep(2): got %v want 1", got)
	}
	if got := SmoothstepRange(3, 3, 2); got != 0 {
		t.Fatalf("degenerate below: got %v", got)
	}
	if got := SmoothstepRange(3, 3, 3); got != 1 {
		t.Fatalf("degenerate at edge: got %v", got)
	}
}

func TestCeilDiv(t *testing.T) {
	if got := CeilDiv(5, 2); got != 3 {
		t.Fatalf("CeilDiv(5,2): got %d want 3", got)
	}
	if got := CeilDiv(4, 2); got != 2 {
		t.Fatalf("CeilDiv(4,2): got %d want 2", got)
	}
}

func TestUnitRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		u := Unit(Hash2(42, i, -i))
		if u < 0 || u >= 1 {
			t.Fatalf("Unit out of range: %v", u)
		}
	}
	if Hash2(1, 2, 3) != Hash2(1, 2, 3) {
		t.Fatalf("Hash2 not deterministic")
	}
}
