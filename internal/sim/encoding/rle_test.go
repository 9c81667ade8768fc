package encoding

import (
	"testing"

	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/mesh"
)

func TestTerrainRLE_RoundTrip(t *testing.T) {
	in := make([]gen.TerrainType, 0, 200)
	in = append(in, gen.Land, gen.Land, gen.Land, gen.Water, gen.Water, gen.River)
	for i := 0; i < 50; i++ {
		in = append(in, gen.Water)
	}
	in = append(in, gen.Land, gen.River, gen.River, gen.River)

	enc := EncodeTerrain(in)
	out, err := DecodeTerrain(enc, 0)
	if err != nil {
		t.Fatalf("DecodeTerrain: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}

	if _, err := DecodeTerrain(enc, 10); err == nil {
		t.Fatalf("expected overflow error with a 10 cell cap")
	}
}

func TestVertices_RoundTrip(t *testing.T) {
	cells := []gen.TerrainType{
		gen.Land, gen.Land, gen.Water,
		gen.Land, gen.Land, gen.Water,
	}
	in := mesh.Build(cells, 3, 2, 1, 32, 64, 16)
	enc, err := EncodeVertices(in)
	if err != nil {
		t.Fatalf("EncodeVertices: %v", err)
	}
	out, err := DecodeVertices(enc)
	if err != nil {
		t.Fatalf("DecodeVertices: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("vertex %d: got %+v want %+v", i, out[i], in[i])
		}
	}

	if _, err := DecodeVertices("AAAA"); err == nil {
		t.Fatalf("expected error for a non-zstd payload")
	}
}
