package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := write(t, `
tick_rate_hz: 20
worldgen:
  land_threshold: 0.42
  world_chunks: [4, 4]
  chunk_cells: [8, 8]
  cell_size: 2
  noise_layers:
    - label: base
      seed: 9
      frequency: 0.1
      noise_type: value
      weight: 1
placement:
  town_chance: 0.25
`)
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 20 {
		t.Fatalf("tick rate: got %d want 20", tu.TickRateHz)
	}
	if tu.WorldGen.LandThreshold != 0.42 || tu.WorldGen.WorldChunks != [2]int{4, 4} {
		t.Fatalf("worldgen: %+v", tu.WorldGen)
	}
	l := tu.WorldGen.NoiseLayers
	if len(l) != 1 || l[0].Octaves != 1 || l[0].Lacunarity != 2 || l[0].Gain != 0.5 {
		t.Fatalf("layer defaults not filled: %+v", l)
	}
	if tu.Placement.TownChance != 0.25 || tu.Placement.InitialCapitals != 5 {
		t.Fatalf("placement: %+v", tu.Placement)
	}
	if tu.Observer.MaxChunksPerTick != 32 {
		t.Fatalf("observer defaults lost: %+v", tu.Observer)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"chunk dims":  "worldgen:\n  chunk_cells: [0, 8]\n",
		"interval":    "placement:\n  min_spawn_interval_s: 10\n  max_spawn_interval_s: 5\n",
		"suitability": "placement:\n  min_suitability: 0.8\n  max_suitability: 0.2\n",
		"frequency":   "worldgen:\n  noise_layers:\n    - {label: a, frequency: 0, weight: 1}\n",
	}
	for name, body := range cases {
		_, err := Load(write(t, body))
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !strings.HasPrefix(err.Error(), "tuning.yaml:") {
			t.Fatalf("%s: error not wrapped: %v", name, err)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tu.WorldGen.NoiseLayers) != 3 || tu.WorldGen.NoiseLayers[2].NoiseType != "cellular" {
		t.Fatalf("noise layers: %+v", tu.WorldGen.NoiseLayers)
	}
	if tu.WorldGen.NoiseLayers[2].Lacunarity != 2 {
		t.Fatalf("lacunarity default not applied: %+v", tu.WorldGen.NoiseLayers[2])
	}
}
