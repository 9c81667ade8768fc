package gen

import (
	"errors"
	"fmt"

	"transity.ai/internal/sim/world/terrain/noise"
)

type TerrainType uint8

const (
	Water TerrainType = iota
	Land
	River
)

func (t TerrainType) String() string {
	switch t {
	case Water:
		return "WATER"
	case Land:
		return "LAND"
	case River:
		return "RIVER"
	default:
		return fmt.Sprintf("TERRAIN(%d)", uint8(t))
	}
}

// NoiseLayer is one weighted contribution to the terrain height signal.
type NoiseLayer struct {
	Label       string  `yaml:"label" json:"label"`
	Seed        int64   `yaml:"seed" json:"seed"`
	Frequency   float64 `yaml:"frequency" json:"frequency"`
	NoiseType   string  `yaml:"noise_type" json:"noise_type"`
	FractalType string  `yaml:"fractal_type" json:"fractal_type"`
	Octaves     int     `yaml:"octaves" json:"octaves"`
	Lacunarity  float64 `yaml:"lacunarity" json:"lacunarity"`
	Gain        float64 `yaml:"gain" json:"gain"`
	Weight      float64 `yaml:"weight" json:"weight"`
}

// Spec converts the layer to a noise spec. Invalid type names have already
// been rejected by Validate; here they fall back to the defaults.
func (l NoiseLayer) Spec() noise.Spec {
	ty, err := noise.ParseType(l.NoiseType)
	if err != nil {
		ty = noise.TypeOpenSimplex
	}
	fr, err := noise.ParseFractal(l.FractalType)
	if err != nil {
		fr = noise.FractalFBm
	}
	return noise.Spec{
		Seed:       l.Seed,
		Type:       ty,
		Fractal:    fr,
		Octaves:    l.Octaves,
		Lacunarity: l.Lacunarity,
		Gain:       l.Gain,
	}
}

// Params is the immutable-per-generation world description.
type Params struct {
	NoiseLayers                 []NoiseLayer `yaml:"noise_layers" json:"noise_layers"`
	LandThreshold               float64      `yaml:"land_threshold" json:"land_threshold"`
	DistortCoastline            bool         `yaml:"distort_coastline" json:"distort_coastline"`
	CoastlineDistortionStrength float64      `yaml:"coastline_distortion_strength" json:"coastline_distortion_strength"`
	// ContinentFalloff fades the height signal radially toward the world edge.
	ContinentFalloff bool `yaml:"continent_falloff" json:"continent_falloff"`

	WorldChunks [2]int  `yaml:"world_chunks" json:"world_chunks"`
	ChunkCells  [2]int  `yaml:"chunk_cells" json:"chunk_cells"`
	CellSize    float64 `yaml:"cell_size" json:"cell_size"`
}

func DefaultParams() Params {
	return Params{
		NoiseLayers: []NoiseLayer{
			{Label: "Continents", Seed: 1337, Frequency: 0.005, NoiseType: "perlin", FractalType: "fbm", Octaves: 3, Lacunarity: 2, Gain: 0.5, Weight: 1},
			{Label: "Mountains", Seed: 1338, Frequency: 0.02, NoiseType: "perlin", FractalType: "fbm", Octaves: 6, Lacunarity: 2, Gain: 0.5, Weight: 0.4},
			{Label: "Erosion", Seed: 1339, Frequency: 0.08, NoiseType: "cellular", FractalType: "none", Octaves: 1, Lacunarity: 2, Gain: 0.5, Weight: 0.15},
		},
		LandThreshold:               0.5,
		DistortCoastline:            true,
		CoastlineDistortionStrength: 0.05,
		WorldChunks:                 [2]int{32, 32},
		ChunkCells:                  [2]int{32, 32},
		CellSize:                    16,
	}
}

// Clone returns a deep copy so callers can hand params across goroutines.
func (p Params) Clone() Params {
	out := p
	out.NoiseLayers = append([]NoiseLayer(nil), p.NoiseLayers...)
	return out
}

func (p Params) WorldCells() (w, h int) {
	return p.WorldChunks[0] * p.ChunkCells[0], p.WorldChunks[1] * p.ChunkCells[1]
}

// ChunkWorldSize is the chunk extent in world units.
func (p Params) ChunkWorldSize() (w, h float64) {
	return float64(p.ChunkCells[0]) * p.CellSize, float64(p.ChunkCells[1]) * p.CellSize
}

func (p Params) InBounds(cx, cy int) bool {
	return cx >= 0 && cy >= 0 && cx < p.WorldChunks[0] && cy < p.WorldChunks[1]
}

// Compatible reports whether b can replace a without rebuilding the chunk
// layout: same world size, chunk size and cell size.
func Compatible(a, b Params) bool {
	return a.WorldChunks == b.WorldChunks && a.ChunkCells == b.ChunkCells && a.CellSize == b.CellSize
}

var ErrBadParams = errors.New("invalid world params")

func (p Params) Validate() error {
	if p.WorldChunks[0] <= 0 || p.WorldChunks[1] <= 0 {
		return fmt.Errorf("%w: world_chunks must be positive, got %v", ErrBadParams, p.WorldChunks)
	}
	if p.ChunkCells[0] <= 0 || p.ChunkCells[1] <= 0 {
		return fmt.Errorf("%w: chunk_cells must be positive, got %v", ErrBadParams, p.ChunkCells)
	}
	if p.CellSize <= 0 {
		return fmt.Errorf("%w: cell_size must be positive, got %v", ErrBadParams, p.CellSize)
	}
	for i, l := range p.NoiseLayers {
		if l.Frequency <= 0 {
			return fmt.Errorf("%w: layer %d (%s): frequency must be positive", ErrBadParams, i, l.Label)
		}
		if l.Octaves <= 0 {
			return fmt.Errorf("%w: layer %d (%s): octaves must be positive", ErrBadParams, i, l.Label)
		}
		if l.Weight < 0 {
			return fmt.Errorf("%w: layer %d (%s): weight must be non-negative", ErrBadParams, i, l.Label)
		}
		if _, err := noise.ParseType(l.NoiseType); err != nil {
			return fmt.Errorf("%w: layer %d (%s): %v", ErrBadParams, i, l.Label, err)
		}
		if _, err := noise.ParseFractal(l.FractalType); err != nil {
			return fmt.Errorf("%w: layer %d (%s): %v", ErrBadParams, i, l.Label, err)
		}
	}
	return nil
}
