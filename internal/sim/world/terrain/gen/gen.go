package gen

import (
	"math"

	"transity.ai/internal/sim/world/terrain/noise"
)

// Sample is the classification of a single cell. Raw is the weighted layer
// average in [-1,1]; Normalized is the remapped value the threshold applies to.
type Sample struct {
	Type       TerrainType
	Raw        float64
	Normalized float64
}

// Classifier is anything that can classify cells of a fixed-size world.
type Classifier interface {
	Size() (w, h int)
	Classify(cellX, cellY int) Sample
}

// SourceFactory builds the noise source for one layer.
type SourceFactory func(layer NoiseLayer) noise.Source

func DefaultSourceFactory(layer NoiseLayer) noise.Source {
	return noise.New(layer.Spec())
}

type Option func(*Synthesizer)

func WithSourceFactory(f SourceFactory) Option {
	return func(s *Synthesizer) {
		if f != nil {
			s.factory = f
		}
	}
}

// Synthesizer maps cell coordinates to terrain. It is immutable after
// construction and safe for concurrent use.
type Synthesizer struct {
	params  Params
	factory SourceFactory

	layers      []noise.Source
	weights     []float64
	freqs       []float64
	totalWeight float64

	coast     noise.Source
	coastFreq float64

	worldW, worldH int
}

func NewSynthesizer(p Params, opts ...Option) *Synthesizer {
	s := &Synthesizer{params: p.Clone(), factory: DefaultSourceFactory}
	for _, o := range opts {
		o(s)
	}
	s.worldW, s.worldH = p.WorldCells()
	for _, l := range s.params.NoiseLayers {
		s.layers = append(s.layers, s.factory(l))
		s.weights = append(s.weights, l.Weight)
		s.freqs = append(s.freqs, l.Frequency)
		s.totalWeight += l.Weight
	}
	if len(s.params.NoiseLayers) > 0 {
		// Coastline wobble follows the primary layer at four times its frequency.
		base := s.params.NoiseLayers[0]
		coast := NoiseLayer{
			Label:       "coastline",
			Seed:        base.Seed + 2,
			Frequency:   base.Frequency * 4,
			NoiseType:   string(noise.TypePerlin),
			FractalType: string(noise.FractalNone),
			Octaves:     1,
			Weight:      1,
		}
		s.coast = s.factory(coast)
		s.coastFreq = coast.Frequency
	}
	return s
}

func (s *Synthesizer) Params() Params    { return s.params.Clone() }
func (s *Synthesizer) Size() (int, int) { return s.worldW, s.worldH }

func (s *Synthesizer) Classify(cellX, cellY int) Sample {
	if len(s.layers) == 0 || s.totalWeight <= 0 {
		return Sample{Type: Water}
	}
	x, y := float64(cellX), float64(cellY)

	sum := 0.0
	for i, src := range s.layers {
		f := s.freqs[i]
		sum += src.Eval2(x*f, y*f) * s.weights[i]
	}
	raw := sum / s.totalWeight
	norm := (raw + 1) / 2
	if s.params.ContinentFalloff {
		norm *= s.falloff(x, y)
	}

	threshold := s.params.LandThreshold
	if s.params.DistortCoastline && s.coast != nil {
		threshold += s.coast.Eval2(x*s.coastFreq, y*s.coastFreq) * s.params.CoastlineDistortionStrength
	}

	t := Water
	if norm > threshold {
		t = Land
	}
	return Sample{Type: t, Raw: raw, Normalized: norm}
}

// falloff is 1 at the world center and reaches 0 at min(w,h)/2.5 cells out.
func (s *Synthesizer) falloff(x, y float64) float64 {
	cx, cy := float64(s.worldW)/2, float64(s.worldH)/2
	maxDist := math.Min(float64(s.worldW), float64(s.worldH)) / 2.5
	if maxDist <= 0 {
		return 1
	}
	d := math.Hypot(cx-x, cy-y)
	return 1 - math.Min(1, d/maxDist)
}

// ChunkData is a detached chunk payload produced off the world loop.
type ChunkData struct {
	CX, CY int
	Epoch  uint64

	Cells []TerrainType
	Noise []float32
	Raw   []float32
}

func (s *Synthesizer) GenerateChunk(cx, cy int) ChunkData {
	return generateChunk(s, s.params, cx, cy)
}

func generateChunk(c Classifier, p Params, cx, cy int) ChunkData {
	w, h := p.ChunkCells[0], p.ChunkCells[1]
	out := ChunkData{
		CX:    cx,
		CY:    cy,
		Cells: make([]TerrainType, w*h),
		Noise: make([]float32, w*h),
		Raw:   make([]float32, w*h),
	}
	ox, oy := cx*w, cy*h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			smp := c.Classify(ox+x, oy+y)
			out.Cells[i] = smp.Type
			out.Noise[i] = float32(smp.Normalized)
			out.Raw[i] = float32(smp.Raw)
		}
	}
	return out
}

// WorldTerrain is a whole-world classification cache.
type WorldTerrain struct {
	Params Params
	Width  int
	Height int
	Cells  []TerrainType
	Noise  []float32
	Raw    []float32
}

func (s *Synthesizer) GenerateWorld() *WorldTerrain {
	w, h := s.worldW, s.worldH
	wt := &WorldTerrain{
		Params: s.params.Clone(),
		Width:  w,
		Height: h,
		Cells:  make([]TerrainType, w*h),
		Noise:  make([]float32, w*h),
		Raw:    make([]float32, w*h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			smp := s.Classify(x, y)
			wt.Cells[i] = smp.Type
			wt.Noise[i] = float32(smp.Normalized)
			wt.Raw[i] = float32(smp.Raw)
		}
	}
	return wt
}

func (w *WorldTerrain) Size() (int, int) { return w.Width, w.Height }

// Classify reads the cache. Out-of-range cells are WATER.
func (w *WorldTerrain) Classify(x, y int) Sample {
	if x < 0 || y < 0 || x >= w.Width || y >= w.Height {
		return Sample{Type: Water}
	}
	i := y*w.Width + x
	return Sample{Type: w.Cells[i], Raw: float64(w.Raw[i]), Normalized: float64(w.Noise[i])}
}

// Chunk slices one chunk out of the cache.
func (w *WorldTerrain) Chunk(cx, cy int) ChunkData {
	return generateChunk(w, w.Params, cx, cy)
}
