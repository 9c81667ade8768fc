// Package noise builds seeded 2D coherent-noise sources for terrain layers.
//
// Every Source returns values in [-1,1]. Base generators come from
// opensimplex-go and go-perlin, plus hash-based value and cellular noise;
// fractal summation (fBm, ridged) is layered on top here so that every base
// generator gets the same octave semantics.
package noise

import (
	"fmt"
	"math"
	"strings"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"

	"transity.ai/internal/sim/world/logic/mathx"
)

type Source interface {
	Eval2(x, y float64) float64
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(x, y float64) float64

func (f SourceFunc) Eval2(x, y float64) float64 { return f(x, y) }

type Type string

const (
	TypeOpenSimplex Type = "opensimplex"
	TypePerlin      Type = "perlin"
	TypeValue       Type = "value"
	TypeCellular    Type = "cellular"
)

type Fractal string

const (
	FractalNone   Fractal = "none"
	FractalFBm    Fractal = "fbm"
	FractalRidged Fractal = "ridged"
)

// Spec describes one noise source. Frequency is applied by the caller.
type Spec struct {
	Seed       int64
	Type       Type
	Fractal    Fractal
	Octaves    int
	Lacunarity float64
	Gain       float64
}

func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeOpenSimplex:
		return TypeOpenSimplex, nil
	case TypePerlin:
		return TypePerlin, nil
	case TypeValue:
		return TypeValue, nil
	case TypeCellular:
		return TypeCellular, nil
	}
	return "", fmt.Errorf("unknown noise type %q", s)
}

func ParseFractal(s string) (Fractal, error) {
	switch Fractal(strings.ToLower(strings.TrimSpace(s))) {
	case "", FractalFBm:
		return FractalFBm, nil
	case FractalNone:
		return FractalNone, nil
	case FractalRidged:
		return FractalRidged, nil
	}
	return "", fmt.Errorf("unknown fractal type %q", s)
}

// New builds the source described by spec. Unknown types fall back to
// OpenSimplex; octaves < 1 are treated as 1.
func New(spec Spec) Source {
	octaves := spec.Octaves
	if octaves < 1 {
		octaves = 1
	}
	lac := spec.Lacunarity
	if lac <= 0 {
		lac = 2
	}
	gain := spec.Gain
	if gain <= 0 {
		gain = 0.5
	}

	// One base generator per octave, seeded apart so octaves decorrelate.
	bases := make([]Source, octaves)
	for i := range bases {
		bases[i] = base(spec.Type, spec.Seed+int64(i))
	}
	switch spec.Fractal {
	case FractalNone:
		return bases[0]
	case FractalRidged:
		return &ridged{octaves: bases, lacunarity: lac, gain: gain}
	default:
		if octaves == 1 {
			return bases[0]
		}
		return &fbm{octaves: bases, lacunarity: lac, gain: gain}
	}
}

func base(t Type, seed int64) Source {
	switch t {
	case TypePerlin:
		return newPerlin(seed)
	case TypeValue:
		return valueNoise{seed: seed}
	case TypeCellular:
		return cellular{seed: seed}
	default:
		return opensimplex.New(seed)
	}
}

type fbm struct {
	octaves    []Source
	lacunarity float64
	gain       float64
}

func (f *fbm) Eval2(x, y float64) float64 {
	sum, amp, norm, freq := 0.0, 1.0, 0.0, 1.0
	for _, o := range f.octaves {
		sum += o.Eval2(x*freq, y*freq) * amp
		norm += amp
		amp *= f.gain
		freq *= f.lacunarity
	}
	return clamp(sum / norm)
}

type ridged struct {
	octaves    []Source
	lacunarity float64
	gain       float64
}

func (r *ridged) Eval2(x, y float64) float64 {
	sum, amp, norm, freq := 0.0, 1.0, 0.0, 1.0
	for _, o := range r.octaves {
		v := 1 - math.Abs(o.Eval2(x*freq, y*freq))
		sum += v * v * amp
		norm += amp
		amp *= r.gain
		freq *= r.lacunarity
	}
	// sum/norm is in [0,1]; stretch to [-1,1].
	return clamp(sum/norm*2 - 1)
}

// perlinSource wraps a single-octave go-perlin generator. Classic 2D gradient
// noise peaks near ±sqrt(1/2), so the output is rescaled then clamped.
type perlinSource struct{ p *perlin.Perlin }

func newPerlin(seed int64) perlinSource {
	return perlinSource{p: perlin.NewPerlin(2, 2, 1, seed)}
}

func (s perlinSource) Eval2(x, y float64) float64 {
	return clamp(s.p.Noise2D(x, y) * math.Sqrt2)
}

// valueNoise interpolates hashed lattice values with a smoothstep blend.
type valueNoise struct{ seed int64 }

func (v valueNoise) Eval2(x, y float64) float64 {
	fx, fy := math.Floor(x), math.Floor(y)
	ix, iy := int(fx), int(fy)
	tx := mathx.Smoothstep(x - fx)
	ty := mathx.Smoothstep(y - fy)
	a := v.lattice(ix, iy)
	b := v.lattice(ix+1, iy)
	c := v.lattice(ix, iy+1)
	d := v.lattice(ix+1, iy+1)
	top := a + (b-a)*tx
	bot := c + (d-c)*tx
	return top + (bot-top)*ty
}

func (v valueNoise) lattice(x, y int) float64 {
	return mathx.Unit(mathx.Hash2(v.seed, x, y))*2 - 1
}

// cellular is F1 Worley noise: distance to the nearest jittered feature point.
type cellular struct{ seed int64 }

func (c cellular) Eval2(x, y float64) float64 {
	ix, iy := int(math.Floor(x)), int(math.Floor(y))
	best := math.MaxFloat64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			cx, cy := ix+dx, iy+dy
			h := mathx.Hash2(c.seed, cx, cy)
			px := float64(cx) + mathx.Unit(h)
			py := float64(cy) + mathx.Unit(mathx.Hash2(c.seed^0x5bd1e995, cx, cy))
			if d := mathx.Hypot(px-x, py-y); d < best {
				best = d
			}
		}
	}
	// F1 rarely exceeds 1 for one point per unit cell.
	return clamp(best*2 - 1)
}

func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
