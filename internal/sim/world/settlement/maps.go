package settlement

import (
	"math"

	"github.com/ojrac/opensimplex-go"

	"transity.ai/internal/sim/world/logic/mathx"
)

// Maps holds the per-cell suitability layers, each normalized to [0,1] with
// water cells at 0.
type Maps struct {
	Width  int
	Height int

	Water         []float32
	Expandability []float32
	Noise         []float32

	CityProximity   []float32
	TownProximity   []float32
	SuburbProximity []float32

	Final       []float32
	TownFinal   []float32
	SuburbFinal []float32
}

// base layers never change for a given terrain.
type baseMaps struct {
	water  []float32
	expand []float32
	noise  []float32
}

// derived layers are rebuilt after placements.
type derivedMaps struct {
	city, town, suburb            []float32
	final, townFinal, suburbFinal []float32
	townAbovePct, suburbAbovePct  float64
}

func computeBase(cfg Config, w, h int, land []bool) baseMaps {
	n := w * h
	b := baseMaps{
		water:  make([]float32, n),
		expand: make([]float32, n),
		noise:  make([]float32, n),
	}

	// Water access: 4-neighbor distance to the nearest water cell.
	water := make([]bool, n)
	for i, l := range land {
		water[i] = !l
	}
	maxD := int32(cfg.WaterMaxDistance)
	dist := bfs4(water, w, h, maxD)
	for i := range b.water {
		if !land[i] || dist[i] == Unreached {
			continue
		}
		if maxD <= 0 {
			b.water[i] = 1 / float32(dist[i])
			continue
		}
		b.water[i] = float32(math.Max(0, 1-float64(dist[i])/float64(maxD)))
	}
	normalizeMap(b.water, land)

	// Expandability: squared land fraction in a (2r+1)^2 box.
	r := cfg.ExpandabilityRadius
	table := newSAT(land, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !land[i] {
				continue
			}
			set, area := table.count(x-r, y-r, x+r, y+r)
			if area == 0 {
				continue
			}
			f := float32(set) / float32(area)
			b.expand[i] = f * f
		}
	}
	normalizeMap(b.expand, land)

	src := opensimplex.NewNormalized(cfg.Seed)
	freq := cfg.NoiseFrequency
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !land[i] {
				continue
			}
			b.noise[i] = float32(src.Eval2(float64(x)*freq, float64(y)*freq))
		}
	}
	normalizeMap(b.noise, land)
	return b
}

// cityProximity peaks at IdealCapitalDistance from the nearest capital and
// falls to 0 at the capital itself and at twice the ideal distance. With no
// capitals every land cell scores 1.
func cityProximity(cfg Config, land []bool, capDist []int32, anyCapital bool) []float32 {
	out := make([]float32, len(land))
	ideal := cfg.IdealCapitalDistance
	for i := range out {
		if !land[i] {
			continue
		}
		if !anyCapital {
			out[i] = 1
			continue
		}
		d := capDist[i]
		if d == Unreached || ideal <= 0 {
			continue
		}
		dev := math.Abs(float64(d)-ideal) / ideal
		out[i] = float32(1 - mathx.Smoothstep(dev))
	}
	normalizeMap(out, land)
	return out
}

// townProximity is 1 inside [TownMinDistance, TownMaxDistance] of the nearest
// capital or town, ramping in below the band and out above it.
func townProximity(cfg Config, land []bool, capDist, townDist []int32) []float32 {
	out := make([]float32, len(land))
	lo, hi := cfg.TownMinDistance, cfg.TownMaxDistance
	span := hi - lo
	if span <= 0 {
		span = math.Max(lo, 1)
	}
	for i := range out {
		if !land[i] {
			continue
		}
		d32 := min(capDist[i], townDist[i])
		if d32 == Unreached {
			continue
		}
		d := float64(d32)
		var s float64
		switch {
		case d < lo:
			s = mathx.SmoothstepRange(0, lo, d)
		case d <= hi:
			s = 1
		default:
			s = 1 - mathx.Smoothstep((d-hi)/span)
		}
		out[i] = float32(s)
	}
	normalizeMap(out, land)
	return out
}

// suburbProximity is high close to any capital or town and fades to 0 at the
// tier's suburb range.
func suburbProximity(cfg Config, land []bool, capDist, townDist []int32) []float32 {
	out := make([]float32, len(land))
	for i := range out {
		if !land[i] {
			continue
		}
		var s float64
		if d := capDist[i]; d != Unreached && cfg.SuburbRangeCapital > 0 {
			s = math.Max(s, 1-mathx.Smoothstep(float64(d)/cfg.SuburbRangeCapital))
		}
		if d := townDist[i]; d != Unreached && cfg.SuburbRangeTown > 0 {
			s = math.Max(s, 1-mathx.Smoothstep(float64(d)/cfg.SuburbRangeTown))
		}
		out[i] = float32(s)
	}
	normalizeMap(out, land)
	return out
}

// combine weights the base layers with one proximity layer. Occupied cells
// are excluded.
func combine(cfg Config, land, occupied []bool, b baseMaps, prox []float32) []float32 {
	wt := cfg.Weights
	out := make([]float32, len(land))
	for i := range out {
		if !land[i] || occupied[i] {
			continue
		}
		v := float64(b.water[i])*wt.WaterAccess +
			float64(b.expand[i])*wt.LandExpandability +
			float64(b.noise[i])*wt.Randomness +
			float64(prox[i])*wt.CityProximity
		out[i] = float32(v)
	}
	normalizeMap(out, land)
	return out
}

func computeDerived(cfg Config, land, occupied []bool, b baseMaps, capDist, townDist []int32, anyCapital bool) derivedMaps {
	var d derivedMaps
	d.city = cityProximity(cfg, land, capDist, anyCapital)
	d.town = townProximity(cfg, land, capDist, townDist)
	d.suburb = suburbProximity(cfg, land, capDist, townDist)
	d.final = combine(cfg, land, occupied, b, d.city)
	d.townFinal = combine(cfg, land, occupied, b, d.town)
	d.suburbFinal = combine(cfg, land, occupied, b, d.suburb)
	d.townAbovePct = abovePct(d.townFinal, land, cfg.MinSuitability)
	d.suburbAbovePct = abovePct(d.suburbFinal, land, cfg.MinSuitability)
	return d
}

func abovePct(v []float32, land []bool, floor float64) float64 {
	var total, above int
	for i, l := range land {
		if !l {
			continue
		}
		total++
		if float64(v[i]) > floor {
			above++
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(above) / float64(total)
}
