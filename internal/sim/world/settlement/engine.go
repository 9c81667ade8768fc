package settlement

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world/terrain/gen"
)

var (
	ErrOverlayTooLarge = errors.New("overlay too large")
	ErrUnknownOverlay  = errors.New("unknown overlay")
)

// Overlay names accepted by Engine.Overlay.
const (
	OverlayWater         = "water"
	OverlayExpandability = "expandability"
	OverlayNoise         = "noise"
	OverlayCity          = "city"
	OverlayTown          = "town"
	OverlaySuburb        = "suburb"
	OverlayFinal         = "final"
	OverlayTownFinal     = "town_final"
	OverlaySuburbFinal   = "suburb_final"
)

// Outcome reports what one Update tick did.
type Outcome struct {
	Attempted  bool
	Placed     bool
	Tier       Tier
	Settlement Settlement
}

type Debug struct {
	TimeToNextS         float64 `json:"time_to_next_s"`
	NextType            Tier    `json:"next_type"`
	LastAttempted       bool    `json:"last_attempted"`
	LastPlacementFailed bool    `json:"last_placement_failed"`
	TownAboveFloorPct   float64 `json:"town_above_floor_pct"`
	SuburbAboveFloorPct float64 `json:"suburb_above_floor_pct"`
	Settlements         int     `json:"settlements"`
	Refreshing          bool    `json:"refreshing"`
}

// Engine places settlements on a fixed terrain. Update is driven by a single
// caller; derived maps are refreshed on the executor and swapped in under mu.
type Engine struct {
	cfg  Config
	log  *log.Logger
	exec tasks.Executor

	w, h int
	land []bool
	base baseMaps

	mu          sync.Mutex
	rng         *rand.Rand
	derived     derivedMaps
	capDist     []int32
	townDist    []int32
	occupied    []bool
	settlements []Settlement

	elapsed       float64
	interval      float64
	nextType      Tier
	lastAttempted bool
	lastFailed    bool

	refreshing   atomic.Bool
	refreshAgain atomic.Bool
	// wgMu orders refreshWG.Add against WaitRefresh.
	wgMu      sync.Mutex
	refreshWG sync.WaitGroup
}

func New(cfg Config, grid gen.Classifier, exec tasks.Executor, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settlement config: %w", err)
	}
	if exec == nil {
		exec = tasks.Inline{}
	}
	w, h := grid.Size()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("settlement: empty terrain %dx%d", w, h)
	}
	land := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			land[y*w+x] = grid.Classify(x, y).Type != gen.Water
		}
	}
	e := &Engine{
		cfg:      cfg,
		log:      logger,
		exec:     exec,
		w:        w,
		h:        h,
		land:     land,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		capDist:  newField(w * h),
		townDist: newField(w * h),
		occupied: make([]bool, w*h),
	}
	e.base = computeBase(cfg, w, h, land)
	e.derived = computeDerived(cfg, land, e.occupied, e.base, e.capDist, e.townDist, false)
	e.interval = e.rollInterval()
	e.nextType = e.rollType()
	return e, nil
}

func (e *Engine) Size() (int, int) { return e.w, e.h }
func (e *Engine) Config() Config   { return e.cfg }

func (e *Engine) rollInterval() float64 {
	lo, hi := e.cfg.MinSpawnIntervalS, e.cfg.MaxSpawnIntervalS
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Engine) rollType() Tier {
	if e.rng.Float64() < e.cfg.TownChance {
		return Town
	}
	return Suburb
}

type candidate struct {
	idx   int
	score float32
}

// InitialPlacement seeds the configured number of capitals. Each capital
// is drawn uniformly from the best TopCandidates of Samples random land
// cells scored against the current capital distance field.
func (e *Engine) InitialPlacement() []Settlement {
	e.mu.Lock()
	defer e.mu.Unlock()

	var placed []Settlement
	for i := 0; i < e.cfg.InitialCapitals; i++ {
		anyCapital := e.hasCapital()
		city := cityProximity(e.cfg, e.land, e.capDist, anyCapital)
		final := combine(e.cfg, e.land, e.occupied, e.base, city)
		idx, score, ok := e.pickTopM(final)
		if !ok {
			if e.log != nil {
				e.log.Printf("settlement: no capital candidates after %d placements", len(placed))
			}
			break
		}
		s := e.place(idx, Capital, float64(score))
		placed = append(placed, s)
	}
	e.derived = computeDerived(e.cfg, e.land, e.occupied, e.base, e.capDist, e.townDist, e.hasCapital())
	if e.log != nil {
		e.log.Printf("settlement: placed %d capitals town_above=%.1f%% suburb_above=%.1f%%",
			len(placed), e.derived.townAbovePct, e.derived.suburbAbovePct)
	}
	return placed
}

func (e *Engine) hasCapital() bool {
	for _, s := range e.settlements {
		if s.Tier == Capital {
			return true
		}
	}
	return false
}

// pickTopM samples Samples cells, keeps distinct unoccupied land cells and
// picks uniformly among the TopCandidates best. A zero score is still land.
func (e *Engine) pickTopM(final []float32) (int, float32, bool) {
	n := e.w * e.h
	cands := make([]candidate, 0, min(e.cfg.Samples, n))
	seen := make(map[int]struct{}, min(e.cfg.Samples, n))
	for i := 0; i < e.cfg.Samples; i++ {
		idx := e.rng.Intn(n)
		if !e.land[idx] || e.occupied[idx] {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		cands = append(cands, candidate{idx: idx, score: final[idx]})
	}
	if len(cands) == 0 {
		return 0, 0, false
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	top := min(len(cands), e.cfg.TopCandidates)
	c := cands[e.rng.Intn(top)]
	return c.idx, c.score, true
}

// place records a settlement and updates the distance fields. Suburbs do
// not seed a field. Caller holds mu.
func (e *Engine) place(idx int, tier Tier, score float64) Settlement {
	x, y := idx%e.w, idx/e.w
	s := Settlement{Seq: len(e.settlements), X: x, Y: y, Tier: tier, Score: score}
	e.settlements = append(e.settlements, s)
	e.occupied[idx] = true
	switch tier {
	case Capital:
		seed8(e.capDist, e.w, e.h, x, y)
	case Town:
		seed8(e.townDist, e.w, e.h, x, y)
	}
	return s
}

// Update advances the spawn timer by dt seconds and attempts one placement
// when it fires.
func (e *Engine) Update(dt float64) Outcome {
	e.mu.Lock()
	if len(e.settlements) >= e.cfg.MaxSettlements {
		e.mu.Unlock()
		return Outcome{}
	}
	e.elapsed += dt
	if e.elapsed < e.interval {
		e.mu.Unlock()
		return Outcome{}
	}
	e.elapsed = 0
	e.interval = e.rollInterval()

	tier := e.nextType
	out := Outcome{Attempted: true, Tier: tier}
	maps := e.derived.townFinal
	if tier == Suburb {
		maps = e.derived.suburbFinal
	}
	n := e.w * e.h
	for i := 0; i < e.cfg.Attempts; i++ {
		idx := e.rng.Intn(n)
		if !e.land[idx] || e.occupied[idx] {
			continue
		}
		thr := e.cfg.MinSuitability + e.rng.Float64()*(e.cfg.MaxSuitability-e.cfg.MinSuitability)
		if float64(maps[idx]) <= thr {
			continue
		}
		out.Settlement = e.place(idx, tier, float64(maps[idx]))
		out.Placed = true
		break
	}
	e.nextType = e.rollType()
	e.lastAttempted = true
	e.lastFailed = !out.Placed
	e.mu.Unlock()

	if out.Placed {
		e.scheduleRefresh()
	} else if e.log != nil {
		e.log.Printf("settlement: %s placement failed after %d attempts", tier, e.cfg.Attempts)
	}
	return out
}

// scheduleRefresh coalesces refresh requests: at most one runs at a time and
// requests arriving mid-run trigger exactly one more pass.
func (e *Engine) scheduleRefresh() {
	e.refreshAgain.Store(true)
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	e.wgMu.Lock()
	e.refreshWG.Add(1)
	e.wgMu.Unlock()
	e.exec.Go(e.runRefresh)
}

func (e *Engine) runRefresh() {
	defer e.refreshWG.Done()
	for {
		e.refreshAgain.Store(false)
		e.refresh()
		e.refreshing.Store(false)
		if !e.refreshAgain.Load() || !e.refreshing.CompareAndSwap(false, true) {
			return
		}
	}
}

func (e *Engine) refresh() {
	e.mu.Lock()
	capDist := append([]int32(nil), e.capDist...)
	townDist := append([]int32(nil), e.townDist...)
	occupied := append([]bool(nil), e.occupied...)
	anyCapital := e.hasCapital()
	e.mu.Unlock()

	d := computeDerived(e.cfg, e.land, occupied, e.base, capDist, townDist, anyCapital)

	e.mu.Lock()
	e.derived = d
	e.mu.Unlock()
}

// WaitRefresh blocks until no refresh is running.
func (e *Engine) WaitRefresh() {
	e.wgMu.Lock()
	defer e.wgMu.Unlock()
	e.refreshWG.Wait()
}

func (e *Engine) Debug() Debug {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := Debug{
		NextType:            e.nextType,
		LastAttempted:       e.lastAttempted,
		LastPlacementFailed: e.lastFailed,
		TownAboveFloorPct:   e.derived.townAbovePct,
		SuburbAboveFloorPct: e.derived.suburbAbovePct,
		Settlements:         len(e.settlements),
		Refreshing:          e.refreshing.Load(),
	}
	if len(e.settlements) < e.cfg.MaxSettlements {
		d.TimeToNextS = max(0, e.interval-e.elapsed)
	}
	return d
}

func (e *Engine) Settlements() []Settlement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Settlement(nil), e.settlements...)
}

// ReadMaps calls fn with the current layers. The slices are shared and must
// not be retained or modified after fn returns.
func (e *Engine) ReadMaps(fn func(*Maps)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&Maps{
		Width:           e.w,
		Height:          e.h,
		Water:           e.base.water,
		Expandability:   e.base.expand,
		Noise:           e.base.noise,
		CityProximity:   e.derived.city,
		TownProximity:   e.derived.town,
		SuburbProximity: e.derived.suburb,
		Final:           e.derived.final,
		TownFinal:       e.derived.townFinal,
		SuburbFinal:     e.derived.suburbFinal,
	})
}

// Overlay copies one named layer. maxCells <= 0 uses the configured limit.
func (e *Engine) Overlay(kind string, maxCells int) ([]float32, error) {
	if maxCells <= 0 {
		maxCells = e.cfg.MaxOverlayCells
	}
	if maxCells > 0 && e.w*e.h > maxCells {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d cells", ErrOverlayTooLarge, e.w, e.h, maxCells)
	}
	var out []float32
	var err error
	e.ReadMaps(func(m *Maps) {
		var src []float32
		switch kind {
		case OverlayWater:
			src = m.Water
		case OverlayExpandability:
			src = m.Expandability
		case OverlayNoise:
			src = m.Noise
		case OverlayCity:
			src = m.CityProximity
		case OverlayTown:
			src = m.TownProximity
		case OverlaySuburb:
			src = m.SuburbProximity
		case OverlayFinal:
			src = m.Final
		case OverlayTownFinal:
			src = m.TownFinal
		case OverlaySuburbFinal:
			src = m.SuburbFinal
		default:
			err = fmt.Errorf("%w %q", ErrUnknownOverlay, kind)
			return
		}
		out = append([]float32(nil), src...)
	})
	return out, err
}
