package store

import (
	"log"
	"math"
	"sort"

	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world/terrain/gen"
)

type EventKind string

const (
	EventWorldSwapped      EventKind = "WORLD_SWAPPED"
	EventSmoothRegenerated EventKind = "SMOOTH_REGENERATED"
)

// Event is emitted by Update after a regeneration lands.
type Event struct {
	Kind   EventKind
	Epoch  uint64
	Params gen.Params
	// Terrain is the whole-world cache; set only for EventWorldSwapped.
	Terrain *gen.WorldTerrain
}

// Delta lists what one Update changed in the active set.
type Delta struct {
	Loaded   []ChunkKey
	Unloaded []ChunkKey
	Replaced []ChunkKey
	Events   []Event
}

type fullReload struct {
	seq    uint64
	epoch  uint64
	params gen.Params
	fut    *tasks.Future[*gen.WorldTerrain]
}

type Stats struct {
	Epoch          uint64 `json:"epoch"`
	Active         int    `json:"active"`
	Loading        int    `json:"loading"`
	SmoothPending  int    `json:"smooth_pending"`
	FullInFlight   bool   `json:"full_in_flight"`
	RegenQueued    bool   `json:"regen_queued"`
	LOD            int    `json:"lod"`
	Dispatched     uint64 `json:"dispatched"`
	StaleDiscarded uint64 `json:"stale_discarded"`
	FullReloads    uint64 `json:"full_reloads"`
	SmoothBatches  uint64 `json:"smooth_batches"`
}

type Option func(*Manager)

// WithSourceFactory overrides the noise sources of every synthesizer the
// manager builds.
func WithSourceFactory(f gen.SourceFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// Manager owns the active chunk arena. Every method must be called from the
// same goroutine (the world loop); only detached data crosses to workers.
type Manager struct {
	log     *log.Logger
	exec    tasks.Executor
	factory gen.SourceFactory

	params gen.Params
	synth  *gen.Synthesizer
	epoch  uint64

	active   map[ChunkKey]*Chunk
	loading  map[ChunkKey]*tasks.Future[gen.ChunkData]
	required map[ChunkKey]struct{}
	camera   Camera
	lod      int

	fulls      []*fullReload
	fullSeq    uint64
	fullActive bool

	smooth       map[ChunkKey]*tasks.Future[gen.ChunkData]
	smoothActive bool

	pending *gen.Params

	dispatched     uint64
	staleDiscarded uint64
	fullReloads    uint64
	smoothBatches  uint64
}

func NewManager(p gen.Params, exec tasks.Executor, logger *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		log:      logger,
		exec:     exec,
		active:   map[ChunkKey]*Chunk{},
		loading:  map[ChunkKey]*tasks.Future[gen.ChunkData]{},
		required: map[ChunkKey]struct{}{},
		smooth:   map[ChunkKey]*tasks.Future[gen.ChunkData]{},
	}
	for _, o := range opts {
		o(m)
	}
	m.adopt(p)
	return m
}

func (m *Manager) adopt(p gen.Params) {
	m.params = p.Clone()
	var opts []gen.Option
	if m.factory != nil {
		opts = append(opts, gen.WithSourceFactory(m.factory))
	}
	m.synth = gen.NewSynthesizer(m.params, opts...)
}

func (m *Manager) Epoch() uint64      { return m.epoch }
func (m *Manager) Params() gen.Params { return m.params.Clone() }
func (m *Manager) LOD() int           { return m.lod }

func (m *Manager) Stats() Stats {
	return Stats{
		Epoch:          m.epoch,
		Active:         len(m.active),
		Loading:        len(m.loading),
		SmoothPending:  len(m.smooth),
		FullInFlight:   m.fullActive,
		RegenQueued:    m.pending != nil,
		LOD:            m.lod,
		Dispatched:     m.dispatched,
		StaleDiscarded: m.staleDiscarded,
		FullReloads:    m.fullReloads,
		SmoothBatches:  m.smoothBatches,
	}
}

// Update runs one streaming tick: reconcile the active set against the
// camera, then poll finished work without blocking.
func (m *Manager) Update(cam Camera) Delta {
	var d Delta
	m.camera = cam
	m.lod = LODForZoom(cam.Zoom)

	m.reconcile(&d)

	m.pollFull(&d)
	m.pollLoads(&d)
	m.pollSmooth(&d)

	if m.pending != nil && !m.fullActive && !m.smoothActive {
		p := *m.pending
		m.pending = nil
		m.Regenerate(p)
	}
	return d
}

func (m *Manager) reconcile(d *Delta) {
	m.required = RequiredKeys(m.params, m.camera)

	for k := range m.active {
		if _, ok := m.required[k]; !ok {
			delete(m.active, k)
			d.Unloaded = append(d.Unloaded, k)
		}
	}
	sortKeys(d.Unloaded)

	// Dispatch closest-first so visible chunks fill in from the middle.
	var missing []ChunkKey
	for k := range m.required {
		if _, ok := m.active[k]; ok {
			continue
		}
		if _, ok := m.loading[k]; ok {
			continue
		}
		missing = append(missing, k)
	}
	m.sortByDistance(missing)
	for _, k := range missing {
		m.loading[k] = m.submitChunk(k)
	}
}

func (m *Manager) submitChunk(k ChunkKey) *tasks.Future[gen.ChunkData] {
	synth, epoch := m.synth, m.epoch
	m.dispatched++
	return tasks.Submit(m.exec, func() gen.ChunkData {
		data := synth.GenerateChunk(k.CX, k.CY)
		data.Epoch = epoch
		return data
	})
}

func (m *Manager) pollLoads(d *Delta) {
	for k, f := range m.loading {
		data, ok := f.Poll()
		if !ok {
			continue
		}
		delete(m.loading, k)
		if data.Epoch != m.epoch {
			// Stale; the next reconcile re-dispatches it if still wanted.
			m.staleDiscarded++
			continue
		}
		if _, want := m.required[k]; !want {
			continue
		}
		if _, exists := m.active[k]; exists {
			continue
		}
		m.active[k] = newChunk(data, m.params)
		d.Loaded = append(d.Loaded, k)
	}
	sortKeys(d.Loaded)
}

// Regenerate applies new params, either in place (smooth) or by rebuilding
// the world off-loop and swapping when done (full).
func (m *Manager) Regenerate(p gen.Params) {
	p = p.Clone()
	switch {
	case m.fullActive:
		if !gen.Compatible(m.params, p) {
			m.pending = nil
			m.startFull(p)
			return
		}
		m.pending = &p
	case m.smoothActive:
		m.pending = &p
	case !gen.Compatible(m.params, p) || len(m.active) == 0:
		m.startFull(p)
	default:
		m.startSmooth(p)
	}
}

func (m *Manager) startFull(p gen.Params) {
	m.fullSeq++
	var opts []gen.Option
	if m.factory != nil {
		opts = append(opts, gen.WithSourceFactory(m.factory))
	}
	synth := gen.NewSynthesizer(p, opts...)
	m.fulls = append(m.fulls, &fullReload{
		seq:    m.fullSeq,
		epoch:  m.epoch,
		params: p,
		fut:    tasks.Submit(m.exec, synth.GenerateWorld),
	})
	m.fullActive = true
	if m.log != nil {
		m.log.Printf("terrain: full reload #%d queued (world %dx%d chunks)", m.fullSeq, p.WorldChunks[0], p.WorldChunks[1])
	}
}

func (m *Manager) pollFull(d *Delta) {
	keep := m.fulls[:0]
	for _, r := range m.fulls {
		wt, ok := r.fut.Poll()
		if !ok {
			keep = append(keep, r)
			continue
		}
		if r.seq != m.fullSeq || r.epoch != m.epoch {
			m.staleDiscarded++
			continue
		}
		m.swap(r.params, wt, d)
	}
	for i := len(keep); i < len(m.fulls); i++ {
		m.fulls[i] = nil
	}
	m.fulls = keep
}

func (m *Manager) swap(p gen.Params, wt *gen.WorldTerrain, d *Delta) {
	for k := range m.active {
		d.Unloaded = append(d.Unloaded, k)
	}
	sortKeys(d.Unloaded)
	m.active = map[ChunkKey]*Chunk{}
	m.loading = map[ChunkKey]*tasks.Future[gen.ChunkData]{}
	m.smooth = map[ChunkKey]*tasks.Future[gen.ChunkData]{}
	m.smoothActive = false

	m.adopt(p)
	m.epoch++
	m.fullActive = false
	m.fullReloads++

	// The new world is already computed; fill the view from it directly.
	m.required = RequiredKeys(m.params, m.camera)
	for k := range m.required {
		data := wt.Chunk(k.CX, k.CY)
		data.Epoch = m.epoch
		m.active[k] = newChunk(data, m.params)
		d.Loaded = append(d.Loaded, k)
	}
	sortKeys(d.Loaded)

	d.Events = append(d.Events, Event{Kind: EventWorldSwapped, Epoch: m.epoch, Params: m.params.Clone(), Terrain: wt})
	if m.log != nil {
		m.log.Printf("terrain: world swapped epoch=%d active=%d", m.epoch, len(m.active))
	}
}

func (m *Manager) startSmooth(p gen.Params) {
	m.epoch++
	m.adopt(p)
	m.smoothActive = true
	m.smoothBatches++

	keys := make([]ChunkKey, 0, len(m.active))
	for k := range m.active {
		keys = append(keys, k)
	}
	m.sortByDistance(keys)
	for _, k := range keys {
		m.smooth[k] = m.submitChunk(k)
	}
	if m.log != nil {
		m.log.Printf("terrain: smooth regeneration epoch=%d chunks=%d", m.epoch, len(keys))
	}
}

func (m *Manager) pollSmooth(d *Delta) {
	if !m.smoothActive {
		return
	}
	for k, f := range m.smooth {
		data, ok := f.Poll()
		if !ok {
			continue
		}
		delete(m.smooth, k)
		if data.Epoch != m.epoch {
			m.staleDiscarded++
			continue
		}
		c, ok := m.active[k]
		if !ok {
			continue
		}
		c.replace(data)
		d.Replaced = append(d.Replaced, k)
	}
	sortKeys(d.Replaced)
	if len(m.smooth) == 0 {
		m.smoothActive = false
		d.Events = append(d.Events, Event{Kind: EventSmoothRegenerated, Epoch: m.epoch, Params: m.params.Clone()})
	}
}

func (m *Manager) sortByDistance(keys []ChunkKey) {
	cw, ch := m.params.ChunkWorldSize()
	dist := func(k ChunkKey) float64 {
		x := (float64(k.CX)+0.5)*cw - m.camera.CenterX
		y := (float64(k.CY)+0.5)*ch - m.camera.CenterY
		return math.Hypot(x, y)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := dist(keys[i]), dist(keys[j])
		if di != dj {
			return di < dj
		}
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CX < keys[j].CX
	})
}
