package world

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

type WorldConfig struct {
	TickRateHz int

	WorldGen  gen.Params
	Placement settlement.Config

	// InitialCamera drives streaming until an observer subscribes.
	InitialCamera store.Camera

	MaxOverlayCells  int
	MaxChunksPerTick int
}

// World is the authoritative streaming + placement loop.
// All state must be accessed only from the world loop goroutine; other
// goroutines talk to it through channels and read atomics.
type World struct {
	cfg  WorldConfig
	log  *log.Logger
	exec tasks.Executor

	tick    atomic.Uint64
	worldID string

	terrain *store.Manager
	camera  store.Camera

	engine      *settlement.Engine
	engineBuild *tasks.Future[engineBuild]
	engineSeq   uint64
	settlements []settlement.Settlement

	observers map[string]*observerClient

	regen         chan regenerateReq
	overlayReq    chan overlayReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}

	// Optional sinks (may be empty). Implemented in internal/persistence/*.
	eventSinks []EventLogger

	metrics  atomic.Value // WorldMetrics
	snapshot atomic.Value // Snapshot
}

func New(cfg WorldConfig, exec tasks.Executor, logger *log.Logger) (*World, error) {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.MaxChunksPerTick <= 0 {
		cfg.MaxChunksPerTick = 32
	}
	if err := cfg.WorldGen.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Placement.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		exec = tasks.Inline{}
	}
	w := &World{
		cfg:           cfg,
		log:           logger,
		exec:          exec,
		worldID:       newWorldID(),
		terrain:       store.NewManager(cfg.WorldGen, exec, logger),
		camera:        cfg.InitialCamera,
		observers:     map[string]*observerClient{},
		regen:         make(chan regenerateReq, 16),
		overlayReq:    make(chan overlayReq, 16),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 256),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
	}
	w.publish(0)
	return w, nil
}

// newWorldID names one generated world; it changes on every full swap.
func newWorldID() string { return uuid.NewString() }

// AddEventSink registers a sink before Run starts.
func (w *World) AddEventSink(s EventLogger) {
	if s != nil {
		w.eventSinks = append(w.eventSinks, s)
	}
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }
func (w *World) TickRateHz() int     { return w.cfg.TickRateHz }
func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.start()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.regen:
			w.handleRegenerate(req)
		case req := <-w.overlayReq:
			w.handleOverlay(req)
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case <-ticker.C:
			w.step()
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// start announces the initial world and kicks off the first settlement build.
func (w *World) start() {
	p := w.terrain.Params()
	w.rebuildSettlements(p, nil)
	w.emit(EventEntry{Kind: EventWorldCreated, Epoch: w.terrain.Epoch(), Generation: w.engineSeq, Params: &p})
	if w.log != nil {
		w.log.Printf("world %s: started %dx%d chunks of %dx%d cells", w.worldID,
			p.WorldChunks[0], p.WorldChunks[1], p.ChunkCells[0], p.ChunkCells[1])
	}
}
