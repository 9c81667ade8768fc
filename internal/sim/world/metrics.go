package world

import (
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick    uint64 `json:"tick"`
	WorldID string `json:"world_id"`
	Epoch   uint64 `json:"epoch"`
	LOD     int    `json:"lod"`

	Observers   int         `json:"observers"`
	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Streaming store.Stats `json:"streaming"`

	Placement      *settlement.Debug `json:"placement,omitempty"`
	Generation     uint64            `json:"generation"`
	Settlements    int               `json:"settlements"`
	EngineBuilding bool              `json:"engine_building"`
}

type QueueDepths struct {
	Regenerate    int `json:"regenerate"`
	ObserverJoin  int `json:"observer_join"`
	ObserverSub   int `json:"observer_sub"`
	ObserverLeave int `json:"observer_leave"`
}

// Snapshot is the published world state for bootstrap and admin reads.
type Snapshot struct {
	WorldID     string                  `json:"world_id"`
	Epoch       uint64                  `json:"epoch"`
	Generation  uint64                  `json:"generation"`
	Params      gen.Params              `json:"params"`
	Settlements []settlement.Settlement `json:"settlements"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) Snapshot() Snapshot {
	if w == nil {
		return Snapshot{}
	}
	v, _ := w.snapshot.Load().(Snapshot)
	return v
}

// publish stores fresh metrics and, when the settlement list or world
// changed, a new snapshot. Loop goroutine only.
func (w *World) publish(stepMS float64) {
	m := WorldMetrics{
		Tick:      w.tick.Load(),
		WorldID:   w.worldID,
		Epoch:     w.terrain.Epoch(),
		LOD:       w.terrain.LOD(),
		Observers: len(w.observers),
		QueueDepths: QueueDepths{
			Regenerate:    len(w.regen),
			ObserverJoin:  len(w.observerJoin),
			ObserverSub:   len(w.observerSub),
			ObserverLeave: len(w.observerLeave),
		},
		StepMS:         stepMS,
		Streaming:      w.terrain.Stats(),
		Generation:     w.engineSeq,
		Settlements:    len(w.settlements),
		EngineBuilding: w.engineBuild != nil,
	}
	if w.engine != nil {
		d := w.engine.Debug()
		m.Placement = &d
	}
	w.metrics.Store(m)

	prev := w.Snapshot()
	if prev.WorldID == w.worldID && prev.Epoch == m.Epoch &&
		prev.Generation == w.engineSeq && len(prev.Settlements) == len(w.settlements) {
		return
	}
	w.snapshot.Store(Snapshot{
		WorldID:     w.worldID,
		Epoch:       m.Epoch,
		Generation:  w.engineSeq,
		Params:      w.terrain.Params(),
		Settlements: append([]settlement.Settlement(nil), w.settlements...),
	})
}
