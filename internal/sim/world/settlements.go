package world

import (
	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
)

type engineBuild struct {
	seq      uint64
	engine   *settlement.Engine
	capitals []settlement.Settlement
	err      error
}

// rebuildSettlements drops the current engine and builds a new one off-loop
// against the whole-world terrain. wt may be nil, in which case the task
// generates it from p first.
func (w *World) rebuildSettlements(p gen.Params, wt *gen.WorldTerrain) {
	w.engineSeq++
	w.engine = nil
	w.settlements = nil

	seq := w.engineSeq
	cfg := w.cfg.Placement
	if w.cfg.MaxOverlayCells > 0 {
		cfg.MaxOverlayCells = w.cfg.MaxOverlayCells
	}
	exec, logger := w.exec, w.log
	w.engineBuild = tasks.Submit(exec, func() engineBuild {
		if wt == nil {
			wt = gen.NewSynthesizer(p).GenerateWorld()
		}
		e, err := settlement.New(cfg, wt, exec, logger)
		if err != nil {
			return engineBuild{seq: seq, err: err}
		}
		return engineBuild{seq: seq, engine: e, capitals: e.InitialPlacement()}
	})
}

func (w *World) pollSettlementBuild() {
	if w.engineBuild == nil {
		return
	}
	b, ok := w.engineBuild.Poll()
	if !ok {
		return
	}
	w.engineBuild = nil
	if b.seq != w.engineSeq {
		return
	}
	if b.err != nil {
		if w.log != nil {
			w.log.Printf("world %s: settlement engine: %v", w.worldID, b.err)
		}
		return
	}
	w.engine = b.engine
	for i := range b.capitals {
		s := b.capitals[i]
		w.settlements = append(w.settlements, s)
		w.emit(EventEntry{Kind: EventSettlementPlaced, Epoch: w.terrain.Epoch(), Generation: w.engineSeq, Settlement: &s})
	}
}

func (w *World) stepSettlements(dt float64) {
	w.pollSettlementBuild()
	if w.engine == nil {
		return
	}
	out := w.engine.Update(dt)
	if !out.Attempted {
		return
	}
	if !out.Placed {
		w.emit(EventEntry{Kind: EventPlacementFailed, Epoch: w.terrain.Epoch(), Generation: w.engineSeq, Tier: out.Tier.String()})
		return
	}
	s := out.Settlement
	w.settlements = append(w.settlements, s)
	w.emit(EventEntry{Kind: EventSettlementPlaced, Epoch: w.terrain.Epoch(), Generation: w.engineSeq, Settlement: &s})
	if w.log != nil {
		w.log.Printf("world %s: placed %s at (%d,%d) score=%.3f", w.worldID, s.Tier, s.X, s.Y, s.Score)
	}
}
