package world

import (
	"context"
	"errors"

	"transity.ai/internal/protocol"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

type regenerateReq struct {
	params gen.Params
	resp   chan RegenerateResult
}

type RegenerateResult struct {
	// Mode is one of protocol.RegenerateFull, RegenerateSmooth or RegenerateQueued.
	Mode  string
	Epoch uint64
}

var ErrWorldBusy = errors.New("world busy")

// RequestRegenerate hands new params to the world loop. It is safe to call
// from other goroutines (e.g. HTTP handlers).
func (w *World) RequestRegenerate(ctx context.Context, p gen.Params) (RegenerateResult, error) {
	if err := p.Validate(); err != nil {
		return RegenerateResult{}, err
	}
	resp := make(chan RegenerateResult, 1)
	select {
	case w.regen <- regenerateReq{params: p.Clone(), resp: resp}:
	case <-ctx.Done():
		return RegenerateResult{}, ctx.Err()
	default:
		return RegenerateResult{}, ErrWorldBusy
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return RegenerateResult{}, ctx.Err()
	}
}

func (w *World) handleRegenerate(req regenerateReq) {
	before := w.terrain.Stats()
	w.terrain.Regenerate(req.params)
	after := w.terrain.Stats()

	res := RegenerateResult{Epoch: after.Epoch}
	switch {
	case after.RegenQueued:
		res.Mode = protocol.RegenerateQueued
	case after.Epoch != before.Epoch:
		res.Mode = protocol.RegenerateSmooth
	default:
		res.Mode = protocol.RegenerateFull
	}
	if w.log != nil {
		w.log.Printf("world %s: regenerate %s epoch=%d", w.worldID, res.Mode, res.Epoch)
	}
	if req.resp != nil {
		select {
		case req.resp <- res:
		default:
			// Caller gave up; don't block the loop.
		}
	}
}

// handleTerrainEvents reacts to regenerations that landed this tick.
func (w *World) handleTerrainEvents(events []store.Event) {
	for _, ev := range events {
		p := ev.Params
		switch ev.Kind {
		case store.EventWorldSwapped:
			old := w.worldID
			w.worldID = newWorldID()
			if w.log != nil {
				w.log.Printf("world %s: swapped in as %s epoch=%d", old, w.worldID, ev.Epoch)
			}
			w.resetObservers(ev)
			w.rebuildSettlements(p, ev.Terrain)
			w.emit(EventEntry{Kind: EventWorldSwapped, Epoch: ev.Epoch, Generation: w.engineSeq, Params: &p})
		case store.EventSmoothRegenerated:
			w.rebuildSettlements(p, nil)
			w.emit(EventEntry{Kind: EventSmoothRegenerated, Epoch: ev.Epoch, Generation: w.engineSeq, Params: &p})
		}
	}
}
