package world

import (
	"context"
	"errors"
)

// ErrPlacementPending is returned while the settlement engine for the
// current world is still being built.
var ErrPlacementPending = errors.New("settlement engine not ready")

type overlayReq struct {
	kind string
	resp chan OverlayResult
}

type OverlayResult struct {
	Kind       string
	Width      int
	Height     int
	Generation uint64
	Values     []float32
	Err        error
}

// RequestOverlay copies one suitability layer of the current world. The
// configured MaxOverlayCells applies.
func (w *World) RequestOverlay(ctx context.Context, kind string) (OverlayResult, error) {
	resp := make(chan OverlayResult, 1)
	select {
	case w.overlayReq <- overlayReq{kind: kind, resp: resp}:
	case <-ctx.Done():
		return OverlayResult{}, ctx.Err()
	default:
		return OverlayResult{}, ErrWorldBusy
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		return OverlayResult{}, ctx.Err()
	}
}

func (w *World) handleOverlay(req overlayReq) {
	res := OverlayResult{Kind: req.kind, Generation: w.engineSeq}
	if w.engine == nil {
		res.Err = ErrPlacementPending
	} else {
		res.Width, res.Height = w.engine.Size()
		// Copying happens under the engine lock, so a running refresh is fine.
		res.Values, res.Err = w.engine.Overlay(req.kind, w.cfg.MaxOverlayCells)
	}
	select {
	case req.resp <- res:
	default:
	}
}
