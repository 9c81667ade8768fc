package world

import (
	"time"

	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
)

type EventKind string

const (
	EventWorldCreated      EventKind = "world_created"
	EventWorldSwapped      EventKind = "world_swapped"
	EventSmoothRegenerated EventKind = "smooth_regenerated"
	EventSettlementPlaced  EventKind = "settlement_placed"
	EventPlacementFailed   EventKind = "placement_failed"
)

// EventEntry is one line of the world event log.
type EventEntry struct {
	Time    string    `json:"time"`
	Tick    uint64    `json:"tick"`
	WorldID string    `json:"world_id"`
	Epoch   uint64    `json:"epoch"`
	Kind    EventKind `json:"kind"`

	Params *gen.Params `json:"params,omitempty"`

	// Generation counts settlement engine rebuilds within the process.
	Generation uint64                 `json:"generation,omitempty"`
	Settlement *settlement.Settlement `json:"settlement,omitempty"`
	Tier       string                 `json:"tier,omitempty"`
}

type EventLogger interface {
	WriteEvent(entry EventEntry) error
}

func (w *World) emit(e EventEntry) {
	e.Time = time.Now().UTC().Format(time.RFC3339Nano)
	e.Tick = w.tick.Load()
	e.WorldID = w.worldID
	for _, s := range w.eventSinks {
		_ = s.WriteEvent(e)
	}
}
