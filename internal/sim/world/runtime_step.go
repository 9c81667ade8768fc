package world

import (
	"time"
)

func (w *World) step() {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Streaming first so regenerations that landed this tick are visible to
	// placement and observers.
	d := w.terrain.Update(w.camera)
	w.handleTerrainEvents(d.Events)

	w.stepSettlements(1 / float64(w.cfg.TickRateHz))

	w.stepObservers(nowTick, d)

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	w.tick.Add(1)
	w.publish(stepMS)
}
