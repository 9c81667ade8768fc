package main

import (
	"fmt"
	"io"

	"transity.ai/internal/persistence/indexdb"
	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(out io.Writer, w *world.World, pool *tasks.Pool, idx runtimeIndex) {
	m := w.Metrics()
	id := m.WorldID

	gauge := func(name, help string) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s gauge\n", name)
	}
	counter := func(name, help string) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s counter\n", name)
	}

	gauge("transity_world_tick", "Current world tick.")
	fmt.Fprintf(out, "transity_world_tick{world=%q} %d\n", id, m.Tick)

	gauge("transity_world_epoch", "Terrain generation epoch.")
	fmt.Fprintf(out, "transity_world_epoch{world=%q} %d\n", id, m.Epoch)

	gauge("transity_world_lod", "Mesh LOD selected from the camera zoom.")
	fmt.Fprintf(out, "transity_world_lod{world=%q} %d\n", id, m.LOD)

	gauge("transity_world_observers", "Connected observer sessions.")
	fmt.Fprintf(out, "transity_world_observers{world=%q} %d\n", id, m.Observers)

	gauge("transity_world_step_ms", "Last tick step duration in milliseconds.")
	fmt.Fprintf(out, "transity_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	gauge("transity_world_queue_depth", "Channel backlog depth.")
	fmt.Fprintf(out, "transity_world_queue_depth{world=%q,queue=%q} %d\n", id, "regenerate", m.QueueDepths.Regenerate)
	fmt.Fprintf(out, "transity_world_queue_depth{world=%q,queue=%q} %d\n", id, "observer_join", m.QueueDepths.ObserverJoin)
	fmt.Fprintf(out, "transity_world_queue_depth{world=%q,queue=%q} %d\n", id, "observer_sub", m.QueueDepths.ObserverSub)
	fmt.Fprintf(out, "transity_world_queue_depth{world=%q,queue=%q} %d\n", id, "observer_leave", m.QueueDepths.ObserverLeave)

	st := m.Streaming
	gauge("transity_chunks", "Chunk streaming state.")
	fmt.Fprintf(out, "transity_chunks{world=%q,state=%q} %d\n", id, "active", st.Active)
	fmt.Fprintf(out, "transity_chunks{world=%q,state=%q} %d\n", id, "loading", st.Loading)
	fmt.Fprintf(out, "transity_chunks{world=%q,state=%q} %d\n", id, "smooth_pending", st.SmoothPending)

	counter("transity_chunk_tasks_total", "Chunk generation tasks by outcome.")
	fmt.Fprintf(out, "transity_chunk_tasks_total{world=%q,outcome=%q} %d\n", id, "dispatched", st.Dispatched)
	fmt.Fprintf(out, "transity_chunk_tasks_total{world=%q,outcome=%q} %d\n", id, "stale_discarded", st.StaleDiscarded)

	counter("transity_regenerations_total", "Completed regenerations by mode.")
	fmt.Fprintf(out, "transity_regenerations_total{mode=%q} %d\n", "full", st.FullReloads)
	fmt.Fprintf(out, "transity_regenerations_total{mode=%q} %d\n", "smooth", st.SmoothBatches)

	gauge("transity_settlements", "Placed settlements in the current generation.")
	fmt.Fprintf(out, "transity_settlements{world=%q} %d\n", id, m.Settlements)

	if p := m.Placement; p != nil {
		gauge("transity_placement_time_to_next_seconds", "Seconds until the next placement attempt.")
		fmt.Fprintf(out, "transity_placement_time_to_next_seconds{world=%q} %.3f\n", id, p.TimeToNextS)

		gauge("transity_placement_above_floor_pct", "Share of land cells above the suitability floor.")
		fmt.Fprintf(out, "transity_placement_above_floor_pct{world=%q,tier=%q} %.3f\n", id, "town", p.TownAboveFloorPct)
		fmt.Fprintf(out, "transity_placement_above_floor_pct{world=%q,tier=%q} %.3f\n", id, "suburb", p.SuburbAboveFloorPct)
	}

	if pool != nil {
		ps := pool.Stats()
		gauge("transity_pool_tasks", "Worker pool tasks by state.")
		fmt.Fprintf(out, "transity_pool_tasks{state=%q} %d\n", "queued", ps.Queued)
		fmt.Fprintf(out, "transity_pool_tasks{state=%q} %d\n", "running", ps.Running)
		counter("transity_pool_completed_total", "Worker pool tasks completed.")
		fmt.Fprintf(out, "transity_pool_completed_total %d\n", ps.Completed)
	}

	switch ix := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := ix.Stats()
		gauge("transity_index_queue_depth", "Index writer queue depth.")
		fmt.Fprintf(out, "transity_index_queue_depth{backend=%q} %d\n", "sqlite", s.QueueDepth)
		counter("transity_index_dropped_total", "Index writes dropped because the queue was full.")
		fmt.Fprintf(out, "transity_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "world_run", s.DropWorldRunTotal)
		fmt.Fprintf(out, "transity_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "settlement", s.DropSettlementTotal)
		fmt.Fprintf(out, "transity_index_dropped_total{backend=%q,kind=%q} %d\n", "sqlite", "placement_failed", s.DropFailureTotal)
	case *indexdb.D1Index:
		s := ix.Stats()
		gauge("transity_index_queue_depth", "Index writer queue depth.")
		fmt.Fprintf(out, "transity_index_queue_depth{backend=%q} %d\n", "d1", s.QueueDepth)
		counter("transity_index_dropped_total", "Index writes dropped because the queue was full.")
		fmt.Fprintf(out, "transity_index_dropped_total{backend=%q,kind=%q} %d\n", "d1", "queue", s.QueueDroppedTotal)
		fmt.Fprintf(out, "transity_index_dropped_total{backend=%q,kind=%q} %d\n", "d1", "retained", s.RetainDroppedTotal)
		counter("transity_index_flush_fail_total", "Failed remote index flushes.")
		fmt.Fprintf(out, "transity_index_flush_fail_total{backend=%q} %d\n", "d1", s.FlushFailTotal)
	}
}
