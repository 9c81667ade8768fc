package indexdb

import (
	"context"
	"encoding/json"

	"transity.ai/internal/sim/world/terrain/gen"
)

type WorldRunRow struct {
	WorldID    string     `json:"world_id"`
	Epoch      uint64     `json:"epoch"`
	Kind       string     `json:"kind"`
	Tick       uint64     `json:"tick"`
	Params     gen.Params `json:"params"`
	RecordedAt string     `json:"recorded_at"`
}

type SettlementRow struct {
	WorldID    string  `json:"world_id"`
	Generation uint64  `json:"generation"`
	Seq        int     `json:"seq"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Tier       string  `json:"tier"`
	Score      float64 `json:"score"`
	Tick       uint64  `json:"tick"`
	PlacedAt   string  `json:"placed_at"`
}

// WorldRuns lists recorded world lifecycle rows, most recent first.
func (s *SQLiteIndex) WorldRuns(ctx context.Context, limit int) ([]WorldRunRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id,epoch,kind,tick,params_json,recorded_at FROM world_runs ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorldRunRow
	for rows.Next() {
		var r WorldRunRow
		var epoch, tick int64
		var params string
		if err := rows.Scan(&r.WorldID, &epoch, &r.Kind, &tick, &params, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Epoch, r.Tick = uint64(epoch), uint64(tick)
		_ = json.Unmarshal([]byte(params), &r.Params)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Settlements lists placements for one world in placement order.
func (s *SQLiteIndex) Settlements(ctx context.Context, worldID string) ([]SettlementRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id,generation,seq,x,y,tier,score,tick,placed_at FROM settlements WHERE world_id=? ORDER BY generation, seq`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementRow
	for rows.Next() {
		var r SettlementRow
		var generation, tick int64
		if err := rows.Scan(&r.WorldID, &generation, &r.Seq, &r.X, &r.Y, &r.Tier, &r.Score, &tick, &r.PlacedAt); err != nil {
			return nil, err
		}
		r.Generation, r.Tick = uint64(generation), uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PlacementFailures counts failed placement attempts per tier for one world.
func (s *SQLiteIndex) PlacementFailures(ctx context.Context, worldID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM placement_failures WHERE world_id=? GROUP BY tier`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		out[tier] = n
	}
	return out, rows.Err()
}
