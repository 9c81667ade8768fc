package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"transity.ai/internal/sim/tuning"
	"transity.ai/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropWorldRun   atomic.Uint64
	dropSettlement atomic.Uint64
	dropFailure    atomic.Uint64
}

type reqKind int

const (
	reqWorldRun reqKind = iota + 1
	reqSettlement
	reqFailure
)

type req struct {
	kind  reqKind
	event world.EventEntry
}

// Stats reports writer queue pressure. Drops mean the writer fell behind;
// the JSONL event log remains complete.
type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropWorldRunTotal   uint64 `json:"drop_world_run_total"`
	DropSettlementTotal uint64 `json:"drop_settlement_total"`
	DropFailureTotal    uint64 `json:"drop_failure_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS world_runs (
			world_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			kind TEXT NOT NULL,
			tick INTEGER NOT NULL,
			params_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (world_id, epoch, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS settlements (
			world_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			tier TEXT NOT NULL,
			score REAL NOT NULL,
			tick INTEGER NOT NULL,
			placed_at TEXT NOT NULL,
			PRIMARY KEY (world_id, generation, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_tier ON settlements(world_id, tier);`,
		`CREATE TABLE IF NOT EXISTS placement_failures (
			world_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			tier TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_world_tick ON placement_failures(world_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropWorldRunTotal:   s.dropWorldRun.Load(),
		DropSettlementTotal: s.dropSettlement.Load(),
		DropFailureTotal:    s.dropFailure.Load(),
	}
}

// WriteEvent implements world.EventLogger. It never blocks the world loop.
func (s *SQLiteIndex) WriteEvent(e world.EventEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	var kind reqKind
	var drops *atomic.Uint64
	switch e.Kind {
	case world.EventWorldCreated, world.EventWorldSwapped, world.EventSmoothRegenerated:
		kind, drops = reqWorldRun, &s.dropWorldRun
	case world.EventSettlementPlaced:
		if e.Settlement == nil {
			return nil
		}
		kind, drops = reqSettlement, &s.dropSettlement
	case world.EventPlacementFailed:
		kind, drops = reqFailure, &s.dropFailure
	default:
		return nil
	}
	select {
	case s.ch <- req{kind: kind, event: e}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
	return nil
}

// UpsertTuning stores the tuning actually applied, as canonical JSON.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO world_runs(world_id,epoch,kind,tick,params_json,recorded_at) VALUES(?,?,?,?,?,?)`)
	insertSettlement, _ := s.db.Prepare(`INSERT OR REPLACE INTO settlements(world_id,generation,seq,x,y,tier,score,tick,placed_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT INTO placement_failures(world_id,generation,tick,tier) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertSettlement, insertFailure} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		e := r.event
		switch r.kind {
		case reqWorldRun:
			params := "{}"
			if e.Params != nil {
				if b, err := json.Marshal(e.Params); err == nil {
					params = string(b)
				}
			}
			exec(insertRun, e.WorldID, int64(e.Epoch), string(e.Kind), int64(e.Tick), params, e.Time)
		case reqSettlement:
			st := e.Settlement
			exec(insertSettlement, e.WorldID, int64(e.Generation), st.Seq, st.X, st.Y, st.Tier.String(), st.Score, int64(e.Tick), e.Time)
		case reqFailure:
			exec(insertFailure, e.WorldID, int64(e.Generation), int64(e.Tick), e.Tier)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
