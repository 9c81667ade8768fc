package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"transity.ai/internal/sim/world"
	"transity.ai/internal/sim/world/settlement"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqWorldRun}

	st := settlement.Settlement{Tier: settlement.Town}
	_ = s.WriteEvent(world.EventEntry{Kind: world.EventWorldSwapped})
	_ = s.WriteEvent(world.EventEntry{Kind: world.EventSettlementPlaced, Settlement: &st})
	_ = s.WriteEvent(world.EventEntry{Kind: world.EventPlacementFailed, Tier: "TOWN"})
	// Placement events without a settlement are ignored, not dropped.
	_ = s.WriteEvent(world.EventEntry{Kind: world.EventSettlementPlaced})

	got := s.Stats()
	if got.DropWorldRunTotal != 1 {
		t.Fatalf("DropWorldRunTotal=%d want=1", got.DropWorldRunTotal)
	}
	if got.DropSettlementTotal != 1 {
		t.Fatalf("DropSettlementTotal=%d want=1", got.DropSettlementTotal)
	}
	if got.DropFailureTotal != 1 {
		t.Fatalf("DropFailureTotal=%d want=1", got.DropFailureTotal)
	}
	if got.QueueDepth != 1 || got.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", got.QueueDepth, got.QueueCapacity)
	}
}

func TestD1Index_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	applied := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []d1Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		applied += len(body.Events)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	idx, err := OpenD1(D1Config{
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	defer func() { _ = idx.Close() }()

	st := settlement.Settlement{Seq: 0, X: 1, Y: 2, Tier: settlement.Capital, Score: 0.9}
	if err := idx.WriteEvent(world.EventEntry{Kind: world.EventSettlementPlaced, WorldID: "w1", Settlement: &st}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := applied >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	finalApplied := applied
	finalReqCount := reqCount
	mu.Unlock()

	if finalApplied < 1 {
		t.Fatalf("expected retained batch to be eventually delivered; applied=%d reqCount=%d", finalApplied, finalReqCount)
	}

	stats := idx.Stats()
	if stats.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if stats.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", stats.QueueDroppedTotal)
	}
}
