package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transity.ai/internal/protocol"
	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

func newTestWorld(t *testing.T) *world.World {
	t.Helper()
	p := gen.Params{
		NoiseLayers: []gen.NoiseLayer{
			{Label: "base", Seed: 5, Frequency: 0.1, NoiseType: "opensimplex", FractalType: "fbm", Octaves: 2, Lacunarity: 2, Gain: 0.5, Weight: 1},
		},
		LandThreshold: -1,
		WorldChunks:   [2]int{2, 2},
		ChunkCells:    [2]int{8, 8},
		CellSize:      1,
	}
	pc := settlement.DefaultConfig()
	pc.InitialCapitals = 1
	pc.MaxSettlements = 1
	pc.Samples = 200
	pc.TopCandidates = 5
	w, err := world.New(world.WorldConfig{
		TickRateHz:    50,
		WorldGen:      p,
		Placement:     pc,
		InitialCamera: store.Camera{CenterX: 8, CenterY: 8, ViewW: 16, ViewH: 16, Zoom: 1},
	}, tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func runWorld(t *testing.T, w *world.World) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func serve(mux *http.ServeMux, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:4242"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var er protocol.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return er.Code
}

func TestAdmin_RegenerateRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	newAdminAPI(newTestWorld(t), nil, 0.001, 1, nil).register(mux)

	// The first request spends the only token even though its body is bad.
	rec := serve(mux, http.MethodPost, "/admin/v1/regenerate", []byte(`{"land_threshold": "high"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad params: got %d body=%s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != protocol.ErrBadRequest {
		t.Fatalf("bad params code: %s", code)
	}

	rec = serve(mux, http.MethodPost, "/admin/v1/regenerate", []byte(`{}`))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d want 429", rec.Code)
	}
	if code := errorCode(t, rec); code != protocol.ErrRateLimit {
		t.Fatalf("rate limit code: %s", code)
	}
}

func TestAdmin_RegenerateAccepted(t *testing.T) {
	w := newTestWorld(t)
	runWorld(t, w)
	mux := http.NewServeMux()
	newAdminAPI(w, nil, 0, 0, nil).register(mux)

	// Smooth regeneration needs resident chunks.
	deadline := time.Now().Add(3 * time.Second)
	for w.Metrics().Streaming.Active < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("chunks never loaded: %+v", w.Metrics().Streaming)
		}
		time.Sleep(10 * time.Millisecond)
	}

	p := w.Snapshot().Params.Clone()
	p.NoiseLayers[0].Seed = 77
	body, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := serve(mux, http.MethodPost, "/admin/v1/regenerate", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("regenerate: got %d body=%s", rec.Code, rec.Body.String())
	}
	var res protocol.RegenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Mode != protocol.RegenerateSmooth || res.Epoch != 1 {
		t.Fatalf("response: %+v", res)
	}

	if rec := serve(mux, http.MethodGet, "/admin/v1/regenerate", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET regenerate: got %d want 405", rec.Code)
	}
}

func TestAdmin_StateAndSettlements(t *testing.T) {
	w := newTestWorld(t)
	mux := http.NewServeMux()
	newAdminAPI(w, nil, 0, 0, nil).register(mux)

	rec := serve(mux, http.MethodGet, "/admin/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: got %d", rec.Code)
	}
	var state struct {
		WorldID string     `json:"world_id"`
		Params  gen.Params `json:"params"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.WorldID == "" || state.Params.WorldChunks != [2]int{2, 2} {
		t.Fatalf("state: %+v", state)
	}

	rec = serve(mux, http.MethodGet, "/admin/v1/settlements", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("settlements: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"world_id":"`+state.WorldID+`"`) {
		t.Fatalf("settlements body: %s", rec.Body.String())
	}
}

func TestAdmin_OverlayErrors(t *testing.T) {
	w := newTestWorld(t)
	runWorld(t, w)
	mux := http.NewServeMux()
	newAdminAPI(w, nil, 0, 0, nil).register(mux)

	// The engine is built on the first ticks; wait until it answers.
	deadline := time.Now().Add(3 * time.Second)
	var rec *httptest.ResponseRecorder
	for {
		rec = serve(mux, http.MethodGet, "/admin/v1/overlay?kind=bogus", nil)
		if rec.Code != http.StatusServiceUnavailable || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown overlay: got %d body=%s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != protocol.ErrUnknownOverlay {
		t.Fatalf("unknown overlay code: %s", code)
	}

	rec = serve(mux, http.MethodGet, "/admin/v1/overlay?kind="+settlement.OverlayWater, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("water overlay: got %d body=%s", rec.Code, rec.Body.String())
	}
	var ov struct {
		Width, Height int
		Encoding      string
		Data          string
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ov); err != nil {
		t.Fatalf("decode overlay: %v", err)
	}
	if ov.Width != 16 || ov.Height != 16 || ov.Encoding != "F32LE_B64" || ov.Data == "" {
		t.Fatalf("overlay: %+v", ov)
	}
}

func TestAdmin_RejectsRemoteCallers(t *testing.T) {
	mux := http.NewServeMux()
	newAdminAPI(newTestWorld(t), nil, 0, 0, nil).register(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote caller: got %d want 403", rec.Code)
	}
}

func TestWriteMetrics(t *testing.T) {
	w := newTestWorld(t)
	pool := tasks.NewPool(1)
	defer pool.Close()

	var buf bytes.Buffer
	writeMetrics(&buf, w, pool, nil)
	out := buf.String()
	for _, want := range []string{
		"# TYPE transity_world_tick gauge",
		"transity_chunks{world=",
		`transity_regenerations_total{mode="full"} 0`,
		`transity_pool_tasks{state="queued"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "transity_index_") {
		t.Fatalf("index metrics without an index:\n%s", out)
	}
}
