package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transity.ai/internal/observerproto"
	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

func startWorld(t *testing.T) *world.World {
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
	pc.Samples = 100
	pc.TopCandidates = 3
	w, err := world.New(world.WorldConfig{
		TickRateHz:    50,
		WorldGen:      p,
		Placement:     pc,
		InitialCamera: store.Camera{CenterX: 8, CenterY: 8, ViewW: 16, ViewH: 16, Zoom: 1},
	}, tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
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
	return w
}

func newTestServer(t *testing.T, w *world.World, opts Options) *httptest.Server {
	t.Helper()
	s := NewServer(w, nil, opts)
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Center:          [2]float64{8, 8},
		ViewSize:        [2]float64{16, 16},
		Zoom:            1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

// readUntil reads frames until every wanted type was seen.
func readUntil(t *testing.T, conn *websocket.Conn, want ...string) map[string]int {
	t.Helper()
	seen := map[string]int{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		missing := false
		for _, typ := range want {
			if seen[typ] == 0 {
				missing = true
			}
		}
		if !missing {
			return seen
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (seen %v): %v", seen, err)
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &base); err != nil {
			t.Fatalf("frame: %v", err)
		}
		seen[base.Type]++
	}
}

func TestWSHandler_StreamsAfterSubscribe(t *testing.T) {
	w := startWorld(t)
	srv := newTestServer(t, w, Options{})
	conn := dial(t, srv)
	subscribe(t, conn)
	readUntil(t, conn, observerproto.TypeTick, observerproto.TypeChunk, observerproto.TypeSettlement)
}

func TestWSHandler_RejectsBadSubscribe(t *testing.T) {
	w := startWorld(t)
	srv := newTestServer(t, w, Options{})
	conn := dial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SUBSCRIBE","protocol_version":"0.2","center":[1]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("got %v want policy violation close", err)
	}
}

func TestWSHandler_MaxObservers(t *testing.T) {
	w := startWorld(t)
	srv := newTestServer(t, w, Options{MaxObservers: 1})
	first := dial(t, srv)
	subscribe(t, first)
	readUntil(t, first, observerproto.TypeTick)

	second := dial(t, srv)
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseTryAgainLater {
		t.Fatalf("got %v want try-again-later close", err)
	}
}

func TestBootstrapHandler(t *testing.T) {
	w := startWorld(t)
	srv := newTestServer(t, w, Options{})
	resp, err := http.Get(srv.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.WorldID == "" || boot.TickRateHz != 50 || len(boot.Palette) != 3 || len(boot.Overlays) == 0 {
		t.Fatalf("bootstrap: %+v", boot)
	}
	if boot.WorldParams.WorldChunks != [2]int{2, 2} {
		t.Fatalf("params: %+v", boot.WorldParams)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestParseSubscribe_ClampsFarCamera(t *testing.T) {
	raw := `{"type":"SUBSCRIBE","protocol_version":"` + observerproto.Version + `","center":[1e300,-1e300],"view_size":[1e9,0.5],"zoom":0}`
	sub, err := parseSubscribe([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub.Center != [2]float64{1 << 40, -(1 << 40)} {
		t.Fatalf("center: %v", sub.Center)
	}
	if sub.ViewSize != [2]float64{1 << 20, 1} || sub.Zoom != 1 {
		t.Fatalf("view: %v zoom %v", sub.ViewSize, sub.Zoom)
	}
	p := gen.DefaultParams()
	if keys := store.RequiredKeys(p, sub.Camera()); len(keys) != 0 {
		t.Fatalf("far camera required %d chunks", len(keys))
	}
}
