package world

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"transity.ai/internal/observerproto"
	"transity.ai/internal/protocol"
	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

func testConfig() WorldConfig {
	p := gen.Params{
		NoiseLayers: []gen.NoiseLayer{
			{Label: "base", Seed: 5, Frequency: 0.1, NoiseType: "opensimplex", FractalType: "fbm", Octaves: 2, Lacunarity: 2, Gain: 0.5, Weight: 1},
		},
		// Every cell is land so placement always has candidates.
		LandThreshold: -1,
		WorldChunks:   [2]int{2, 2},
		ChunkCells:    [2]int{8, 8},
		CellSize:      1,
	}
	pc := settlement.DefaultConfig()
	pc.Seed = 3
	pc.InitialCapitals = 1
	pc.MaxSettlements = 3
	pc.MinSpawnIntervalS = 0.1
	pc.MaxSpawnIntervalS = 0.1
	pc.Samples = 200
	pc.TopCandidates = 5
	pc.Attempts = 500
	pc.MinSuitability = 0
	pc.MaxSuitability = 0
	return WorldConfig{
		TickRateHz:    10,
		WorldGen:      p,
		Placement:     pc,
		InitialCamera: store.Camera{CenterX: 8, CenterY: 8, ViewW: 16, ViewH: 16, Zoom: 1},
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []EventEntry
}

func (s *recordingSink) WriteEvent(e EventEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) kinds() map[EventKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[EventKind]int{}
	for _, e := range s.entries {
		out[e.Kind]++
	}
	return out
}

type testObserver struct {
	tick chan []byte
	data chan []byte
}

func joinObserver(w *World, id, overlay string) *testObserver {
	o := &testObserver{tick: make(chan []byte, 1), data: make(chan []byte, 512)}
	w.handleObserverJoin(ObserverJoinRequest{
		SessionID: id,
		TickOut:   o.tick,
		DataOut:   o.data,
		Camera:    w.cfg.InitialCamera,
		Overlay:   overlay,
	})
	return o
}

// drain returns buffered data frames grouped by message type.
func (o *testObserver) drain(t *testing.T) map[string][][]byte {
	t.Helper()
	out := map[string][][]byte{}
	for {
		select {
		case b := <-o.data:
			var base struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(b, &base); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			out[base.Type] = append(out[base.Type], b)
		default:
			return out
		}
	}
}

func TestWorld_StreamsChunksAndSettlements(t *testing.T) {
	w, err := New(testConfig(), tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := &recordingSink{}
	w.AddEventSink(sink)
	obs := joinObserver(w, "obs-1", "")

	w.start()
	for i := 0; i < 5; i++ {
		w.step()
	}

	frames := obs.drain(t)
	if got := len(frames[observerproto.TypeChunk]); got != 4 {
		t.Fatalf("chunk frames: got %d want 4", got)
	}
	var first observerproto.ChunkMsg
	if err := json.Unmarshal(frames[observerproto.TypeChunk][0], &first); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if first.CellsX != 8 || first.CellsY != 8 || first.Cells == "" || first.Mesh == "" || len(first.Digest) != 64 {
		t.Fatalf("chunk frame: %+v", first)
	}

	setts := frames[observerproto.TypeSettlement]
	if len(setts) != 3 {
		t.Fatalf("settlement frames: got %d want 3", len(setts))
	}
	var capital observerproto.SettlementMsg
	if err := json.Unmarshal(setts[0], &capital); err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if capital.Settlement.Tier != settlement.Capital || capital.WorldID != w.worldID {
		t.Fatalf("first settlement: %+v", capital)
	}

	select {
	case b := <-obs.tick:
		var tm observerproto.TickMsg
		if err := json.Unmarshal(b, &tm); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if tm.Tick != 4 || tm.Settlements != 3 || tm.Placement == nil {
			t.Fatalf("tick msg: %+v", tm)
		}
	default:
		t.Fatalf("no tick message")
	}

	// Nothing changed, so another step resends no chunks.
	w.step()
	if again := obs.drain(t); len(again[observerproto.TypeChunk]) != 0 {
		t.Fatalf("unchanged chunks resent: %d", len(again[observerproto.TypeChunk]))
	}

	kinds := sink.kinds()
	if kinds[EventWorldCreated] != 1 || kinds[EventSettlementPlaced] != 3 {
		t.Fatalf("events: %+v", kinds)
	}
	m := w.Metrics()
	if m.Tick != 6 || m.Observers != 1 || m.Settlements != 3 || m.Streaming.Active != 4 {
		t.Fatalf("metrics: %+v", m)
	}
	if snap := w.Snapshot(); len(snap.Settlements) != 3 || snap.WorldID != w.worldID {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestWorld_SmoothRegenerateKeepsWorldID(t *testing.T) {
	w, err := New(testConfig(), tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := &recordingSink{}
	w.AddEventSink(sink)
	w.start()
	w.step()
	id := w.worldID
	gen0 := w.engineSeq

	p := w.terrain.Params()
	p.NoiseLayers[0].Seed = 99
	resp := make(chan RegenerateResult, 1)
	w.handleRegenerate(regenerateReq{params: p, resp: resp})
	res := <-resp
	if res.Mode != protocol.RegenerateSmooth || res.Epoch != 1 {
		t.Fatalf("regenerate: %+v", res)
	}
	w.step()
	if w.worldID != id {
		t.Fatalf("smooth regeneration changed world id")
	}
	if w.engineSeq != gen0+1 {
		t.Fatalf("engine generation: got %d want %d", w.engineSeq, gen0+1)
	}
	if k := sink.kinds(); k[EventSmoothRegenerated] != 1 {
		t.Fatalf("events: %+v", k)
	}
}

func TestWorld_FullRegenerateResetsObservers(t *testing.T) {
	cfg := testConfig()
	cfg.TickRateHz = 50
	w, err := New(cfg, tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	obs := joinObserver(w, "obs-1", "")
	id := w.Metrics().WorldID

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	p := cfg.WorldGen.Clone()
	p.WorldChunks = [2]int{3, 3}
	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	res, err := w.RequestRegenerate(rctx, p)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.Mode != protocol.RegenerateFull {
		t.Fatalf("mode: got %s want FULL", res.Mode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.Metrics().WorldID == id {
		if time.Now().After(deadline) {
			t.Fatalf("world id never changed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	frames := obs.drain(t)
	if len(frames[observerproto.TypeWorldReset]) != 1 {
		t.Fatalf("reset frames: got %d want 1", len(frames[observerproto.TypeWorldReset]))
	}
	if snap := w.Snapshot(); snap.Params.WorldChunks != p.WorldChunks {
		t.Fatalf("snapshot params: %+v", snap.Params.WorldChunks)
	}
}

func TestWorld_RequestRegenerateBusy(t *testing.T) {
	w, err := New(testConfig(), tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < cap(w.regen); i++ {
		w.regen <- regenerateReq{}
	}
	_, err = w.RequestRegenerate(context.Background(), w.cfg.WorldGen)
	if !errors.Is(err, ErrWorldBusy) {
		t.Fatalf("got %v want ErrWorldBusy", err)
	}

	bad := w.cfg.WorldGen.Clone()
	bad.CellSize = 0
	if _, err := w.RequestRegenerate(context.Background(), bad); !errors.Is(err, gen.ErrBadParams) {
		t.Fatalf("bad params: got %v", err)
	}
}

func TestWorld_OverlayTooLargeIsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOverlayCells = 10
	w, err := New(cfg, tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	obs := joinObserver(w, "obs-1", settlement.OverlayWater)
	w.start()
	w.step()
	w.step()

	frames := obs.drain(t)
	ov := frames[observerproto.TypeOverlay]
	if len(ov) != 1 {
		t.Fatalf("overlay frames: got %d want 1", len(ov))
	}
	var msg observerproto.OverlayMsg
	if err := json.Unmarshal(ov[0], &msg); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if msg.Error == "" || msg.Data != "" {
		t.Fatalf("overlay should carry an error: %+v", msg)
	}
}

func TestWorld_OverlaySentOncePerChange(t *testing.T) {
	w, err := New(testConfig(), tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.cfg.Placement.MaxSettlements = 1
	obs := joinObserver(w, "obs-1", settlement.OverlayFinal)
	w.start()
	w.step()
	w.step()
	w.step()

	ov := obs.drain(t)[observerproto.TypeOverlay]
	if len(ov) != 1 {
		t.Fatalf("overlay frames: got %d want 1", len(ov))
	}
	var msg observerproto.OverlayMsg
	if err := json.Unmarshal(ov[0], &msg); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if msg.Width != 16 || msg.Height != 16 || msg.Encoding != observerproto.EncodingOverlayF32 || msg.Data == "" {
		t.Fatalf("overlay msg: %+v", msg)
	}
}

func TestWorld_ObserverLeaveClosesChannels(t *testing.T) {
	w, err := New(testConfig(), tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	obs := joinObserver(w, "obs-1", "")
	w.handleObserverLeave("obs-1")
	if _, ok := <-obs.tick; ok {
		t.Fatalf("tick channel still open")
	}
	if len(w.observers) != 0 {
		t.Fatalf("observer not removed")
	}
}

func TestWorld_RequestOverlay(t *testing.T) {
	cfg := testConfig()
	cfg.TickRateHz = 50
	w, err := New(cfg, tasks.Inline{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for w.Metrics().Placement == nil {
		if time.Now().After(deadline) {
			t.Fatalf("engine never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	res, err := w.RequestOverlay(rctx, settlement.OverlayExpandability)
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if res.Width != 16 || res.Height != 16 || len(res.Values) != 256 {
		t.Fatalf("overlay: %dx%d len=%d", res.Width, res.Height, len(res.Values))
	}
	if _, err := w.RequestOverlay(rctx, "elevation"); !errors.Is(err, settlement.ErrUnknownOverlay) {
		t.Fatalf("unknown overlay: got %v", err)
	}
}
