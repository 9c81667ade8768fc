package world

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"transity.ai/internal/observerproto"
	"transity.ai/internal/sim/encoding"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/mesh"
	"transity.ai/internal/sim/world/terrain/store"
)

// ObserverJoinRequest registers a read-only observer session that receives
// per-tick state on TickOut and chunk/settlement/overlay data on DataOut.
// Both channels are closed by the world loop when the session leaves.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	DataOut   chan []byte

	Camera  store.Camera
	Overlay string
}

// ObserverSubscribeRequest moves the camera or switches the overlay of an
// existing session.
type ObserverSubscribeRequest struct {
	SessionID string
	Camera    store.Camera
	Overlay   string
}

type observerClient struct {
	id      string
	tickOut chan []byte
	dataOut chan []byte

	// Chunks this observer holds, keyed to the state it was sent.
	chunks map[store.ChunkKey]chunkMark

	generation      uint64
	sentSettlements int

	overlay         string
	overlaySent     string
	overlayDisabled map[string]bool
}

type chunkMark struct {
	epoch   uint64
	version uint64
	lod     int
}

// Overlays lists the layer names accepted in SUBSCRIBE.
var Overlays = []string{
	settlement.OverlayWater,
	settlement.OverlayExpandability,
	settlement.OverlayNoise,
	settlement.OverlayCity,
	settlement.OverlayTown,
	settlement.OverlaySuburb,
	settlement.OverlayFinal,
	settlement.OverlayTownFinal,
	settlement.OverlaySuburbFinal,
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil || req.DataOut == nil {
		return
	}
	// Replace existing session id if any.
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
		close(old.dataOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:              req.SessionID,
		tickOut:         req.TickOut,
		dataOut:         req.DataOut,
		chunks:          map[store.ChunkKey]chunkMark{},
		overlay:         strings.TrimSpace(req.Overlay),
		overlayDisabled: map[string]bool{},
	}
	w.setCamera(req.Camera)
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.overlay = strings.TrimSpace(req.Overlay)
	w.setCamera(req.Camera)
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
	close(c.dataOut)
}

// setCamera applies the most recent subscription; a zero-sized view keeps
// the current camera.
func (w *World) setCamera(cam store.Camera) {
	if cam.ViewW <= 0 || cam.ViewH <= 0 {
		return
	}
	if cam.Zoom <= 0 {
		cam.Zoom = 1
	}
	w.camera = cam
}

func (w *World) resetObservers(ev store.Event) {
	b, _ := json.Marshal(observerproto.WorldResetMsg{
		Type:            observerproto.TypeWorldReset,
		ProtocolVersion: observerproto.Version,
		WorldID:         w.worldID,
		Epoch:           ev.Epoch,
		WorldParams:     ev.Params,
	})
	for _, c := range w.observers {
		c.chunks = map[store.ChunkKey]chunkMark{}
		c.overlaySent = ""
		trySend(c.dataOut, b)
	}
}

func (w *World) stepObservers(nowTick uint64, d store.Delta) {
	if len(w.observers) == 0 {
		return
	}

	var unloads [][]byte
	for _, k := range d.Unloaded {
		b, _ := json.Marshal(observerproto.UnloadMsg{
			Type:            observerproto.TypeUnload,
			ProtocolVersion: observerproto.Version,
			CX:              k.CX,
			CY:              k.CY,
		})
		unloads = append(unloads, b)
	}

	tickMsg := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            nowTick,
		WorldID:         w.worldID,
		Epoch:           w.terrain.Epoch(),
		LOD:             w.terrain.LOD(),
		Streaming:       w.terrain.Stats(),
		Generation:      w.engineSeq,
		Settlements:     len(w.settlements),
	}
	if w.engine != nil {
		dbg := w.engine.Debug()
		tickMsg.Placement = &dbg
	}
	tickBytes, _ := json.Marshal(tickMsg)

	keys := w.terrain.LoadedChunkKeys()
	frames := map[store.ChunkKey][]byte{}

	for _, c := range w.observers {
		sendLatest(c.tickOut, tickBytes)

		for i, k := range d.Unloaded {
			if _, ok := c.chunks[k]; !ok {
				continue
			}
			delete(c.chunks, k)
			trySend(c.dataOut, unloads[i])
		}

		sent := 0
		for _, k := range keys {
			if sent >= w.cfg.MaxChunksPerTick {
				break
			}
			v, ok := w.terrain.View(k)
			if !ok {
				continue
			}
			mark := chunkMark{epoch: v.Epoch, version: v.Version, lod: v.LOD}
			if prev, ok := c.chunks[k]; ok && prev == mark {
				continue
			}
			b, ok := frames[k]
			if !ok {
				b = chunkFrame(v)
				frames[k] = b
			}
			if b == nil || !trySend(c.dataOut, b) {
				break
			}
			c.chunks[k] = mark
			sent++
		}

		w.syncSettlements(c)
		w.syncOverlay(c)
	}
}

func chunkFrame(v store.ChunkView) []byte {
	meshData, err := encoding.EncodeVertices(v.Vertices)
	if err != nil {
		return nil
	}
	b, _ := json.Marshal(observerproto.ChunkMsg{
		Type:            observerproto.TypeChunk,
		ProtocolVersion: observerproto.Version,
		CX:              v.Key.CX,
		CY:              v.Key.CY,
		Epoch:           v.Epoch,
		Version:         v.Version,
		Digest:          hex.EncodeToString(v.Digest[:]),
		LOD:             v.LOD,
		CellsX:          v.CellsX,
		CellsY:          v.CellsY,
		CellsEncoding:   observerproto.EncodingTerrainRLE,
		Cells:           encoding.EncodeTerrain(v.Cells),
		MeshEncoding:    observerproto.EncodingMeshZstd,
		Mesh:            meshData,
		Vertices:        len(v.Vertices),
	})
	return b
}

func (w *World) syncSettlements(c *observerClient) {
	if c.generation != w.engineSeq {
		c.generation = w.engineSeq
		c.sentSettlements = 0
		c.overlaySent = ""
	}
	for c.sentSettlements < len(w.settlements) {
		b, _ := json.Marshal(observerproto.SettlementMsg{
			Type:            observerproto.TypeSettlement,
			ProtocolVersion: observerproto.Version,
			WorldID:         w.worldID,
			Generation:      w.engineSeq,
			Settlement:      w.settlements[c.sentSettlements],
		})
		if !trySend(c.dataOut, b) {
			return
		}
		c.sentSettlements++
	}
}

// syncOverlay sends the selected layer once per (generation, placement count)
// and only after the engine has settled its async refresh.
func (w *World) syncOverlay(c *observerClient) {
	if c.overlay == "" || w.engine == nil || c.overlayDisabled[c.overlay] {
		return
	}
	dbg := w.engine.Debug()
	if dbg.Refreshing {
		return
	}
	key := overlayKey(c.overlay, w.engineSeq, dbg.Settlements)
	if key == c.overlaySent {
		return
	}
	width, height := w.engine.Size()
	msg := observerproto.OverlayMsg{
		Type:            observerproto.TypeOverlay,
		ProtocolVersion: observerproto.Version,
		Kind:            c.overlay,
		Width:           width,
		Height:          height,
	}
	vals, err := w.engine.Overlay(c.overlay, w.cfg.MaxOverlayCells)
	switch {
	case errors.Is(err, settlement.ErrOverlayTooLarge), errors.Is(err, settlement.ErrUnknownOverlay):
		c.overlayDisabled[c.overlay] = true
		msg.Error = err.Error()
		if w.log != nil {
			w.log.Printf("observer %s: overlay %q disabled: %v", c.id, c.overlay, err)
		}
	case err != nil:
		msg.Error = err.Error()
	default:
		msg.Encoding = observerproto.EncodingOverlayF32
		msg.Data = encodeFloat32s(vals)
	}
	b, _ := json.Marshal(msg)
	if trySend(c.dataOut, b) {
		c.overlaySent = key
	}
}

func overlayKey(kind string, generation uint64, placed int) string {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:], generation)
	binary.LittleEndian.PutUint64(buf[8:], uint64(placed))
	return kind + ":" + hex.EncodeToString(buf[:])
}

func encodeFloat32s(v []float32) string {
	raw := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Palette describes terrain colors for bootstrap.
func Palette() []observerproto.PaletteEntry {
	types := []gen.TerrainType{gen.Water, gen.Land, gen.River}
	out := make([]observerproto.PaletteEntry, 0, len(types))
	for _, t := range types {
		c := mesh.ColorOf(t)
		out = append(out, observerproto.PaletteEntry{Type: uint8(t), Name: t.String(), Color: [4]uint8{c.R, c.G, c.B, c.A}})
	}
	return out
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
