package observerproto

import (
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

// Version is the observer protocol version.
const Version = "0.2"

const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeTick       = "TICK"
	TypeChunk      = "CHUNK"
	TypeUnload     = "UNLOAD"
	TypeSettlement = "SETTLEMENT"
	TypeOverlay    = "OVERLAY"
	TypeWorldReset = "WORLD_RESET"
)

// Encodings used by CHUNK and OVERLAY payloads.
const (
	// Base64 of (terrain_type, run_len) uvarint pairs, row-major.
	EncodingTerrainRLE = "RLE_UVARINT_B64"
	// Base64 of a zstd frame of vertices: x,y float32 LE then R,G,B,A bytes.
	// Six vertices (two triangles) per rectangle.
	EncodingMeshZstd = "ZSTD_F32XY_RGBA8_B64"
	// Base64 of row-major little-endian float32 values.
	EncodingOverlayF32 = "F32LE_B64"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to move the camera or switch overlays.
type SubscribeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Center          [2]float64 `json:"center"`
	ViewSize        [2]float64 `json:"view_size"`
	Zoom            float64    `json:"zoom"`
	// Overlay names a settlement suitability layer; empty disables it.
	Overlay string `json:"overlay,omitempty"`
}

func (s SubscribeMsg) Camera() store.Camera {
	return store.Camera{
		CenterX: s.Center[0],
		CenterY: s.Center[1],
		ViewW:   s.ViewSize[0],
		ViewH:   s.ViewSize[1],
		Zoom:    s.Zoom,
	}
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	Epoch           uint64         `json:"epoch"`
	TickRateHz      int            `json:"tick_rate_hz"`
	WorldParams     gen.Params     `json:"world_params"`
	Palette         []PaletteEntry `json:"palette"`
	Overlays        []string       `json:"overlays"`
}

type PaletteEntry struct {
	Type  uint8    `json:"type"`
	Name  string   `json:"name"`
	Color [4]uint8 `json:"color"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	WorldID         string `json:"world_id"`
	Epoch           uint64 `json:"epoch"`
	LOD             int    `json:"lod"`

	Streaming store.Stats       `json:"streaming"`
	Placement *settlement.Debug `json:"placement,omitempty"`
	// Generation changes whenever the settlement engine is rebuilt; clients
	// drop their settlement list when it does.
	Generation  uint64 `json:"generation"`
	Settlements int    `json:"settlements"`
}

// Server -> Client. Terrain and mesh for one loaded chunk.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
	Epoch           uint64 `json:"epoch"`
	Version         uint64 `json:"version"`
	Digest          string `json:"digest"`
	LOD             int    `json:"lod"`
	CellsX          int    `json:"cells_x"`
	CellsY          int    `json:"cells_y"`
	CellsEncoding   string `json:"cells_encoding"`
	Cells           string `json:"cells"`
	MeshEncoding    string `json:"mesh_encoding"`
	Mesh            string `json:"mesh"`
	Vertices        int    `json:"vertices"`
}

// Server -> Client. Evict a chunk from the client cache.
type UnloadMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
}

// Server -> Client. A settlement was placed; also replayed on join.
type SettlementMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	WorldID         string                `json:"world_id"`
	Generation      uint64                `json:"generation"`
	Settlement      settlement.Settlement `json:"settlement"`
}

// Server -> Client. Whole-world suitability layer.
type OverlayMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Encoding        string `json:"encoding,omitempty"`
	Data            string `json:"data,omitempty"`
	// Error is set when the overlay cannot be produced, e.g. too large.
	Error string `json:"error,omitempty"`
}

// Server -> Client. The world was regenerated from scratch; drop all caches.
type WorldResetMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	WorldID         string     `json:"world_id"`
	Epoch           uint64     `json:"epoch"`
	WorldParams     gen.Params `json:"world_params"`
}
