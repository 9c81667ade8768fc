package store

import (
	"crypto/sha256"
	"math"

	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/mesh"
)

type ChunkKey struct {
	CX int
	CY int
}

// Chunk is owned by exactly one Manager and mutated only on the world loop.
type Chunk struct {
	Key   ChunkKey
	Epoch uint64

	cellsX, cellsY int
	originX        float64
	originY        float64
	cellSize       float64

	cells []gen.TerrainType
	noise []float32
	raw   []float32

	version uint64
	dirty   bool
	meshes  [len(mesh.LODSteps)][]mesh.Vertex
	hash    [32]byte
}

func newChunk(d gen.ChunkData, p gen.Params) *Chunk {
	cw, ch := p.ChunkWorldSize()
	c := &Chunk{
		Key:      ChunkKey{CX: d.CX, CY: d.CY},
		cellsX:   p.ChunkCells[0],
		cellsY:   p.ChunkCells[1],
		originX:  float64(d.CX) * cw,
		originY:  float64(d.CY) * ch,
		cellSize: p.CellSize,
	}
	c.replace(d)
	return c
}

// replace moves a generated payload into the chunk and marks the mesh dirty.
func (c *Chunk) replace(d gen.ChunkData) {
	c.Epoch = d.Epoch
	c.cells = d.Cells
	c.noise = d.Noise
	c.raw = d.Raw
	c.version++
	c.dirty = true
	c.hash = [32]byte{}
}

func (c *Chunk) index(x, y int) int { return y*c.cellsX + x }

func (c *Chunk) At(x, y int) gen.TerrainType {
	if x < 0 || y < 0 || x >= c.cellsX || y >= c.cellsY {
		return gen.Water
	}
	return c.cells[c.index(x, y)]
}

func (c *Chunk) NoiseAt(x, y int) float32 {
	if x < 0 || y < 0 || x >= c.cellsX || y >= c.cellsY {
		return 0
	}
	return c.noise[c.index(x, y)]
}

func (c *Chunk) Dims() (int, int)         { return c.cellsX, c.cellsY }
func (c *Chunk) Version() uint64          { return c.version }
func (c *Chunk) Dirty() bool              { return c.dirty }
func (c *Chunk) Cells() []gen.TerrainType { return c.cells }

// Mesh returns the vertex buffer for lod, rebuilding every LOD first if the
// terrain changed since the last build.
func (c *Chunk) Mesh(lod int) []mesh.Vertex {
	if lod < 0 {
		lod = 0
	}
	if lod >= len(mesh.LODSteps) {
		lod = len(mesh.LODSteps) - 1
	}
	if c.dirty {
		for i, step := range mesh.LODSteps {
			c.meshes[i] = mesh.Build(c.cells, c.cellsX, c.cellsY, step, c.originX, c.originY, c.cellSize)
		}
		c.dirty = false
	}
	return c.meshes[lod]
}

// Digest hashes the cell grid; it changes only when terrain changes.
func (c *Chunk) Digest() [32]byte {
	if c.hash == ([32]byte{}) {
		h := sha256.New()
		buf := make([]byte, len(c.cells))
		for i, t := range c.cells {
			buf[i] = byte(t)
		}
		h.Write(buf)
		copy(c.hash[:], h.Sum(nil))
	}
	return c.hash
}

// Camera is the viewport in world units.
type Camera struct {
	CenterX float64 `yaml:"center_x" json:"center_x"`
	CenterY float64 `yaml:"center_y" json:"center_y"`
	ViewW   float64 `yaml:"view_w" json:"view_w"`
	ViewH   float64 `yaml:"view_h" json:"view_h"`
	Zoom    float64 `yaml:"zoom" json:"zoom"`
}

// LODForZoom picks a coarser mesh the further the camera zooms out.
func LODForZoom(zoom float64) int {
	switch {
	case zoom <= 0:
		return 0
	case zoom < 0.08:
		return 4
	case zoom < 0.15:
		return 3
	case zoom < 0.4:
		return 2
	case zoom < 0.8:
		return 1
	default:
		return 0
	}
}

// RequiredKeys returns the in-bounds chunk keys within view of cam: the
// center chunk plus ceil(view/2/chunk)+1 chunks in each direction. The range
// is clipped to the world before iterating, so any camera is safe.
func RequiredKeys(p gen.Params, cam Camera) map[ChunkKey]struct{} {
	out := map[ChunkKey]struct{}{}
	cw, ch := p.ChunkWorldSize()
	if cw <= 0 || ch <= 0 {
		return out
	}
	x0, x1, okX := chunkSpan(cam.CenterX, cam.ViewW, cw, p.WorldChunks[0])
	y0, y1, okY := chunkSpan(cam.CenterY, cam.ViewH, ch, p.WorldChunks[1])
	if !okX || !okY {
		return out
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			out[ChunkKey{CX: x, CY: y}] = struct{}{}
		}
	}
	return out
}

// chunkSpan computes the wanted chunk range on one axis in float64 and clamps
// it to [0, chunks-1]. ok is false when the range misses the world.
func chunkSpan(center, view, chunkSize float64, chunks int) (lo, hi int, ok bool) {
	if chunks <= 0 || math.IsNaN(center) || math.IsNaN(view) || math.IsInf(center, 0) {
		return 0, 0, false
	}
	c := math.Floor(center / chunkSize)
	r := math.Ceil(math.Max(view, 0)/2/chunkSize) + 1
	flo := math.Max(c-r, 0)
	fhi := math.Min(c+r, float64(chunks-1))
	if flo > fhi {
		return 0, 0, false
	}
	return int(flo), int(fhi), true
}
