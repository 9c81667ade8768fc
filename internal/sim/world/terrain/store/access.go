package store

import (
	"sort"

	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/mesh"
)

// ChunkView is the read-only surface handed to renderers and observers.
// Cells and Vertices alias manager-owned buffers and must not be modified.
type ChunkView struct {
	Key      ChunkKey
	Version  uint64
	Epoch    uint64
	Dirty    bool
	LOD      int
	CellsX   int
	CellsY   int
	Cells    []gen.TerrainType
	Vertices []mesh.Vertex
	Digest   [32]byte
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CX < keys[j].CX
	})
}

func (m *Manager) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(m.active))
	for k := range m.active {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// View reports the chunk at k. The dirty flag is sampled before the mesh is
// rebuilt, so callers can tell fresh geometry from cached geometry.
func (m *Manager) View(k ChunkKey) (ChunkView, bool) {
	c, ok := m.active[k]
	if !ok {
		return ChunkView{}, false
	}
	dirty := c.Dirty()
	verts := c.Mesh(m.lod)
	return ChunkView{
		Key:      k,
		Version:  c.Version(),
		Epoch:    c.Epoch,
		Dirty:    dirty,
		LOD:      m.lod,
		CellsX:   c.cellsX,
		CellsY:   c.cellsY,
		Cells:    c.cells,
		Vertices: verts,
		Digest:   c.Digest(),
	}, true
}

// TerrainAt classifies a world cell from loaded chunks only.
func (m *Manager) TerrainAt(cellX, cellY int) (gen.TerrainType, bool) {
	w, h := m.params.ChunkCells[0], m.params.ChunkCells[1]
	if cellX < 0 || cellY < 0 {
		return gen.Water, false
	}
	c, ok := m.active[ChunkKey{CX: cellX / w, CY: cellY / h}]
	if !ok {
		return gen.Water, false
	}
	return c.At(cellX%w, cellY%h), true
}
