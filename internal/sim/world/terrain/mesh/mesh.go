// Package mesh compresses chunk terrain grids into flat-colored quads.
package mesh

import (
	"transity.ai/internal/sim/world/logic/mathx"
	"transity.ai/internal/sim/world/terrain/gen"
)

// LODSteps are the sampling strides, indexed by LOD level.
var LODSteps = [...]int{1, 2, 4, 8, 16}

// Rect is a merged run of same-type cells in chunk-local cell units.
type Rect struct {
	X, Y int
	W, H int
	Type gen.TerrainType
}

type Color struct{ R, G, B, A uint8 }

func ColorOf(t gen.TerrainType) Color {
	switch t {
	case gen.Water:
		return Color{173, 216, 230, 255}
	case gen.Land:
		return Color{34, 139, 34, 255}
	case gen.River:
		return Color{100, 149, 237, 255}
	default:
		return Color{255, 0, 255, 255}
	}
}

type Vertex struct {
	X, Y  float32
	Color Color
}

// Rects greedily merges the step-sampled grid into rectangles. The sampled
// grid is ceil(w/step) by ceil(h/step); edge rectangles are clipped to the
// chunk so the output always tiles the w*h area exactly.
func Rects(cells []gen.TerrainType, w, h, step int) []Rect {
	if w <= 0 || h <= 0 || len(cells) < w*h {
		return nil
	}
	if step < 1 {
		step = 1
	}
	nx, ny := mathx.CeilDiv(w, step), mathx.CeilDiv(h, step)
	at := func(i, j int) gen.TerrainType { return cells[j*step*w+i*step] }
	visited := make([]bool, nx*ny)

	var out []Rect
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			if visited[j*nx+i] {
				continue
			}
			t := at(i, j)

			rw := 1
			for i+rw < nx && !visited[j*nx+i+rw] && at(i+rw, j) == t {
				rw++
			}
			rh := 1
		grow:
			for j+rh < ny {
				for k := 0; k < rw; k++ {
					if visited[(j+rh)*nx+i+k] || at(i+k, j+rh) != t {
						break grow
					}
				}
				rh++
			}

			for dy := 0; dy < rh; dy++ {
				for dx := 0; dx < rw; dx++ {
					visited[(j+dy)*nx+i+dx] = true
				}
			}

			x0, y0 := i*step, j*step
			x1 := min((i+rw)*step, w)
			y1 := min((j+rh)*step, h)
			out = append(out, Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0, Type: t})
		}
	}
	return out
}

// Vertices emits two triangles per rect. originX/originY is the chunk's
// world-space corner.
func Vertices(rects []Rect, originX, originY, cellSize float64) []Vertex {
	out := make([]Vertex, 0, len(rects)*6)
	for _, r := range rects {
		c := ColorOf(r.Type)
		x0 := float32(originX + float64(r.X)*cellSize)
		y0 := float32(originY + float64(r.Y)*cellSize)
		x1 := float32(originX + float64(r.X+r.W)*cellSize)
		y1 := float32(originY + float64(r.Y+r.H)*cellSize)
		out = append(out,
			Vertex{x0, y0, c}, Vertex{x1, y0, c}, Vertex{x1, y1, c},
			Vertex{x0, y0, c}, Vertex{x1, y1, c}, Vertex{x0, y1, c},
		)
	}
	return out
}

// Build runs Rects then Vertices for one LOD step.
func Build(cells []gen.TerrainType, w, h, step int, originX, originY, cellSize float64) []Vertex {
	return Vertices(Rects(cells, w, h, step), originX, originY, cellSize)
}
