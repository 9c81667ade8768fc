package settlement

import (
	"math"
)

// Unreached marks cells no BFS wave has touched.
const Unreached int32 = math.MaxInt32

var (
	dirs4 = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	dirs8 = [8][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func newField(n int) []int32 {
	f := make([]int32, n)
	for i := range f {
		f[i] = Unreached
	}
	return f
}

// bfs4 is a multi-source 4-neighbor distance transform from every cell where
// src is true. Expansion stops at maxDist (<= 0 means unbounded).
func bfs4(src []bool, w, h int, maxDist int32) []int32 {
	dist := newField(w * h)
	queue := make([]int32, 0, w*h)
	for i, s := range src {
		if s {
			dist[i] = 0
			queue = append(queue, int32(i))
		}
	}
	for head := 0; head < len(queue); head++ {
		i := int(queue[head])
		d := dist[i]
		if maxDist > 0 && d >= maxDist {
			continue
		}
		x, y := i%w, i/w
		for _, dd := range dirs4 {
			nx, ny := x+dd[0], y+dd[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			n := ny*w + nx
			if dist[n] <= d+1 {
				continue
			}
			dist[n] = d + 1
			queue = append(queue, int32(n))
		}
	}
	return dist
}

// seed8 lowers field around (x,y) with an 8-neighbor BFS. Only cells whose
// distance improves are revisited, so repeated seeding stays incremental.
func seed8(field []int32, w, h, x, y int) {
	if x < 0 || y < 0 || x >= w || y >= h {
		return
	}
	start := y*w + x
	if field[start] == 0 {
		return
	}
	field[start] = 0
	queue := []int32{int32(start)}
	for head := 0; head < len(queue); head++ {
		i := int(queue[head])
		d := field[i]
		cx, cy := i%w, i/w
		for _, dd := range dirs8 {
			nx, ny := cx+dd[0], cy+dd[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			n := ny*w + nx
			if field[n] <= d+1 {
				continue
			}
			field[n] = d + 1
			queue = append(queue, int32(n))
		}
	}
}

// sat is a summed-area table over a binary mask, padded by one row and column.
type sat struct {
	w, h int
	sum  []int32
}

func newSAT(mask []bool, w, h int) *sat {
	s := &sat{w: w, h: h, sum: make([]int32, (w+1)*(h+1))}
	stride := w + 1
	for y := 0; y < h; y++ {
		var row int32
		for x := 0; x < w; x++ {
			if mask[y*w+x] {
				row++
			}
			s.sum[(y+1)*stride+x+1] = s.sum[y*stride+x+1] + row
		}
	}
	return s
}

// count returns the number of set cells in the inclusive box, clipped to the grid.
func (s *sat) count(x0, y0, x1, y1 int) (set, area int) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, s.w-1), min(y1, s.h-1)
	if x1 < x0 || y1 < y0 {
		return 0, 0
	}
	stride := s.w + 1
	a := s.sum[y0*stride+x0]
	b := s.sum[y0*stride+x1+1]
	c := s.sum[(y1+1)*stride+x0]
	d := s.sum[(y1+1)*stride+x1+1]
	return int(d - b - c + a), (x1 - x0 + 1) * (y1 - y0 + 1)
}

// normalizeMap rescales strictly-positive land values to [0,1]. Water cells
// are forced to 0 and excluded from the range. A flat map is left as is.
func normalizeMap(v []float32, land []bool) {
	lo := float32(math.MaxFloat32)
	hi := float32(-math.MaxFloat32)
	for i, x := range v {
		if !land[i] {
			v[i] = 0
			continue
		}
		if x <= 0 {
			v[i] = 0
			continue
		}
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if hi <= lo {
		return
	}
	span := hi - lo
	for i, x := range v {
		if x > 0 {
			v[i] = (x - lo) / span
		}
	}
}
