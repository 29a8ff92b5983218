package placement

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type cellKey struct {
	Type string
	X, Y int32
}

type typeGrid struct {
	cell float32
	n    int
}

// spacingIndex buckets instance positions per type into square XY cells so
// spacing checks only look at nearby instances. The cell size of a type
// grows to the largest spacing requested for it; growing rebuckets.
type spacingIndex struct {
	types map[string]*typeGrid
	cells map[cellKey][]*Instance
}

func newSpacingIndex() *spacingIndex {
	return &spacingIndex{
		types: map[string]*typeGrid{},
		cells: map[cellKey][]*Instance{},
	}
}

func cellOf(v, size float32) int32 {
	return int32(math.Floor(float64(v / size)))
}

func (s *spacingIndex) grid(typ string) *typeGrid {
	g := s.types[typ]
	if g == nil {
		g = &typeGrid{cell: 1}
		s.types[typ] = g
	}
	return g
}

// reserve makes sure the cell size for typ is at least spacing.
func (s *spacingIndex) reserve(typ string, spacing float32) {
	g := s.grid(typ)
	if spacing <= g.cell {
		return
	}
	var all []*Instance
	for k, v := range s.cells {
		if k.Type == typ {
			all = append(all, v...)
			delete(s.cells, k)
		}
	}
	g.cell = spacing
	g.n = 0
	for _, in := range all {
		s.insert(in)
	}
}

func (s *spacingIndex) insert(in *Instance) {
	g := s.grid(in.Type)
	k := cellKey{Type: in.Type, X: cellOf(in.Location.X(), g.cell), Y: cellOf(in.Location.Y(), g.cell)}
	s.cells[k] = append(s.cells[k], in)
	g.n++
}

func (s *spacingIndex) remove(in *Instance) bool {
	g := s.types[in.Type]
	if g == nil {
		return false
	}
	k := cellKey{Type: in.Type, X: cellOf(in.Location.X(), g.cell), Y: cellOf(in.Location.Y(), g.cell)}
	list := s.cells[k]
	for i, cur := range list {
		if cur == in {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(s.cells, k)
			} else {
				s.cells[k] = list
			}
			g.n--
			return true
		}
	}
	return false
}

// tooClose reports whether any instance of typ lies strictly closer than
// spacing to loc, measured in 3-D.
func (s *spacingIndex) tooClose(typ string, loc mgl32.Vec3, spacing float32) bool {
	g := s.types[typ]
	if g == nil || g.n == 0 || spacing <= 0 {
		return false
	}
	span := int32(math.Ceil(float64(spacing / g.cell)))
	cx, cy := cellOf(loc.X(), g.cell), cellOf(loc.Y(), g.cell)
	for dy := -span; dy <= span; dy++ {
		for dx := -span; dx <= span; dx++ {
			for _, in := range s.cells[cellKey{Type: typ, X: cx + dx, Y: cy + dy}] {
				if loc.Sub(in.Location).Len() < spacing {
					return true
				}
			}
		}
	}
	return false
}
