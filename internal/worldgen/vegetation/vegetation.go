// Package vegetation derives tree, foliage and resource densities from the
// biome field. It is pure and safe for concurrent use.
package vegetation

import (
	"strings"

	"github.com/ojrac/opensimplex-go"

	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/mathx"
	"vibeheim.ai/internal/worldgen/noise"
)

const (
	DefaultResolution = 8

	baseScale   = 0.005
	detailScale = 0.01
	clumpScale  = 0.0008
)

// Density is the vegetation density at one point. Values are in [0,1].
type Density struct {
	Dominant biome.Type `json:"dominant"`
	Tree     float32    `json:"tree"`
	Foliage  float32    `json:"foliage"`
	Resource float32    `json:"resource"`
	Overall  float32    `json:"overall"`
}

// Availability is the profile blended by normalized biome weights. Species
// and resource lists come from the dominant biome.
type Availability struct {
	Blended Profile `json:"blended"`
}

type ChunkData struct {
	Chunk      chunk.Coord  `json:"chunk"`
	Resolution int          `json:"resolution"`
	Densities  []Density    `json:"densities"`
	Center     Availability `json:"center"`
}

type System struct {
	eval      *biome.Evaluator
	noise     noise.Generator
	clump     opensimplex.Noise32
	chunkSize float32
}

func New(eval *biome.Evaluator, chunkWorldSize float32) *System {
	n := eval.Noise()
	return &System{
		eval:      eval,
		noise:     n,
		clump:     opensimplex.NewNormalized32(n.Seed() ^ int64(noise.Vegetation)),
		chunkSize: chunkWorldSize,
	}
}

func (s *System) baseDensity(x, y float32) float32 {
	a := s.noise.Perlin(x, y, baseScale, noise.Vegetation, chunk.Coord{})
	b := s.noise.Perlin(x, y, detailScale, noise.Vegetation, chunk.Coord{})
	return mathx.Clamp01(float32(a*0.7) + float32(b*0.3))
}

func heightModifier(d, h float32, t biome.Type) float32 {
	switch t {
	case biome.Mountains:
		if h > 300 {
			d = float32(d * mathx.Clamp((500-h)/200, 0.1, 1))
		}
	case biome.Ocean:
		d = float32(d * 0.2)
	case biome.Swamp:
		if h < 50 {
			d = float32(d * 1.2)
		}
	case biome.Meadows:
		if h >= 50 && h <= 200 {
			d = float32(d * 1.1)
		}
	}
	return mathx.Clamp01(d)
}

// Density computes densities at (x, y) for the given terrain height.
func (s *System) Density(x, y, height float32, hint chunk.Coord) Density {
	ev := s.eval.Evaluate(x, y, hint)
	return s.density(x, y, height, ev.Dominant())
}

func (s *System) density(x, y, height float32, dom biome.Type) Density {
	base := heightModifier(s.baseDensity(x, y), height, dom)
	p := ProfileFor(dom)
	clump := s.clump.Eval2(float32(x*clumpScale), float32(y*clumpScale))

	d := Density{
		Dominant: dom,
		Tree:     float32(base * p.TreeDensity),
		Foliage:  float32(float32(base*p.FoliageDensity) * (0.5 + clump)),
		Resource: float32(base * p.ResourceDensity),
	}
	d.Overall = mathx.Clamp01((d.Tree + d.Foliage + d.Resource) / 3)
	d.Tree = mathx.Clamp01(d.Tree)
	d.Foliage = mathx.Clamp01(d.Foliage)
	d.Resource = mathx.Clamp01(d.Resource)
	return d
}

// Availability blends profile densities over all biomes at (x, y).
func (s *System) Availability(x, y float32, hint chunk.Coord) Availability {
	ev := s.eval.Evaluate(x, y, hint)
	return Availability{Blended: blend(ev.Weights)}
}

func blend(w biome.Weights) Profile {
	var out Profile
	for t := biome.Type(0); t < biome.Count; t++ {
		nw := w.Normalized[t]
		if nw <= 0 {
			continue
		}
		p := ProfileFor(t)
		out.TreeDensity += float32(p.TreeDensity * nw)
		out.FoliageDensity += float32(p.FoliageDensity * nw)
		out.ResourceDensity += float32(p.ResourceDensity * nw)
	}
	dom := ProfileFor(w.Dominant)
	out.Trees = dom.Trees
	out.Foliage = dom.Foliage
	out.Resources = dom.Resources
	return out
}

// ResourceAvailability is the spawn rate of the named resource at (x, y),
// or 0 when the dominant biome does not offer it.
func (s *System) ResourceAvailability(name string, x, y float32, hint chunk.Coord) float32 {
	for _, r := range s.Availability(x, y, hint).Blended.Resources {
		if strings.EqualFold(r.Name, name) {
			return r.SpawnRate
		}
	}
	return 0
}

func (s *System) Resources(x, y float32, hint chunk.Coord) []Resource {
	return s.Availability(x, y, hint).Blended.Resources
}

// ChunkData samples res x res cell centers across the chunk footprint,
// row by row in +Y, and the blended availability at the chunk center.
func (s *System) ChunkData(c chunk.Coord, res int) ChunkData {
	if res <= 0 {
		res = DefaultResolution
	}
	out := ChunkData{Chunk: c, Resolution: res, Densities: make([]Density, 0, res*res)}
	origin := c.Origin(s.chunkSize)
	step := s.chunkSize / float32(res)
	for j := 0; j < res; j++ {
		for i := 0; i < res; i++ {
			x := origin.X() + float32(i)*step + step*0.5
			y := origin.Y() + float32(j)*step + step*0.5
			ev := s.eval.Evaluate(x, y, c)
			out.Densities = append(out.Densities, s.density(x, y, ev.TerrainHeight, ev.Dominant()))
		}
	}
	center := c.Center(s.chunkSize)
	out.Center = s.Availability(center.X(), center.Y(), c)
	return out
}
