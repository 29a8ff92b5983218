package noise

import (
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/mathx"
)

// WarpOffset shifts the second warp sample away from the first.
const WarpOffset float32 = 5183.0

// Octave sums octaves of Perlin noise, normalized by the amplitude sum.
func (g Generator) Octave(x, y, scale float32, octaves int, persistence, lacunarity float32, tag FeatureTag, hint chunk.Coord) float32 {
	var sum, norm float32
	amp := float32(1)
	freq := scale
	for i := 0; i < octaves; i++ {
		sum += float32(g.Perlin(x, y, freq, tag, hint) * amp)
		norm += amp
		amp = float32(amp * persistence)
		freq = float32(freq * lacunarity)
	}
	if norm <= 0 {
		return 0
	}
	return sum / norm
}

func ridge(n float32) float32 {
	r := 1 - mathx.Abs32(float32(2*n)-1)
	return float32(r * r)
}

// Ridged is Octave with each sample folded into a sharp crest.
func (g Generator) Ridged(x, y, scale float32, octaves int, persistence, lacunarity float32, tag FeatureTag, hint chunk.Coord) float32 {
	var sum, norm float32
	amp := float32(1)
	freq := scale
	for i := 0; i < octaves; i++ {
		sum += float32(ridge(g.Perlin(x, y, freq, tag, hint)) * amp)
		norm += amp
		amp = float32(amp * persistence)
		freq = float32(freq * lacunarity)
	}
	if norm <= 0 {
		return 0
	}
	return sum / norm
}

// DomainWarped samples Perlin at a position displaced by two independent
// warp fields, each scaled to [-strength, strength].
func (g Generator) DomainWarped(x, y, scale, strength float32, tag FeatureTag, hint chunk.Coord) float32 {
	wx := g.Perlin(x, y, scale, DomainWarp, hint)
	wy := g.Perlin(x+WarpOffset, y+WarpOffset, scale, DomainWarp, hint)
	dx := float32((float32(2*wx) - 1) * strength)
	dy := float32((float32(2*wy) - 1) * strength)
	return g.Perlin(x+dx, y+dy, scale, tag, hint)
}

const flowEpsilon float32 = 1e-6

// FlowAccumulation walks steepest descent over an octave heightmap and
// returns the mean gradient magnitude seen along the path. Values below
// threshold are zeroed.
func (g Generator) FlowAccumulation(x, y, scale float32, steps int, threshold float32, hint chunk.Coord) float32 {
	if steps <= 0 || scale <= 0 {
		return 0
	}
	d := 1 / float32(4*scale)
	height := func(px, py float32) float32 {
		return g.Octave(px, py, scale, 4, 0.5, 2.0, Rivers, hint)
	}

	var acc float32
	taken := 0
	for i := 0; i < steps; i++ {
		gx := (height(x+d, y) - height(x-d, y)) * 0.5
		gy := (height(x, y+d) - height(x, y-d)) * 0.5
		mag := mathx.Sqrt32(float32(gx*gx) + float32(gy*gy))
		if mag < flowEpsilon {
			break
		}
		acc += mag
		taken++
		x -= float32(gx / mag * d)
		y -= float32(gy / mag * d)
	}
	if taken == 0 {
		return 0
	}
	v := mathx.Clamp01(acc / float32(taken))
	if v < threshold {
		return 0
	}
	return v
}

// TerrainParams selects the scales used by TerrainHeight.
type TerrainParams struct {
	BaseScale      float32
	RidgedScale    float32
	WarpStrength   float32
	Rivers         bool
	RiverThreshold float32
	RiverSteps     int
	RiverDepth     float32
}

func DefaultTerrainParams() TerrainParams {
	return TerrainParams{
		BaseScale:      0.002,
		RidgedScale:    0.001,
		WarpStrength:   50,
		Rivers:         true,
		RiverThreshold: 0.3,
		RiverSteps:     8,
		RiverDepth:     0.35,
	}
}

// TerrainHeight combines warped base relief, ridged mountains weighted by
// the base height, and river carving. The result is in [0,1].
func (g Generator) TerrainHeight(x, y float32, p TerrainParams, hint chunk.Coord) float32 {
	base := g.DomainWarped(x, y, p.BaseScale, p.WarpStrength, Terrain, hint)
	ridged := g.Ridged(x, y, p.RidgedScale, 4, 0.5, 2.0, RidgedTerrain, hint)
	h := base + float32(float32(ridged*base)*0.5)
	if p.Rivers {
		flow := g.FlowAccumulation(x, y, p.BaseScale, p.RiverSteps, p.RiverThreshold, hint)
		h -= float32(flow * p.RiverDepth)
	}
	return mathx.Clamp01(h)
}
