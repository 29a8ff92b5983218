package biome

import (
	"math"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/mathx"
	"vibeheim.ai/internal/worldgen/noise"
)

const (
	// TerrainAmplitude and TerrainFloor map the [0,1] noise height to world height.
	TerrainAmplitude float32 = 300
	TerrainFloor     float32 = -100

	riverSteps        = 8
	riverDepth        = 0.35
	defaultNoiseScale = 0.0025
)

// Evaluator is immutable after construction and safe for concurrent use.
type Evaluator struct {
	noise   noise.Generator
	terrain noise.TerrainParams
	scales  [Count]float32

	blendDistance  float32
	blendThreshold float32
	ring           [][2]float32

	mountainThreshold float32
	waterThreshold    float32
}

func NewEvaluator(s config.WorldGenSettings) *Evaluator {
	e := &Evaluator{
		noise: noise.New(s.Seed),
		terrain: noise.TerrainParams{
			BaseScale:      s.BaseTerrainScale,
			RidgedScale:    s.RidgedNoiseScale,
			WarpStrength:   s.DomainWarpStrength,
			Rivers:         s.EnableRiverGeneration,
			RiverThreshold: s.RiverFlowThreshold,
			RiverSteps:     riverSteps,
			RiverDepth:     riverDepth,
		},
		blendDistance:     s.BlendDistance(),
		blendThreshold:    s.Blend.Threshold,
		mountainThreshold: s.MountainHeightThreshold,
		waterThreshold:    s.WaterHeightThreshold,
	}
	e.scales[Meadows] = s.MeadowsScale
	e.scales[BlackForest] = s.BlackForestScale
	e.scales[Swamp] = s.SwampScale

	n := s.Blend.Samples
	if n <= 0 {
		n = 8
	}
	radius := float64(e.blendDistance) * 0.5
	e.ring = make([][2]float32, n)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		e.ring[i] = [2]float32{float32(math.Cos(a) * radius), float32(math.Sin(a) * radius)}
	}
	return e
}

func (e *Evaluator) Noise() noise.Generator { return e.noise }

// BaseHeight is the world height of the noise terrain before biome offsets.
func (e *Evaluator) BaseHeight(x, y float32) float32 {
	h := e.noise.TerrainHeight(x, y, e.terrain, chunk.Coord{})
	return float32(h*TerrainAmplitude) + TerrainFloor
}

// biomeNoise samples the raw weight field of one biome. Height-based biomes
// have no field and return 0.
func (e *Evaluator) biomeNoise(t Type, x, y float32) float32 {
	info := Data(t)
	if info.HeightBased {
		return 0
	}
	scale := e.scales[t]
	if scale <= 0 {
		scale = defaultNoiseScale
	}
	return e.noise.Perlin(x, y, scale, info.Tag, chunk.Coord{})
}

// Evaluate computes biome weights and blended properties at (x, y).
// The result does not depend on hint; it is carried through for callers
// that need chunk-local randomness.
func (e *Evaluator) Evaluate(x, y float32, hint chunk.Coord) Evaluation {
	var ev Evaluation
	ev.Hint = hint
	ev.BaseHeight = e.BaseHeight(x, y)

	w := &ev.Weights
	for t := Type(0); t < Count; t++ {
		w.Raw[t] = e.biomeNoise(t, x, y)
	}
	// Dominant is fixed from the unblended noise.
	w.Dominant = argmax(w.Raw)

	e.blend(w, x, y)

	override, ok := e.heightOverride(ev.BaseHeight)
	if ok {
		for i := range w.Raw {
			w.Raw[i] = 0
		}
		w.Raw[override.t] = override.weight
		ev.HeightOverride = true
	}

	w.Normalize()
	if ok {
		w.Dominant = override.t
	}

	for t := Type(0); t < Count; t++ {
		nw := w.Normalized[t]
		if nw == 0 {
			continue
		}
		info := Data(t)
		ev.HeightOffset += float32(info.HeightOffset * nw)
		ev.DebugColor = ev.DebugColor.Add(info.DebugColor.Mul(nw))
		ev.BiomeColor = ev.BiomeColor.Add(info.BiomeColor.Mul(nw))
		ev.Roughness += float32(info.Roughness * nw)
		ev.Metallic += float32(info.Metallic * nw)
	}
	ev.TerrainHeight = ev.BaseHeight + ev.HeightOffset
	return ev
}

// Height is the final terrain height at (x, y).
func (e *Evaluator) Height(x, y float32) float32 {
	return e.Evaluate(x, y, chunk.Coord{}).TerrainHeight
}

// blend attenuates each biome by the smallest distance factor among ring
// samples whose noise differs from the center by more than the threshold.
func (e *Evaluator) blend(w *Weights, x, y float32) {
	if e.blendDistance <= 0 {
		return
	}
	for t := Type(0); t < Count; t++ {
		factor := float32(1)
		for _, off := range e.ring {
			sample := e.biomeNoise(t, x+off[0], y+off[1])
			if mathx.Abs32(w.Raw[t]-sample) <= e.blendThreshold {
				continue
			}
			dist := mathx.Sqrt32(float32(off[0]*off[0]) + float32(off[1]*off[1]))
			if f := mathx.Clamp01(dist / e.blendDistance); f < factor {
				factor = f
			}
		}
		w.Raw[t] = float32(w.Raw[t] * factor)
	}
}

type heightBiome struct {
	t      Type
	weight float32
}

func (e *Evaluator) heightOverride(h float32) (heightBiome, bool) {
	switch {
	case h >= e.mountainThreshold:
		d := Data(Mountains).HeightBlendDistance
		return heightBiome{Mountains, mathx.Clamp01((h - e.mountainThreshold) / d)}, true
	case h <= e.waterThreshold:
		d := Data(Ocean).HeightBlendDistance
		return heightBiome{Ocean, mathx.Clamp01((e.waterThreshold - h) / d)}, true
	}
	return heightBiome{}, false
}
