// Package noise is the deterministic seeded 2-D noise stack every other
// generation stage samples from. All functions are pure in (seed, inputs).
package noise

import (
	"math"

	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/mathx"
)

// FeatureTag decorrelates noise fields that share one world seed.
type FeatureTag uint32

const (
	Terrain          FeatureTag = 0x12345678
	BiomeMeadows     FeatureTag = 0x87654321
	BiomeBlackForest FeatureTag = 0xABCDEF00
	BiomeSwamp       FeatureTag = 0x11223344
	POI              FeatureTag = 0x55667788
	Dungeon          FeatureTag = 0x99AABBCC
	RidgedTerrain    FeatureTag = 0xDDEEFF00
	DomainWarp       FeatureTag = 0x22334455
	Rivers           FeatureTag = 0x66778899
	Mountains        FeatureTag = 0xAABBCCDD
	Valleys          FeatureTag = 0xEEFF0011
	Vegetation       FeatureTag = 0x33445566
)

type Generator struct {
	seed int64
}

func New(seed int64) Generator {
	return Generator{seed: seed}
}

func (g Generator) Seed() int64 { return g.seed }

// HashChunkCoord folds a chunk address into 32 bits.
func HashChunkCoord(c chunk.Coord) uint32 {
	var h uint32
	h ^= uint32(c.X) * 374761393
	h ^= uint32(c.Y) * 668265263
	h ^= uint32(c.Z) * 1274126177
	h = (h ^ (h >> 13)) * 1274126177
	h ^= h >> 16
	return h
}

// Hash2D hashes a lattice point under a 32-bit seed.
func Hash2D(x, y int32, seed uint32) uint32 {
	h := seed
	h ^= uint32(x) * 374761393
	h ^= uint32(y) * 668265263
	h = (h ^ (h >> 13)) * 1274126177
	h ^= h >> 16
	h = (h ^ (h >> 13)) * 1274126177
	h ^= h >> 16
	return h
}

// MixedSeed combines the world seed, the chunk context and the feature tag.
func (g Generator) MixedSeed(tag FeatureTag, hint chunk.Coord) uint32 {
	seed32 := uint32(g.seed ^ (g.seed >> 32))
	return seed32 ^ HashChunkCoord(hint) ^ uint32(tag)
}

func NormalizeHash(h uint32) float32 {
	return float32(h) / float32(math.MaxUint32)
}

func gradient(h uint32, x, y float32) float32 {
	switch h & 7 {
	case 0:
		return x + y
	case 1:
		return -x + y
	case 2:
		return x - y
	case 3:
		return -x - y
	case 4:
		return x
	case 5:
		return -x
	case 6:
		return y
	default:
		return -y
	}
}

// fade is the quintic t^3(t(6t-15)+10). Each product is rounded on its own.
func fade(t float32) float32 {
	inner := float32(t*6) - 15
	inner = float32(t*inner) + 10
	t3 := float32(float32(t*t) * t)
	return float32(t3 * inner)
}

// Perlin samples gradient noise remapped to [0,1].
func (g Generator) Perlin(x, y, scale float32, tag FeatureTag, hint chunk.Coord) float32 {
	x = float32(x * scale)
	y = float32(y * scale)

	x0 := mathx.FloorToInt32(x)
	y0 := mathx.FloorToInt32(y)
	x1 := x0 + 1
	y1 := y0 + 1

	fx := x - float32(x0)
	fy := y - float32(y0)

	seed := g.MixedSeed(tag, hint)
	g00 := gradient(Hash2D(x0, y0, seed), fx, fy)
	g10 := gradient(Hash2D(x1, y0, seed), fx-1, fy)
	g01 := gradient(Hash2D(x0, y1, seed), fx, fy-1)
	g11 := gradient(Hash2D(x1, y1, seed), fx-1, fy-1)

	sx := fade(fx)
	sy := fade(fy)

	ix0 := mathx.Lerp(g00, g10, sx)
	ix1 := mathx.Lerp(g01, g11, sx)
	v := mathx.Lerp(ix0, ix1, sy)
	return float32((v + 1) * 0.5)
}

// RandomFloat is a per-lattice-point value in [0,1].
func (g Generator) RandomFloat(x, y int32, tag FeatureTag, hint chunk.Coord) float32 {
	return NormalizeHash(Hash2D(x, y, g.MixedSeed(tag, hint)))
}

// RandomInt is a per-lattice-point value in [lo,hi]. hi < lo returns lo.
func (g Generator) RandomInt(x, y, lo, hi int32, tag FeatureTag, hint chunk.Coord) int32 {
	if hi <= lo {
		return lo
	}
	span := uint32(hi-lo) + 1
	return lo + int32(Hash2D(x, y, g.MixedSeed(tag, hint))%span)
}
