package terrain

import (
	"github.com/aquilax/go-perlin"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/noise"
)

const (
	fallbackScale     = 0.001
	fallbackAlpha     = 2
	fallbackBeta      = 2
	fallbackOctaves   = 1
	DefaultBaseHeight = 0
	DefaultVariation  = 500
)

// Fallback produces a gentle single-octave heightmap. It is used when the
// full pipeline fails for a chunk, so the chunk is never left empty.
type Fallback struct {
	BaseHeight      float32
	HeightVariation float32

	p         *perlin.Perlin
	chunkSize int
	voxelSize float32
}

func NewFallback(s config.WorldGenSettings) *Fallback {
	return &Fallback{
		BaseHeight:      DefaultBaseHeight,
		HeightVariation: DefaultVariation,
		p:               perlin.NewPerlin(fallbackAlpha, fallbackBeta, fallbackOctaves, s.Seed^int64(noise.Terrain)),
		chunkSize:       s.ChunkSize,
		voxelSize:       s.VoxelSizeCm,
	}
}

// Height samples the fallback surface at a world position.
func (f *Fallback) Height(x, y float32) float32 {
	n := f.p.Noise2D(float64(x)*fallbackScale, float64(y)*fallbackScale)
	return f.BaseHeight + float32(n)*f.HeightVariation
}

// HeightmapForChunk returns ChunkSize x ChunkSize samples, one per voxel
// column starting at the chunk origin, row-major in +Y.
func (f *Fallback) HeightmapForChunk(c chunk.Coord) []float32 {
	size := float32(f.chunkSize) * f.voxelSize
	o := c.Origin(size)
	out := make([]float32, 0, f.chunkSize*f.chunkSize)
	for j := 0; j < f.chunkSize; j++ {
		for i := 0; i < f.chunkSize; i++ {
			out = append(out, f.Height(o.X()+float32(i)*f.voxelSize, o.Y()+float32(j)*f.voxelSize))
		}
	}
	return out
}

// Build realizes a chunk from the fallback surface at the lowest detail
// level the backend accepts.
func (f *Fallback) Build(b ChunkBuild) ChunkBuild {
	b.Height = f.Height
	b.Heights = nil
	return b
}
