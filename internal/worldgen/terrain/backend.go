// Package terrain is the boundary to the voxel/mesh backend. The generation
// core only talks to Backend; Heightfield is the in-process reference
// implementation and Fallback the minimal generator used when a chunk build
// fails.
package terrain

import (
	"context"
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
)

var (
	ErrNotInitialized = errors.New("terrain backend not initialized")
	ErrInvalidHandle  = errors.New("invalid handle")
	ErrChunkNotLoaded = errors.New("chunk not loaded")
)

type CSGOp int

const (
	CSGAdd CSGOp = iota
	CSGSubtract
)

func (op CSGOp) String() string {
	if op == CSGSubtract {
		return "subtract"
	}
	return "add"
}

// HeightFunc samples final terrain height at a world (x, y).
type HeightFunc func(x, y float32) float32

// ChunkBuild asks the backend to realize one chunk at a LOD.
type ChunkBuild struct {
	Coord     chunk.Coord
	LOD       int
	Collision bool
	Height    HeightFunc
	// Heights, when set, is a precomputed Resolution x Resolution grid and
	// Height is not consulted.
	Heights    []float32
	Resolution int
}

// Mesh summarizes what a build produced.
type Mesh struct {
	Resolution  int
	Triangles   int
	MemoryBytes int64
	Collision   bool
}

// Spawnable describes a representation the backend should create.
type Spawnable struct {
	Kind string
	Pos  mgl32.Vec3
	Yaw  float32
}

type Backend interface {
	Initialize(s config.WorldGenSettings) error
	IsInitialized() bool
	BuildWorldAsync(viewer mgl32.Vec3)
	Tick(dt time.Duration)

	BuildChunk(ctx context.Context, b ChunkBuild) (Mesh, error)
	RebuildChunk(c chunk.Coord) error
	UnloadChunk(c chunk.Coord)
	ApplyCSGSphere(center mgl32.Vec3, radius float32, op CSGOp) error

	Spawn(s Spawnable) (Handle, error)
	Despawn(h Handle) bool
	Valid(h Handle) bool
}

// Resolution is the heightfield samples per side at a LOD: the chunk size
// halved per level, never below 2.
func Resolution(chunkSize, lod int) int {
	n := chunkSize >> uint(lod)
	if n < 2 {
		n = 2
	}
	return n
}

// MeshCost is the triangle count and byte size of an n x n heightfield grid.
func MeshCost(n int) (triangles int, bytes int64) {
	triangles = 2 * (n - 1) * (n - 1)
	bytes = int64(n*n*4) + int64(triangles*3*4)
	return triangles, bytes
}
