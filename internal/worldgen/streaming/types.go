package streaming

import (
	"context"
	"math"
	"time"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/profiler"
)

type LOD int

const (
	LODNone LOD = -1
	LOD0    LOD = 0
	LOD1    LOD = 1
	LOD2    LOD = 2
)

func (l LOD) String() string {
	switch l {
	case LOD0:
		return "LOD0"
	case LOD1:
		return "LOD1"
	case LOD2:
		return "LOD2"
	}
	return "none"
}

type State int

const (
	Unloaded State = iota
	Queued
	Generating
	Loaded
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Generating:
		return "generating"
	case Loaded:
		return "loaded"
	}
	return "unloaded"
}

type Config struct {
	LOD0Radius        int
	LOD1Radius        int
	LOD2Radius        int
	CollisionUpToLOD1 bool
	MaxConcurrent     int
	UnloadMargin      int
	TickInterval      time.Duration
	StatsLogInterval  time.Duration
	ChunkWorldSize    float32
}

func ConfigFrom(s config.WorldGenSettings) Config {
	return Config{
		LOD0Radius:        s.LOD0Radius,
		LOD1Radius:        s.LOD1Radius,
		LOD2Radius:        s.LOD2Radius,
		CollisionUpToLOD1: s.CollisionUpToLOD1,
		MaxConcurrent:     s.Streaming.MaxConcurrent,
		UnloadMargin:      s.Streaming.UnloadMargin,
		TickInterval:      s.TickInterval(),
		StatsLogInterval:  s.StatsLogInterval(),
		ChunkWorldSize:    s.ChunkWorldSize(),
	}
}

// MaxRadius is the outermost ring that holds any LOD.
func (c Config) MaxRadius() int { return max(c.LOD0Radius, c.LOD1Radius, c.LOD2Radius) }

// TargetLOD maps a chunk distance to the detail level it should hold.
func (c Config) TargetLOD(distance float32) LOD {
	switch {
	case distance <= float32(c.LOD0Radius):
		return LOD0
	case distance <= float32(c.LOD1Radius):
		return LOD1
	case distance <= float32(c.LOD2Radius):
		return LOD2
	}
	return LODNone
}

// Collision reports whether a chunk at lod carries collision.
func (c Config) Collision(lod LOD) bool {
	if lod == LODNone {
		return false
	}
	if c.CollisionUpToLOD1 {
		return lod <= LOD1
	}
	return lod == LOD0
}

// Priority orders the queue: nearer first.
func Priority(distance float32) int {
	return int(math.Floor(float64(distance) * 100))
}

// Chunk is a copy of the scheduler's view of one chunk.
type Chunk struct {
	Coord      chunk.Coord `json:"coord"`
	Current    LOD         `json:"current"`
	Target     LOD         `json:"target"`
	Priority   int         `json:"priority"`
	Generating bool        `json:"generating"`
	Collision  bool        `json:"collision"`
	Evicted    bool        `json:"evicted,omitempty"`
	Pinned     bool        `json:"pinned,omitempty"`
	State      State       `json:"state"`
	GenStart   time.Time   `json:"gen_start"`
}

type Request struct {
	Coord     chunk.Coord
	LOD       LOD
	Previous  LOD
	Collision bool
}

type Result struct {
	Sample     profiler.Sample
	Placements int
	Portals    int
	Biomes     map[string]int
}

// Generator realizes chunks. Generate and Fallback run on worker
// goroutines; Unload runs on the goroutine driving the scheduler.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Fallback(ctx context.Context, req Request, cause error) (Result, error)
	// Unload runs under the scheduler lock and must not call back into it.
	Unload(c chunk.Coord)
}

type EventKind string

const (
	EventLoaded   EventKind = "chunk_loaded"
	EventUnloaded EventKind = "chunk_unloaded"
	EventFailed   EventKind = "chunk_failed"
	EventFallback EventKind = "chunk_fallback"
)

type Event struct {
	Kind      EventKind
	Coord     chunk.Coord
	LOD       LOD
	Result    Result
	Err       error
	Discarded bool
	Time      time.Time
}

type Stats struct {
	Loaded     int     `json:"loaded"`
	Generating int     `json:"generating"`
	Queued     int     `json:"queued"`
	AvgGenMs   float64 `json:"avg_gen_ms"`
	P95GenMs   float64 `json:"p95_gen_ms"`
	Total      uint64  `json:"total"`
	Failed     uint64  `json:"failed"`
	Fallbacks  uint64  `json:"fallbacks"`
	Discarded  uint64  `json:"discarded"`
}
