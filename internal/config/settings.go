// Package config holds the world generation settings. Settings are loaded
// once at startup and passed by value; nothing in the module reads globals.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type WorldGenSettings struct {
	Seed            int64  `json:"seed" yaml:"seed"`
	WorldGenVersion int    `json:"world_gen_version" yaml:"world_gen_version"`
	PluginSHA       string `json:"plugin_sha,omitempty" yaml:"plugin_sha,omitempty"`

	VoxelSizeCm float32 `json:"voxel_size_cm" yaml:"voxel_size_cm"`
	ChunkSize   int     `json:"chunk_size" yaml:"chunk_size"`

	MaxLOD            int  `json:"max_lod" yaml:"max_lod"`
	LOD0Radius        int  `json:"lod0_radius" yaml:"lod0_radius"`
	LOD1Radius        int  `json:"lod1_radius" yaml:"lod1_radius"`
	LOD2Radius        int  `json:"lod2_radius" yaml:"lod2_radius"`
	CollisionUpToLOD1 bool `json:"collision_up_to_lod1" yaml:"collision_up_to_lod1"`

	BiomeBlendMeters float32 `json:"biome_blend_meters" yaml:"biome_blend_meters"`
	SaveFlushMs      int     `json:"save_flush_ms" yaml:"save_flush_ms"`

	MountainHeightThreshold float32 `json:"mountain_height_threshold" yaml:"mountain_height_threshold"`
	WaterHeightThreshold    float32 `json:"water_height_threshold" yaml:"water_height_threshold"`
	RidgedNoiseScale        float32 `json:"ridged_noise_scale" yaml:"ridged_noise_scale"`
	DomainWarpStrength      float32 `json:"domain_warp_strength" yaml:"domain_warp_strength"`
	EnableRiverGeneration   bool    `json:"enable_river_generation" yaml:"enable_river_generation"`
	RiverFlowThreshold      float32 `json:"river_flow_threshold" yaml:"river_flow_threshold"`
	BaseTerrainScale        float32 `json:"base_terrain_scale" yaml:"base_terrain_scale"`

	MeadowsScale     float32 `json:"meadows_scale" yaml:"meadows_scale"`
	BlackForestScale float32 `json:"black_forest_scale" yaml:"black_forest_scale"`
	SwampScale       float32 `json:"swamp_scale" yaml:"swamp_scale"`

	Blend       BlendSettings      `json:"blend" yaml:"blend"`
	Streaming   StreamingSettings  `json:"streaming" yaml:"streaming"`
	Performance PerformanceTargets `json:"performance" yaml:"performance"`
}

// BlendSettings tunes biome edge blending.
type BlendSettings struct {
	Threshold float32 `json:"threshold" yaml:"threshold"`
	Samples   int     `json:"samples" yaml:"samples"`
}

type StreamingSettings struct {
	MaxConcurrent   int `json:"max_concurrent" yaml:"max_concurrent"`
	UnloadMargin    int `json:"unload_margin" yaml:"unload_margin"`
	TickMs          int `json:"tick_ms" yaml:"tick_ms"`
	StatsLogSeconds int `json:"stats_log_seconds" yaml:"stats_log_seconds"`
}

// PerformanceTargets are soft budgets. Exceeding them is logged, never enforced.
type PerformanceTargets struct {
	AvgGenMs     float64 `json:"avg_gen_ms" yaml:"avg_gen_ms"`
	P95GenMs     float64 `json:"p95_gen_ms" yaml:"p95_gen_ms"`
	LOD0MemoryMB float64 `json:"lod0_memory_mb" yaml:"lod0_memory_mb"`
	MaxTriangles int     `json:"max_triangles" yaml:"max_triangles"`
}

func Defaults() WorldGenSettings {
	return WorldGenSettings{
		Seed:            1337,
		WorldGenVersion: 1,

		VoxelSizeCm: 50,
		ChunkSize:   32,

		MaxLOD:            3,
		LOD0Radius:        2,
		LOD1Radius:        4,
		LOD2Radius:        6,
		CollisionUpToLOD1: true,

		BiomeBlendMeters: 24,
		SaveFlushMs:      3000,

		MountainHeightThreshold: 200,
		WaterHeightThreshold:    -10,
		RidgedNoiseScale:        0.001,
		DomainWarpStrength:      50,
		EnableRiverGeneration:   true,
		RiverFlowThreshold:      0.3,
		BaseTerrainScale:        0.002,

		MeadowsScale:     0.0025,
		BlackForestScale: 0.0030,
		SwampScale:       0.0020,

		Blend: BlendSettings{Threshold: 0.1, Samples: 8},
		Streaming: StreamingSettings{
			MaxConcurrent:   4,
			UnloadMargin:    2,
			TickMs:          100,
			StatsLogSeconds: 10,
		},
		Performance: PerformanceTargets{
			AvgGenMs:     5,
			P95GenMs:     9,
			LOD0MemoryMB: 64,
			MaxTriangles: 8000,
		},
	}
}

// ChunkWorldSize is the edge length of a chunk in world units (cm).
func (s WorldGenSettings) ChunkWorldSize() float32 {
	return float32(s.ChunkSize) * s.VoxelSizeCm
}

// BlendDistance is the biome blend distance in world units.
func (s WorldGenSettings) BlendDistance() float32 {
	return s.BiomeBlendMeters * 100
}

// MaxRadius is the outermost LOD ring in chunks.
func (s WorldGenSettings) MaxRadius() int {
	return s.LOD2Radius
}

func (s WorldGenSettings) SaveFlushInterval() time.Duration {
	return time.Duration(s.SaveFlushMs) * time.Millisecond
}

func (s WorldGenSettings) TickInterval() time.Duration {
	if s.Streaming.TickMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(s.Streaming.TickMs) * time.Millisecond
}

func (s WorldGenSettings) StatsLogInterval() time.Duration {
	if s.Streaming.StatsLogSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.Streaming.StatsLogSeconds) * time.Second
}

// Digest is the hex sha256 of the canonical JSON encoding. Two processes
// with the same digest generate the same world.
func (s WorldGenSettings) Digest() string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
