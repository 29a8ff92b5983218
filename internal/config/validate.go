package config

import (
	"fmt"
	"strings"
)

// FieldError names one setting that failed validation.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s=%s %s", e.Field, e.Value, e.Reason)
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "settings: " + strings.Join(parts, "; ")
}

// Has reports whether field is among the failures.
func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

type checker struct {
	errs ValidationErrors
}

func (c *checker) floatRange(field string, v, lo, hi float32) {
	if v < lo || v > hi {
		c.errs = append(c.errs, FieldError{
			Field:  field,
			Value:  fmt.Sprintf("%g", v),
			Reason: fmt.Sprintf("out of range [%g, %g]", lo, hi),
		})
	}
}

func (c *checker) intRange(field string, v, lo, hi int) {
	if v < lo || v > hi {
		c.errs = append(c.errs, FieldError{
			Field:  field,
			Value:  fmt.Sprintf("%d", v),
			Reason: fmt.Sprintf("out of range [%d, %d]", lo, hi),
		})
	}
}

func (c *checker) greater(field string, v int, other string, ov int) {
	if v <= ov {
		c.errs = append(c.errs, FieldError{
			Field:  field,
			Value:  fmt.Sprintf("%d", v),
			Reason: fmt.Sprintf("must be > %s=%d", other, ov),
		})
	}
}

// Validate checks numeric bounds and LOD ordering. It never corrects values.
func (s WorldGenSettings) Validate() error {
	var c checker

	c.floatRange("voxel_size_cm", s.VoxelSizeCm, 1, 200)
	c.intRange("chunk_size", s.ChunkSize, 8, 128)
	c.intRange("max_lod", s.MaxLOD, 1, 5)
	c.intRange("lod0_radius", s.LOD0Radius, 1, 10)
	c.intRange("lod1_radius", s.LOD1Radius, 1, 15)
	c.intRange("lod2_radius", s.LOD2Radius, 1, 20)
	c.greater("lod1_radius", s.LOD1Radius, "lod0_radius", s.LOD0Radius)
	c.greater("lod2_radius", s.LOD2Radius, "lod1_radius", s.LOD1Radius)

	c.floatRange("biome_blend_meters", s.BiomeBlendMeters, 1, 100)
	c.intRange("save_flush_ms", s.SaveFlushMs, 1000, 10000)

	c.floatRange("mountain_height_threshold", s.MountainHeightThreshold, 50, 500)
	c.floatRange("water_height_threshold", s.WaterHeightThreshold, -50, 50)
	c.floatRange("ridged_noise_scale", s.RidgedNoiseScale, 0.0001, 0.01)
	c.floatRange("domain_warp_strength", s.DomainWarpStrength, 10, 200)
	c.floatRange("river_flow_threshold", s.RiverFlowThreshold, 0.1, 0.9)
	c.floatRange("base_terrain_scale", s.BaseTerrainScale, 0.0001, 0.01)

	c.floatRange("meadows_scale", s.MeadowsScale, 0.0001, 0.01)
	c.floatRange("black_forest_scale", s.BlackForestScale, 0.0001, 0.01)
	c.floatRange("swamp_scale", s.SwampScale, 0.0001, 0.01)

	c.floatRange("blend.threshold", s.Blend.Threshold, 0.01, 1)
	c.intRange("blend.samples", s.Blend.Samples, 4, 32)

	c.intRange("streaming.max_concurrent", s.Streaming.MaxConcurrent, 1, 64)
	c.intRange("streaming.unload_margin", s.Streaming.UnloadMargin, 0, 10)
	c.intRange("streaming.tick_ms", s.Streaming.TickMs, 10, 1000)
	c.intRange("streaming.stats_log_seconds", s.Streaming.StatsLogSeconds, 1, 3600)

	if s.Performance.AvgGenMs <= 0 || s.Performance.P95GenMs <= 0 {
		c.errs = append(c.errs, FieldError{
			Field:  "performance",
			Value:  fmt.Sprintf("%g/%g", s.Performance.AvgGenMs, s.Performance.P95GenMs),
			Reason: "timing targets must be positive",
		})
	}

	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}
