// Package biome assigns weighted biomes to world positions and derives the
// blended surface properties used by terrain, placement and vegetation.
package biome

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/noise"
)

type Type uint8

const (
	Meadows Type = iota
	BlackForest
	Swamp
	Mountains
	Ocean

	Count
)

// Info is the static description of one biome.
type Info struct {
	Name         string
	HeightOffset float32
	DebugColor   mgl32.Vec3
	BiomeColor   mgl32.Vec3
	Roughness    float32
	Metallic     float32

	// Tag selects the noise field for noise-driven biomes.
	Tag noise.FeatureTag
	// HeightBased biomes have no noise field and only appear through the
	// height override.
	HeightBased         bool
	OverrideOthers      bool
	HeightBlendDistance float32
}

var table = [Count]Info{
	Meadows: {
		Name:                "Meadows",
		HeightOffset:        0,
		DebugColor:          mgl32.Vec3{0.3, 0.8, 0.3},
		BiomeColor:          mgl32.Vec3{0.3, 0.8, 0.3},
		Roughness:           0.8,
		Metallic:            0,
		Tag:                 noise.BiomeMeadows,
		HeightBlendDistance: 20,
	},
	BlackForest: {
		Name:                "BlackForest",
		HeightOffset:        50,
		DebugColor:          mgl32.Vec3{0.1, 0.3, 0.1},
		BiomeColor:          mgl32.Vec3{0.1, 0.3, 0.1},
		Roughness:           0.9,
		Metallic:            0,
		Tag:                 noise.BiomeBlackForest,
		HeightBlendDistance: 20,
	},
	Swamp: {
		Name:                "Swamp",
		HeightOffset:        -25,
		DebugColor:          mgl32.Vec3{0.5, 0.4, 0.2},
		BiomeColor:          mgl32.Vec3{0.5, 0.4, 0.2},
		Roughness:           0.7,
		Metallic:            0.1,
		Tag:                 noise.BiomeSwamp,
		HeightBlendDistance: 20,
	},
	Mountains: {
		Name:                "Mountains",
		HeightOffset:        100,
		DebugColor:          mgl32.Vec3{0.8, 0.8, 0.9},
		BiomeColor:          mgl32.Vec3{0.7, 0.7, 0.8},
		Roughness:           0.9,
		Metallic:            0.2,
		Tag:                 noise.Mountains,
		HeightBased:         true,
		OverrideOthers:      true,
		HeightBlendDistance: 20,
	},
	Ocean: {
		Name:                "Ocean",
		HeightOffset:        -50,
		DebugColor:          mgl32.Vec3{0.2, 0.4, 0.8},
		BiomeColor:          mgl32.Vec3{0.2, 0.4, 0.8},
		Roughness:           0.1,
		Metallic:            0,
		HeightBased:         true,
		OverrideOthers:      true,
		HeightBlendDistance: 20,
	},
}

// Data returns the table entry for t. Out-of-range values fall back to Meadows.
func Data(t Type) Info {
	if t >= Count {
		return table[Meadows]
	}
	return table[t]
}

func (t Type) String() string {
	if t >= Count {
		return fmt.Sprintf("Biome(%d)", uint8(t))
	}
	return table[t].Name
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Parse accepts biome names case-insensitively, with or without spaces.
func Parse(name string) (Type, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
	for i := Type(0); i < Count; i++ {
		if strings.ToLower(table[i].Name) == n {
			return i, nil
		}
	}
	return Meadows, fmt.Errorf("unknown biome %q", name)
}

func All() []Type {
	out := make([]Type, 0, Count)
	for i := Type(0); i < Count; i++ {
		out = append(out, i)
	}
	return out
}

// Weights holds raw and normalized per-biome weights.
type Weights struct {
	Raw        [Count]float32 `json:"raw"`
	Normalized [Count]float32 `json:"normalized"`
	Dominant   Type           `json:"dominant"`
}

// Normalize fills Normalized from Raw. A non-positive sum splits equally.
// Dominant is left as the caller resolved it.
func (w *Weights) Normalize() {
	var sum float32
	for _, v := range w.Raw {
		sum += v
	}
	if sum <= 0 {
		for i := range w.Normalized {
			w.Normalized[i] = 1 / float32(Count)
		}
	} else {
		for i, v := range w.Raw {
			w.Normalized[i] = v / sum
		}
	}
}

// argmax returns the first biome holding the largest value.
func argmax(v [Count]float32) Type {
	best := Type(0)
	for i := Type(1); i < Count; i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Evaluation is the result of evaluating one world (x, y).
type Evaluation struct {
	Weights Weights `json:"weights"`

	HeightOffset float32    `json:"height_offset"`
	DebugColor   mgl32.Vec3 `json:"debug_color"`
	BiomeColor   mgl32.Vec3 `json:"biome_color"`
	Roughness    float32    `json:"roughness"`
	Metallic     float32    `json:"metallic"`

	// BaseHeight is the noise terrain before the biome offset.
	BaseHeight    float32 `json:"base_height"`
	TerrainHeight float32 `json:"terrain_height"`

	HeightOverride bool `json:"height_override"`

	// Hint is the chunk the caller evaluated from. It seeds chunk-local
	// randomness only; continuous fields ignore it.
	Hint chunk.Coord `json:"hint"`
}

func (e Evaluation) Dominant() Type { return e.Weights.Dominant }
