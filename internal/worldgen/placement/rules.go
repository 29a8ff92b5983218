// Package placement places points of interest and dungeon portals inside
// chunks. Every decision is drawn from a PRNG seeded by the world seed, the
// chunk and the rule name, so a world always places the same things.
package placement

import (
	"errors"
	"fmt"

	"vibeheim.ai/internal/worldgen/biome"
)

const (
	MinRetryAttempts = 1
	MaxRetryAttempts = 10

	DefaultRetryAttempts            = 5
	DefaultPOIWaterlineClearance    = 5
	DefaultPortalWaterlineClearance = 10
)

var ErrInvalidRule = errors.New("invalid spawn rule")

// Rule constrains where one placement type may appear. Distances and
// altitudes are world units.
type Rule struct {
	Name                  string       `json:"name" yaml:"name"`
	MinSpacing            float32      `json:"min_spacing" yaml:"min_spacing"`
	MaxSlope              float32      `json:"max_slope" yaml:"max_slope"`
	MinAltitude           float32      `json:"min_altitude" yaml:"min_altitude"`
	MaxAltitude           float32      `json:"max_altitude" yaml:"max_altitude"`
	MinWaterlineClearance float32      `json:"min_waterline_clearance" yaml:"min_waterline_clearance"`
	SpawnProbability      float32      `json:"spawn_probability" yaml:"spawn_probability"`
	AllowedBiomes         []biome.Type `json:"allowed_biomes" yaml:"allowed_biomes"`
	FlattenRadius         float32      `json:"flatten_radius" yaml:"flatten_radius"`
	MaxRetryAttempts      int          `json:"max_retry_attempts" yaml:"max_retry_attempts"`
}

func (r Rule) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	case r.MaxRetryAttempts < MinRetryAttempts || r.MaxRetryAttempts > MaxRetryAttempts:
		return fmt.Errorf("%w: %s max_retry_attempts=%d out of range [%d, %d]",
			ErrInvalidRule, r.Name, r.MaxRetryAttempts, MinRetryAttempts, MaxRetryAttempts)
	case r.SpawnProbability < 0 || r.SpawnProbability > 1:
		return fmt.Errorf("%w: %s spawn_probability=%v out of range [0, 1]", ErrInvalidRule, r.Name, r.SpawnProbability)
	case r.MinSpacing < 0:
		return fmt.Errorf("%w: %s min_spacing=%v negative", ErrInvalidRule, r.Name, r.MinSpacing)
	case r.MinAltitude > r.MaxAltitude:
		return fmt.Errorf("%w: %s min_altitude=%v above max_altitude=%v", ErrInvalidRule, r.Name, r.MinAltitude, r.MaxAltitude)
	}
	return nil
}

func (r Rule) allows(t biome.Type) bool {
	for _, b := range r.AllowedBiomes {
		if b == t {
			return true
		}
	}
	return false
}

func (r Rule) clone() Rule {
	r.AllowedBiomes = append([]biome.Type(nil), r.AllowedBiomes...)
	return r
}

// PortalRule is a Rule for a dungeon entrance.
type PortalRule struct {
	Rule              `yaml:",inline"`
	Target            string  `json:"target" yaml:"target"`
	InteractionRadius float32 `json:"interaction_radius" yaml:"interaction_radius"`
}

// asPOI is the shadow rule registered in the POI table so spacing and
// validation see portal types. It never spawns on its own.
func (p PortalRule) asPOI() Rule {
	r := p.Rule.clone()
	r.SpawnProbability = 0
	return r
}

func DefaultRules() []Rule {
	return []Rule{
		{
			Name:                  "MeadowsRuin",
			MinSpacing:            200,
			MaxSlope:              15,
			MinAltitude:           0,
			MaxAltitude:           100,
			MinWaterlineClearance: DefaultPOIWaterlineClearance,
			SpawnProbability:      0.15,
			AllowedBiomes:         []biome.Type{biome.Meadows},
			FlattenRadius:         8,
			MaxRetryAttempts:      DefaultRetryAttempts,
		},
		{
			Name:                  "BlackForestTower",
			MinSpacing:            300,
			MaxSlope:              25,
			MinAltitude:           20,
			MaxAltitude:           200,
			MinWaterlineClearance: DefaultPOIWaterlineClearance,
			SpawnProbability:      0.08,
			AllowedBiomes:         []biome.Type{biome.BlackForest},
			FlattenRadius:         12,
			MaxRetryAttempts:      DefaultRetryAttempts,
		},
		{
			Name:                  "SwampHut",
			MinSpacing:            150,
			MaxSlope:              10,
			MinAltitude:           -10,
			MaxAltitude:           20,
			MinWaterlineClearance: 2,
			SpawnProbability:      0.12,
			AllowedBiomes:         []biome.Type{biome.Swamp},
			FlattenRadius:         6,
			MaxRetryAttempts:      DefaultRetryAttempts,
		},
	}
}

func DefaultPortalRules() []PortalRule {
	return []PortalRule{
		{
			Rule: Rule{
				Name:                  "MeadowsDungeonPortal",
				MinSpacing:            800,
				MaxSlope:              10,
				MinAltitude:           20,
				MaxAltitude:           150,
				MinWaterlineClearance: DefaultPortalWaterlineClearance,
				SpawnProbability:      0.03,
				AllowedBiomes:         []biome.Type{biome.Meadows},
				FlattenRadius:         20,
				MaxRetryAttempts:      DefaultRetryAttempts,
			},
			Target:            "MeadowsDungeon",
			InteractionRadius: 4,
		},
		{
			Rule: Rule{
				Name:                  "BlackForestDungeonPortal",
				MinSpacing:            1000,
				MaxSlope:              15,
				MinAltitude:           30,
				MaxAltitude:           250,
				MinWaterlineClearance: DefaultPortalWaterlineClearance,
				SpawnProbability:      0.02,
				AllowedBiomes:         []biome.Type{biome.BlackForest},
				FlattenRadius:         25,
				MaxRetryAttempts:      DefaultRetryAttempts,
			},
			Target:            "BlackForestDungeon",
			InteractionRadius: 5,
		},
	}
}
