package vegetation

import "vibeheim.ai/internal/worldgen/biome"

type TreeSpecies struct {
	Name        string   `json:"name"`
	Probability float32  `json:"probability"`
	SizeMin     float32  `json:"size_min"`
	SizeMax     float32  `json:"size_max"`
	Yields      []string `json:"yields"`
}

type FoliageType struct {
	Name        string  `json:"name"`
	Probability float32 `json:"probability"`
	Multiplier  float32 `json:"multiplier"`
}

type Resource struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	SpawnRate   float32 `json:"spawn_rate"`
	MinQuantity int     `json:"min_quantity"`
	MaxQuantity int     `json:"max_quantity"`
}

// Profile is the vegetation makeup of one biome.
type Profile struct {
	TreeDensity     float32       `json:"tree_density"`
	FoliageDensity  float32       `json:"foliage_density"`
	ResourceDensity float32       `json:"resource_density"`
	Trees           []TreeSpecies `json:"trees,omitempty"`
	Foliage         []FoliageType `json:"foliage,omitempty"`
	Resources       []Resource    `json:"resources,omitempty"`
}

var profiles = [biome.Count]Profile{
	biome.Meadows: {
		TreeDensity: 0.6, FoliageDensity: 0.8, ResourceDensity: 0.7,
		Trees: []TreeSpecies{
			{Name: "Oak", Probability: 0.7, SizeMin: 0.8, SizeMax: 1.2, Yields: []string{"Wood", "Oak Wood"}},
			{Name: "Birch", Probability: 0.3, SizeMin: 0.9, SizeMax: 1.1, Yields: []string{"Wood", "Birch Wood"}},
		},
		Foliage: []FoliageType{
			{Name: "Meadow Grass", Probability: 0.9, Multiplier: 1.2},
			{Name: "Wildflowers", Probability: 0.4, Multiplier: 0.8},
		},
		Resources: []Resource{
			{Name: "Berries", Kind: "Food", SpawnRate: 0.6, MinQuantity: 1, MaxQuantity: 3},
			{Name: "Herbs", Kind: "Crafting", SpawnRate: 0.5, MinQuantity: 1, MaxQuantity: 2},
		},
	},
	biome.BlackForest: {
		TreeDensity: 1.2, FoliageDensity: 0.9, ResourceDensity: 0.8,
		Trees: []TreeSpecies{
			{Name: "Pine", Probability: 0.6, SizeMin: 1.0, SizeMax: 1.4, Yields: []string{"Wood", "Pine Wood", "Resin"}},
			{Name: "Spruce", Probability: 0.4, SizeMin: 1.1, SizeMax: 1.3, Yields: []string{"Wood", "Spruce Wood"}},
		},
		Foliage: []FoliageType{
			{Name: "Forest Ferns", Probability: 0.8, Multiplier: 1.1},
			{Name: "Forest Mushrooms", Probability: 0.3, Multiplier: 0.6},
		},
		Resources: []Resource{
			{Name: "Mushrooms", Kind: "Food", SpawnRate: 0.4, MinQuantity: 1, MaxQuantity: 2},
			{Name: "Dark Wood", Kind: "Crafting", SpawnRate: 0.7, MinQuantity: 2, MaxQuantity: 4},
		},
	},
	biome.Swamp: {
		TreeDensity: 0.4, FoliageDensity: 1.0, ResourceDensity: 0.6,
		Trees: []TreeSpecies{
			{Name: "Willow", Probability: 0.8, SizeMin: 0.7, SizeMax: 1.0, Yields: []string{"Wood", "Willow Wood"}},
		},
		Foliage: []FoliageType{
			{Name: "Swamp Reeds", Probability: 0.9, Multiplier: 1.3},
			{Name: "Swamp Moss", Probability: 0.7, Multiplier: 1.0},
		},
		Resources: []Resource{
			{Name: "Swamp Herbs", Kind: "Alchemy", SpawnRate: 0.5, MinQuantity: 1, MaxQuantity: 2},
			{Name: "Peat", Kind: "Fuel", SpawnRate: 0.8, MinQuantity: 2, MaxQuantity: 5},
		},
	},
	biome.Mountains: {
		TreeDensity: 0.2, FoliageDensity: 0.3, ResourceDensity: 0.4,
		Trees: []TreeSpecies{
			{Name: "Alpine Fir", Probability: 0.5, SizeMin: 0.6, SizeMax: 0.9, Yields: []string{"Wood", "Alpine Wood"}},
		},
		Foliage: []FoliageType{
			{Name: "Alpine Grass", Probability: 0.6, Multiplier: 0.5},
			{Name: "Hardy Shrubs", Probability: 0.4, Multiplier: 0.4},
		},
		Resources: []Resource{
			{Name: "Stone", Kind: "Building", SpawnRate: 0.9, MinQuantity: 3, MaxQuantity: 6},
			{Name: "Rare Mountain Herbs", Kind: "Alchemy", SpawnRate: 0.2, MinQuantity: 1, MaxQuantity: 1},
		},
	},
	biome.Ocean: {
		TreeDensity: 0, FoliageDensity: 0.5, ResourceDensity: 0.3,
		Foliage: []FoliageType{
			{Name: "Kelp", Probability: 0.6, Multiplier: 0.8},
			{Name: "Seaweed", Probability: 0.4, Multiplier: 0.6},
		},
		Resources: []Resource{
			{Name: "Driftwood", Kind: "Wood", SpawnRate: 0.3, MinQuantity: 1, MaxQuantity: 2},
			{Name: "Shells", Kind: "Crafting", SpawnRate: 0.5, MinQuantity: 1, MaxQuantity: 3},
		},
	},
}

// ProfileFor returns the profile of t. Unknown biomes use Meadows.
func ProfileFor(t biome.Type) Profile {
	if t >= biome.Count {
		return profiles[biome.Meadows]
	}
	return profiles[t]
}
