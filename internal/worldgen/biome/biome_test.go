package biome

import (
	"math"
	"testing"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
)

func TestEvaluateDeterministic(t *testing.T) {
	a := NewEvaluator(config.Defaults())
	b := NewEvaluator(config.Defaults())
	for _, p := range [][2]float32{{0, 0}, {1, 0}, {-2500, 731}, {99999, -4321}} {
		ea := a.Evaluate(p[0], p[1], chunk.Coord{})
		eb := b.Evaluate(p[0], p[1], chunk.Coord{})
		if ea != eb {
			t.Fatalf("evaluate(%v) differs:\n%+v\n%+v", p, ea, eb)
		}
	}
}

func TestEvaluateNormalized(t *testing.T) {
	e := NewEvaluator(config.Defaults())
	for i := 0; i < 200; i++ {
		x := float32(i)*317 - 20000
		y := float32(i)*-113 + 5000
		ev := e.Evaluate(x, y, chunk.Coord{})
		var sum float32
		for _, w := range ev.Weights.Normalized {
			if w < 0 || w > 1 {
				t.Fatalf("weight out of range at (%v,%v): %v", x, y, ev.Weights.Normalized)
			}
			sum += w
		}
		if sum < 0.999 || sum > 1.001 {
			t.Fatalf("sum=%v at (%v,%v)", sum, x, y)
		}
		if ev.Dominant() >= Count {
			t.Fatalf("dominant=%v", ev.Dominant())
		}
	}
}

func TestSeamContinuityAcrossChunkHints(t *testing.T) {
	e := NewEvaluator(config.Defaults())
	a := e.Evaluate(1600, 0, chunk.Coord{})
	b := e.Evaluate(1600, 0, chunk.Coord{X: 1})
	if math.Float32bits(a.TerrainHeight) != math.Float32bits(b.TerrainHeight) {
		t.Fatalf("terrain height differs across hints: %v vs %v", a.TerrainHeight, b.TerrainHeight)
	}
	if a.Weights != b.Weights {
		t.Fatalf("weights differ across hints")
	}
	if b.Hint != (chunk.Coord{X: 1}) {
		t.Fatalf("hint not carried: %v", b.Hint)
	}
}

func TestNormalizeEqualSplit(t *testing.T) {
	var w Weights
	w.Normalize()
	for i, v := range w.Normalized {
		if v != 1/float32(Count) {
			t.Fatalf("normalized[%d]=%v want=%v", i, v, 1/float32(Count))
		}
	}
	if got := argmax(w.Normalized); got != Meadows {
		t.Fatalf("tie dominant=%v want=Meadows", got)
	}
}

func TestArgmaxFirstWins(t *testing.T) {
	if got := argmax([Count]float32{0.2, 0.4, 0.4, 0, 0}); got != BlackForest {
		t.Fatalf("dominant=%v want=BlackForest", got)
	}
}

func TestNormalizeKeepsDominant(t *testing.T) {
	w := Weights{Raw: [Count]float32{0.1, 0.9, 0, 0, 0}, Dominant: Swamp}
	w.Normalize()
	if w.Dominant != Swamp {
		t.Fatalf("dominant=%v want=Swamp", w.Dominant)
	}
}

func TestDominantComesFromUnblendedNoise(t *testing.T) {
	e := NewEvaluator(config.Defaults())
	checked := 0
	for i := 0; i < 400; i++ {
		x, y := float32(i*97%5000), float32(i*61%5000)
		ev := e.Evaluate(x, y, chunk.Coord{})
		if ev.HeightOverride {
			continue
		}
		var raw [Count]float32
		for bt := Type(0); bt < Count; bt++ {
			raw[bt] = e.biomeNoise(bt, x, y)
		}
		if want := argmax(raw); ev.Weights.Dominant != want {
			t.Fatalf("(%v,%v) dominant=%v want=%v", x, y, ev.Weights.Dominant, want)
		}
		checked++
	}
	if checked == 0 {
		t.Fatalf("every sample hit a height override")
	}
}

func TestHeightOverride(t *testing.T) {
	s := config.Defaults()
	e := NewEvaluator(s)

	hb, ok := e.heightOverride(s.MountainHeightThreshold + 10)
	if !ok || hb.t != Mountains || hb.weight != 0.5 {
		t.Fatalf("mountain override=%+v ok=%v", hb, ok)
	}
	hb, ok = e.heightOverride(s.WaterHeightThreshold - 40)
	if !ok || hb.t != Ocean || hb.weight != 1 {
		t.Fatalf("ocean override=%+v ok=%v", hb, ok)
	}
	if _, ok := e.heightOverride(50); ok {
		t.Fatalf("unexpected override at 50")
	}
}

func TestOverrideDominatesEvaluation(t *testing.T) {
	// Lower the mountain threshold below the terrain floor so every point
	// is a mountain.
	s := config.Defaults()
	s.MountainHeightThreshold = -1000
	e := NewEvaluator(s)
	ev := e.Evaluate(123, 456, chunk.Coord{})
	if !ev.HeightOverride || ev.Dominant() != Mountains {
		t.Fatalf("override=%v dominant=%v", ev.HeightOverride, ev.Dominant())
	}
	if ev.Weights.Normalized[Mountains] != 1 {
		t.Fatalf("mountains weight=%v want=1", ev.Weights.Normalized[Mountains])
	}
	if ev.HeightOffset != Data(Mountains).HeightOffset {
		t.Fatalf("offset=%v want=%v", ev.HeightOffset, Data(Mountains).HeightOffset)
	}
}

func TestParseAndString(t *testing.T) {
	for _, b := range All() {
		got, err := Parse(b.String())
		if err != nil || got != b {
			t.Fatalf("parse(%s)=%v,%v", b, got, err)
		}
	}
	if got, err := Parse("black forest"); err != nil || got != BlackForest {
		t.Fatalf("parse spaced=%v,%v", got, err)
	}
	if _, err := Parse("tundra"); err == nil {
		t.Fatalf("expected unknown biome error")
	}
	if Data(Type(42)).Name != "Meadows" {
		t.Fatalf("out of range data should fall back to meadows")
	}
}
