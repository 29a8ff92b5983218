package profiler

import (
	"math"
	"strings"
	"testing"
	"time"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
)

func targets() config.PerformanceTargets { return config.Defaults().Performance }

func TestPercentileInterpolates(t *testing.T) {
	v := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := Percentile(v, 0.5); got != 5.5 {
		t.Fatalf("p50=%v want=5.5", got)
	}
	if got := Percentile(v, 0.95); math.Abs(got-9.55) > 1e-9 {
		t.Fatalf("p95=%v want=9.55", got)
	}
	if Percentile(nil, 0.95) != 0 || Percentile([]float64{7}, 0.95) != 7 {
		t.Fatalf("edge cases wrong")
	}
}

func TestRingEvictsOldest(t *testing.T) {
	p := New(targets(), nil)
	for i := 0; i < Capacity+5; i++ {
		p.Record(Sample{TotalMs: float64(i)})
	}
	s := p.Samples()
	if len(s) != Capacity {
		t.Fatalf("len=%d want=%d", len(s), Capacity)
	}
	if s[0].TotalMs != 5 || s[len(s)-1].TotalMs != float64(Capacity+4) {
		t.Fatalf("first=%v last=%v", s[0].TotalMs, s[len(s)-1].TotalMs)
	}
	if p.Dropped() != 5 {
		t.Fatalf("dropped=%d want=5", p.Dropped())
	}
	p.Reset()
	if p.Len() != 0 {
		t.Fatalf("len after reset=%d", p.Len())
	}
}

func TestStats(t *testing.T) {
	p := New(targets(), nil)
	p.Record(Sample{LOD: 0, TotalMs: 2, MemoryBytes: 1 << 20, Triangles: 100})
	p.Record(Sample{LOD: 1, TotalMs: 4, MemoryBytes: 1 << 20, Triangles: 300, Fallback: true})
	st := p.Stats()
	if st.Count != 2 || st.AvgMs != 3 || st.MaxTriangles != 300 || st.AvgTriangles != 200 {
		t.Fatalf("stats=%+v", st)
	}
	if st.TotalMemoryMB != 2 || st.LOD0MemoryMB != 1 || st.Fallbacks != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRegressionInsufficient(t *testing.T) {
	p := New(targets(), nil)
	p.Record(Sample{TotalMs: 1})
	r := p.RunRegression(10)
	if r.Passed || len(r.FailureReasons) != 1 {
		t.Fatalf("r=%+v", r)
	}
	if r.FailureReasons[0] != "Insufficient metrics data: 1 available, 10 required" {
		t.Fatalf("reason=%q", r.FailureReasons[0])
	}
}

func TestRegressionPassAndFail(t *testing.T) {
	p := New(targets(), nil)
	for i := 0; i < 20; i++ {
		p.Record(Sample{LOD: 1, TotalMs: 1, Triangles: 450, MemoryBytes: 10_000})
	}
	if r := p.RunRegression(20); !r.Passed || len(r.FailureReasons) != 0 {
		t.Fatalf("r=%+v", r)
	}

	for i := 0; i < 10; i++ {
		p.Record(Sample{LOD: 0, TotalMs: 20, Triangles: 9000, MemoryBytes: 10 << 20})
	}
	r := p.RunRegression(10)
	if r.Passed || r.GenerationTime || r.Memory || r.Triangles {
		t.Fatalf("r=%+v", r)
	}
	want := []string{
		"Generation time exceeded targets - Avg: 20.00ms (target: 5.00ms), P95: 20.00ms (target: 9.00ms)",
		"LOD0 memory usage exceeded target - Used: 100.0 MB (target: 64.0 MB)",
		"Triangle count exceeded target - Max: 9000 (target: 8000)",
	}
	if len(r.FailureReasons) != len(want) {
		t.Fatalf("reasons=%q", r.FailureReasons)
	}
	for i := range want {
		if r.FailureReasons[i] != want[i] {
			t.Fatalf("reason[%d]=%q want=%q", i, r.FailureReasons[i], want[i])
		}
	}
}

func TestTimerPhases(t *testing.T) {
	p := New(targets(), nil)
	clock := time.Unix(100, 0)
	p.now = func() time.Time { return clock }
	advance := func(d time.Duration) { clock = clock.Add(d) }

	tm := p.StartTimer(chunk.Coord{X: 1}, 2)
	tm.Phase(PhaseBiome)
	advance(3 * time.Millisecond)
	tm.Phase(PhasePlacement)
	advance(time.Millisecond)
	tm.Phase(PhaseMesh)
	advance(2 * time.Millisecond)
	s := tm.Stop()

	if s.BiomeMs != 3 || s.PlacementMs != 1 || s.MeshMs != 2 || s.TotalMs != 6 {
		t.Fatalf("sample=%+v", s)
	}
	if s.LOD != 2 || s.Chunk.X != 1 {
		t.Fatalf("sample=%+v", s)
	}
}

func TestReport(t *testing.T) {
	p := New(targets(), nil)
	p.Record(Sample{TotalMs: 1, Triangles: 1922, MemoryBytes: 27160})
	out := p.Report()
	for _, want := range []string{"samples:", "1,922", "target 5.00ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}
