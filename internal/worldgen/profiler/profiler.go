// Package profiler keeps a bounded history of chunk generation samples and
// checks them against soft performance budgets.
package profiler

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
)

const (
	Capacity = 1000

	PhaseBiome     = "biome"
	PhasePlacement = "placement"
	PhaseMesh      = "mesh"
)

type Sample struct {
	Chunk       chunk.Coord `json:"chunk"`
	LOD         int         `json:"lod"`
	TotalMs     float64     `json:"total_ms"`
	BiomeMs     float64     `json:"biome_ms"`
	PlacementMs float64     `json:"placement_ms"`
	MeshMs      float64     `json:"mesh_ms"`
	MemoryBytes int64       `json:"memory_bytes"`
	Triangles   int         `json:"triangles"`
	Collision   bool        `json:"collision"`
	Fallback    bool        `json:"fallback,omitempty"`
	Time        time.Time   `json:"time"`
}

type Stats struct {
	Count         int     `json:"count"`
	AvgMs         float64 `json:"avg_ms"`
	P95Ms         float64 `json:"p95_ms"`
	TotalMemoryMB float64 `json:"total_memory_mb"`
	LOD0MemoryMB  float64 `json:"lod0_memory_mb"`
	AvgTriangles  float64 `json:"avg_triangles"`
	MaxTriangles  int     `json:"max_triangles"`
	Fallbacks     int     `json:"fallbacks"`
}

type Regression struct {
	Passed         bool     `json:"passed"`
	GenerationTime bool     `json:"generation_time"`
	Memory         bool     `json:"memory"`
	Triangles      bool     `json:"triangles"`
	Required       int      `json:"required"`
	Available      int      `json:"available"`
	Stats          Stats    `json:"stats"`
	FailureReasons []string `json:"failure_reasons,omitempty"`
}

// Profiler is safe for concurrent use.
type Profiler struct {
	targets config.PerformanceTargets
	logger  *log.Logger
	now     func() time.Time

	mu      sync.Mutex
	ring    []Sample
	next    int
	full    bool
	dropped uint64
}

func New(targets config.PerformanceTargets, logger *log.Logger) *Profiler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Profiler{
		targets: targets,
		logger:  logger,
		now:     time.Now,
		ring:    make([]Sample, Capacity),
	}
}

func (p *Profiler) Targets() config.PerformanceTargets { return p.targets }

// Record stores s, evicting the oldest sample once full, and warns about
// any budget it exceeds.
func (p *Profiler) Record(s Sample) {
	if s.Time.IsZero() {
		s.Time = p.now()
	}
	p.mu.Lock()
	if p.full {
		p.dropped++
	}
	p.ring[p.next] = s
	p.next = (p.next + 1) % len(p.ring)
	if p.next == 0 {
		p.full = true
	}
	p.mu.Unlock()

	if s.TotalMs > p.targets.P95GenMs {
		p.logger.Printf("perf: chunk=%s lod=%d gen_ms=%.2f exceeds p95 target=%.2f", s.Chunk, s.LOD, s.TotalMs, p.targets.P95GenMs)
	}
	if p.targets.MaxTriangles > 0 && s.Triangles > p.targets.MaxTriangles {
		p.logger.Printf("perf: chunk=%s triangles=%s exceeds target=%s", s.Chunk,
			humanize.Comma(int64(s.Triangles)), humanize.Comma(int64(p.targets.MaxTriangles)))
	}
	if s.LOD == 0 && float64(s.MemoryBytes) > p.targets.LOD0MemoryMB*1024*1024 {
		p.logger.Printf("perf: chunk=%s memory=%s exceeds lod0 budget=%s", s.Chunk,
			humanize.IBytes(uint64(s.MemoryBytes)), humanize.IBytes(uint64(p.targets.LOD0MemoryMB*1024*1024)))
	}
}

// Samples returns the stored samples oldest first.
func (p *Profiler) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samplesLocked()
}

func (p *Profiler) samplesLocked() []Sample {
	if !p.full {
		return append([]Sample(nil), p.ring[:p.next]...)
	}
	out := make([]Sample, 0, len(p.ring))
	out = append(out, p.ring[p.next:]...)
	return append(out, p.ring[:p.next]...)
}

func (p *Profiler) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return len(p.ring)
	}
	return p.next
}

func (p *Profiler) Reset() {
	p.mu.Lock()
	p.ring = make([]Sample, Capacity)
	p.next = 0
	p.full = false
	p.dropped = 0
	p.mu.Unlock()
}

func (p *Profiler) Stats() Stats {
	return summarize(p.Samples())
}

// Percentile interpolates linearly between the two closest ranks of an
// ascending slice. p is in [0,1].
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

const mb = 1024 * 1024

func summarize(samples []Sample) Stats {
	var st Stats
	st.Count = len(samples)
	if st.Count == 0 {
		return st
	}
	times := make([]float64, 0, len(samples))
	var sumMs float64
	var mem, lod0 int64
	var tris int
	for _, s := range samples {
		times = append(times, s.TotalMs)
		sumMs += s.TotalMs
		mem += s.MemoryBytes
		if s.LOD == 0 {
			lod0 += s.MemoryBytes
		}
		tris += s.Triangles
		if s.Triangles > st.MaxTriangles {
			st.MaxTriangles = s.Triangles
		}
		if s.Fallback {
			st.Fallbacks++
		}
	}
	sort.Float64s(times)
	st.AvgMs = sumMs / float64(st.Count)
	st.P95Ms = Percentile(times, 0.95)
	st.TotalMemoryMB = float64(mem) / mb
	st.LOD0MemoryMB = float64(lod0) / mb
	st.AvgTriangles = float64(tris) / float64(st.Count)
	return st
}

// RunRegression checks the most recent n samples against the targets.
func (p *Profiler) RunRegression(n int) Regression {
	all := p.Samples()
	r := Regression{Required: n, Available: len(all)}
	if n <= 0 || len(all) < n {
		r.FailureReasons = append(r.FailureReasons,
			fmt.Sprintf("Insufficient metrics data: %d available, %d required", len(all), n))
		return r
	}
	r.Stats = summarize(all[len(all)-n:])
	t := p.targets

	r.GenerationTime = r.Stats.AvgMs <= t.AvgGenMs && r.Stats.P95Ms <= t.P95GenMs
	r.Memory = r.Stats.LOD0MemoryMB <= t.LOD0MemoryMB
	r.Triangles = r.Stats.MaxTriangles <= t.MaxTriangles

	if !r.GenerationTime {
		r.FailureReasons = append(r.FailureReasons, fmt.Sprintf(
			"Generation time exceeded targets - Avg: %.2fms (target: %.2fms), P95: %.2fms (target: %.2fms)",
			r.Stats.AvgMs, t.AvgGenMs, r.Stats.P95Ms, t.P95GenMs))
	}
	if !r.Memory {
		r.FailureReasons = append(r.FailureReasons, fmt.Sprintf(
			"LOD0 memory usage exceeded target - Used: %.1f MB (target: %.1f MB)", r.Stats.LOD0MemoryMB, t.LOD0MemoryMB))
	}
	if !r.Triangles {
		r.FailureReasons = append(r.FailureReasons, fmt.Sprintf(
			"Triangle count exceeded target - Max: %d (target: %d)", r.Stats.MaxTriangles, t.MaxTriangles))
	}
	r.Passed = r.GenerationTime && r.Memory && r.Triangles
	for _, reason := range r.FailureReasons {
		p.logger.Printf("perf regression: %s", reason)
	}
	return r
}

// Report renders the current stats for humans.
func (p *Profiler) Report() string {
	st := p.Stats()
	t := p.targets
	var b strings.Builder
	fmt.Fprintf(&b, "samples:        %s\n", humanize.Comma(int64(st.Count)))
	fmt.Fprintf(&b, "avg gen:        %.2fms (target %.2fms)\n", st.AvgMs, t.AvgGenMs)
	fmt.Fprintf(&b, "p95 gen:        %.2fms (target %.2fms)\n", st.P95Ms, t.P95GenMs)
	fmt.Fprintf(&b, "memory total:   %s\n", humanize.IBytes(uint64(st.TotalMemoryMB*mb)))
	fmt.Fprintf(&b, "memory lod0:    %s (target %s)\n",
		humanize.IBytes(uint64(st.LOD0MemoryMB*mb)), humanize.IBytes(uint64(t.LOD0MemoryMB*mb)))
	fmt.Fprintf(&b, "triangles avg:  %s\n", humanize.CommafWithDigits(st.AvgTriangles, 1))
	fmt.Fprintf(&b, "triangles max:  %s (target %s)\n", humanize.Comma(int64(st.MaxTriangles)), humanize.Comma(int64(t.MaxTriangles)))
	fmt.Fprintf(&b, "fallbacks:      %d\n", st.Fallbacks)
	return b.String()
}
