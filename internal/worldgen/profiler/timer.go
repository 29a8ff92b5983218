package profiler

import (
	"time"

	"vibeheim.ai/internal/worldgen/chunk"
)

// Timer measures one chunk generation split into named phases. It is not
// safe for concurrent use; each job owns its own.
type Timer struct {
	now    func() time.Time
	chunk  chunk.Coord
	lod    int
	start  time.Time
	phase  string
	mark   time.Time
	phases map[string]time.Duration
}

func (p *Profiler) StartTimer(c chunk.Coord, lod int) *Timer {
	now := p.now
	t := now()
	return &Timer{now: now, chunk: c, lod: lod, start: t, mark: t, phases: map[string]time.Duration{}}
}

// Phase closes the running phase, if any, and starts name.
func (t *Timer) Phase(name string) {
	t.closePhase()
	t.phase = name
	t.mark = t.now()
}

func (t *Timer) closePhase() {
	if t.phase == "" {
		return
	}
	t.phases[t.phase] += t.now().Sub(t.mark)
	t.phase = ""
}

func (t *Timer) Elapsed(phase string) time.Duration { return t.phases[phase] }

// Stop closes the running phase and returns a sample with the timing
// fields filled in.
func (t *Timer) Stop() Sample {
	t.closePhase()
	end := t.now()
	return Sample{
		Chunk:       t.chunk,
		LOD:         t.lod,
		TotalMs:     ms(end.Sub(t.start)),
		BiomeMs:     ms(t.phases[PhaseBiome]),
		PlacementMs: ms(t.phases[PhasePlacement]),
		MeshMs:      ms(t.phases[PhaseMesh]),
		Time:        end,
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Dropped counts samples evicted from the ring since the last Reset.
func (p *Profiler) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
