// Package streaming decides which chunks exist at which LOD around a moving
// viewer and runs their generation on a bounded worker pool.
package streaming

import (
	"context"
	"errors"
	"io"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/profiler"
)

const rollingWindow = 100

var ErrStopped = errors.New("scheduler stopped")

type job struct {
	req Request
}

type completion struct {
	req      Request
	res      Result
	err      error
	cause    error
	fallback bool
}

type Scheduler struct {
	cfg    Config
	gen    Generator
	prof   *profiler.Profiler
	logger *log.Logger
	now    func() time.Time

	mu         sync.Mutex
	chunks     map[chunk.Coord]*Chunk
	queue      []chunk.Coord
	generating int
	viewer     mgl32.Vec3
	started    bool
	closed     bool
	hooks      []func(Event)

	jobs    chan job
	results chan completion

	statsMu   sync.Mutex
	genTimes  []float64
	genNext   int
	total     uint64
	failed    uint64
	fallbacks uint64
	discarded uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, gen Generator, prof *profiler.Profiler, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	return &Scheduler{
		cfg:     cfg,
		gen:     gen,
		prof:    prof,
		logger:  logger,
		now:     time.Now,
		chunks:  map[chunk.Coord]*Chunk{},
		jobs:    make(chan job, cfg.MaxConcurrent),
		results: make(chan completion, cfg.MaxConcurrent),
	}
}

func (s *Scheduler) Config() Config { return s.cfg }

// OnEvent registers a hook. Hooks run on the goroutine that applied the
// completion, outside the scheduler locks.
func (s *Scheduler) OnEvent(fn func(Event)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Start launches MaxConcurrent workers. Calling it twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.wg.Add(1)
		go s.worker(wctx)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			res, err := s.gen.Generate(ctx, j.req)
			c := completion{req: j.req, res: res, err: err}
			if err != nil {
				c.cause = err
				c.fallback = true
				c.res, c.err = s.gen.Fallback(ctx, j.req, err)
			}
			// results has room for every dispatched job.
			s.results <- c
		}
	}
}

// Close stops the workers and waits for them. In-flight jobs finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) WorldToChunk(pos mgl32.Vec3) chunk.Coord {
	return chunk.FromWorld(pos, s.cfg.ChunkWorldSize)
}

type deferred struct {
	events  []Event
	unloads []chunk.Coord
}

func (s *Scheduler) flush(d deferred) {
	s.mu.Lock()
	for _, c := range d.unloads {
		// A later Update may already be regenerating or holding c again.
		if ch := s.chunks[c]; ch != nil && (ch.Generating || ch.Current != LODNone) {
			s.logger.Printf("streaming: skip stale unload chunk=%s", c)
			continue
		}
		s.gen.Unload(c)
	}
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()
	for _, ev := range d.events {
		for _, h := range hooks {
			h(ev)
		}
	}
}

// Update runs one tick for a viewer position: apply finished jobs, retarget
// chunks in range, dispatch work and unload what fell out of range.
func (s *Scheduler) Update(viewer mgl32.Vec3) {
	var d deferred
	s.mu.Lock()
	s.viewer = viewer
	s.drainLocked(&d)
	s.retargetLocked(viewer, &d)
	s.dispatchLocked()
	s.mu.Unlock()
	s.flush(d)
}

func (s *Scheduler) drainLocked(d *deferred) {
	for {
		select {
		case c := <-s.results:
			s.applyLocked(c, d)
		default:
			return
		}
	}
}

func (s *Scheduler) retargetLocked(viewer mgl32.Vec3, d *deferred) {
	vc := s.WorldToChunk(viewer)
	r := int32(s.cfg.MaxRadius())
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				c := chunk.Coord{X: vc.X + dx, Y: vc.Y + dy, Z: vc.Z + dz}
				if _, ok := s.chunks[c]; ok {
					continue
				}
				if s.cfg.TargetLOD(c.Distance(vc)) == LODNone {
					continue
				}
				s.chunks[c] = &Chunk{Coord: c, Current: LODNone, Target: LODNone, State: Unloaded}
			}
		}
	}

	limit := float32(s.cfg.MaxRadius() + s.cfg.UnloadMargin)
	s.queue = s.queue[:0]
	for _, c := range sortedCoords(s.chunks) {
		ch := s.chunks[c]
		dist := c.Distance(vc)
		if ch.Pinned {
			if s.needsWork(ch) {
				ch.State = Queued
				s.queue = append(s.queue, c)
			}
			continue
		}
		if dist > limit {
			s.unloadLocked(ch, d)
			continue
		}
		t := s.cfg.TargetLOD(dist)
		if t == LODNone {
			// Inside the hysteresis band: keep what is there, start nothing.
			if ch.Current == LODNone && !ch.Generating {
				delete(s.chunks, c)
				continue
			}
			t = ch.Current
		}
		ch.Target = t
		ch.Priority = Priority(dist)
		if s.needsWork(ch) {
			ch.State = Queued
			s.queue = append(s.queue, c)
		} else if !ch.Generating {
			ch.State = stateFor(ch.Current)
		}
	}
	sort.SliceStable(s.queue, func(i, j int) bool {
		a, b := s.chunks[s.queue[i]], s.chunks[s.queue[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return chunk.Less(a.Coord, b.Coord)
	})
}

func (s *Scheduler) needsWork(ch *Chunk) bool {
	return !ch.Generating && !ch.Evicted && ch.Target != LODNone && ch.Current != ch.Target
}

func stateFor(current LOD) State {
	if current == LODNone {
		return Unloaded
	}
	return Loaded
}

func (s *Scheduler) unloadLocked(ch *Chunk, d *deferred) {
	if ch.Generating {
		ch.Evicted = true
		return
	}
	delete(s.chunks, ch.Coord)
	if ch.Current != LODNone {
		d.unloads = append(d.unloads, ch.Coord)
		d.events = append(d.events, Event{Kind: EventUnloaded, Coord: ch.Coord, LOD: ch.Current, Time: s.now()})
	}
}

func (s *Scheduler) dispatchLocked() {
	if !s.started || s.closed {
		return
	}
	i := 0
	for ; i < len(s.queue) && s.generating < s.cfg.MaxConcurrent; i++ {
		ch := s.chunks[s.queue[i]]
		if ch == nil || !s.needsWork(ch) {
			continue
		}
		ch.Generating = true
		ch.State = Generating
		ch.GenStart = s.now()
		s.generating++
		s.jobs <- job{req: Request{
			Coord:     ch.Coord,
			LOD:       ch.Target,
			Previous:  ch.Current,
			Collision: s.cfg.Collision(ch.Target),
		}}
	}
	s.queue = s.queue[i:]
}

func (s *Scheduler) applyLocked(c completion, d *deferred) {
	s.generating--
	ch := s.chunks[c.req.Coord]
	if ch == nil {
		return
	}
	ch.Generating = false

	if ch.Evicted {
		delete(s.chunks, ch.Coord)
		s.statsMu.Lock()
		s.discarded++
		s.statsMu.Unlock()
		d.unloads = append(d.unloads, ch.Coord)
		d.events = append(d.events, Event{Kind: EventUnloaded, Coord: ch.Coord, LOD: c.req.LOD, Discarded: true, Time: s.now()})
		s.logger.Printf("streaming: discarded chunk=%s lod=%s", ch.Coord, c.req.LOD)
		return
	}

	if c.err != nil {
		ch.State = stateFor(ch.Current)
		s.statsMu.Lock()
		s.failed++
		s.statsMu.Unlock()
		d.events = append(d.events, Event{Kind: EventFailed, Coord: ch.Coord, LOD: c.req.LOD, Err: c.err, Time: s.now()})
		s.logger.Printf("streaming: chunk=%s lod=%s failed: %v (cause: %v)", ch.Coord, c.req.LOD, c.err, c.cause)
		return
	}

	ch.Current = c.req.LOD
	ch.Collision = s.cfg.Collision(c.req.LOD)
	ch.State = Loaded

	sample := c.res.Sample
	sample.Chunk = ch.Coord
	sample.LOD = int(c.req.LOD)
	sample.Collision = ch.Collision
	sample.Fallback = c.fallback
	if sample.TotalMs == 0 && !ch.GenStart.IsZero() {
		sample.TotalMs = float64(s.now().Sub(ch.GenStart)) / float64(time.Millisecond)
	}
	c.res.Sample = sample
	if s.prof != nil {
		s.prof.Record(sample)
	}
	s.recordTime(sample.TotalMs, c.fallback)

	kind := EventLoaded
	if c.fallback {
		kind = EventFallback
		s.logger.Printf("streaming: chunk=%s lod=%s used fallback: %v", ch.Coord, c.req.LOD, c.cause)
	}
	d.events = append(d.events, Event{Kind: kind, Coord: ch.Coord, LOD: c.req.LOD, Result: c.res, Err: c.cause, Time: s.now()})
}

func (s *Scheduler) recordTime(ms float64, fallback bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.total++
	if fallback {
		s.fallbacks++
	}
	if len(s.genTimes) < rollingWindow {
		s.genTimes = append(s.genTimes, ms)
		return
	}
	s.genTimes[s.genNext] = ms
	s.genNext = (s.genNext + 1) % rollingWindow
}

// ForceLoad pins c at lod with top priority until ForceUnload.
func (s *Scheduler) ForceLoad(c chunk.Coord, lod LOD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.chunks[c]
	if ch == nil {
		ch = &Chunk{Coord: c, Current: LODNone, State: Unloaded}
		s.chunks[c] = ch
	}
	ch.Target = lod
	ch.Priority = 0
	ch.Pinned = true
	ch.Evicted = false
	if s.needsWork(ch) {
		ch.State = Queued
		s.queue = append([]chunk.Coord{c}, s.queue...)
	}
}

// ForceUnload drops c immediately, or marks it evicted if it is generating.
func (s *Scheduler) ForceUnload(c chunk.Coord) bool {
	var d deferred
	s.mu.Lock()
	ch := s.chunks[c]
	if ch == nil {
		s.mu.Unlock()
		return false
	}
	ch.Pinned = false
	s.unloadLocked(ch, &d)
	s.mu.Unlock()
	s.flush(d)
	return true
}

// Settle ticks at viewer until nothing is queued or generating.
func (s *Scheduler) Settle(ctx context.Context, viewer mgl32.Vec3) error {
	for {
		s.Update(viewer)
		st := s.Stats()
		if st.Generating == 0 {
			if st.Queued == 0 {
				return nil
			}
			return ErrStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.results:
			var d deferred
			s.mu.Lock()
			s.applyLocked(c, &d)
			s.mu.Unlock()
			s.flush(d)
		}
	}
}

// Run drives Update from a ticker, following the latest viewer position.
func (s *Scheduler) Run(ctx context.Context, viewer <-chan mgl32.Vec3) error {
	s.Start(ctx)
	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()

	var statsC <-chan time.Time
	if s.cfg.StatsLogInterval > 0 {
		st := time.NewTicker(s.cfg.StatsLogInterval)
		defer st.Stop()
		statsC = st.C
	}

	s.mu.Lock()
	pos := s.viewer
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-viewer:
			if ok {
				pos = p
			} else {
				viewer = nil
			}
		case <-tick.C:
			s.Update(pos)
		case <-statsC:
			st := s.Stats()
			s.logger.Printf("streaming: loaded=%d generating=%d queued=%d avg_ms=%.2f p95_ms=%.2f total=%d failed=%d fallbacks=%d discarded=%d",
				st.Loaded, st.Generating, st.Queued, st.AvgGenMs, st.P95GenMs, st.Total, st.Failed, st.Fallbacks, st.Discarded)
		}
	}
}

func (s *Scheduler) Viewer() mgl32.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

func (s *Scheduler) Stats() Stats {
	var st Stats
	s.mu.Lock()
	for _, ch := range s.chunks {
		if ch.Current != LODNone && !ch.Evicted {
			st.Loaded++
		}
	}
	st.Generating = s.generating
	st.Queued = len(s.queue)
	s.mu.Unlock()

	s.statsMu.Lock()
	times := append([]float64(nil), s.genTimes...)
	st.Total = s.total
	st.Failed = s.failed
	st.Fallbacks = s.fallbacks
	st.Discarded = s.discarded
	s.statsMu.Unlock()

	if len(times) > 0 {
		var sum float64
		for _, v := range times {
			sum += v
		}
		st.AvgGenMs = sum / float64(len(times))
		sort.Float64s(times)
		st.P95GenMs = profiler.Percentile(times, 0.95)
	}
	return st
}

func (s *Scheduler) Chunk(c chunk.Coord) (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chunks[c]
	if !ok {
		return Chunk{}, false
	}
	return *ch, true
}

// Chunks returns copies of every tracked chunk in coordinate order.
func (s *Scheduler) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, 0, len(s.chunks))
	for _, c := range sortedCoords(s.chunks) {
		out = append(out, *s.chunks[c])
	}
	return out
}

func sortedCoords(m map[chunk.Coord]*Chunk) []chunk.Coord {
	keys := make([]chunk.Coord, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return chunk.Less(keys[i], keys[j]) })
	return keys
}

// Export lists loaded chunks and their LOD for a snapshot.
func (s *Scheduler) Export() []snapshot.StreamingV1 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []snapshot.StreamingV1
	for _, c := range sortedCoords(s.chunks) {
		ch := s.chunks[c]
		if ch.Current == LODNone || ch.Evicted {
			continue
		}
		out = append(out, snapshot.StreamingV1{Chunk: [3]int32{c.X, c.Y, c.Z}, LOD: int(ch.Current)})
	}
	return out
}

// Restore marks chunks as already loaded, as after a snapshot import.
func (s *Scheduler) Restore(list []snapshot.StreamingV1) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range list {
		c := chunk.Coord{X: v.Chunk[0], Y: v.Chunk[1], Z: v.Chunk[2]}
		lod := LOD(v.LOD)
		s.chunks[c] = &Chunk{
			Coord:     c,
			Current:   lod,
			Target:    lod,
			Collision: s.cfg.Collision(lod),
			State:     Loaded,
		}
	}
}
