package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/profiler"
)

type fakeGen struct {
	mu          sync.Mutex
	order       []Request
	unloaded    []chunk.Coord
	fail        func(Request) error
	fallbackErr error
	block       chan struct{}
}

func (g *fakeGen) Generate(ctx context.Context, req Request) (Result, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	g.order = append(g.order, req)
	fail := g.fail
	g.mu.Unlock()
	if fail != nil {
		if err := fail(req); err != nil {
			return Result{}, err
		}
	}
	return Result{Sample: profiler.Sample{TotalMs: 1, Triangles: 10}}, nil
}

func (g *fakeGen) Fallback(ctx context.Context, req Request, cause error) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fallbackErr != nil {
		return Result{}, g.fallbackErr
	}
	return Result{Sample: profiler.Sample{TotalMs: 2}}, nil
}

func (g *fakeGen) Unload(c chunk.Coord) {
	g.mu.Lock()
	g.unloaded = append(g.unloaded, c)
	g.mu.Unlock()
}

func (g *fakeGen) unloadedSet() map[chunk.Coord]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[chunk.Coord]bool{}
	for _, c := range g.unloaded {
		out[c] = true
	}
	return out
}

func testConfig(r0, r1, r2, margin, workers int) Config {
	return Config{
		LOD0Radius:        r0,
		LOD1Radius:        r1,
		LOD2Radius:        r2,
		CollisionUpToLOD1: true,
		MaxConcurrent:     workers,
		UnloadMargin:      margin,
		TickInterval:      time.Millisecond,
		ChunkWorldSize:    1600,
	}
}

func newScheduler(t *testing.T, cfg Config, g *fakeGen) *Scheduler {
	t.Helper()
	s := New(cfg, g, profiler.New(config.Defaults().Performance, nil), nil)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s
}

func settle(t *testing.T, s *Scheduler, viewer mgl32.Vec3) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Settle(ctx, viewer); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func center(c chunk.Coord) mgl32.Vec3 {
	o := c.Origin(1600)
	return mgl32.Vec3{o.X() + 800, o.Y() + 800, o.Z() + 800}
}

func TestTargetLOD(t *testing.T) {
	cfg := ConfigFrom(config.Defaults())
	cases := []struct {
		d    float32
		want LOD
	}{
		{0, LOD0}, {2, LOD0}, {2.5, LOD1}, {3.0, LOD1}, {4, LOD1}, {5.9, LOD2}, {6, LOD2}, {7.0, LODNone},
	}
	for _, tc := range cases {
		if got := cfg.TargetLOD(tc.d); got != tc.want {
			t.Fatalf("TargetLOD(%v)=%v want=%v", tc.d, got, tc.want)
		}
	}
	// Monotonic: farther never means more detail.
	prev := LOD0
	for d := float32(0); d < 10; d += 0.05 {
		got := cfg.TargetLOD(d)
		if got == LODNone {
			prev = 99
			continue
		}
		if prev == 99 || got < prev {
			t.Fatalf("non-monotonic at d=%v: %v after %v", d, got, prev)
		}
		prev = got
	}
}

func TestCollisionRule(t *testing.T) {
	cfg := testConfig(1, 2, 3, 0, 1)
	if !cfg.Collision(LOD0) || !cfg.Collision(LOD1) || cfg.Collision(LOD2) || cfg.Collision(LODNone) {
		t.Fatalf("collision up to lod1 wrong")
	}
	cfg.CollisionUpToLOD1 = false
	if !cfg.Collision(LOD0) || cfg.Collision(LOD1) {
		t.Fatalf("collision lod0 only wrong")
	}
}

func TestSettleLoadsEveryChunkInRange(t *testing.T) {
	g := &fakeGen{}
	cfg := testConfig(1, 2, 3, 1, 3)
	s := newScheduler(t, cfg, g)
	settle(t, s, center(chunk.Coord{}))

	want := 0
	for z := int32(-3); z <= 3; z++ {
		for y := int32(-3); y <= 3; y++ {
			for x := int32(-3); x <= 3; x++ {
				c := chunk.Coord{X: x, Y: y, Z: z}
				lod := cfg.TargetLOD(c.Distance(chunk.Coord{}))
				if lod == LODNone {
					continue
				}
				want++
				ch, ok := s.Chunk(c)
				if !ok || ch.Current != lod || ch.State != Loaded {
					t.Fatalf("chunk %v=%+v want lod=%v", c, ch, lod)
				}
				if ch.Collision != cfg.Collision(lod) {
					t.Fatalf("chunk %v collision=%v", c, ch.Collision)
				}
			}
		}
	}
	st := s.Stats()
	if st.Loaded != want || st.Queued != 0 || st.Generating != 0 {
		t.Fatalf("stats=%+v want loaded=%d", st, want)
	}
	if st.Total != uint64(want) || st.AvgGenMs != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestDispatchOrderFollowsPriority(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(1, 1, 2, 0, 1), g)
	settle(t, s, center(chunk.Coord{}))

	g.mu.Lock()
	defer g.mu.Unlock()
	prev := -1
	for _, req := range g.order {
		p := Priority(req.Coord.Distance(chunk.Coord{}))
		if p < prev {
			t.Fatalf("priority %d dispatched after %d", p, prev)
		}
		prev = p
	}
}

func TestMovingAwayUnloads(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(1, 1, 1, 0, 2), g)
	settle(t, s, center(chunk.Coord{}))

	var events []Event
	var mu sync.Mutex
	s.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	far := chunk.Coord{X: 50}
	settle(t, s, center(far))
	if _, ok := s.Chunk(chunk.Coord{}); ok {
		t.Fatalf("origin chunk still tracked")
	}
	if !g.unloadedSet()[chunk.Coord{}] {
		t.Fatalf("generator not told to unload origin")
	}
	mu.Lock()
	defer mu.Unlock()
	unloads := 0
	for _, ev := range events {
		if ev.Kind == EventUnloaded {
			unloads++
		}
	}
	if unloads != 7 {
		t.Fatalf("unloaded events=%d want=7", unloads)
	}
}

func TestHysteresisMargin(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(1, 1, 1, 2, 2), g)
	settle(t, s, center(chunk.Coord{}))

	settle(t, s, center(chunk.Coord{X: 2}))
	// (-1,0,0) is now 3 chunks away: inside 1+2, kept.
	if ch, ok := s.Chunk(chunk.Coord{X: -1}); !ok || ch.Current != LOD0 {
		t.Fatalf("chunk in margin dropped: %+v %v", ch, ok)
	}
	settle(t, s, center(chunk.Coord{X: 3}))
	if _, ok := s.Chunk(chunk.Coord{X: -1}); ok {
		t.Fatalf("chunk beyond margin kept")
	}
}

func TestEvictedMidGenerationIsDiscarded(t *testing.T) {
	g := &fakeGen{block: make(chan struct{})}
	s := newScheduler(t, testConfig(0, 0, 0, 0, 1), g)

	s.Update(center(chunk.Coord{}))
	if st := s.Stats(); st.Generating != 1 {
		t.Fatalf("stats=%+v want generating=1", st)
	}
	s.Update(center(chunk.Coord{X: 10}))
	ch, ok := s.Chunk(chunk.Coord{})
	if !ok || !ch.Evicted {
		t.Fatalf("origin chunk=%+v ok=%v want evicted", ch, ok)
	}
	close(g.block)
	settle(t, s, center(chunk.Coord{X: 10}))

	if _, ok := s.Chunk(chunk.Coord{}); ok {
		t.Fatalf("evicted chunk still tracked")
	}
	if st := s.Stats(); st.Discarded != 1 || st.Loaded != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if !g.unloadedSet()[chunk.Coord{}] {
		t.Fatalf("evicted chunk not released")
	}
}

func TestFallbackOnFailure(t *testing.T) {
	g := &fakeGen{fail: func(r Request) error {
		if r.Coord.X == 1 {
			return errors.New("mesh backend unavailable")
		}
		return nil
	}}
	s := newScheduler(t, testConfig(1, 1, 1, 0, 2), g)
	var fallbacks []Event
	var mu sync.Mutex
	s.OnEvent(func(ev Event) {
		if ev.Kind == EventFallback {
			mu.Lock()
			fallbacks = append(fallbacks, ev)
			mu.Unlock()
		}
	})
	settle(t, s, center(chunk.Coord{}))

	ch, ok := s.Chunk(chunk.Coord{X: 1})
	if !ok || ch.State != Loaded || ch.Current != LOD0 {
		t.Fatalf("chunk=%+v", ch)
	}
	st := s.Stats()
	if st.Fallbacks != 1 || st.Failed != 0 {
		t.Fatalf("stats=%+v", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fallbacks) != 1 || fallbacks[0].Coord != (chunk.Coord{X: 1}) || fallbacks[0].Err == nil {
		t.Fatalf("fallback events=%+v", fallbacks)
	}
	if !fallbacks[0].Result.Sample.Fallback {
		t.Fatalf("sample not flagged as fallback")
	}
}

func TestFallbackFailureRequeues(t *testing.T) {
	g := &fakeGen{
		fail:        func(Request) error { return errors.New("boom") },
		fallbackErr: errors.New("fallback boom"),
	}
	s := newScheduler(t, testConfig(0, 0, 0, 0, 1), g)
	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().Failed < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no failures recorded: %+v", s.Stats())
		}
		s.Update(center(chunk.Coord{}))
		time.Sleep(time.Millisecond)
	}
	ch, _ := s.Chunk(chunk.Coord{})
	if ch.Current != LODNone {
		t.Fatalf("failed chunk has lod %v", ch.Current)
	}
}

func TestForceLoadAndUnload(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(0, 0, 0, 0, 1), g)
	pinned := chunk.Coord{X: 40, Y: -3}
	s.ForceLoad(pinned, LOD2)
	settle(t, s, center(chunk.Coord{}))

	ch, ok := s.Chunk(pinned)
	if !ok || ch.Current != LOD2 || !ch.Pinned {
		t.Fatalf("pinned chunk=%+v ok=%v", ch, ok)
	}
	if !s.ForceUnload(pinned) {
		t.Fatalf("force unload failed")
	}
	if _, ok := s.Chunk(pinned); ok {
		t.Fatalf("chunk still tracked")
	}
	if s.ForceUnload(pinned) {
		t.Fatalf("second unload should report false")
	}
}

func TestExportRestore(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(0, 1, 1, 0, 2), g)
	settle(t, s, center(chunk.Coord{}))
	list := s.Export()
	if len(list) != 7 {
		t.Fatalf("exported=%d want=7", len(list))
	}

	g2 := &fakeGen{}
	s2 := newScheduler(t, testConfig(0, 1, 1, 0, 2), g2)
	s2.Restore(list)
	settle(t, s2, center(chunk.Coord{}))
	g2.mu.Lock()
	defer g2.mu.Unlock()
	if len(g2.order) != 0 {
		t.Fatalf("restored chunks regenerated: %d", len(g2.order))
	}
}

func TestWorldToChunk(t *testing.T) {
	s := New(testConfig(1, 2, 3, 0, 1), &fakeGen{}, nil, nil)
	if got := s.WorldToChunk(mgl32.Vec3{-1, 1600, 3199}); got != (chunk.Coord{X: -1, Y: 1, Z: 1}) {
		t.Fatalf("got=%v", got)
	}
}

func TestMaxRadiusIsOutermostRing(t *testing.T) {
	cases := []struct {
		r0, r1, r2, want int
	}{
		{1, 2, 3, 3},
		{2, 5, 3, 5},
		{4, 1, 1, 4},
	}
	for _, tc := range cases {
		if got := testConfig(tc.r0, tc.r1, tc.r2, 0, 1).MaxRadius(); got != tc.want {
			t.Fatalf("MaxRadius(%d,%d,%d)=%d want=%d", tc.r0, tc.r1, tc.r2, got, tc.want)
		}
	}
}

func TestUnorderedRadiiStillLoadInnerRing(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(0, 1, 0, 0, 2), g)
	settle(t, s, center(chunk.Coord{}))
	ch, ok := s.Chunk(chunk.Coord{X: 1})
	if !ok || ch.Current != LOD1 {
		t.Fatalf("ring 1 chunk=%+v ok=%v want LOD1", ch, ok)
	}
}

func TestLateUnloadKeepsNewerGeneration(t *testing.T) {
	g := &fakeGen{}
	s := newScheduler(t, testConfig(0, 0, 0, 0, 1), g)
	origin := chunk.Coord{}
	settle(t, s, center(origin))

	// An unload queued before the chunk was loaded again lands afterwards.
	s.flush(deferred{unloads: []chunk.Coord{origin, {X: 9}}})
	set := g.unloadedSet()
	if set[origin] {
		t.Fatalf("loaded chunk was released by a stale unload")
	}
	if !set[chunk.Coord{X: 9}] {
		t.Fatalf("untracked chunk not released")
	}
	if ch, ok := s.Chunk(origin); !ok || ch.Current != LOD0 {
		t.Fatalf("origin=%+v ok=%v", ch, ok)
	}
}
