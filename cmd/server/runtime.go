package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/archive"
	"vibeheim.ai/internal/persistence/editlog"
	persistlog "vibeheim.ai/internal/persistence/log"
	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/transport/observer"
	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/pipeline"
	"vibeheim.ai/internal/worldgen/placement"
	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
	"vibeheim.ai/internal/worldgen/terrain"
)

var errSettingsMismatch = errors.New("snapshot settings digest mismatch")

type runtimeOptions struct {
	DataDir   string
	Settings  config.WorldGenSettings
	DisableDB bool

	// KeepSnapshots bounds <world>/snapshots; 0 keeps every snapshot.
	KeepSnapshots int
	// ArchiveEvery copies every Nth snapshot under <world>/archives.
	ArchiveEvery uint64
}

// worldRuntime owns one generated world: the scheduler, its generator and
// every sink its events fan out to.
type worldRuntime struct {
	settings config.WorldGenSettings
	worldDir string
	logger   *log.Logger

	keepSnapshots int
	archiveEvery  uint64

	terrain *terrain.Heightfield
	engine  *placement.Engine
	edits   *editlog.Log
	prof    *profiler.Profiler
	pipe    *pipeline.Pipeline
	sched   *streaming.Scheduler
	obs     *observer.Server
	idx     runtimeIndex

	eventLog *persistlog.EventLogger
	perfLog  *persistlog.PerfLogger

	viewer chan mgl32.Vec3

	snapMu  sync.Mutex
	snapSeq atomic.Uint64

	mu      sync.Mutex
	indexed map[chunk.Coord]bool
}

// worldName keys a world directory by seed and settings, so a settings
// change never reuses another world's edits or snapshots.
func worldName(s config.WorldGenSettings) string {
	return fmt.Sprintf("%d-%s", s.Seed, s.Digest()[:12])
}

func newWorldRuntime(opts runtimeOptions, logger *log.Logger) (*worldRuntime, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := opts.Settings
	worldDir := filepath.Join(opts.DataDir, "worlds", worldName(s))
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return nil, err
	}

	eval := biome.NewEvaluator(s)
	hf := terrain.NewHeightfield(logger)
	engine := placement.NewEngine(s, eval, hf, logger)
	edits := editlog.New(filepath.Join(worldDir, "edits"), s.ChunkWorldSize(), logger)
	prof := profiler.New(s.Performance, logger)
	pipe, err := pipeline.New(s, pipeline.Deps{
		Evaluator: eval,
		Placement: engine,
		Backend:   hf,
		Edits:     edits,
		Profiler:  prof,
	}, logger)
	if err != nil {
		return nil, err
	}

	// Optional: read-model index backend (does not affect generation).
	idx, err := openRuntimeIndex(worldDir, opts.DisableDB)
	if err != nil {
		return nil, fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		if err := idx.UpsertSettings(s); err != nil {
			logger.Printf("index backend: upsert settings: %v", err)
		}
	}

	rt := &worldRuntime{
		settings:      s,
		worldDir:      worldDir,
		logger:        logger,
		keepSnapshots: opts.KeepSnapshots,
		archiveEvery:  opts.ArchiveEvery,
		terrain:       hf,
		engine:        engine,
		edits:         edits,
		prof:          prof,
		pipe:          pipe,
		sched:         streaming.New(streaming.ConfigFrom(s), pipe, prof, logger),
		obs:           observer.NewServer(s, logger),
		idx:           idx,
		eventLog:      persistlog.NewEventLogger(worldDir),
		perfLog:       persistlog.NewPerfLogger(worldDir),
		viewer:        make(chan mgl32.Vec3, 1),
		indexed:       map[chunk.Coord]bool{},
	}
	if _, seq := latestSnapshot(worldDir); seq > 0 {
		rt.snapSeq.Store(seq)
	}
	rt.sched.OnEvent(rt.onEvent)
	return rt, nil
}

func (rt *worldRuntime) Close() {
	rt.sched.Close()
	if err := rt.edits.Flush(); err != nil {
		rt.logger.Printf("editlog flush: %v", err)
	}
	_ = rt.eventLog.Close()
	_ = rt.perfLog.Close()
	if rt.idx != nil {
		_ = rt.idx.Close()
	}
}

// Run drives the scheduler, the edit-log flusher and observer stats until
// ctx ends.
func (rt *worldRuntime) Run(ctx context.Context, statsEvery time.Duration) error {
	go rt.edits.Run(ctx, rt.settings.SaveFlushInterval())
	go rt.obs.RunStats(ctx, statsEvery, rt.sched.Stats)
	return rt.sched.Run(ctx, rt.viewer)
}

// SetViewer replaces any position the scheduler has not picked up yet.
func (rt *worldRuntime) SetViewer(pos mgl32.Vec3) {
	select {
	case <-rt.viewer:
	default:
	}
	select {
	case rt.viewer <- pos:
	default:
	}
}

func (rt *worldRuntime) onEvent(ev streaming.Event) {
	sinks := multiEventLogger{a: rt.eventLog, b: rt.idx}
	_ = sinks.WriteEvent(ev)

	switch ev.Kind {
	case streaming.EventLoaded, streaming.EventFallback:
		if !ev.Discarded {
			perf := multiPerfLogger{a: rt.perfLog, b: rt.idx}
			_ = perf.WriteSample(ev.Result.Sample)
		}
		if ev.Kind == streaming.EventLoaded && !ev.Discarded {
			rt.indexPlacements(ev.Coord)
		}
	case streaming.EventUnloaded:
		rt.mu.Lock()
		delete(rt.indexed, ev.Coord)
		rt.mu.Unlock()
	}
	rt.obs.OnSchedulerEvent(ev)
}

// indexPlacements records and publishes a chunk's placements the first
// time it loads. LOD upgrades of the same chunk are skipped.
func (rt *worldRuntime) indexPlacements(c chunk.Coord) {
	rt.mu.Lock()
	done := rt.indexed[c]
	rt.indexed[c] = true
	rt.mu.Unlock()
	if done {
		return
	}
	list := rt.engine.ExportChunk(c)
	if len(list) == 0 {
		return
	}
	if rt.idx != nil {
		rt.idx.RecordPlacements(list)
	}
	rt.obs.PublishPlacements(rt.engine.InstancesInChunk(c), rt.engine.PortalsInChunk(c))
}

// Snapshot writes <world>/snapshots/<seq>.snap.zst.
func (rt *worldRuntime) Snapshot() (string, snapshot.SnapshotV1, error) {
	rt.snapMu.Lock()
	defer rt.snapMu.Unlock()

	settingsJSON, err := json.Marshal(rt.settings)
	if err != nil {
		return "", snapshot.SnapshotV1{}, err
	}
	placements, pstats := rt.engine.Export()
	seq := rt.snapSeq.Add(1)
	v := rt.sched.Viewer()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:        snapshot.Version,
			Seed:           rt.settings.Seed,
			WorldGenVer:    rt.settings.WorldGenVersion,
			SettingsDigest: rt.settings.Digest(),
			CreatedUnixMs:  time.Now().UnixMilli(),
			Seq:            seq,
		},
		Settings:       settingsJSON,
		Viewer:         [3]float32{v.X(), v.Y(), v.Z()},
		Chunks:         rt.terrain.ExportChunks(),
		Placements:     placements,
		Streaming:      rt.sched.Export(),
		PlacementStats: pstats,
	}
	path := filepath.Join(rt.worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", seq))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", snap, err
	}
	if rt.idx != nil {
		rt.idx.RecordSnapshot(path, snap)
	}
	if dst, ok, err := archive.ArchiveSnapshot(rt.worldDir, path, snap, rt.archiveEvery); err != nil {
		rt.logger.Printf("snapshot archive: seq=%d err=%v", seq, err)
	} else if ok {
		rt.logger.Printf("snapshot archived seq=%d path=%s", seq, dst)
	}
	if removed, err := archive.PruneSnapshots(rt.worldDir, rt.keepSnapshots); err != nil {
		rt.logger.Printf("snapshot prune: %v", err)
	} else if len(removed) > 0 {
		rt.logger.Printf("snapshot prune removed=%d", len(removed))
	}
	return path, snap, nil
}

// Restore imports a snapshot written with the same settings. It must run
// before the scheduler starts.
func (rt *worldRuntime) Restore(path string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if snap.Header.SettingsDigest != rt.settings.Digest() {
		return fmt.Errorf("%s: %w", filepath.Base(path), errSettingsMismatch)
	}
	if err := rt.terrain.ImportChunks(snap.Chunks); err != nil {
		return fmt.Errorf("import chunks: %w", err)
	}
	if err := rt.engine.Import(snap.Placements, snap.PlacementStats); err != nil {
		return fmt.Errorf("import placements: %w", err)
	}
	rt.sched.Restore(snap.Streaming)

	rt.mu.Lock()
	for _, v := range snap.Streaming {
		rt.indexed[chunk.Coord{X: v.Chunk[0], Y: v.Chunk[1], Z: v.Chunk[2]}] = true
	}
	rt.mu.Unlock()
	if snap.Header.Seq > rt.snapSeq.Load() {
		rt.snapSeq.Store(snap.Header.Seq)
	}
	return nil
}

// RunSnapshots writes a snapshot every interval until ctx ends.
func (rt *worldRuntime) RunSnapshots(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			path, _, err := rt.Snapshot()
			if err != nil {
				rt.logger.Printf("snapshot write: %v", err)
				continue
			}
			rt.logger.Printf("snapshot written path=%s", path)
		}
	}
}

// latestSnapshot returns the highest numbered snapshot under worldDir.
func latestSnapshot(worldDir string) (string, uint64) {
	list, err := archive.ListSnapshots(worldDir)
	if err != nil || len(list) == 0 {
		return "", 0
	}
	last := list[len(list)-1]
	return last.Path, last.Seq
}

type eventLogger interface {
	WriteEvent(ev streaming.Event) error
}

type multiEventLogger struct {
	a eventLogger
	b eventLogger
}

func (m multiEventLogger) WriteEvent(ev streaming.Event) error {
	if m.a != nil {
		_ = m.a.WriteEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(ev)
	}
	return nil
}

type perfLogger interface {
	WriteSample(s profiler.Sample) error
}

type multiPerfLogger struct {
	a perfLogger
	b perfLogger
}

func (m multiPerfLogger) WriteSample(s profiler.Sample) error {
	if m.a != nil {
		_ = m.a.WriteSample(s)
	}
	if m.b != nil {
		_ = m.b.WriteSample(s)
	}
	return nil
}
