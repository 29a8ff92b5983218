package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/editlog"
	"vibeheim.ai/internal/persistence/indexdb"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestRunQuery(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "world.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()
	if err := idx.UpsertSettings(config.Defaults()); err != nil {
		t.Fatalf("settings: %v", err)
	}
	now := time.Unix(1700000000, 0)
	_ = idx.WriteEvent(streaming.Event{Kind: streaming.EventLoaded, Coord: chunk.Coord{X: 1}, LOD: streaming.LOD1, Time: now})
	_ = idx.WriteEvent(streaming.Event{Kind: streaming.EventFailed, Coord: chunk.Coord{X: 2}, Err: errors.New("boom"), Time: now})
	_ = idx.WriteSample(profiler.Sample{LOD: 1, TotalMs: 3, Time: now})
	_ = idx.WriteSample(profiler.Sample{LOD: 0, TotalMs: 7, Time: now})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	out := captureStdout(t)
	if err := runQuery(idx.DB(), "generations", queryOpts{Kind: "chunk_failed", LOD: -1}); err != nil {
		t.Fatalf("generations: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"error":"boom"`) || !strings.Contains(lines[0], `"chunk":[2,0,0]`) {
		t.Fatalf("generations output=%q", out.String())
	}

	out.Reset()
	if err := runQuery(idx.DB(), "generations", queryOpts{Chunk: "1_0_0", LOD: -1}); err != nil {
		t.Fatalf("generations by chunk: %v", err)
	}
	if n := strings.Count(out.String(), "\n"); n != 1 {
		t.Fatalf("rows=%d want=1: %s", n, out.String())
	}

	out.Reset()
	if err := runQuery(idx.DB(), "perf", queryOpts{LOD: 0}); err != nil {
		t.Fatalf("perf: %v", err)
	}
	var perf struct {
		LOD   *int    `json:"lod"`
		Count int     `json:"count"`
		AvgMs float64 `json:"avg_ms"`
	}
	if err := json.Unmarshal(out.Bytes(), &perf); err != nil {
		t.Fatalf("decode perf: %v", err)
	}
	if perf.Count != 1 || perf.AvgMs != 7 || perf.LOD == nil || *perf.LOD != 0 {
		t.Fatalf("perf=%+v", perf)
	}

	out.Reset()
	if err := runQuery(idx.DB(), "settings", queryOpts{}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if !strings.Contains(out.String(), `"current":true`) || !strings.Contains(out.String(), config.Defaults().Digest()) {
		t.Fatalf("settings output=%q", out.String())
	}

	if err := runQuery(idx.DB(), "placements", queryOpts{Chunk: "nope"}); err == nil {
		t.Fatalf("expected bad chunk error")
	}
	if err := runQuery(idx.DB(), "agents", queryOpts{}); err == nil || !strings.HasPrefix(err.Error(), "unknown query") {
		t.Fatalf("err=%v want unknown query", err)
	}
}

func TestCompactChunks(t *testing.T) {
	l := editlog.New(t.TempDir(), config.Defaults().ChunkWorldSize(), nil)
	l.Record(mgl32.Vec3{100, 100, 100}, 5, editlog.OpAdd)
	l.Record(mgl32.Vec3{100, 100, 100}, 10, editlog.OpAdd)
	l.Record(mgl32.Vec3{100, 100, 100}, 3, editlog.OpSubtract)
	if err := l.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	res, err := compactChunks(l, nil)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(res) != 1 || res[0].Chunk != "0_0_0" || res[0].Removed != 1 || res[0].Error != "" {
		t.Fatalf("res=%+v", res)
	}
	ops, _ := l.Read(chunk.Coord{})
	if len(ops) != 2 {
		t.Fatalf("ops=%d want=2", len(ops))
	}

	res, err = compactChunks(l, []string{"0_0_0"})
	if err != nil || len(res) != 1 || res[0].Removed != 0 {
		t.Fatalf("second compact res=%+v err=%v", res, err)
	}
	if _, err := compactChunks(l, []string{"x"}); err == nil {
		t.Fatalf("expected bad key error")
	}
}

func TestReportFor(t *testing.T) {
	s := config.Defaults()
	r := reportFor("a.yaml", s, nil)
	if !r.OK || r.Digest != s.Digest() || len(r.Errors) != 0 {
		t.Fatalf("ok report=%+v", r)
	}

	bad := config.Defaults()
	bad.ChunkSize = 1
	bad.LOD1Radius = bad.LOD0Radius
	r = reportFor("b.yaml", bad, bad.Validate())
	if r.OK || len(r.Errors) < 2 {
		t.Fatalf("bad report=%+v", r)
	}

	r = reportFor("c.yaml", s, errors.New("c.yaml: unexpected EOF"))
	if r.OK || len(r.Errors) != 1 {
		t.Fatalf("io report=%+v", r)
	}
}
