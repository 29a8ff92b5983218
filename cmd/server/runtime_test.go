package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/archive"
	"vibeheim.ai/internal/persistence/indexdb"
	persistlog "vibeheim.ai/internal/persistence/log"
	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/chunk"
)

func smallSettings() config.WorldGenSettings {
	s := config.Defaults()
	s.LOD0Radius, s.LOD1Radius, s.LOD2Radius = 1, 2, 3
	s.Streaming.MaxConcurrent = 1
	return s
}

func newTestRuntime(t *testing.T, dataDir string, disableDB bool) *worldRuntime {
	t.Helper()
	rt, err := newWorldRuntime(runtimeOptions{DataDir: dataDir, Settings: smallSettings(), DisableDB: disableDB}, nil)
	if err != nil {
		t.Fatalf("newWorldRuntime: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func settle(t *testing.T, rt *worldRuntime) {
	t.Helper()
	rt.sched.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.sched.Settle(ctx, mgl32.Vec3{800, 800, 800}); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	_ = os.MkdirAll(snaps, 0o755)
	for _, name := range []string{"2.snap.zst", "10.snap.zst", "x.snap.zst", "11.snap"} {
		_ = os.WriteFile(filepath.Join(snaps, name), []byte("x"), 0o644)
	}
	path, seq := latestSnapshot(dir)
	if seq != 10 || filepath.Base(path) != "10.snap.zst" {
		t.Fatalf("latest=%s seq=%d want 10.snap.zst", path, seq)
	}
	if path, seq := latestSnapshot(t.TempDir()); path != "" || seq != 0 {
		t.Fatalf("empty dir latest=%q seq=%d", path, seq)
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1, -2.5,3")
	if err != nil || v != (mgl32.Vec3{1, -2.5, 3}) {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("expected error for two components")
	}
}

func TestRuntimeEventsReachSinks(t *testing.T) {
	rt := newTestRuntime(t, t.TempDir(), false)
	settle(t, rt)

	st := rt.sched.Stats()
	if st.Loaded == 0 {
		t.Fatalf("nothing loaded")
	}

	idx := rt.idx.(*indexdb.SQLiteIndex)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	var n int
	if err := idx.DB().QueryRow(`SELECT COUNT(*) FROM generations WHERE kind='chunk_loaded'`).Scan(&n); err != nil || n < st.Loaded {
		t.Fatalf("generations=%d loaded=%d err=%v", n, st.Loaded, err)
	}
	if err := idx.DB().QueryRow(`SELECT COUNT(*) FROM perf_samples`).Scan(&n); err != nil || n == 0 {
		t.Fatalf("perf_samples=%d err=%v", n, err)
	}
	placed := len(rt.engine.Instances())
	if err := idx.DB().QueryRow(`SELECT COUNT(*) FROM placements`).Scan(&n); err != nil || (n == 0) != (placed == 0) {
		t.Fatalf("placements=%d engine=%d err=%v", n, placed, err)
	}

	rt.Close()
	files, err := persistlog.Files(filepath.Join(rt.worldDir, "events"), "events")
	if err != nil || len(files) == 0 {
		t.Fatalf("event files=%v err=%v", files, err)
	}
	var lines int
	for _, f := range files {
		if err := persistlog.ReadJSONL(f, func(json.RawMessage) error { lines++; return nil }); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if lines < st.Loaded {
		t.Fatalf("event lines=%d loaded=%d", lines, st.Loaded)
	}
}

func TestRuntimeSnapshotRetention(t *testing.T) {
	rt, err := newWorldRuntime(runtimeOptions{
		DataDir:       t.TempDir(),
		Settings:      smallSettings(),
		DisableDB:     true,
		KeepSnapshots: 1,
		ArchiveEvery:  2,
	}, nil)
	if err != nil {
		t.Fatalf("newWorldRuntime: %v", err)
	}
	t.Cleanup(rt.Close)

	var snap snapshot.SnapshotV1
	for i := 0; i < 3; i++ {
		if _, snap, err = rt.Snapshot(); err != nil {
			t.Fatalf("snapshot %d: %v", i+1, err)
		}
	}
	if v := snap.Viewer; v != [3]float32{} {
		t.Fatalf("viewer=%v want origin", v)
	}
	path, seq := latestSnapshot(rt.worldDir)
	if seq != 3 {
		t.Fatalf("latest seq=%d want 3", seq)
	}
	list, _ := archive.ListSnapshots(rt.worldDir)
	if len(list) != 1 || list[0].Path != path {
		t.Fatalf("kept=%+v", list)
	}
	if _, err := os.Stat(filepath.Join(rt.worldDir, "archives", "seq_000002", "2.snap.zst")); err != nil {
		t.Fatalf("archived seq 2: %v", err)
	}
	if _, err := os.Stat(filepath.Join(rt.worldDir, "archives", "seq_000003")); !os.IsNotExist(err) {
		t.Fatalf("seq 3 must not be archived: %v", err)
	}
}

func TestRuntimeSnapshotRestore(t *testing.T) {
	dataDir := t.TempDir()
	rt := newTestRuntime(t, dataDir, true)
	settle(t, rt)

	path, snap, err := rt.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Header.Seq != 1 || filepath.Base(path) != "1.snap.zst" {
		t.Fatalf("seq=%d path=%s", snap.Header.Seq, path)
	}
	want := rt.terrain.Digest()
	loaded := rt.sched.Stats().Loaded
	instances := len(rt.engine.Instances())
	rt.Close()

	rt2 := newTestRuntime(t, dataDir, true)
	if got := rt2.snapSeq.Load(); got != 1 {
		t.Fatalf("snapSeq=%d want=1", got)
	}
	latest, _ := latestSnapshot(rt2.worldDir)
	if err := rt2.Restore(latest); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if rt2.terrain.Digest() != want {
		t.Fatalf("heightfield digest differs after restore")
	}
	if got := rt2.sched.Stats().Loaded; got != loaded {
		t.Fatalf("loaded=%d want=%d", got, loaded)
	}
	if got := len(rt2.engine.Instances()); got != instances {
		t.Fatalf("instances=%d want=%d", got, instances)
	}
	if _, snap2, err := rt2.Snapshot(); err != nil || snap2.Header.Seq != 2 {
		t.Fatalf("second snapshot seq=%d err=%v", snap2.Header.Seq, err)
	}
}

func TestRestoreRejectsOtherSettings(t *testing.T) {
	dataDir := t.TempDir()
	rt := newTestRuntime(t, dataDir, true)
	path, _, err := rt.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	s := smallSettings()
	s.Seed = 99
	other, err := newWorldRuntime(runtimeOptions{DataDir: t.TempDir(), Settings: s, DisableDB: true}, nil)
	if err != nil {
		t.Fatalf("newWorldRuntime: %v", err)
	}
	defer other.Close()
	if err := other.Restore(path); err == nil || !strings.Contains(err.Error(), errSettingsMismatch.Error()) {
		t.Fatalf("err=%v want settings mismatch", err)
	}
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, url, rd)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAdminHandlers(t *testing.T) {
	rt := newTestRuntime(t, t.TempDir(), true)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealthz)
	mux.HandleFunc("/metrics", rt.handleMetrics)
	rt.registerAdmin(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "vibeheim_chunks_loaded{seed=\"1337\"} 0") {
		t.Fatalf("metrics missing loaded gauge:\n%s", b)
	}

	if code, _ := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/viewer", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET viewer code=%d", code)
	}
	if code, out := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/viewer", viewerRequest{Pos: [3]float32{1700, 0, 0}}); code != 200 || out["ok"] != true {
		t.Fatalf("viewer code=%d out=%v", code, out)
	}

	if code, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/chunks/load", chunkRequest{Chunk: [3]int32{5, 0, 0}, LOD: 7}); code != http.StatusBadRequest {
		t.Fatalf("bad lod code=%d", code)
	}
	if code, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/chunks/load", chunkRequest{Chunk: [3]int32{5, 0, 0}, LOD: 1}); code != 200 {
		t.Fatalf("load code=%d", code)
	}
	if ch, ok := rt.sched.Chunk(chunk.Coord{X: 5}); !ok || !ch.Pinned {
		t.Fatalf("chunk=%+v ok=%v want pinned", ch, ok)
	}

	if code, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/edit", editRequest{Center: [3]float32{10, 10, 10}, Radius: 5, Op: "melt"}); code != http.StatusBadRequest {
		t.Fatalf("bad op code=%d", code)
	}
	if code, out := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/edit", editRequest{Center: [3]float32{10, 10, 10}, Radius: 5, Op: "subtract"}); code != 200 || out["pending"] != float64(1) {
		t.Fatalf("edit code=%d out=%v", code, out)
	}

	if code, _ := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/regression?n=0", nil); code != http.StatusBadRequest {
		t.Fatalf("regression n=0 code=%d", code)
	}
	if code, out := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/regression?n=5", nil); code != 200 || out["passed"] != false || out["report"] == "" {
		t.Fatalf("regression code=%d out=%v", code, out)
	}

	code, out := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/snapshot", nil)
	if code != 200 || out["seq"] != float64(1) {
		t.Fatalf("snapshot code=%d out=%v", code, out)
	}
	if _, err := os.Stat(out["path"].(string)); err != nil {
		t.Fatalf("snapshot file: %v", err)
	}

	resp, err = http.Get(srv.URL + "/admin/v1/state?chunks=1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	var st stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Seed != 1337 || st.EditsPending != 1 || len(st.Chunks) != 1 || st.Index != nil {
		t.Fatalf("state=%+v", st)
	}
}

func TestDefaultEnableAdminHTTP(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	if defaultEnableAdminHTTP() {
		t.Fatalf("admin enabled in production")
	}
	t.Setenv("DEPLOY_ENV", "")
	if !defaultEnableAdminHTTP() {
		t.Fatalf("admin disabled in dev")
	}
	t.Setenv("VH_ENABLE_ADMIN_HTTP", "false")
	if envBool("VH_ENABLE_ADMIN_HTTP", true) {
		t.Fatalf("env override ignored")
	}
}
