package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/persistence/indexdb"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/placement"
	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
	"vibeheim.ai/internal/worldgen/terrain"
)

func (rt *worldRuntime) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, _ = rw.Write([]byte("ok"))
}

func (rt *worldRuntime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	st := rt.sched.Stats()
	ps := rt.engine.Stats()
	seed := strconv.FormatInt(rt.settings.Seed, 10)

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP vibeheim_chunks_loaded Chunks holding a built LOD.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_chunks_loaded gauge\n")
	fmt.Fprintf(rw, "vibeheim_chunks_loaded{seed=%q} %d\n", seed, st.Loaded)

	fmt.Fprintf(rw, "# HELP vibeheim_chunks_generating Generation jobs in flight.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_chunks_generating gauge\n")
	fmt.Fprintf(rw, "vibeheim_chunks_generating{seed=%q} %d\n", seed, st.Generating)

	fmt.Fprintf(rw, "# HELP vibeheim_chunks_queued Chunks waiting for a worker.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_chunks_queued gauge\n")
	fmt.Fprintf(rw, "vibeheim_chunks_queued{seed=%q} %d\n", seed, st.Queued)

	fmt.Fprintf(rw, "# HELP vibeheim_generation_ms Rolling chunk generation time in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_generation_ms gauge\n")
	fmt.Fprintf(rw, "vibeheim_generation_ms{seed=%q,stat=%q} %.3f\n", seed, "avg", st.AvgGenMs)
	fmt.Fprintf(rw, "vibeheim_generation_ms{seed=%q,stat=%q} %.3f\n", seed, "p95", st.P95GenMs)

	fmt.Fprintf(rw, "# HELP vibeheim_generations_total Completed generation jobs by outcome.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_generations_total counter\n")
	fmt.Fprintf(rw, "vibeheim_generations_total{seed=%q,outcome=%q} %d\n", seed, "all", st.Total)
	fmt.Fprintf(rw, "vibeheim_generations_total{seed=%q,outcome=%q} %d\n", seed, "failed", st.Failed)
	fmt.Fprintf(rw, "vibeheim_generations_total{seed=%q,outcome=%q} %d\n", seed, "fallback", st.Fallbacks)
	fmt.Fprintf(rw, "vibeheim_generations_total{seed=%q,outcome=%q} %d\n", seed, "discarded", st.Discarded)

	fmt.Fprintf(rw, "# HELP vibeheim_placements_total Placement attempts and outcomes.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_placements_total counter\n")
	fmt.Fprintf(rw, "vibeheim_placements_total{seed=%q,kind=%q,outcome=%q} %d\n", seed, "poi", "success", ps.POI.Successful)
	fmt.Fprintf(rw, "vibeheim_placements_total{seed=%q,kind=%q,outcome=%q} %d\n", seed, "poi", "failed", ps.POI.Failed)
	fmt.Fprintf(rw, "vibeheim_placements_total{seed=%q,kind=%q,outcome=%q} %d\n", seed, "portal", "success", ps.Portal.Successful)
	fmt.Fprintf(rw, "vibeheim_placements_total{seed=%q,kind=%q,outcome=%q} %d\n", seed, "portal", "failed", ps.Portal.Failed)

	fmt.Fprintf(rw, "# HELP vibeheim_spawned_handles Live spawned placement handles.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_spawned_handles gauge\n")
	fmt.Fprintf(rw, "vibeheim_spawned_handles{seed=%q} %d\n", seed, rt.terrain.Spawned())

	fmt.Fprintf(rw, "# HELP vibeheim_edits_pending CSG edits not yet flushed to disk.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_edits_pending gauge\n")
	fmt.Fprintf(rw, "vibeheim_edits_pending{seed=%q} %d\n", seed, rt.edits.Pending())

	fmt.Fprintf(rw, "# HELP vibeheim_profiler_dropped_total Samples overwritten in the profiler ring.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_profiler_dropped_total counter\n")
	fmt.Fprintf(rw, "vibeheim_profiler_dropped_total{seed=%q} %d\n", seed, rt.prof.Dropped())

	fmt.Fprintf(rw, "# HELP vibeheim_observer_clients Subscribed observer sessions.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_observer_clients gauge\n")
	fmt.Fprintf(rw, "vibeheim_observer_clients{seed=%q} %d\n", seed, rt.obs.Clients())

	fmt.Fprintf(rw, "# HELP vibeheim_observer_dropped_total Observer messages dropped on full session buffers.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "vibeheim_observer_dropped_total{seed=%q} %d\n", seed, rt.obs.Dropped())

	if rt.idx != nil {
		writeIndexMetrics(rw, seed, rt.idx.Stats())
	}
}

func writeIndexMetrics(rw http.ResponseWriter, seed string, s indexdb.Stats) {
	fmt.Fprintf(rw, "# HELP vibeheim_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "vibeheim_index_queue_depth{seed=%q} %d\n", seed, s.QueueDepth)

	fmt.Fprintf(rw, "# HELP vibeheim_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "vibeheim_index_queue_capacity{seed=%q} %d\n", seed, s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP vibeheim_index_dropped_total Index writes dropped on a full queue.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_index_dropped_total counter\n")
	fmt.Fprintf(rw, "vibeheim_index_dropped_total{seed=%q,table=%q} %d\n", seed, "generations", s.DropGenerationTotal)
	fmt.Fprintf(rw, "vibeheim_index_dropped_total{seed=%q,table=%q} %d\n", seed, "perf_samples", s.DropPerfTotal)
	fmt.Fprintf(rw, "vibeheim_index_dropped_total{seed=%q,table=%q} %d\n", seed, "placements", s.DropPlacementTotal)
	fmt.Fprintf(rw, "vibeheim_index_dropped_total{seed=%q,table=%q} %d\n", seed, "snapshots", s.DropSnapshotTotal)

	fmt.Fprintf(rw, "# HELP vibeheim_index_write_errors_total Failed index statements.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_index_write_errors_total counter\n")
	fmt.Fprintf(rw, "vibeheim_index_write_errors_total{seed=%q} %d\n", seed, s.WriteErrorTotal)

	fmt.Fprintf(rw, "# HELP vibeheim_index_written_total Index rows written.\n")
	fmt.Fprintf(rw, "# TYPE vibeheim_index_written_total counter\n")
	fmt.Fprintf(rw, "vibeheim_index_written_total{seed=%q} %d\n", seed, s.WrittenTotal)
}

type stateResponse struct {
	Seed           int64             `json:"seed"`
	SettingsDigest string            `json:"settings_digest"`
	WorldDir       string            `json:"world_dir"`
	Viewer         [3]float32        `json:"viewer"`
	Streaming      streaming.Stats   `json:"streaming"`
	Placement      placement.Stats   `json:"placement"`
	Profiler       profiler.Stats    `json:"profiler"`
	EditsPending   int               `json:"edits_pending"`
	Index          *indexdb.Stats    `json:"index,omitempty"`
	Observers      int               `json:"observers"`
	Chunks         []streaming.Chunk `json:"chunks,omitempty"`
}

func (rt *worldRuntime) handleState(rw http.ResponseWriter, r *http.Request) {
	v := rt.sched.Viewer()
	resp := stateResponse{
		Seed:           rt.settings.Seed,
		SettingsDigest: rt.settings.Digest(),
		WorldDir:       rt.worldDir,
		Viewer:         [3]float32{v.X(), v.Y(), v.Z()},
		Streaming:      rt.sched.Stats(),
		Placement:      rt.engine.Stats(),
		Profiler:       rt.prof.Stats(),
		EditsPending:   rt.edits.Pending(),
		Observers:      rt.obs.Clients(),
	}
	if rt.idx != nil {
		st := rt.idx.Stats()
		resp.Index = &st
	}
	if r.URL.Query().Get("chunks") == "1" {
		resp.Chunks = rt.sched.Chunks()
	}
	writeJSON(rw, http.StatusOK, resp)
}

type viewerRequest struct {
	Pos [3]float32 `json:"pos"`
}

func (rt *worldRuntime) handleViewer(rw http.ResponseWriter, r *http.Request) {
	var req viewerRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	pos := mgl32.Vec3{req.Pos[0], req.Pos[1], req.Pos[2]}
	rt.SetViewer(pos)
	c := rt.sched.WorldToChunk(pos)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "chunk": [3]int32{c.X, c.Y, c.Z}})
}

type chunkRequest struct {
	Chunk [3]int32 `json:"chunk"`
	LOD   int      `json:"lod"`
}

func (rt *worldRuntime) handleChunkLoad(rw http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.LOD < int(streaming.LOD0) || req.LOD > int(streaming.LOD2) {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "lod must be 0..2"})
		return
	}
	c := chunk.Coord{X: req.Chunk[0], Y: req.Chunk[1], Z: req.Chunk[2]}
	rt.sched.ForceLoad(c, streaming.LOD(req.LOD))
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func (rt *worldRuntime) handleChunkUnload(rw http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	c := chunk.Coord{X: req.Chunk[0], Y: req.Chunk[1], Z: req.Chunk[2]}
	ok := rt.sched.ForceUnload(c)
	writeJSON(rw, http.StatusOK, map[string]any{"ok": ok})
}

func (rt *worldRuntime) handleRegression(rw http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "n must be a positive integer"})
			return
		}
		n = parsed
	}
	res := rt.prof.RunRegression(n)
	writeJSON(rw, http.StatusOK, struct {
		profiler.Regression
		Report string `json:"report"`
	}{res, rt.prof.Report()})
}

type editRequest struct {
	Center [3]float32 `json:"center"`
	Radius float32    `json:"radius"`
	Op     string     `json:"op"`
}

func (rt *worldRuntime) handleEdit(rw http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	var op terrain.CSGOp
	switch strings.ToLower(req.Op) {
	case "", "add":
		op = terrain.CSGAdd
	case "subtract":
		op = terrain.CSGSubtract
	default:
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "op must be add or subtract"})
		return
	}
	if req.Radius <= 0 {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "radius must be positive"})
		return
	}
	center := mgl32.Vec3{req.Center[0], req.Center[1], req.Center[2]}
	if err := rt.pipe.Edit(center, req.Radius, op); err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "pending": rt.edits.Pending()})
}

func (rt *worldRuntime) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	path, snap, err := rt.Snapshot()
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "seq": snap.Header.Seq, "path": path, "chunks": len(snap.Chunks)})
}

// registerAdmin mounts the local-only admin endpoints.
func (rt *worldRuntime) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", loopbackOnly(http.MethodGet, rt.handleState))
	mux.HandleFunc("/admin/v1/viewer", loopbackOnly(http.MethodPost, rt.handleViewer))
	mux.HandleFunc("/admin/v1/chunks/load", loopbackOnly(http.MethodPost, rt.handleChunkLoad))
	mux.HandleFunc("/admin/v1/chunks/unload", loopbackOnly(http.MethodPost, rt.handleChunkUnload))
	mux.HandleFunc("/admin/v1/regression", loopbackOnly(http.MethodGet, rt.handleRegression))
	mux.HandleFunc("/admin/v1/edit", loopbackOnly(http.MethodPost, rt.handleEdit))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(http.MethodPost, rt.handleSnapshot))
	mux.HandleFunc("/admin/v1/observer/bootstrap", rt.obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", rt.obs.WSHandler())
}

func loopbackOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
