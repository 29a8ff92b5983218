package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		settingsPath = flag.String("settings", "./configs/worldgen.yaml", "world generation settings (json or yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		seed         = flag.Int64("seed", 0, "override the settings seed (0 keeps it)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite read-model index")
		viewerFlag   = flag.String("viewer", "0,0,0", "initial viewer position x,y,z in world units")

		snapPath      = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", true, "load latest snapshot from the world dir if present (when -snapshot is empty)")
		snapshotEvery = flag.Duration("snapshot_every", 5*time.Minute, "periodic snapshot interval (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	settings, err := config.Load(*settingsPath)
	if err != nil {
		// Load already fell back to defaults.
		logger.Printf("load settings %s: %v; using defaults", *settingsPath, err)
	}
	if *seed != 0 {
		settings.Seed = *seed
	}

	viewer, err := parseVec3(*viewerFlag)
	if err != nil {
		logger.Fatalf("-viewer: %v", err)
	}

	rt, err := newWorldRuntime(runtimeOptions{
		DataDir:   *dataDir,
		Settings:  settings,
		DisableDB: *disableDB,

		KeepSnapshots: envInt("VH_SNAPSHOT_KEEP", 20),
		ArchiveEvery:  uint64(max(0, envInt("VH_SNAPSHOT_ARCHIVE_EVERY", 0))),
	}, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	defer rt.Close()
	logger.Printf("world dir=%s seed=%d digest=%s", rt.worldDir, settings.Seed, settings.Digest())

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad, _ = latestSnapshot(rt.worldDir)
	}
	if snapshotToLoad != "" {
		if err := rt.Restore(snapshotToLoad); err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s chunks=%d", filepath.Base(snapshotToLoad), len(rt.sched.Export()))
	}
	rt.SetViewer(viewer)

	ctx, cancel := signalContext()
	defer cancel()

	statsEvery := time.Duration(envInt("VH_OBSERVER_STATS_MS", 1000)) * time.Millisecond
	go func() {
		if err := rt.Run(ctx, statsEvery); err != nil && err != context.Canceled {
			logger.Printf("scheduler stopped: %v", err)
		}
	}()
	go rt.RunSnapshots(ctx, *snapshotEvery)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealthz)
	mux.HandleFunc("/metrics", rt.handleMetrics)

	enableAdminHTTP := envBool("VH_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VH_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		rt.registerAdmin(mux)
	} else {
		logger.Printf("admin endpoints disabled (VH_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VH_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	if *snapshotEvery > 0 {
		if path, _, err := rt.Snapshot(); err != nil {
			logger.Printf("final snapshot: %v", err)
		} else {
			logger.Printf("final snapshot path=%s", path)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func parseVec3(s string) (mgl32.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl32.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v mgl32.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}
