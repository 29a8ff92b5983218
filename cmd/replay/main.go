package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/editlog"
	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/pipeline"
	"vibeheim.ai/internal/worldgen/placement"
	"vibeheim.ai/internal/worldgen/streaming"
	"vibeheim.ai/internal/worldgen/terrain"
)

func main() {
	var (
		settingsPath = flag.String("settings", "", "settings file (.json/.yaml); default: snapshot settings or built-in defaults")
		seed         = flag.Int64("seed", 0, "override the settings seed (0 keeps it)")
		radius       = flag.Int("radius", -1, "clamp every LOD radius to this many chunks, at least 3 (-1 keeps settings)")
		viewerFlag   = flag.String("viewer", "", "viewer position x,y,z (default: snapshot viewer or origin)")
		snapPath     = flag.String("snapshot", "", "path to .snap.zst to verify against")
		editsDir     = flag.String("edits", "", "edit journal directory to replay (optional)")
		runs         = flag.Int("runs", 1, "generate this many times and require identical digests")
		timeout      = flag.Duration("timeout", 5*time.Minute, "give up after this long")
		verbose      = flag.Bool("v", false, "log generation")
	)
	flag.Parse()

	var logger *log.Logger
	if *verbose {
		logger = log.New(os.Stderr, "[replay] ", log.LstdFlags|log.Lmicroseconds)
	}

	var snap *snapshot.SnapshotV1
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		snap = &s
	}

	s, err := resolveSettings(*settingsPath, snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "settings:", err)
		os.Exit(2)
	}
	if *seed != 0 {
		s.Seed = *seed
	}
	if *radius >= 0 {
		s = clampRadius(s, *radius)
	}
	if snap != nil && s.Digest() != snap.Header.SettingsDigest {
		fmt.Fprintf(os.Stderr, "settings digest %s does not match snapshot %s\n", s.Digest(), snap.Header.SettingsDigest)
		os.Exit(2)
	}

	viewer := mgl32.Vec3{}
	if snap != nil {
		viewer = mgl32.Vec3{snap.Viewer[0], snap.Viewer[1], snap.Viewer[2]}
	}
	if *viewerFlag != "" {
		v, err := parseVec3(*viewerFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "viewer:", err)
			os.Exit(2)
		}
		viewer = v
	}
	if *runs < 1 {
		fmt.Fprintln(os.Stderr, "-runs must be >= 1")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var first [32]byte
	var hf *terrain.Heightfield
	for i := 0; i < *runs; i++ {
		start := time.Now()
		w, err := regenerate(ctx, s, viewer, *editsDir, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "regenerate:", err)
			os.Exit(1)
		}
		d := w.Digest()
		fmt.Printf("run=%d seed=%d settings=%s chunks=%d digest=%s elapsed=%s\n",
			i+1, s.Seed, s.Digest()[:12], len(w.LoadedKeys()), hex.EncodeToString(d[:]), time.Since(start).Round(time.Millisecond))
		if i == 0 {
			first, hf = d, w
			continue
		}
		if d != first {
			fmt.Fprintf(os.Stderr, "nondeterministic: run %d digest differs from run 1\n", i+1)
			os.Exit(1)
		}
	}

	if snap == nil {
		return
	}
	res := compareChunks(hf, snap.Chunks)
	for _, m := range res.Mismatches {
		fmt.Fprintf(os.Stderr, "mismatch chunk=%s reason=%s\n", m.Chunk, m.Reason)
	}
	fmt.Printf("snapshot seq=%d checked=%d matched=%d mismatched=%d\n", snap.Header.Seq, res.Checked, res.Matched, len(res.Mismatches))
	if len(res.Mismatches) > 0 {
		os.Exit(1)
	}
	fmt.Println("replay ok")
}

func resolveSettings(path string, snap *snapshot.SnapshotV1) (config.WorldGenSettings, error) {
	if path != "" {
		return config.Load(path)
	}
	if snap != nil && len(snap.Settings) > 0 {
		s := config.Defaults()
		if err := json.Unmarshal(snap.Settings, &s); err != nil {
			return s, fmt.Errorf("snapshot settings: %w", err)
		}
		return s, s.Validate()
	}
	return config.Defaults(), nil
}

// minReplayRadius is the smallest LOD2 ring that still leaves room for
// 1/2/3 rings, the least that passes validation.
const minReplayRadius = 3

// clampRadius shrinks the streaming radii so a replay covers at most r
// chunks around the viewer, never below minReplayRadius. Inner rings stay
// strictly inside outer ones. The result changes the settings digest.
func clampRadius(s config.WorldGenSettings, r int) config.WorldGenSettings {
	s.LOD2Radius = max(minReplayRadius, min(s.LOD2Radius, r))
	s.LOD1Radius = max(2, min(s.LOD1Radius, s.LOD2Radius-1))
	s.LOD0Radius = max(1, min(s.LOD0Radius, s.LOD1Radius-1))
	return s
}

// regenerate builds a fresh world and settles it at viewer with a single
// worker, so chunk order and therefore flatten order are fixed.
func regenerate(ctx context.Context, s config.WorldGenSettings, viewer mgl32.Vec3, editsDir string, logger *log.Logger) (*terrain.Heightfield, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s.Streaming.MaxConcurrent = 1

	eval := biome.NewEvaluator(s)
	hf := terrain.NewHeightfield(logger)
	engine := placement.NewEngine(s, eval, hf, logger)
	if editsDir == "" {
		// Flatten edits are journaled and replayed into later chunks, the
		// same as on a server, so a journal is needed even when empty.
		tmp, err := os.MkdirTemp("", "vibeheim-replay-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmp)
		editsDir = tmp
	}
	// Never flushed: re-recorded flatten edits stay in memory.
	edits := editlog.New(editsDir, s.ChunkWorldSize(), logger)
	pipe, err := pipeline.New(s, pipeline.Deps{Evaluator: eval, Placement: engine, Backend: hf, Edits: edits}, logger)
	if err != nil {
		return nil, err
	}
	sched := streaming.New(streaming.ConfigFrom(s), pipe, nil, logger)
	defer sched.Close()
	sched.Start(ctx)
	if err := sched.Settle(ctx, viewer); err != nil {
		return nil, err
	}
	return hf, nil
}

type mismatch struct {
	Chunk  string
	Reason string
}

type comparison struct {
	Checked    int
	Matched    int
	Mismatches []mismatch
}

// compareChunks checks every snapshot chunk against the regenerated one by
// LOD, resolution and height digest.
func compareChunks(hf *terrain.Heightfield, want []snapshot.ChunkV1) comparison {
	var out comparison
	for _, sc := range want {
		out.Checked++
		c := chunk.Coord{X: sc.X, Y: sc.Y, Z: sc.Z}
		got, ok := hf.Chunk(c)
		switch {
		case !ok:
			out.Mismatches = append(out.Mismatches, mismatch{c.Key(), "not generated"})
		case got.LOD != sc.LOD:
			out.Mismatches = append(out.Mismatches, mismatch{c.Key(), fmt.Sprintf("lod got=%d want=%d", got.LOD, sc.LOD)})
		case got.Resolution != sc.Resolution || len(sc.Heights) != len(got.Heights):
			out.Mismatches = append(out.Mismatches, mismatch{c.Key(), fmt.Sprintf("resolution got=%d want=%d", got.Resolution, sc.Resolution)})
		default:
			ref := terrain.Chunk{Coord: c, LOD: sc.LOD, Resolution: sc.Resolution, Heights: sc.Heights}
			gd, wd := got.Digest(), ref.Digest()
			if gd != wd {
				out.Mismatches = append(out.Mismatches, mismatch{c.Key(), "heights differ"})
				continue
			}
			out.Matched++
		}
	}
	return out
}

func parseVec3(s string) (mgl32.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl32.Vec3{}, fmt.Errorf("want x,y,z got %q", s)
	}
	var v mgl32.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return mgl32.Vec3{}, err
		}
		v[i] = float32(f)
	}
	return v, nil
}
