package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/snapshot"
)

func smallSettings() config.WorldGenSettings {
	return clampRadius(config.Defaults(), minReplayRadius)
}

func TestRegenerateIsDeterministic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	viewer := mgl32.Vec3{800, 800, 800}

	a, err := regenerate(ctx, smallSettings(), viewer, "", nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	b, err := regenerate(ctx, smallSettings(), viewer, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(a.LoadedKeys()) == 0 {
		t.Fatalf("no chunks generated")
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("digests differ between runs")
	}

	res := compareChunks(b, a.ExportChunks())
	if res.Checked != len(a.LoadedKeys()) || res.Matched != res.Checked || len(res.Mismatches) != 0 {
		t.Fatalf("res=%+v", res)
	}
}

func TestCompareChunksReportsMismatches(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	hf, err := regenerate(ctx, smallSettings(), mgl32.Vec3{800, 800, 800}, "", nil)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	want := hf.ExportChunks()
	want[0].Heights[0] += 1
	want[1].LOD++
	missing := want[2]
	missing.X += 100
	want = append(want, missing)

	res := compareChunks(hf, want)
	if len(res.Mismatches) != 3 || res.Matched != res.Checked-3 {
		t.Fatalf("res=%+v", res)
	}
	reasons := map[string]bool{}
	for _, m := range res.Mismatches {
		reasons[m.Reason] = true
	}
	if !reasons["heights differ"] || !reasons["not generated"] {
		t.Fatalf("reasons=%v", reasons)
	}
}

func TestResolveSettings(t *testing.T) {
	s, err := resolveSettings("", nil)
	if err != nil || s.Digest() != config.Defaults().Digest() {
		t.Fatalf("defaults err=%v", err)
	}

	want := config.Defaults()
	want.Seed = 42
	raw, _ := json.Marshal(want)
	s, err = resolveSettings("", &snapshot.SnapshotV1{Settings: raw})
	if err != nil || s.Digest() != want.Digest() {
		t.Fatalf("snapshot settings seed=%d err=%v", s.Seed, err)
	}

	if _, err := resolveSettings("", &snapshot.SnapshotV1{Settings: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestClampRadius(t *testing.T) {
	cases := []struct {
		r          int
		r0, r1, r2 int
	}{
		{0, 1, 2, 3},
		{1, 1, 2, 3},
		{3, 1, 2, 3},
		{4, 2, 3, 4},
	}
	for _, tc := range cases {
		s := clampRadius(config.Defaults(), tc.r)
		if s.LOD0Radius != tc.r0 || s.LOD1Radius != tc.r1 || s.LOD2Radius != tc.r2 {
			t.Fatalf("r=%d radii=%d/%d/%d want=%d/%d/%d", tc.r, s.LOD0Radius, s.LOD1Radius, s.LOD2Radius, tc.r0, tc.r1, tc.r2)
		}
		if err := s.Validate(); err != nil {
			t.Fatalf("r=%d: %v", tc.r, err)
		}
	}
	s := clampRadius(config.Defaults(), 1000)
	if s.Digest() != config.Defaults().Digest() {
		t.Fatalf("large radius changed settings: %d/%d/%d", s.LOD0Radius, s.LOD1Radius, s.LOD2Radius)
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3("1, 2.5,-3")
	if err != nil || v != (mgl32.Vec3{1, 2.5, -3}) {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("expected error")
	}
}
