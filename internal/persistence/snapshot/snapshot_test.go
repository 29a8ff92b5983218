package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap", "1.snap.zst")

	in := SnapshotV1{
		Header:   Header{Version: Version, Seed: 1337, WorldGenVer: 1, SettingsDigest: "abc", Seq: 4},
		Settings: []byte(`{"seed":1337}`),
		Chunks: []ChunkV1{{
			X: 1, Y: -2, Z: 0, Resolution: 2,
			Heights: []float32{1.5, -2, 3.25, 0},
		}},
		Placements: []PlacementV1{{
			ID: "p1", Type: "MeadowsRuin", Biome: "Meadows",
			Pos: [3]float32{10, 20, 30}, Yaw: 90, Chunk: [3]int32{1, -2, 0},
			Spawned: true, Active: true,
		}},
		Streaming:      []StreamingV1{{Chunk: [3]int32{1, -2, 0}, LOD: 0}},
		PlacementStats: PlacementStatsV1{POIAttempts: 3, POISuccessful: 1, POIFailed: 2},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Seed != 1337 || h.Seq != 4 || h.SettingsDigest != "abc" {
		t.Fatalf("header=%+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out.Chunks) != 1 || out.Chunks[0].Heights[2] != 3.25 || out.Chunks[0].Y != -2 {
		t.Fatalf("chunks=%+v", out.Chunks)
	}
	if len(out.Placements) != 1 || out.Placements[0].Pos != in.Placements[0].Pos || !out.Placements[0].Active {
		t.Fatalf("placements=%+v", out.Placements)
	}
	if out.PlacementStats != in.PlacementStats {
		t.Fatalf("stats=%+v", out.PlacementStats)
	}
	if string(out.Settings) != `{"seed":1337}` {
		t.Fatalf("settings=%s", out.Settings)
	}
}

func TestReadSnapshotRejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v9.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 9}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestReadSnapshotMissing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error")
	}
}
