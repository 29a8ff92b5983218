package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version        int    `json:"version"`
	Seed           int64  `json:"seed"`
	WorldGenVer    int    `json:"world_gen_version"`
	SettingsDigest string `json:"settings_digest"`
	CreatedUnixMs  int64  `json:"created_unix_ms"`
	Seq            uint64 `json:"seq"`
}

// SnapshotV1 is everything needed to resume a world without regenerating:
// terrain heightfields of loaded chunks, spawned placements and the
// streaming state.
type SnapshotV1 struct {
	Header Header `json:"header"`

	// Settings is the canonical JSON of the settings the world was built with.
	Settings []byte `json:"settings"`

	// Viewer is the streaming focus when the snapshot was taken.
	Viewer [3]float32 `json:"viewer"`

	Chunks     []ChunkV1     `json:"chunks"`
	Placements []PlacementV1 `json:"placements"`
	Streaming  []StreamingV1 `json:"streaming"`

	PlacementStats PlacementStatsV1 `json:"placement_stats"`
}

type ChunkV1 struct {
	X          int32     `json:"x"`
	Y          int32     `json:"y"`
	Z          int32     `json:"z"`
	LOD        int       `json:"lod"`
	Resolution int       `json:"resolution"`
	Heights    []float32 `json:"heights"`
	Edits      int       `json:"edits,omitempty"`
}

type PlacementV1 struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Biome    string     `json:"biome"`
	Pos      [3]float32 `json:"pos"`
	Yaw      float32    `json:"yaw"`
	Chunk    [3]int32   `json:"chunk"`
	Spawned  bool       `json:"spawned"`
	Active   bool       `json:"active"`
	Portal   bool       `json:"portal,omitempty"`
	Target   string     `json:"target,omitempty"`
	Interact float32    `json:"interaction_radius,omitempty"`
}

type StreamingV1 struct {
	Chunk [3]int32 `json:"chunk"`
	LOD   int      `json:"lod"`
}

type PlacementStatsV1 struct {
	POIAttempts      int `json:"poi_attempts"`
	POISuccessful    int `json:"poi_successful"`
	POIFailed        int `json:"poi_failed"`
	PortalAttempts   int `json:"portal_attempts"`
	PortalSuccessful int `json:"portal_successful"`
	PortalFailed     int `json:"portal_failed"`
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is duplicated inside the gob body.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
