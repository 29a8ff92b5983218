package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"vibeheim.ai/internal/persistence/snapshot"
)

const snapSuffix = ".snap.zst"

type Meta struct {
	Seq            uint64 `json:"seq"`
	Seed           int64  `json:"seed"`
	SettingsDigest string `json:"settings_digest"`
	Snapshot       string `json:"snapshot"`
	CreatedAt      string `json:"created_at"`
	Chunks         int    `json:"chunks"`
	Placements     int    `json:"placements"`
}

type Entry struct {
	Path string
	Seq  uint64
}

// ListSnapshots returns worldDir/snapshots/<seq>.snap.zst files in seq order.
// A missing directory is not an error.
func ListSnapshots(worldDir string) ([]Entry, error) {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapSuffix) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, snapSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Path: filepath.Join(dir, name), Seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ArchiveSnapshot copies every Nth snapshot into
// `worldDir/archives/seq_<NNNNNN>/` next to a meta.json. every == 0 disables it.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, every uint64) (archivedPath string, archived bool, err error) {
	seq := snap.Header.Seq
	if every == 0 || seq == 0 || seq%every != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("seq_%06d", seq))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		Seq:            seq,
		Seed:           snap.Header.Seed,
		SettingsDigest: snap.Header.SettingsDigest,
		Snapshot:       filepath.Base(dst),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		Chunks:         len(snap.Chunks),
		Placements:     len(snap.Placements),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

// PruneSnapshots deletes all but the newest keep snapshots. Archived copies
// are untouched. keep <= 0 keeps everything.
func PruneSnapshots(worldDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	list, err := ListSnapshots(worldDir)
	if err != nil {
		return nil, err
	}
	if len(list) <= keep {
		return nil, nil
	}
	var removed []string
	for _, e := range list[:len(list)-keep] {
		if err := os.Remove(e.Path); err != nil {
			return removed, err
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
