package editlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"vibeheim.ai/internal/worldgen/chunk"
)

// Superseded returns the indexes of ops made redundant by a later op of
// the same kind whose sphere fully contains them. Union of a contained
// sphere followed by its container equals the container alone, and the
// same holds for carving, so dropping these never changes the terrain.
func Superseded(ops []Op) []int {
	var out []int
	for i := range ops {
		for j := i + 1; j < len(ops); j++ {
			if ops[j].Operation == ops[i].Operation && ops[i].insideOf(ops[j]) {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// Compact flushes pending ops, then rewrites c's journal without
// superseded ops. The previous file is archived zstd-compressed under
// <root>/chunks/archive before the atomic replace.
func (l *Log) Compact(c chunk.Coord) (int, error) {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if err := l.flushLocked(); err != nil {
		return 0, err
	}
	ops, err := l.Read(c)
	if err != nil {
		return 0, err
	}
	drop := Superseded(ops)
	if len(drop) == 0 {
		return 0, nil
	}
	skip := make(map[int]bool, len(drop))
	for _, i := range drop {
		skip[i] = true
	}
	kept := make([]Op, 0, len(ops)-len(drop))
	for i, op := range ops {
		if !skip[i] {
			kept = append(kept, op)
		}
	}

	p := l.path(c)
	if err := l.archive(c, p); err != nil {
		return 0, fmt.Errorf("archive %s: %w", p, err)
	}
	if err := writeOps(p, kept); err != nil {
		return 0, err
	}
	l.logger.Printf("editlog: compacted chunk=%s removed=%d kept=%d", c.Key(), len(drop), len(kept))
	return len(drop), nil
}

func (l *Log) archive(c chunk.Coord, src string) (err error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	dir := filepath.Join(l.root, "chunks", "archive")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, fmt.Sprintf("chunk_%s.%d.jsonl.zst", c.Key(), l.now().UnixNano()))
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func writeOps(path string, ops []Op) (err error) {
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
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadArchive decodes an archived journal written by Compact.
func ReadArchive(path string) ([]Op, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return decode(dec, path)
}
