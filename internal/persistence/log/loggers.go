package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
)

type LoggerOptions struct {
	Level zstd.EncoderLevel
	Now   func() time.Time
}

// JSONLZstdWriter appends one JSON document per line to an hourly file
// <baseDir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	level   zstd.EncoderLevel
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	if opts.Level == 0 {
		opts.Level = zstd.SpeedFastest
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		level:   opts.Level,
		now:     opts.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	p := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(w.level))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the rotated files of prefix under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadJSONL decodes every line of a file written by JSONLZstdWriter. A file
// reopened within the same hour holds several zstd frames; they decode as
// one stream.
func ReadJSONL(path string, fn func(raw json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return scanLines(dec, path, fn)
}

func scanLines(r io.Reader, name string, fn func(json.RawMessage) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		if !json.Valid(b) {
			return fmt.Errorf("%s:%d: invalid json", name, line)
		}
		if err := fn(append(json.RawMessage(nil), b...)); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ChunkEventEntry is one scheduler completion as written to the events log.
type ChunkEventEntry struct {
	Time        time.Time      `json:"time"`
	Kind        string         `json:"kind"`
	Chunk       [3]int32       `json:"chunk"`
	LOD         string         `json:"lod"`
	TotalMs     float64        `json:"total_ms,omitempty"`
	Triangles   int            `json:"triangles,omitempty"`
	MemoryBytes int64          `json:"memory_bytes,omitempty"`
	Fallback    bool           `json:"fallback,omitempty"`
	Discarded   bool           `json:"discarded,omitempty"`
	Placements  int            `json:"placements,omitempty"`
	Portals     int            `json:"portals,omitempty"`
	Biomes      map[string]int `json:"biomes,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func ChunkEventFrom(ev streaming.Event) ChunkEventEntry {
	e := ChunkEventEntry{
		Time:        ev.Time.UTC(),
		Kind:        string(ev.Kind),
		Chunk:       [3]int32{ev.Coord.X, ev.Coord.Y, ev.Coord.Z},
		LOD:         ev.LOD.String(),
		TotalMs:     ev.Result.Sample.TotalMs,
		Triangles:   ev.Result.Sample.Triangles,
		MemoryBytes: ev.Result.Sample.MemoryBytes,
		Fallback:    ev.Result.Sample.Fallback,
		Discarded:   ev.Discarded,
		Placements:  ev.Result.Placements,
		Portals:     ev.Result.Portals,
		Biomes:      ev.Result.Biomes,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

// EventLogger writes one JSONL entry per chunk event (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(worldDir string) *EventLogger {
	return NewEventLoggerWithOptions(worldDir, LoggerOptions{})
}

func NewEventLoggerWithOptions(worldDir string, opts LoggerOptions) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(worldDir, "events"), "events", opts)}
}

func (l *EventLogger) WriteEvent(ev streaming.Event) error { return l.w.Write(ChunkEventFrom(ev)) }
func (l *EventLogger) Close() error                        { return l.w.Close() }

// PerfEntry is one profiler sample as written to the perf log.
type PerfEntry struct {
	Time        time.Time `json:"time"`
	Chunk       [3]int32  `json:"chunk"`
	LOD         int       `json:"lod"`
	TotalMs     float64   `json:"total_ms"`
	BiomeMs     float64   `json:"biome_ms"`
	PlacementMs float64   `json:"placement_ms"`
	MeshMs      float64   `json:"mesh_ms"`
	MemoryBytes int64     `json:"memory_bytes"`
	Triangles   int       `json:"triangles"`
	Collision   bool      `json:"collision,omitempty"`
	Fallback    bool      `json:"fallback,omitempty"`
}

func PerfEntryFrom(s profiler.Sample) PerfEntry {
	return PerfEntry{
		Time:        s.Time.UTC(),
		Chunk:       [3]int32{s.Chunk.X, s.Chunk.Y, s.Chunk.Z},
		LOD:         s.LOD,
		TotalMs:     s.TotalMs,
		BiomeMs:     s.BiomeMs,
		PlacementMs: s.PlacementMs,
		MeshMs:      s.MeshMs,
		MemoryBytes: s.MemoryBytes,
		Triangles:   s.Triangles,
		Collision:   s.Collision,
		Fallback:    s.Fallback,
	}
}

// PerfLogger writes profiler samples (compressed).
type PerfLogger struct{ w *JSONLZstdWriter }

func NewPerfLogger(worldDir string) *PerfLogger {
	return NewPerfLoggerWithOptions(worldDir, LoggerOptions{})
}

func NewPerfLoggerWithOptions(worldDir string, opts LoggerOptions) *PerfLogger {
	return &PerfLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(worldDir, "perf"), "perf", opts)}
}

func (l *PerfLogger) WriteSample(s profiler.Sample) error { return l.w.Write(PerfEntryFrom(s)) }
func (l *PerfLogger) Close() error                        { return l.w.Close() }
