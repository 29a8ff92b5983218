// Package editlog journals terrain CSG edits per chunk so they survive
// unloads and restarts. Each chunk has one JSONL file under
// <root>/chunks/chunk_X_Y_Z.jsonl.
package editlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/schemas"
)

const (
	OpAdd      = 0
	OpSubtract = 1
)

// Op is one CSG sphere edit as stored on disk.
type Op struct {
	Center    [3]float32 `json:"center"`
	Radius    float32    `json:"radius"`
	Operation int        `json:"operation"`
	Chunk     [3]int32   `json:"chunk"`
	Timestamp int64      `json:"timestamp"`
}

func (o Op) CenterVec() mgl32.Vec3 { return mgl32.Vec3{o.Center[0], o.Center[1], o.Center[2]} }

func (o Op) Coord() chunk.Coord { return chunk.Coord{X: o.Chunk[0], Y: o.Chunk[1], Z: o.Chunk[2]} }

// insideOf reports whether o's sphere lies entirely inside b's.
func (o Op) insideOf(b Op) bool {
	return o.CenterVec().Sub(b.CenterVec()).Len()+o.Radius <= b.Radius
}

type Log struct {
	root      string
	chunkSize float32
	logger    *log.Logger
	now       func() time.Time

	// ioMu orders disk access: held from Flush's swap until its writes
	// land, and from Replay's file read until it has copied pending.
	ioMu sync.Mutex

	mu      sync.Mutex
	pending map[chunk.Coord][]Op
	dirty   bool
}

func New(root string, chunkWorldSize float32, logger *log.Logger) *Log {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Log{
		root:      root,
		chunkSize: chunkWorldSize,
		logger:    logger,
		now:       time.Now,
		pending:   map[chunk.Coord][]Op{},
	}
}

func (l *Log) Root() string { return l.root }

func (l *Log) path(c chunk.Coord) string {
	return filepath.Join(l.root, "chunks", fmt.Sprintf("chunk_%d_%d_%d.jsonl", c.X, c.Y, c.Z))
}

// Overlapping lists every chunk whose box the sphere touches.
func (l *Log) Overlapping(center mgl32.Vec3, radius float32) []chunk.Coord {
	r := mgl32.Vec3{radius, radius, radius}
	lo := chunk.FromWorld(center.Sub(r), l.chunkSize)
	hi := chunk.FromWorld(center.Add(r), l.chunkSize)
	var out []chunk.Coord
	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				out = append(out, chunk.Coord{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// Record buffers op for every chunk it overlaps and returns those chunks.
// Nothing touches disk until Flush.
func (l *Log) Record(center mgl32.Vec3, radius float32, operation int) []chunk.Coord {
	coords := l.Overlapping(center, radius)
	ts := l.now().Unix()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range coords {
		l.pending[c] = append(l.pending[c], Op{
			Center:    [3]float32{center.X(), center.Y(), center.Z()},
			Radius:    radius,
			Operation: operation,
			Chunk:     [3]int32{c.X, c.Y, c.Z},
			Timestamp: ts,
		})
	}
	l.dirty = true
	return coords
}

func (l *Log) HasDirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Pending counts buffered ops across all chunks.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ops := range l.pending {
		n += len(ops)
	}
	return n
}

// Flush appends buffered ops to their chunk files. Ops whose write fails
// stay buffered for the next flush.
func (l *Log) Flush() error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	return l.flushLocked()
}

// flushLocked is Flush for callers holding ioMu.
func (l *Log) flushLocked() error {
	l.mu.Lock()
	batch := l.pending
	l.pending = map[chunk.Coord][]Op{}
	l.dirty = false
	l.mu.Unlock()

	var errs []error
	failed := map[chunk.Coord][]Op{}
	for _, c := range sortedCoords(batch) {
		if err := l.appendOps(c, batch[c]); err != nil {
			errs = append(errs, fmt.Errorf("flush chunk %s: %w", c.Key(), err))
			failed[c] = batch[c]
		}
	}
	if len(failed) > 0 {
		l.mu.Lock()
		for c, ops := range failed {
			l.pending[c] = append(ops, l.pending[c]...)
		}
		l.dirty = true
		l.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (l *Log) appendOps(c chunk.Coord, ops []Op) error {
	p := l.path(c)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, op := range ops {
		b, err := json.Marshal(op)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Read returns the flushed ops of c in file order. A missing file is empty.
func (l *Log) Read(c chunk.Coord) ([]Op, error) {
	p := l.path(c)
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f, p)
}

func decode(r io.Reader, name string) ([]Op, error) {
	var out []Op
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		if err := schemas.Validate(schemas.EditOp, doc); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		var op Op
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		out = append(out, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Replay feeds c's flushed ops, then its still-buffered ops, to apply in
// order. It stops at the first error.
func (l *Log) Replay(c chunk.Coord, apply func(Op) error) (int, error) {
	ops, err := l.ops(c)
	if err != nil {
		return 0, err
	}

	for i, op := range ops {
		if err := apply(op); err != nil {
			return i, fmt.Errorf("replay chunk %s op %d: %w", c.Key(), i, err)
		}
	}
	return len(ops), nil
}

// ops returns c's flushed then buffered ops as one consistent view.
func (l *Log) ops(c chunk.Coord) ([]Op, error) {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	ops, err := l.Read(c)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	ops = append(ops, l.pending[c]...)
	l.mu.Unlock()
	return ops, nil
}

// Contains reports whether the chunk holding center already journals this
// exact sphere edit, flushed or buffered.
func (l *Log) Contains(center mgl32.Vec3, radius float32, operation int) (bool, error) {
	ops, err := l.ops(chunk.FromWorld(center, l.chunkSize))
	if err != nil {
		return false, err
	}
	want := [3]float32{center.X(), center.Y(), center.Z()}
	for _, op := range ops {
		if op.Center == want && op.Radius == radius && op.Operation == operation {
			return true, nil
		}
	}
	return false, nil
}

// Chunks lists every chunk that has a journal file.
func (l *Log) Chunks() ([]chunk.Coord, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, "chunks"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []chunk.Coord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		c, err := chunk.ParseKey(strings.TrimSuffix(strings.TrimPrefix(name, "chunk_"), ".jsonl"))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return chunk.Less(out[i], out[j]) })
	return out, nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (l *Log) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := l.Flush(); err != nil {
				l.logger.Printf("editlog: final flush: %v", err)
			}
			return
		case <-t.C:
			if !l.HasDirty() {
				continue
			}
			if err := l.Flush(); err != nil {
				l.logger.Printf("editlog: flush: %v", err)
			}
		}
	}
}

func sortedCoords(m map[chunk.Coord][]Op) []chunk.Coord {
	keys := make([]chunk.Coord, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return chunk.Less(keys[i], keys[j]) })
	return keys
}
