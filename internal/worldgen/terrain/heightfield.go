package terrain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/mathx"
)

// Chunk is one realized heightfield. Samples are laid out row-major in +Y
// with spacing worldSize/(Resolution-1), so neighbouring chunks share edges.
type Chunk struct {
	Coord      chunk.Coord
	LOD        int
	Resolution int
	Heights    []float32
	Collision  bool
	Edits      int

	dirty bool
	hash  [32]byte
}

func (c *Chunk) index(i, j int) int { return i + j*c.Resolution }

func (c *Chunk) Get(i, j int) float32 { return c.Heights[c.index(i, j)] }

func (c *Chunk) Set(i, j int, h float32) {
	k := c.index(i, j)
	if c.Heights[k] == h {
		return
	}
	c.Heights[k] = h
	c.dirty = true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [4]byte
		for _, v := range c.Heights {
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Heightfield is the reference Backend. It keeps heights for loaded chunks,
// applies CSG spheres to them and accounts mesh cost the way a real voxel
// backend would report it.
type Heightfield struct {
	mu sync.Mutex

	settings  config.WorldGenSettings
	chunkSize float32
	ready     bool

	chunks  map[chunk.Coord]*Chunk
	rebuild map[chunk.Coord]struct{}
	viewer  mgl32.Vec3

	spawned Arena[Spawnable]

	// FailBuild, when set, is consulted before every build. Tests use it to
	// exercise the fallback path.
	FailBuild func(c chunk.Coord, lod int) error

	logger *log.Logger
}

func NewHeightfield(logger *log.Logger) *Heightfield {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Heightfield{
		chunks:  map[chunk.Coord]*Chunk{},
		rebuild: map[chunk.Coord]struct{}{},
		logger:  logger,
	}
}

func (h *Heightfield) Initialize(s config.WorldGenSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("heightfield init: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = s
	h.chunkSize = s.ChunkWorldSize()
	h.ready = true
	h.logger.Printf("heightfield initialized seed=%d chunk_world_size=%.0f", s.Seed, h.chunkSize)
	return nil
}

func (h *Heightfield) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *Heightfield) BuildWorldAsync(viewer mgl32.Vec3) {
	h.mu.Lock()
	h.viewer = viewer
	h.mu.Unlock()
}

// Tick processes queued rebuilds.
func (h *Heightfield) Tick(time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rebuild {
		if ch := h.chunks[c]; ch != nil {
			_ = ch.Digest()
		}
		delete(h.rebuild, c)
	}
}

func (h *Heightfield) BuildChunk(ctx context.Context, b ChunkBuild) (Mesh, error) {
	if err := ctx.Err(); err != nil {
		return Mesh{}, err
	}
	h.mu.Lock()
	ready := h.ready
	size := h.chunkSize
	chunkSize := h.settings.ChunkSize
	fail := h.FailBuild
	h.mu.Unlock()

	if !ready {
		return Mesh{}, ErrNotInitialized
	}
	if fail != nil {
		if err := fail(b.Coord, b.LOD); err != nil {
			return Mesh{}, err
		}
	}

	n := b.Resolution
	if n <= 0 {
		n = Resolution(chunkSize, b.LOD)
	}
	heights := b.Heights
	if heights == nil {
		if b.Height == nil {
			return Mesh{}, fmt.Errorf("build chunk %v: no height source", b.Coord)
		}
		heights = SampleGrid(b.Coord, size, n, b.Height)
	} else if len(heights) != n*n {
		return Mesh{}, fmt.Errorf("build chunk %v: heights length %d want %d", b.Coord, len(heights), n*n)
	}

	ch := &Chunk{
		Coord:      b.Coord,
		LOD:        b.LOD,
		Resolution: n,
		Heights:    heights,
		Collision:  b.Collision,
	}
	_ = ch.Digest()

	h.mu.Lock()
	h.chunks[b.Coord] = ch
	h.mu.Unlock()

	tris, bytes := MeshCost(n)
	return Mesh{Resolution: n, Triangles: tris, MemoryBytes: bytes, Collision: b.Collision}, nil
}

// SampleGrid evaluates f on the n x n edge-inclusive grid of a chunk.
func SampleGrid(c chunk.Coord, worldSize float32, n int, f HeightFunc) []float32 {
	out := make([]float32, n*n)
	o := c.Origin(worldSize)
	step := worldSize / float32(n-1)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			out[i+j*n] = f(o.X()+float32(i)*step, o.Y()+float32(j)*step)
		}
	}
	return out
}

func (h *Heightfield) RebuildChunk(c chunk.Coord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return ErrNotInitialized
	}
	if _, ok := h.chunks[c]; !ok {
		return fmt.Errorf("rebuild %v: %w", c, ErrChunkNotLoaded)
	}
	h.rebuild[c] = struct{}{}
	return nil
}

func (h *Heightfield) UnloadChunk(c chunk.Coord) {
	h.mu.Lock()
	delete(h.chunks, c)
	delete(h.rebuild, c)
	h.mu.Unlock()
}

// ApplyCSGSphere unions (add) or carves (subtract) a sphere into every
// loaded chunk it overlaps. Chunks that are not loaded are untouched; the
// edit log replays the op when they load.
func (h *Heightfield) ApplyCSGSphere(center mgl32.Vec3, radius float32, op CSGOp) error {
	if radius <= 0 {
		return fmt.Errorf("csg sphere: radius %v", radius)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return ErrNotInitialized
	}
	for _, ch := range h.chunks {
		if applySphere(ch, h.chunkSize, center, radius, op) {
			ch.Edits++
			h.rebuild[ch.Coord] = struct{}{}
		}
	}
	return nil
}

func applySphere(ch *Chunk, worldSize float32, center mgl32.Vec3, r float32, op CSGOp) bool {
	o := ch.Coord.Origin(worldSize)
	if center.X()+r < o.X() || center.X()-r > o.X()+worldSize ||
		center.Y()+r < o.Y() || center.Y()-r > o.Y()+worldSize ||
		center.Z()+r < o.Z() || center.Z()-r > o.Z()+worldSize {
		return false
	}
	n := ch.Resolution
	step := worldSize / float32(n-1)
	changed := false
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			dx := o.X() + float32(i)*step - center.X()
			dy := o.Y() + float32(j)*step - center.Y()
			d2 := float32(dx*dx) + float32(dy*dy)
			if d2 > r*r {
				continue
			}
			rise := mathx.Sqrt32(r*r - d2)
			cur := ch.Get(i, j)
			next := cur
			switch op {
			case CSGAdd:
				if top := center.Z() + rise; top > cur {
					next = top
				}
			case CSGSubtract:
				if bottom := center.Z() - rise; bottom < cur {
					next = bottom
				}
			}
			if next != cur {
				ch.Set(i, j, next)
				changed = true
			}
		}
	}
	return changed
}

func (h *Heightfield) Spawn(s Spawnable) (Handle, error) {
	if !h.IsInitialized() {
		return Handle{}, ErrNotInitialized
	}
	return h.spawned.Insert(s), nil
}

func (h *Heightfield) Despawn(hd Handle) bool { return h.spawned.Remove(hd) }

func (h *Heightfield) Valid(hd Handle) bool { return h.spawned.Valid(hd) }

func (h *Heightfield) Spawned() int { return h.spawned.Len() }

// Chunk returns a copy of a loaded chunk.
func (h *Heightfield) Chunk(c chunk.Coord) (Chunk, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chunks[c]
	if !ok {
		return Chunk{}, false
	}
	out := *ch
	out.Heights = append([]float32(nil), ch.Heights...)
	return out, true
}

// HeightAt reads the stored heightfield at a world position, if loaded.
func (h *Heightfield) HeightAt(x, y float32) (float32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := chunk.FromWorld(mgl32.Vec3{x, y, 0}, h.chunkSize)
	ch, ok := h.chunks[c]
	if !ok {
		return 0, false
	}
	o := c.Origin(h.chunkSize)
	step := h.chunkSize / float32(ch.Resolution-1)
	i := int(mathx.FloorToInt32((x - o.X()) / step))
	j := int(mathx.FloorToInt32((y - o.Y()) / step))
	if i < 0 || j < 0 || i >= ch.Resolution || j >= ch.Resolution {
		return 0, false
	}
	return ch.Get(i, j), true
}

func (h *Heightfield) LoadedKeys() []chunk.Coord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.chunks)
}

func sortedKeys(m map[chunk.Coord]*Chunk) []chunk.Coord {
	keys := make([]chunk.Coord, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return chunk.Less(keys[i], keys[j]) })
	return keys
}

// Digest hashes every loaded chunk in coordinate order.
func (h *Heightfield) Digest() [32]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	sum := sha256.New()
	var tmp [12]byte
	for _, k := range sortedKeys(h.chunks) {
		binary.LittleEndian.PutUint32(tmp[0:], uint32(k.X))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(k.Y))
		binary.LittleEndian.PutUint32(tmp[8:], uint32(k.Z))
		sum.Write(tmp[:])
		d := h.chunks[k].Digest()
		sum.Write(d[:])
	}
	var out [32]byte
	copy(out[:], sum.Sum(nil))
	return out
}

// ExportChunks converts loaded chunks into snapshot chunks.
func (h *Heightfield) ExportChunks() []snapshot.ChunkV1 {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := sortedKeys(h.chunks)
	out := make([]snapshot.ChunkV1, 0, len(keys))
	for _, k := range keys {
		ch := h.chunks[k]
		heights := make([]float32, len(ch.Heights))
		copy(heights, ch.Heights)
		out = append(out, snapshot.ChunkV1{
			X: k.X, Y: k.Y, Z: k.Z,
			LOD:        ch.LOD,
			Resolution: ch.Resolution,
			Heights:    heights,
			Edits:      ch.Edits,
		})
	}
	return out
}

// ImportChunks replaces loaded chunks with snapshot chunks.
func (h *Heightfield) ImportChunks(chunks []snapshot.ChunkV1) error {
	next := make(map[chunk.Coord]*Chunk, len(chunks))
	for _, sc := range chunks {
		if sc.Resolution < 2 {
			return fmt.Errorf("snapshot chunk (%d, %d, %d): resolution %d", sc.X, sc.Y, sc.Z, sc.Resolution)
		}
		if len(sc.Heights) != sc.Resolution*sc.Resolution {
			return fmt.Errorf("snapshot chunk (%d, %d, %d): heights length mismatch: got %d want %d",
				sc.X, sc.Y, sc.Z, len(sc.Heights), sc.Resolution*sc.Resolution)
		}
		c := chunk.Coord{X: sc.X, Y: sc.Y, Z: sc.Z}
		heights := make([]float32, len(sc.Heights))
		copy(heights, sc.Heights)
		ch := &Chunk{Coord: c, LOD: sc.LOD, Resolution: sc.Resolution, Heights: heights, Edits: sc.Edits}
		_ = ch.Digest()
		next[c] = ch
	}
	h.mu.Lock()
	h.chunks = next
	h.rebuild = map[chunk.Coord]struct{}{}
	h.mu.Unlock()
	return nil
}

// ApplyToGrid applies one CSG sphere to an n x n grid laid out like
// SampleGrid's output for chunk c. It reports whether any sample moved.
func ApplyToGrid(c chunk.Coord, worldSize float32, n int, heights []float32, center mgl32.Vec3, radius float32, op CSGOp) (bool, error) {
	if radius <= 0 {
		return false, fmt.Errorf("csg sphere: radius %v", radius)
	}
	if n < 2 || len(heights) != n*n {
		return false, fmt.Errorf("csg grid %v: %d samples for resolution %d", c, len(heights), n)
	}
	ch := &Chunk{Coord: c, Resolution: n, Heights: heights}
	return applySphere(ch, worldSize, center, radius, op), nil
}
