// Package pipeline runs one chunk generation job: biome sampling, first-load
// placement, vegetation density and the backend mesh build. It is the
// scheduler's Generator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/editlog"
	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/placement"
	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
	"vibeheim.ai/internal/worldgen/terrain"
	"vibeheim.ai/internal/worldgen/vegetation"
)

var ErrMissingDependency = errors.New("missing dependency")

// Deps are the collaborators a Pipeline drives. Vegetation and Edits are
// optional; the rest are required.
type Deps struct {
	Evaluator  *biome.Evaluator
	Placement  *placement.Engine
	Vegetation *vegetation.System
	Backend    terrain.Backend
	Edits      *editlog.Log
	Profiler   *profiler.Profiler
}

type Pipeline struct {
	settings  config.WorldGenSettings
	chunkSize float32
	eval      *biome.Evaluator
	engine    *placement.Engine
	veg       *vegetation.System
	backend   terrain.Backend
	edits     *editlog.Log
	prof      *profiler.Profiler
	fallback  *terrain.Fallback
	logger    *log.Logger

	mu         sync.Mutex
	vegetation map[chunk.Coord]vegetation.ChunkData
}

// New checks deps, initializes the backend if needed and points the
// placement engine's flatten and spawn calls at it. Flatten edits are
// journaled when an edit log is present.
func New(s config.WorldGenSettings, d Deps, logger *log.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	switch {
	case d.Evaluator == nil:
		return nil, fmt.Errorf("pipeline: biome evaluator: %w", ErrMissingDependency)
	case d.Placement == nil:
		return nil, fmt.Errorf("pipeline: placement engine: %w", ErrMissingDependency)
	case d.Backend == nil:
		return nil, fmt.Errorf("pipeline: terrain backend: %w", ErrMissingDependency)
	}
	if !d.Backend.IsInitialized() {
		if err := d.Backend.Initialize(s); err != nil {
			return nil, fmt.Errorf("pipeline: initialize backend: %w", err)
		}
	}
	if d.Vegetation == nil {
		d.Vegetation = vegetation.New(d.Evaluator, s.ChunkWorldSize())
	}
	p := &Pipeline{
		settings:   s,
		chunkSize:  s.ChunkWorldSize(),
		eval:       d.Evaluator,
		engine:     d.Placement,
		veg:        d.Vegetation,
		backend:    d.Backend,
		edits:      d.Edits,
		prof:       d.Profiler,
		fallback:   terrain.NewFallback(s),
		logger:     logger,
		vegetation: map[chunk.Coord]vegetation.ChunkData{},
	}
	d.Placement.SetTerrain(journaled{backend: d.Backend, edits: d.Edits, once: true})
	return p, nil
}

// journaled forwards placement's terrain calls to the backend and records
// CSG edits so chunks that load later replay them.
type journaled struct {
	backend terrain.Backend
	edits   *editlog.Log
	// once drops an edit the journal already holds. Placement reruns on
	// every reload and its flattens are already replayed from the journal.
	once bool
}

func (j journaled) ApplyCSGSphere(center mgl32.Vec3, radius float32, op terrain.CSGOp) error {
	if j.edits != nil {
		if j.once {
			dup, err := j.edits.Contains(center, radius, int(op))
			if err != nil {
				return fmt.Errorf("journal lookup: %w", err)
			}
			if dup {
				return nil
			}
		}
		j.edits.Record(center, radius, int(op))
	}
	return j.backend.ApplyCSGSphere(center, radius, op)
}

func (j journaled) Spawn(s terrain.Spawnable) (terrain.Handle, error) { return j.backend.Spawn(s) }

func (j journaled) Despawn(h terrain.Handle) bool { return j.backend.Despawn(h) }

func (p *Pipeline) Engine() *placement.Engine { return p.engine }

func (p *Pipeline) Backend() terrain.Backend { return p.backend }

// Edit applies a player or tool CSG edit to loaded terrain and journals it.
func (p *Pipeline) Edit(center mgl32.Vec3, radius float32, op terrain.CSGOp) error {
	return journaled{backend: p.backend, edits: p.edits}.ApplyCSGSphere(center, radius, op)
}

func (p *Pipeline) resolution(lod streaming.LOD) int {
	return terrain.Resolution(p.settings.ChunkSize, int(lod))
}

func vegetationResolution(lod streaming.LOD) int {
	n := vegetation.DefaultResolution >> uint(lod)
	if n < 1 {
		n = 1
	}
	return n
}

func (p *Pipeline) startTimer(req streaming.Request) *profiler.Timer {
	prof := p.prof
	if prof == nil {
		prof = profiler.New(p.settings.Performance, nil)
	}
	return prof.StartTimer(req.Coord, int(req.LOD))
}

// Generate realizes req.Coord at req.LOD.
func (p *Pipeline) Generate(ctx context.Context, req streaming.Request) (streaming.Result, error) {
	c := req.Coord
	n := p.resolution(req.LOD)
	timer := p.startTimer(req)
	res := streaming.Result{Biomes: map[string]int{}}

	timer.Phase(profiler.PhaseBiome)
	heights := terrain.SampleGrid(c, p.chunkSize, n, func(x, y float32) float32 {
		ev := p.eval.Evaluate(x, y, c)
		res.Biomes[ev.Dominant().String()]++
		return ev.TerrainHeight
	})
	if err := ctx.Err(); err != nil {
		return res, err
	}

	timer.Phase(profiler.PhasePlacement)
	if !p.engine.HasChunk(c) {
		for _, r := range p.engine.GenerateForChunk(c) {
			if r.Success {
				res.Placements++
			}
		}
		for _, r := range p.engine.GeneratePortalsForChunk(c) {
			if r.Success {
				res.Portals++
			}
		}
	} else {
		res.Placements = len(p.engine.InstancesInChunk(c))
		res.Portals = len(p.engine.PortalsInChunk(c))
	}
	veg := p.veg.ChunkData(c, vegetationResolution(req.LOD))
	p.mu.Lock()
	p.vegetation[c] = veg
	p.mu.Unlock()

	timer.Phase(profiler.PhaseMesh)
	if req.LOD == streaming.LOD0 && p.edits != nil {
		applied, err := p.edits.Replay(c, func(op editlog.Op) error {
			_, err := terrain.ApplyToGrid(c, p.chunkSize, n, heights, op.CenterVec(), op.Radius, terrain.CSGOp(op.Operation))
			return err
		})
		if err != nil {
			return res, fmt.Errorf("generate %s: %w", c, err)
		}
		if applied > 0 {
			p.logger.Printf("pipeline: replayed chunk=%s edits=%d", c.Key(), applied)
		}
	}
	mesh, err := p.backend.BuildChunk(ctx, terrain.ChunkBuild{
		Coord:      c,
		LOD:        int(req.LOD),
		Collision:  req.Collision,
		Heights:    heights,
		Resolution: n,
	})
	if err != nil {
		return res, fmt.Errorf("generate %s: %w", c, err)
	}

	res.Sample = timer.Stop()
	res.Sample.MemoryBytes = mesh.MemoryBytes
	res.Sample.Triangles = mesh.Triangles
	res.Sample.Collision = mesh.Collision
	return res, nil
}

// Fallback builds req.Coord from the single-octave fallback surface at the
// coarsest resolution so the chunk is never left empty.
func (p *Pipeline) Fallback(ctx context.Context, req streaming.Request, cause error) (streaming.Result, error) {
	timer := p.startTimer(req)
	timer.Phase(profiler.PhaseMesh)
	p.logger.Printf("pipeline: fallback chunk=%s lod=%s cause=%v", req.Coord.Key(), req.LOD, cause)
	b := p.fallback.Build(terrain.ChunkBuild{
		Coord:      req.Coord,
		LOD:        int(req.LOD),
		Collision:  req.Collision,
		Resolution: p.resolution(streaming.LOD2),
	})
	mesh, err := p.backend.BuildChunk(ctx, b)
	if err != nil {
		return streaming.Result{}, fmt.Errorf("fallback %s: %w", req.Coord, err)
	}
	res := streaming.Result{Sample: timer.Stop()}
	res.Sample.MemoryBytes = mesh.MemoryBytes
	res.Sample.Triangles = mesh.Triangles
	res.Sample.Collision = mesh.Collision
	return res, nil
}

// Unload drops c's placements, vegetation and terrain.
func (p *Pipeline) Unload(c chunk.Coord) {
	n := p.engine.UnloadChunk(c)
	p.backend.UnloadChunk(c)
	p.mu.Lock()
	delete(p.vegetation, c)
	p.mu.Unlock()
	if n > 0 {
		p.logger.Printf("pipeline: unloaded chunk=%s placements=%d", c.Key(), n)
	}
}

// Vegetation returns the density grid computed on c's last load.
func (p *Pipeline) Vegetation(c chunk.Coord) (vegetation.ChunkData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.vegetation[c]
	return d, ok
}
