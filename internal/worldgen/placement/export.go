package placement

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/terrain"
)

func toV1(in *Instance) snapshot.PlacementV1 {
	return snapshot.PlacementV1{
		ID:      in.ID,
		Type:    in.Type,
		Biome:   in.Biome.String(),
		Pos:     [3]float32{in.Location.X(), in.Location.Y(), in.Location.Z()},
		Yaw:     in.Yaw,
		Chunk:   [3]int32{in.Chunk.X, in.Chunk.Y, in.Chunk.Z},
		Spawned: in.Spawned,
		Active:  in.Active,
	}
}

// Export returns every placed instance in chunk order plus the counters.
func (e *Engine) Export() ([]snapshot.PlacementV1, snapshot.PlacementStatsV1) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]chunk.Coord, 0, len(e.poiDone))
	for k := range e.poiDone {
		keys = append(keys, k)
	}
	for k := range e.portalDone {
		if _, ok := e.poiDone[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return chunk.Less(keys[i], keys[j]) })

	var out []snapshot.PlacementV1
	for _, c := range keys {
		for _, in := range e.chunkPOIs[c] {
			out = append(out, toV1(in))
		}
		for _, p := range e.chunkPortals[c] {
			v := toV1(&p.Instance)
			v.Portal = true
			v.Target = p.Target
			v.Interact = p.InteractionRadius
			out = append(out, v)
		}
	}
	stats := snapshot.PlacementStatsV1{
		POIAttempts:      e.poiStats.TotalAttempts,
		POISuccessful:    e.poiStats.Successful,
		POIFailed:        e.poiStats.Failed,
		PortalAttempts:   e.portalStats.TotalAttempts,
		PortalSuccessful: e.portalStats.Successful,
		PortalFailed:     e.portalStats.Failed,
	}
	return out, stats
}

// ExportChunk returns the instances and portals placed in c.
func (e *Engine) ExportChunk(c chunk.Coord) []snapshot.PlacementV1 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []snapshot.PlacementV1
	for _, in := range e.chunkPOIs[c] {
		out = append(out, toV1(in))
	}
	for _, p := range e.chunkPortals[c] {
		v := toV1(&p.Instance)
		v.Portal = true
		v.Target = p.Target
		v.Interact = p.InteractionRadius
		out = append(out, v)
	}
	return out
}

// Import replaces all placement state. Chunks holding an imported instance
// count as generated. Instances that were spawned are spawned again so
// they get live handles.
func (e *Engine) Import(list []snapshot.PlacementV1, stats snapshot.PlacementStatsV1) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, in := range e.all {
		if in.Spawned && e.terrain != nil {
			e.terrain.Despawn(in.Handle)
		}
	}
	e.chunkPOIs = map[chunk.Coord][]*Instance{}
	e.chunkPortals = map[chunk.Coord][]*Portal{}
	e.poiDone = map[chunk.Coord]struct{}{}
	e.portalDone = map[chunk.Coord]struct{}{}
	e.all = nil
	e.index = newSpacingIndex()
	for name, r := range e.rules {
		e.index.reserve(name, r.MinSpacing)
	}

	for _, v := range list {
		b, err := biome.Parse(v.Biome)
		if err != nil {
			return fmt.Errorf("placement %s: %w", v.ID, err)
		}
		c := chunk.Coord{X: v.Chunk[0], Y: v.Chunk[1], Z: v.Chunk[2]}
		in := Instance{
			ID:       v.ID,
			Type:     v.Type,
			Location: mgl32.Vec3{v.Pos[0], v.Pos[1], v.Pos[2]},
			Yaw:      v.Yaw,
			Biome:    b,
			Chunk:    c,
			Active:   v.Active,
		}
		if v.Spawned && e.terrain != nil {
			h, err := e.terrain.Spawn(terrain.Spawnable{Kind: in.Type, Pos: in.Location, Yaw: in.Yaw})
			if err != nil {
				return fmt.Errorf("placement %s: respawn: %w", v.ID, err)
			}
			in.Handle = h
			in.Spawned = true
		}
		e.poiDone[c] = struct{}{}
		e.portalDone[c] = struct{}{}
		if v.Portal {
			p := &Portal{Instance: in, Target: v.Target, InteractionRadius: v.Interact}
			e.chunkPortals[c] = append(e.chunkPortals[c], p)
			e.all = append(e.all, &p.Instance)
			e.index.insert(&p.Instance)
			continue
		}
		ptr := &in
		e.chunkPOIs[c] = append(e.chunkPOIs[c], ptr)
		e.all = append(e.all, ptr)
		e.index.insert(ptr)
	}

	e.poiStats = Counters{TotalAttempts: stats.POIAttempts, Successful: stats.POISuccessful, Failed: stats.POIFailed}
	e.portalStats = Counters{TotalAttempts: stats.PortalAttempts, Successful: stats.PortalSuccessful, Failed: stats.PortalFailed}
	return nil
}
