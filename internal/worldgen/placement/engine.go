package placement

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/worldgen/biome"
	"vibeheim.ai/internal/worldgen/chunk"
	"vibeheim.ai/internal/worldgen/mathx"
	"vibeheim.ai/internal/worldgen/terrain"
)

const (
	SaltPOI    uint64 = 0x504F49
	SaltPortal uint64 = 0x504F5254414C

	WaterLevel = 0

	slopeSampleRadius = 5
	slopeSamples      = 8
)

const (
	ReasonProbability = "Spawn probability check failed"
	ReasonNoLocation  = "No valid location found"
	ReasonSpawnFailed = "Failed to spawn prefab"
)

// placementNamespace scopes the name-based instance ids.
var placementNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://vibeheim.ai/placement"))

// Terrain is the part of the backend placement needs: flatten requests and
// spawned representations.
type Terrain interface {
	ApplyCSGSphere(center mgl32.Vec3, radius float32, op terrain.CSGOp) error
	Spawn(s terrain.Spawnable) (terrain.Handle, error)
	Despawn(h terrain.Handle) bool
}

type Instance struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Location mgl32.Vec3     `json:"location"`
	Yaw      float32        `json:"yaw"`
	Biome    biome.Type     `json:"biome"`
	Chunk    chunk.Coord    `json:"chunk"`
	Spawned  bool           `json:"spawned"`
	Active   bool           `json:"active"`
	Handle   terrain.Handle `json:"handle"`
}

type Portal struct {
	Instance
	Target            string  `json:"target"`
	InteractionRadius float32 `json:"interaction_radius"`
}

type Result struct {
	Rule          string   `json:"rule"`
	Success       bool     `json:"success"`
	Instance      Instance `json:"instance"`
	FailureReason string   `json:"failure_reason,omitempty"`
	AttemptsUsed  int      `json:"attempts_used"`
}

type PortalResult struct {
	Rule          string `json:"rule"`
	Success       bool   `json:"success"`
	Portal        Portal `json:"portal"`
	FailureReason string `json:"failure_reason,omitempty"`
	AttemptsUsed  int    `json:"attempts_used"`
}

type Counters struct {
	TotalAttempts     int     `json:"total_attempts"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	AvgAttemptsPerPOI float32 `json:"avg_attempts_per_poi"`
}

type Stats struct {
	POI    Counters `json:"poi"`
	Portal Counters `json:"portal"`
}

func (c *Counters) add(success bool, attempts int) {
	c.TotalAttempts += attempts
	if success {
		c.Successful++
	} else {
		c.Failed++
	}
}

func (c Counters) withAverage() Counters {
	if c.Successful > 0 {
		c.AvgAttemptsPerPOI = float32(c.TotalAttempts) / float32(c.Successful)
	}
	return c
}

// Engine owns every placed instance. All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	seed      int64
	chunkSize float32
	eval      *biome.Evaluator
	terrain   Terrain
	logger    *log.Logger

	rules       map[string]Rule
	portalRules map[string]PortalRule

	chunkPOIs    map[chunk.Coord][]*Instance
	chunkPortals map[chunk.Coord][]*Portal
	poiDone      map[chunk.Coord]struct{}
	portalDone   map[chunk.Coord]struct{}

	all   []*Instance
	index *spacingIndex

	poiStats    Counters
	portalStats Counters
}

// NewEngine registers the default POI and portal rules. t may be nil, in
// which case nothing is flattened or spawned.
func NewEngine(s config.WorldGenSettings, eval *biome.Evaluator, t Terrain, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		seed:         s.Seed,
		chunkSize:    s.ChunkWorldSize(),
		eval:         eval,
		terrain:      t,
		logger:       logger,
		rules:        map[string]Rule{},
		portalRules:  map[string]PortalRule{},
		chunkPOIs:    map[chunk.Coord][]*Instance{},
		chunkPortals: map[chunk.Coord][]*Portal{},
		poiDone:      map[chunk.Coord]struct{}{},
		portalDone:   map[chunk.Coord]struct{}{},
		index:        newSpacingIndex(),
	}
	for _, r := range DefaultRules() {
		_ = e.AddRule(r)
	}
	for _, p := range DefaultPortalRules() {
		_ = e.AddPortalRule(p)
	}
	return e
}

// SetTerrain swaps the flatten/spawn target.
func (e *Engine) SetTerrain(t Terrain) {
	e.mu.Lock()
	e.terrain = t
	e.mu.Unlock()
}

// Seed derives the PRNG seed for one rule in one chunk.
func Seed(worldSeed int64, c chunk.Coord, typeName string, salt uint64) uint64 {
	var ch uint64
	for _, v := range [3]int32{c.X, c.Y, c.Z} {
		ch ^= uint64(int64(v)) + 0x9e3779b9 + (ch << 6) + (ch >> 2)
	}
	var th uint64
	for i := 0; i < len(typeName); i++ {
		th ^= uint64(typeName[i]) + 0x9e3779b9 + (th << 6) + (th >> 2)
	}
	return uint64(worldSeed) ^ ch ^ th ^ salt
}

func (e *Engine) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.Name] = r.clone()
	e.index.reserve(r.Name, r.MinSpacing)
	return nil
}

func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[name]; !ok {
		return false
	}
	delete(e.rules, name)
	return true
}

func (e *Engine) Rule(name string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[name]
	return r.clone(), ok
}

// Rules returns the POI rules in name order, including portal shadows.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, name := range sortedNames(e.rules) {
		out = append(out, e.rules[name].clone())
	}
	return out
}

// AddPortalRule also registers the portal type as a POI rule with zero
// probability, so spacing and validation treat it like any other type.
func (e *Engine) AddPortalRule(p PortalRule) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.InteractionRadius < 0 {
		return fmt.Errorf("%w: %s interaction_radius=%v negative", ErrInvalidRule, p.Name, p.InteractionRadius)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p.Rule = p.Rule.clone()
	e.portalRules[p.Name] = p
	e.rules[p.Name] = p.asPOI()
	e.index.reserve(p.Name, p.MinSpacing)
	return nil
}

func (e *Engine) RemovePortalRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.portalRules[name]; !ok {
		return false
	}
	delete(e.portalRules, name)
	delete(e.rules, name)
	return true
}

func (e *Engine) PortalRules() []PortalRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PortalRule, 0, len(e.portalRules))
	for _, name := range sortedNames(e.portalRules) {
		p := e.portalRules[name]
		p.Rule = p.Rule.clone()
		out = append(out, p)
	}
	return out
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GenerateForChunk tries every POI rule once for c. A chunk is only ever
// generated once until it is unloaded; later calls return nil.
func (e *Engine) GenerateForChunk(c chunk.Coord) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.poiDone[c]; ok {
		return nil
	}
	e.poiDone[c] = struct{}{}

	var results []Result
	for _, name := range sortedNames(e.rules) {
		r := e.rules[name]
		if r.SpawnProbability <= 0 {
			continue
		}
		in, reason, attempts := e.place(c, r, SaltPOI)
		res := Result{Rule: r.Name, AttemptsUsed: attempts}
		if in != nil {
			res.Success = true
			res.Instance = *in
			e.chunkPOIs[c] = append(e.chunkPOIs[c], in)
		} else {
			res.FailureReason = reason
		}
		e.poiStats.add(res.Success, attempts)
		results = append(results, res)
	}
	e.logger.Printf("placement chunk=%s pois=%d rules=%d", c, len(e.chunkPOIs[c]), len(results))
	return results
}

func (e *Engine) GeneratePortalsForChunk(c chunk.Coord) []PortalResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.portalDone[c]; ok {
		return nil
	}
	e.portalDone[c] = struct{}{}

	var results []PortalResult
	for _, name := range sortedNames(e.portalRules) {
		pr := e.portalRules[name]
		if pr.SpawnProbability <= 0 {
			continue
		}
		in, reason, attempts := e.place(c, pr.Rule, SaltPortal)
		res := PortalResult{Rule: pr.Name, AttemptsUsed: attempts}
		if in != nil {
			p := &Portal{Instance: *in, Target: pr.Target, InteractionRadius: pr.InteractionRadius}
			// The global list and the index must point at the portal's own copy.
			e.replace(in, &p.Instance)
			e.chunkPortals[c] = append(e.chunkPortals[c], p)
			res.Success = true
			res.Portal = *p
		} else {
			res.FailureReason = reason
		}
		e.portalStats.add(res.Success, attempts)
		results = append(results, res)
	}
	if n := len(e.chunkPortals[c]); n > 0 {
		e.logger.Printf("placement chunk=%s portals=%d", c, n)
	}
	return results
}

func (e *Engine) replace(old, next *Instance) {
	e.index.remove(old)
	for i, cur := range e.all {
		if cur == old {
			e.all[i] = next
			break
		}
	}
	e.index.insert(next)
}

// place runs the probability check and the retry loop for one rule. It
// returns the registered instance, or nil with the last failure reason.
// Caller holds e.mu.
func (e *Engine) place(c chunk.Coord, r Rule, salt uint64) (*Instance, string, int) {
	rng := mathx.NewRand(Seed(e.seed, c, r.Name, salt))
	if rng.Float32() > r.SpawnProbability {
		return nil, ReasonProbability, 0
	}

	origin := c.Origin(e.chunkSize)
	reason := ""
	attempts := 0
	for attempts < r.MaxRetryAttempts {
		attempts++
		x := origin.X() + rng.Range(0, e.chunkSize)
		y := origin.Y() + rng.Range(0, e.chunkSize)
		ev := e.eval.Evaluate(x, y, c)
		loc := mgl32.Vec3{x, y, ev.TerrainHeight}

		if ok, why := e.validate(loc, r, ev.Dominant()); !ok {
			reason = why
			continue
		}

		in := &Instance{
			ID:       uuid.NewSHA1(placementNamespace, []byte(fmt.Sprintf("%d/%s/%s", e.seed, c.Key(), r.Name))).String(),
			Type:     r.Name,
			Location: loc,
			Yaw:      rng.Range(0, 360),
			Biome:    ev.Dominant(),
			Chunk:    c,
			Active:   true,
		}
		if e.terrain != nil {
			// Terrain is only carved under an instance that exists.
			h, err := e.terrain.Spawn(terrain.Spawnable{Kind: r.Name, Pos: loc, Yaw: in.Yaw})
			if err != nil {
				reason = ReasonSpawnFailed
				continue
			}
			in.Handle = h
			in.Spawned = true
			if r.FlattenRadius > 0 {
				center := loc.Add(mgl32.Vec3{0, 0, r.FlattenRadius})
				if err := e.terrain.ApplyCSGSphere(center, r.FlattenRadius, terrain.CSGSubtract); err != nil {
					e.logger.Printf("placement flatten type=%s chunk=%s err=%v", r.Name, c, err)
				}
			}
		}
		e.all = append(e.all, in)
		e.index.insert(in)
		return in, "", attempts
	}
	if reason == "" {
		reason = ReasonNoLocation
	}
	e.logger.Printf("placement failed type=%s chunk=%s attempts=%d reason=%q", r.Name, c, attempts, reason)
	return nil, reason, attempts
}

// IsValidLocation evaluates loc against r without placing anything. The
// Z of loc is taken as the candidate height.
func (e *Engine) IsValidLocation(loc mgl32.Vec3, r Rule) (bool, string) {
	ev := e.eval.Evaluate(loc.X(), loc.Y(), chunk.FromWorld(loc, e.chunkSize))
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validate(loc, r, ev.Dominant())
}

func (e *Engine) validate(loc mgl32.Vec3, r Rule, dominant biome.Type) (bool, string) {
	if e.index.tooClose(r.Name, loc, r.MinSpacing) {
		return false, fmt.Sprintf("Spacing requirement not met (min: %.1fm)", r.MinSpacing)
	}
	if e.slope(loc) > r.MaxSlope {
		return false, fmt.Sprintf("Terrain too steep (max: %.1f degrees)", r.MaxSlope)
	}
	if loc.Z() < r.MinAltitude || loc.Z() > r.MaxAltitude {
		return false, fmt.Sprintf("Altitude out of range (%.1f - %.1f)", r.MinAltitude, r.MaxAltitude)
	}
	if loc.Z()-WaterLevel < r.MinWaterlineClearance {
		return false, fmt.Sprintf("Too close to water (min clearance: %.1fm)", r.MinWaterlineClearance)
	}
	if !r.allows(dominant) {
		return false, fmt.Sprintf("Biome not allowed (current: %s)", dominant)
	}
	return true, ""
}

// slope is the steepest angle in degrees from loc to a ring of samples.
func (e *Engine) slope(loc mgl32.Vec3) float32 {
	var maxDiff float32
	for i := 0; i < slopeSamples; i++ {
		a := 2 * math.Pi * float64(i) / slopeSamples
		x := loc.X() + float32(math.Cos(a))*slopeSampleRadius
		y := loc.Y() + float32(math.Sin(a))*slopeSampleRadius
		if d := mathx.Abs32(e.eval.Height(x, y) - loc.Z()); d > maxDiff {
			maxDiff = d
		}
	}
	return float32(math.Atan(float64(maxDiff/slopeSampleRadius)) * 180 / math.Pi)
}

// UnloadChunk despawns and forgets everything placed in c and returns how
// many instances left the global list.
func (e *Engine) UnloadChunk(c chunk.Coord) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var gone []*Instance
	gone = append(gone, e.chunkPOIs[c]...)
	for _, p := range e.chunkPortals[c] {
		gone = append(gone, &p.Instance)
	}
	delete(e.chunkPOIs, c)
	delete(e.chunkPortals, c)
	delete(e.poiDone, c)
	delete(e.portalDone, c)

	removed := 0
	for _, in := range gone {
		if in.Spawned && e.terrain != nil {
			e.terrain.Despawn(in.Handle)
		}
		e.index.remove(in)
		for i, cur := range e.all {
			if cur == in {
				e.all = append(e.all[:i], e.all[i+1:]...)
				removed++
				break
			}
		}
	}
	if removed > 0 {
		e.logger.Printf("placement unload chunk=%s removed=%d", c, removed)
	}
	return removed
}

// HasChunk reports whether POI placement already ran for c.
func (e *Engine) HasChunk(c chunk.Coord) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.poiDone[c]
	return ok
}

func (e *Engine) InstancesInChunk(c chunk.Coord) []Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Instance, 0, len(e.chunkPOIs[c]))
	for _, in := range e.chunkPOIs[c] {
		out = append(out, *in)
	}
	return out
}

// Instances returns every placed instance, portals included.
func (e *Engine) Instances() []Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Instance, 0, len(e.all))
	for _, in := range e.all {
		out = append(out, *in)
	}
	return out
}

func (e *Engine) Portals() []Portal {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Portal
	for _, c := range e.portalChunks() {
		for _, p := range e.chunkPortals[c] {
			out = append(out, *p)
		}
	}
	return out
}

func (e *Engine) portalChunks() []chunk.Coord {
	keys := make([]chunk.Coord, 0, len(e.chunkPortals))
	for k := range e.chunkPortals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return chunk.Less(keys[i], keys[j]) })
	return keys
}

func (e *Engine) PortalsInChunk(c chunk.Coord) []Portal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Portal, 0, len(e.chunkPortals[c]))
	for _, p := range e.chunkPortals[c] {
		out = append(out, *p)
	}
	return out
}

func (e *Engine) SetPortalActive(id string, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, list := range e.chunkPortals {
		for _, p := range list {
			if p.ID == id {
				p.Active = active
				return true
			}
		}
	}
	return false
}

// NearestPortal finds the closest active portal within maxDist of pos.
// maxDist <= 0 means no limit.
func (e *Engine) NearestPortal(pos mgl32.Vec3, maxDist float32) (Portal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var best *Portal
	bestDist := float32(math.MaxFloat32)
	for _, c := range e.portalChunks() {
		for _, p := range e.chunkPortals[c] {
			if !p.Active {
				continue
			}
			d := p.Location.Sub(pos).Len()
			if maxDist > 0 && d > maxDist {
				continue
			}
			if d < bestDist {
				best, bestDist = p, d
			}
		}
	}
	if best == nil {
		return Portal{}, false
	}
	return *best, true
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{POI: e.poiStats.withAverage(), Portal: e.portalStats.withAverage()}
}

func (e *Engine) ResetStats() {
	e.mu.Lock()
	e.poiStats = Counters{}
	e.portalStats = Counters{}
	e.mu.Unlock()
}
