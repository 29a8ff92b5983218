package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeEvent     = "EVENT"
)

// Event kinds. The chunk kinds match the scheduler's event names.
const (
	KindChunkLoaded   = "chunk_loaded"
	KindChunkUnloaded = "chunk_unloaded"
	KindChunkFailed   = "chunk_failed"
	KindChunkFallback = "chunk_fallback"
	KindPlacement     = "placement"
	KindStats         = "stats"
)

// AllKinds is the default subscription.
var AllKinds = []string{KindChunkLoaded, KindChunkUnloaded, KindChunkFailed, KindChunkFallback, KindPlacement, KindStats}

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the event filter. An empty Events list means all kinds.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Events          []string `json:"events,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	SettingsDigest  string      `json:"settings_digest"`
	WorldParams     WorldParams `json:"world_params"`
	Biomes          []string    `json:"biomes"`
}

type WorldParams struct {
	Seed           int64   `json:"seed"`
	ChunkSize      int     `json:"chunk_size"`
	VoxelSizeCm    float32 `json:"voxel_size_cm"`
	ChunkWorldSize float32 `json:"chunk_world_size"`
	LODRadii       [3]int  `json:"lod_radii"`
}

// Server -> Client. Seq increases by one per published event across all
// kinds, so a client filtering kinds sees gaps but never reordering.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Kind            string `json:"kind"`
	TimeMs          int64  `json:"time_ms"`

	Chunk     *[3]int32      `json:"chunk,omitempty"`
	LOD       *int           `json:"lod,omitempty"`
	GenMs     float64        `json:"gen_ms,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Placement *PlacementInfo `json:"placement,omitempty"`
	Stats     *StatsInfo     `json:"stats,omitempty"`
}

type PlacementInfo struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	Biome  string     `json:"biome,omitempty"`
	Portal bool       `json:"portal,omitempty"`
	Pos    [3]float32 `json:"pos"`
}

type StatsInfo struct {
	Loaded     int     `json:"loaded"`
	Generating int     `json:"generating"`
	Queued     int     `json:"queued"`
	AvgGenMs   float64 `json:"avg_gen_ms"`
	P95GenMs   float64 `json:"p95_gen_ms"`
}
