// Package indexdb keeps a queryable SQLite read-model of what the world
// generator did: chunk generations, placements, profiler samples and the
// settings a world was built with. The JSONL logs and snapshots remain the
// source of truth; writes here are best effort and dropped under load.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
)

const SchemaVersion = "1"

const (
	queueCapacity = 262144
	commitEvery   = 2000
	commitMaxWait = 2 * time.Second
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropGeneration atomic.Uint64
	dropPerf       atomic.Uint64
	dropPlacement  atomic.Uint64
	dropSnapshot   atomic.Uint64
	writeErrors    atomic.Uint64
	written        atomic.Uint64
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropGenerationTotal uint64 `json:"drop_generation_total"`
	DropPerfTotal       uint64 `json:"drop_perf_total"`
	DropPlacementTotal  uint64 `json:"drop_placement_total"`
	DropSnapshotTotal   uint64 `json:"drop_snapshot_total"`
	WriteErrorTotal     uint64 `json:"write_error_total"`
	WrittenTotal        uint64 `json:"written_total"`
}

type reqKind int

const (
	reqGeneration reqKind = iota + 1
	reqPerf
	reqPlacements
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	generation generationRow
	perf       profiler.Sample
	placements []snapshot.PlacementV1
	snapshot   snapshotRow
	done       chan struct{}
}

type generationRow struct {
	Time          time.Time
	Kind          string
	Chunk         [3]int32
	LOD           int
	TotalMs       float64
	Triangles     int
	MemoryBytes   int64
	Fallback      bool
	Discarded     bool
	Placements    int
	Portals       int
	DominantBiome string
	Error         string
}

type snapshotRow struct {
	Seq            uint64
	Path           string
	Seed           int64
	SettingsDigest string
	Chunks         int
	Placements     int
	CreatedUnixMs  int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Large buffer: a viewer teleport can complete hundreds of chunks at once.
		ch: make(chan req, queueCapacity),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			digest TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			world_gen_version INTEGER NOT NULL,
			json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS generations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			lod INTEGER NOT NULL,
			total_ms REAL NOT NULL,
			triangles INTEGER NOT NULL,
			memory_bytes INTEGER NOT NULL,
			fallback INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			placements INTEGER NOT NULL,
			portals INTEGER NOT NULL,
			dominant_biome TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generations_chunk ON generations(cx, cy, cz, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_generations_kind ON generations(kind, seq);`,
		`CREATE TABLE IF NOT EXISTS placements (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			biome TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			yaw REAL NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			portal INTEGER NOT NULL,
			target TEXT,
			active INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_type ON placements(type);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_chunk ON placements(cx, cy, cz);`,
		`CREATE TABLE IF NOT EXISTS perf_samples (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			lod INTEGER NOT NULL,
			total_ms REAL NOT NULL,
			biome_ms REAL NOT NULL,
			placement_ms REAL NOT NULL,
			mesh_ms REAL NOT NULL,
			memory_bytes INTEGER NOT NULL,
			triangles INTEGER NOT NULL,
			fallback INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_perf_lod ON perf_samples(lod, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			settings_digest TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			placements INTEGER NOT NULL,
			created_unix_ms INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// DB exposes the handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropGenerationTotal: s.dropGeneration.Load(),
		DropPerfTotal:       s.dropPerf.Load(),
		DropPlacementTotal:  s.dropPlacement.Load(),
		DropSnapshotTotal:   s.dropSnapshot.Load(),
		WriteErrorTotal:     s.writeErrors.Load(),
		WrittenTotal:        s.written.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

// WriteEvent indexes one scheduler event.
func (s *SQLiteIndex) WriteEvent(ev streaming.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	row := generationRow{
		Time:          ev.Time,
		Kind:          string(ev.Kind),
		Chunk:         [3]int32{ev.Coord.X, ev.Coord.Y, ev.Coord.Z},
		LOD:           int(ev.LOD),
		TotalMs:       ev.Result.Sample.TotalMs,
		Triangles:     ev.Result.Sample.Triangles,
		MemoryBytes:   ev.Result.Sample.MemoryBytes,
		Fallback:      ev.Result.Sample.Fallback,
		Discarded:     ev.Discarded,
		Placements:    ev.Result.Placements,
		Portals:       ev.Result.Portals,
		DominantBiome: dominant(ev.Result.Biomes),
	}
	if ev.Err != nil {
		row.Error = ev.Err.Error()
	}
	s.enqueue(req{kind: reqGeneration, generation: row}, &s.dropGeneration)
	return nil
}

// dominant picks the most sampled biome, ties broken by name.
func dominant(hist map[string]int) string {
	names := make([]string, 0, len(hist))
	for k := range hist {
		names = append(names, k)
	}
	sort.Strings(names)
	best, n := "", 0
	for _, k := range names {
		if hist[k] > n {
			best, n = k, hist[k]
		}
	}
	return best
}

func (s *SQLiteIndex) WriteSample(sample profiler.Sample) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqPerf, perf: sample}, &s.dropPerf)
	return nil
}

// RecordPlacements upserts placement rows by id.
func (s *SQLiteIndex) RecordPlacements(list []snapshot.PlacementV1) {
	if s == nil || s.closed.Load() || len(list) == 0 {
		return
	}
	cp := append([]snapshot.PlacementV1(nil), list...)
	s.enqueue(req{kind: reqPlacements, placements: cp}, &s.dropPlacement)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Seq:            snap.Header.Seq,
		Path:           path,
		Seed:           snap.Header.Seed,
		SettingsDigest: snap.Header.SettingsDigest,
		Chunks:         len(snap.Chunks),
		Placements:     len(snap.Placements),
		CreatedUnixMs:  snap.Header.CreatedUnixMs,
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// Sync blocks until every request queued before it is committed, or ctx
// ends.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertSettings stores the canonical settings under their digest and marks
// them current. It writes synchronously; it runs once at startup.
func (s *SQLiteIndex) UpsertSettings(ws config.WorldGenSettings) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	digest := ws.Digest()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, SchemaVersion); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('settings_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO settings(digest,seed,world_gen_version,json,recorded_at) VALUES(?,?,?,?,?)`,
		digest, ws.Seed, ws.WorldGenVersion, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// Meta reads one meta value; ok is false when the key is absent.
func (s *SQLiteIndex) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertGeneration, _ := s.db.Prepare(`INSERT INTO generations(time,kind,cx,cy,cz,lod,total_ms,triangles,memory_bytes,fallback,discarded,placements,portals,dominant_biome,error) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertPerf, _ := s.db.Prepare(`INSERT INTO perf_samples(time,cx,cy,cz,lod,total_ms,biome_ms,placement_ms,mesh_ms,memory_bytes,triangles,fallback) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertPlacement, _ := s.db.Prepare(`INSERT OR REPLACE INTO placements(id,type,biome,x,y,z,yaw,cx,cy,cz,portal,target,active) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,path,seed,settings_digest,chunks,placements,created_unix_ms) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertGeneration, insertPerf, insertPlacement, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqGeneration:
			g := r.generation
			exec(insertGeneration,
				g.Time.UTC().Format(time.RFC3339Nano),
				g.Kind,
				g.Chunk[0], g.Chunk[1], g.Chunk[2],
				g.LOD,
				g.TotalMs,
				g.Triangles,
				g.MemoryBytes,
				boolInt(g.Fallback),
				boolInt(g.Discarded),
				g.Placements,
				g.Portals,
				g.DominantBiome,
				g.Error,
			)

		case reqPerf:
			p := r.perf
			exec(insertPerf,
				p.Time.UTC().Format(time.RFC3339Nano),
				p.Chunk.X, p.Chunk.Y, p.Chunk.Z,
				p.LOD,
				p.TotalMs,
				p.BiomeMs,
				p.PlacementMs,
				p.MeshMs,
				p.MemoryBytes,
				p.Triangles,
				boolInt(p.Fallback),
			)

		case reqPlacements:
			for _, p := range r.placements {
				if !exec(insertPlacement,
					p.ID, p.Type, p.Biome,
					p.Pos[0], p.Pos[1], p.Pos[2],
					p.Yaw,
					p.Chunk[0], p.Chunk[1], p.Chunk[2],
					boolInt(p.Portal),
					p.Target,
					boolInt(p.Active),
				) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot,
				int64(sn.Seq),
				sn.Path,
				sn.Seed,
				sn.SettingsDigest,
				sn.Chunks,
				sn.Placements,
				sn.CreatedUnixMs,
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
