package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type queryOpts struct {
	Limit int
	Kind  string
	Type  string
	LOD   int
	Chunk string
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world directory name (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	kind := fs.String("kind", "", "event kind filter (generations)")
	typ := fs.String("type", "", "placement type filter (placements)")
	lod := fs.Int("lod", -1, "lod filter (generations, perf)")
	chunkKey := fs.String("chunk", "", "chunk filter x_y_z (generations, placements)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		requireWorld(*world)
		path = filepath.Join(worldDir(*dataDir, *world), "index", "world.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := queryOpts{Limit: *limit, Kind: *kind, Type: *typ, LOD: *lod, Chunk: *chunkKey}
	if err := runQuery(db, q, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// where accumulates AND-ed filters.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) chunk(key string) error {
	if key == "" {
		return nil
	}
	var x, y, z int32
	if _, err := fmt.Sscanf(key, "%d_%d_%d", &x, &y, &z); err != nil {
		return fmt.Errorf("bad -chunk %q: want x_y_z", key)
	}
	w.add("cx=? AND cy=? AND cz=?", x, y, z)
	return nil
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func runQuery(db *sql.DB, q string, opts queryOpts) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT seq,path,seed,settings_digest,chunks,placements,created_unix_ms FROM snapshots ORDER BY seq DESC LIMIT ?`, opts.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq            uint64 `json:"seq"`
				Path           string `json:"path"`
				Seed           int64  `json:"seed"`
				SettingsDigest string `json:"settings_digest"`
				Chunks         int    `json:"chunks"`
				Placements     int    `json:"placements"`
				CreatedUnixMs  int64  `json:"created_unix_ms"`
			}
			if err := rows.Scan(&r.Seq, &r.Path, &r.Seed, &r.SettingsDigest, &r.Chunks, &r.Placements, &r.CreatedUnixMs); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		return rows.Err()

	case "settings":
		rows, err := db.Query(`SELECT s.digest,s.seed,s.world_gen_version,s.recorded_at,COALESCE(m.value,'')=s.digest FROM settings s LEFT JOIN meta m ON m.key='settings_digest' ORDER BY s.recorded_at DESC LIMIT ?`, opts.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Digest          string `json:"digest"`
				Seed            int64  `json:"seed"`
				WorldGenVersion int    `json:"world_gen_version"`
				RecordedAt      string `json:"recorded_at"`
				Current         bool   `json:"current"`
			}
			if err := rows.Scan(&r.Digest, &r.Seed, &r.WorldGenVersion, &r.RecordedAt, &r.Current); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		return rows.Err()

	case "generations":
		var w where
		if opts.Kind != "" {
			w.add("kind=?", opts.Kind)
		}
		if opts.LOD >= 0 {
			w.add("lod=?", opts.LOD)
		}
		if err := w.chunk(opts.Chunk); err != nil {
			return err
		}
		rows, err := db.Query(`SELECT seq,time,kind,cx,cy,cz,lod,total_ms,triangles,memory_bytes,fallback,discarded,placements,portals,COALESCE(dominant_biome,''),COALESCE(error,'') FROM generations`+w.String()+` ORDER BY seq DESC LIMIT ?`, append(w.args, opts.Limit)...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq           int64    `json:"seq"`
				Time          string   `json:"time"`
				Kind          string   `json:"kind"`
				Chunk         [3]int32 `json:"chunk"`
				LOD           int      `json:"lod"`
				TotalMs       float64  `json:"total_ms"`
				Triangles     int      `json:"triangles"`
				MemoryBytes   int64    `json:"memory_bytes"`
				Fallback      bool     `json:"fallback"`
				Discarded     bool     `json:"discarded"`
				Placements    int      `json:"placements"`
				Portals       int      `json:"portals"`
				DominantBiome string   `json:"dominant_biome,omitempty"`
				Error         string   `json:"error,omitempty"`
			}
			if err := rows.Scan(&r.Seq, &r.Time, &r.Kind, &r.Chunk[0], &r.Chunk[1], &r.Chunk[2], &r.LOD, &r.TotalMs, &r.Triangles, &r.MemoryBytes,
				&r.Fallback, &r.Discarded, &r.Placements, &r.Portals, &r.DominantBiome, &r.Error); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		return rows.Err()

	case "placements":
		var w where
		if opts.Type != "" {
			w.add("type=?", opts.Type)
		}
		if err := w.chunk(opts.Chunk); err != nil {
			return err
		}
		rows, err := db.Query(`SELECT id,type,biome,x,y,z,yaw,cx,cy,cz,portal,COALESCE(target,''),active FROM placements`+w.String()+` ORDER BY cx,cy,cz,id LIMIT ?`, append(w.args, opts.Limit)...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID     string     `json:"id"`
				Type   string     `json:"type"`
				Biome  string     `json:"biome"`
				Pos    [3]float32 `json:"pos"`
				Yaw    float32    `json:"yaw"`
				Chunk  [3]int32   `json:"chunk"`
				Portal bool       `json:"portal,omitempty"`
				Target string     `json:"target,omitempty"`
				Active bool       `json:"active"`
			}
			if err := rows.Scan(&r.ID, &r.Type, &r.Biome, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Yaw, &r.Chunk[0], &r.Chunk[1], &r.Chunk[2],
				&r.Portal, &r.Target, &r.Active); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		return rows.Err()

	case "perf":
		var w where
		if opts.LOD >= 0 {
			w.add("lod=?", opts.LOD)
		}
		row := db.QueryRow(`SELECT COUNT(*),COALESCE(AVG(total_ms),0),COALESCE(MAX(total_ms),0),COALESCE(AVG(biome_ms),0),COALESCE(AVG(placement_ms),0),COALESCE(AVG(mesh_ms),0),COALESCE(MAX(triangles),0),COALESCE(SUM(fallback),0) FROM perf_samples`+w.String(), w.args...)
		var r struct {
			LOD            *int    `json:"lod,omitempty"`
			Count          int     `json:"count"`
			AvgMs          float64 `json:"avg_ms"`
			MaxMs          float64 `json:"max_ms"`
			AvgBiomeMs     float64 `json:"avg_biome_ms"`
			AvgPlacementMs float64 `json:"avg_placement_ms"`
			AvgMeshMs      float64 `json:"avg_mesh_ms"`
			MaxTriangles   int     `json:"max_triangles"`
			Fallbacks      int     `json:"fallbacks"`
		}
		if err := row.Scan(&r.Count, &r.AvgMs, &r.MaxMs, &r.AvgBiomeMs, &r.AvgPlacementMs, &r.AvgMeshMs, &r.MaxTriangles, &r.Fallbacks); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if opts.LOD >= 0 {
			lod := opts.LOD
			r.LOD = &lod
		}
		printJSON(r)
		return nil

	default:
		return fmt.Errorf("unknown query %q (want snapshots|settings|generations|placements|perf)", q)
	}
}
