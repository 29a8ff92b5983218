package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/indexdb"
	"vibeheim.ai/internal/persistence/snapshot"
	"vibeheim.ai/internal/worldgen/profiler"
	"vibeheim.ai/internal/worldgen/streaming"
)

type runtimeIndex interface {
	WriteEvent(ev streaming.Event) error
	WriteSample(s profiler.Sample) error
	RecordPlacements(list []snapshot.PlacementV1)
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	UpsertSettings(ws config.WorldGenSettings) error
	Stats() indexdb.Stats
	Close() error
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VH_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported VH_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
