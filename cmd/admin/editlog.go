package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"vibeheim.ai/internal/config"
	"vibeheim.ai/internal/persistence/editlog"
	"vibeheim.ai/internal/worldgen/chunk"
)

func editlogCmd(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin editlog compact|show [flags]")
		os.Exit(2)
	}
	switch args[0] {
	case "compact":
		editlogCompactCmd(args[1:])
	case "show":
		editlogShowCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown editlog command %q\n", args[0])
		os.Exit(2)
	}
}

func openEditLog(dataDir, world string, verbose bool) *editlog.Log {
	requireWorld(world)
	var logger *log.Logger
	if verbose {
		logger = log.New(os.Stderr, "[admin] ", log.LstdFlags)
	}
	// Record is never called here, so the chunk size only has to be valid.
	return editlog.New(filepath.Join(worldDir(dataDir, world), "edits"), config.Defaults().ChunkWorldSize(), logger)
}

type compactResult struct {
	Chunk   string `json:"chunk"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// compactChunks compacts the given chunks, or every journaled chunk when
// keys is empty.
func compactChunks(l *editlog.Log, keys []string) ([]compactResult, error) {
	var coords []chunk.Coord
	if len(keys) == 0 {
		all, err := l.Chunks()
		if err != nil {
			return nil, err
		}
		coords = all
	}
	for _, k := range keys {
		c, err := chunk.ParseKey(k)
		if err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	out := make([]compactResult, 0, len(coords))
	for _, c := range coords {
		n, err := l.Compact(c)
		r := compactResult{Chunk: c.Key(), Removed: n}
		if err != nil {
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	return out, nil
}

func editlogCompactCmd(args []string) {
	fs := flag.NewFlagSet("editlog compact", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world directory name")
	chunks := fs.String("chunk", "", "comma separated chunk keys x_y_z (default: all)")
	verbose := fs.Bool("v", false, "log each compaction")
	_ = fs.Parse(args)

	l := openEditLog(*dataDir, *world, *verbose)
	var keys []string
	for _, k := range strings.Split(*chunks, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	res, err := compactChunks(l, keys)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compact:", err)
		os.Exit(1)
	}
	code := 0
	for _, r := range res {
		if r.Error != "" {
			code = 1
		}
		printJSON(r)
	}
	os.Exit(code)
}

func editlogShowCmd(args []string) {
	fs := flag.NewFlagSet("editlog show", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	world := fs.String("world", "", "world directory name")
	key := fs.String("chunk", "", "chunk key x_y_z (omit to list journaled chunks)")
	archive := fs.String("archive", "", "read this archived journal instead")
	_ = fs.Parse(args)

	if *archive != "" {
		ops, err := editlog.ReadArchive(*archive)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read archive:", err)
			os.Exit(1)
		}
		for _, op := range ops {
			printJSON(op)
		}
		return
	}

	l := openEditLog(*dataDir, *world, false)
	if *key == "" {
		coords, err := l.Chunks()
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		for _, c := range coords {
			fmt.Fprintln(stdout, c.Key())
		}
		return
	}
	c, err := chunk.ParseKey(*key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ops, err := l.Read(c)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, op := range ops {
		printJSON(op)
	}
}
