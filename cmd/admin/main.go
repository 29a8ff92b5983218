package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

var stdout io.Writer = os.Stdout

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "regression":
			regressionCmd(os.Args[2:])
			return
		case "settings":
			settingsCmd(os.Args[2:])
			return
		case "editlog":
			editlogCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the world directories under -data with their size on disk.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		size, _ := dirSize(filepath.Join(base, e.Name()))
		fmt.Fprintf(stdout, "%s\t%s\n", e.Name(), humanize.IBytes(uint64(size)))
	}
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func worldDir(dataDir, world string) string {
	return filepath.Join(dataDir, "worlds", world)
}

func requireWorld(world string) {
	if strings.TrimSpace(world) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
}

// printJSON writes one document per line, indented when stdout is a terminal.
func printJSON(v any) {
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if f, ok := stdout.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
