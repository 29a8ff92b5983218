package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"vibeheim.ai/internal/config"
)

func settingsCmd(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin settings validate|fetch|defaults [flags]")
		os.Exit(2)
	}
	switch args[0] {
	case "validate":
		settingsValidateCmd(args[1:])
	case "fetch":
		settingsFetchCmd(args[1:])
	case "defaults":
		settingsDefaultsCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown settings command %q\n", args[0])
		os.Exit(2)
	}
}

type settingsReport struct {
	Path   string   `json:"path"`
	OK     bool     `json:"ok"`
	Seed   int64    `json:"seed,omitempty"`
	Digest string   `json:"digest,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func reportFor(path string, s config.WorldGenSettings, err error) settingsReport {
	r := settingsReport{Path: path, OK: err == nil}
	if err == nil {
		r.Seed = s.Seed
		r.Digest = s.Digest()
		return r
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			r.Errors = append(r.Errors, fe.Error())
		}
		return r
	}
	r.Errors = []string{err.Error()}
	return r
}

func settingsValidateCmd(args []string) {
	fs := flag.NewFlagSet("settings validate", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin settings validate <file>...")
		os.Exit(2)
	}
	code := 0
	for _, path := range fs.Args() {
		s, err := config.Load(path)
		r := reportFor(path, s, err)
		if !r.OK {
			code = 1
		}
		printJSON(r)
	}
	os.Exit(code)
}

func settingsFetchCmd(args []string) {
	fs := flag.NewFlagSet("settings fetch", flag.ExitOnError)
	src := fs.String("src", "", "go-getter source (http, s3, git, file)")
	dst := fs.String("dst", "./configs/worldgen.yaml", "destination file")
	timeout := fs.Duration("timeout", 60*time.Second, "download timeout")
	_ = fs.Parse(args)

	if *src == "" {
		fmt.Fprintln(os.Stderr, "missing -src")
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	s, err := config.Fetch(ctx, *src, *dst)
	r := reportFor(*dst, s, err)
	printJSON(r)
	if !r.OK {
		cancel()
		os.Exit(1)
	}
}

func settingsDefaultsCmd(args []string) {
	fs := flag.NewFlagSet("settings defaults", flag.ExitOnError)
	out := fs.String("out", "", "write to this .json/.yaml file instead of stdout")
	_ = fs.Parse(args)

	s := config.Defaults()
	if *out == "" {
		printJSON(s)
		return
	}
	if err := s.Save(*out); err != nil {
		fmt.Fprintln(os.Stderr, "save:", err)
		os.Exit(1)
	}
	fmt.Fprintf(stdout, "wrote %s digest=%s\n", *out, s.Digest())
}
