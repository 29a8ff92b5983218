package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	chunks := fs.Bool("chunks", false, "include the per-chunk scheduler view")
	_ = fs.Parse(args)

	path := "/admin/v1/state"
	if *chunks {
		path += "?chunks=1"
	}
	os.Exit(call(http.MethodGet, *baseURL, path, 5*time.Second))
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	os.Exit(call(http.MethodPost, *baseURL, "/admin/v1/snapshot", 10*time.Second))
}

func regressionCmd(args []string) {
	fs := flag.NewFlagSet("regression", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	n := fs.Int("n", 100, "number of recent samples to check")
	_ = fs.Parse(args)

	if *n <= 0 {
		fmt.Fprintln(os.Stderr, "-n must be positive")
		os.Exit(2)
	}
	q := url.Values{"n": {strconv.Itoa(*n)}}
	os.Exit(call(http.MethodGet, *baseURL, "/admin/v1/regression?"+q.Encode(), 10*time.Second))
}

// call prints the response body and returns the process exit code.
func call(method, baseURL, path string, timeout time.Duration) int {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(stdout, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
