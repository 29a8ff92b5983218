package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	get "github.com/hashicorp/go-getter"
)

// Fetch downloads a single settings file from any go-getter source
// (http, s3, git, local path) to dst, then loads it. The file is kept even
// when it fails validation so it can be inspected.
func Fetch(ctx context.Context, src, dst string) (WorldGenSettings, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return Defaults(), err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Defaults(), err
	}
	c := &get.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: get.ClientModeFile,
	}
	if err := c.Get(); err != nil {
		return Defaults(), fmt.Errorf("fetch settings %s: %w", src, err)
	}
	return Load(dst)
}
