package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"vibeheim.ai/schemas"
)

// Load reads a JSON or YAML settings file. Missing fields keep their
// defaults. On any failure Load returns Defaults() together with the error,
// so a caller that only logs the error still runs with sane settings.
func Load(path string) (WorldGenSettings, error) {
	s, err := load(path)
	if err != nil {
		return Defaults(), err
	}
	return s, nil
}

func load(path string) (WorldGenSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WorldGenSettings{}, err
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return WorldGenSettings{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		// Round trip through JSON so the schema sees JSON types.
		b, err := json.Marshal(doc)
		if err != nil {
			return WorldGenSettings{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		raw = b
		doc = nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return WorldGenSettings{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := schemas.Validate(schemas.WorldSettings, doc); err != nil {
		return WorldGenSettings{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	s := Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		return WorldGenSettings{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := s.Validate(); err != nil {
		return WorldGenSettings{}, err
	}
	return s, nil
}

// Save writes indented JSON, or YAML for .yaml/.yml paths, via a temp file
// and rename.
func (s WorldGenSettings) Save(path string) error {
	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(s)
	default:
		b, err = json.MarshalIndent(s, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
