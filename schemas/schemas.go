// Package schemas embeds the JSON schemas for settings files, edit-log lines
// and observer messages.
package schemas

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	WorldSettings     = "world_settings.schema.json"
	EditOp            = "edit_op.schema.json"
	ObserverSubscribe = "observer_subscribe.schema.json"
	ObserverEvent     = "observer_event.schema.json"
)

//go:embed *.schema.json
var files embed.FS

var (
	mu       sync.Mutex
	compiled = map[string]*jsonschema.Schema{}
)

// Get compiles an embedded schema once and caches it.
func Get(name string) (*jsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	raw, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	url := "mem://schemas/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	compiled[name] = s
	return s, nil
}

// Validate checks a decoded JSON value (from encoding/json into any)
// against the named schema.
func Validate(name string, v any) error {
	s, err := Get(name)
	if err != nil {
		return err
	}
	return s.Validate(v)
}
