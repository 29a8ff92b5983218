package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValid(t *testing.T) {
	s := Defaults()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if got := s.ChunkWorldSize(); got != 1600 {
		t.Fatalf("chunk world size=%v want=1600", got)
	}
	if got := s.BlendDistance(); got != 2400 {
		t.Fatalf("blend distance=%v want=2400", got)
	}
	if s.MaxRadius() != 6 {
		t.Fatalf("max radius=%d want=6", s.MaxRadius())
	}
}

func TestValidateReportsFields(t *testing.T) {
	s := Defaults()
	s.VoxelSizeCm = 500
	s.LOD0Radius = 4
	s.LOD1Radius = 3
	s.MeadowsScale = 0.5

	err := s.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err=%v want ValidationErrors", err)
	}
	for _, f := range []string{"voxel_size_cm", "lod1_radius", "meadows_scale"} {
		if !verrs.Has(f) {
			t.Fatalf("missing field %s in %v", f, err)
		}
	}
	if !strings.Contains(err.Error(), "voxel_size_cm=500 out of range [1, 200]") {
		t.Fatalf("unexpected message: %v", err)
	}
	if !strings.Contains(err.Error(), "lod1_radius=3 must be > lod0_radius=4") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestValidateLODOrderingStrict(t *testing.T) {
	s := Defaults()
	s.LOD2Radius = s.LOD1Radius
	if err := s.Validate(); err == nil {
		t.Fatalf("expected equal radii to fail")
	}
}

func TestLoadJSONPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(p, []byte(`{"seed": 99, "streaming": {"max_concurrent": 2}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Seed != 99 || s.Streaming.MaxConcurrent != 2 {
		t.Fatalf("seed=%d max_concurrent=%d", s.Seed, s.Streaming.MaxConcurrent)
	}
	if s.ChunkSize != 32 || s.Streaming.UnloadMargin != 2 || s.Blend.Samples != 8 {
		t.Fatalf("defaults not kept: %+v", s)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "settings.yaml")
	doc := "seed: 7\nlod0_radius: 1\nblend:\n  threshold: 0.2\n"
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Seed != 7 || s.LOD0Radius != 1 || s.Blend.Threshold != 0.2 {
		t.Fatalf("got %+v", s)
	}
}

func TestLoadFailsClosed(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bounds.json": `{"seed": 5, "chunk_size": 4}`,
		"schema.json": `{"seed": 5, "no_such_field": true}`,
		"syntax.json": `{"seed": `,
	}
	for name, body := range cases {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		s, err := Load(p)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if s != Defaults() {
			t.Fatalf("%s: did not fall back to defaults: %+v", name, s)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Defaults()
	s.Seed = -12345
	s.SwampScale = 0.004
	for _, name := range []string{"a.json", "b.yaml"} {
		p := filepath.Join(dir, "nested", name)
		if err := s.Save(p); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		got, err := Load(p)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if got.Digest() != s.Digest() {
			t.Fatalf("%s: digest mismatch", name)
		}
	}
}

func TestDigestChangesWithSeed(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.Seed++
	if a.Digest() == b.Digest() {
		t.Fatalf("digest ignores seed")
	}
	if len(a.Digest()) != 64 {
		t.Fatalf("digest length=%d", len(a.Digest()))
	}
}

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "remote.json")
	if err := os.WriteFile(src, []byte(`{"seed": 31337}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(dir, "out", "settings.json")
	s, err := Fetch(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if s.Seed != 31337 {
		t.Fatalf("seed=%d want=31337", s.Seed)
	}
}

func TestShippedSettingsMatchDefaults(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "configs", "worldgen.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, want := s.Digest(), Defaults().Digest(); got != want {
		t.Fatalf("digest=%s want=%s", got, want)
	}
}
