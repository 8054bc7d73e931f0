package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/apiary/apiary/pkg/hive"
)

func TestParseInlineValidHive(t *testing.T) {
	hp := NewHiveParser(zerolog.Nop())

	content := `
meta: {
	name:        "production"
	description: "main fleet"
}

defaults: {
	deployment: targetUser: "ops"
}

web: {
	deployment: targetHost: "web.example.com"
}

db: {
	deployment: targetHost: "db.example.com"
}
`

	parsed, err := hp.ParseInline(context.Background(), content)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}
	if len(parsed.Errors) > 0 {
		t.Fatalf("ParseInline() errors = %v", parsed.Errors)
	}

	if _, ok := parsed.Raw["meta"]; !ok {
		t.Error("expected meta key in raw hive")
	}
	if _, ok := parsed.Raw["defaults"]; !ok {
		t.Error("expected defaults key in raw hive")
	}
	if _, ok := parsed.Raw["web"]; !ok {
		t.Error("expected web node in raw hive")
	}
	if _, ok := parsed.Raw["db"]; !ok {
		t.Error("expected db node in raw hive")
	}
}

func TestParseInlineSyntaxError(t *testing.T) {
	hp := NewHiveParser(zerolog.Nop())

	parsed, err := hp.ParseInline(context.Background(), `meta: { name: `)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("expected parse errors for malformed CUE")
	}
	if parsed.Errors[0].Severity != "error" {
		t.Errorf("severity = %q, want error", parsed.Errors[0].Severity)
	}
}

func TestParseInlineSchemaViolation(t *testing.T) {
	hp := NewHiveParser(zerolog.Nop())

	// Hive names are restricted to word characters.
	parsed, err := hp.ParseInline(context.Background(), `meta: name: "bad name!"`)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}
	if len(parsed.Errors) == 0 {
		t.Fatal("expected a schema violation for an invalid hive name")
	}
}

func TestLoadHiveInline(t *testing.T) {
	hp := NewHiveParser(zerolog.Nop())

	content := `
meta: {
	name:    "staging"
	nixpkgs: "channels/stable.cue"
}

alpha: deployment: tags: ["web"]
beta: {}
`

	h, err := hp.LoadHiveInline(context.Background(), content)
	if err != nil {
		t.Fatalf("LoadHiveInline() error = %v", err)
	}

	if h.Meta.Name != "staging" {
		t.Errorf("Meta.Name = %q, want staging", h.Meta.Name)
	}
	if got := h.NodeNames(); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("NodeNames() = %v, want [alpha beta]", got)
	}
	if h.Meta.PackageSet.IsZero() {
		t.Error("expected a package-set reference from meta.nixpkgs")
	}
}

func TestLoadHiveInlineConflictingMetaKeys(t *testing.T) {
	hp := NewHiveParser(zerolog.Nop())

	_, err := hp.LoadHiveInline(context.Background(), `
meta: name: "a"
network: name: "b"
`)
	if err == nil {
		t.Fatal("expected an error when both meta and network are present")
	}

	var he *hive.Error
	if !errors.As(err, &he) {
		t.Fatalf("error %v is not a hive error", err)
	}
	if he.Code != hive.CodeConflictingMetaKeys {
		t.Errorf("Code = %q, want %q", he.Code, hive.CodeConflictingMetaKeys)
	}
}

func TestLoadHiveFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hive.cue")
	content := `
meta: name: "filetest"
node1: deployment: targetHost: "10.0.0.1"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	hp := NewHiveParser(zerolog.Nop())
	h, err := hp.LoadHive(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadHive() error = %v", err)
	}
	if h.Meta.Name != "filetest" {
		t.Errorf("Meta.Name = %q, want filetest", h.Meta.Name)
	}
	if _, ok := h.Nodes["node1"]; !ok {
		t.Error("expected node1 in loaded hive")
	}
}

func TestPathLoaderCUEFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stable.cue")
	content := `
toolchain: "stable-24.05"
overlays: ["monitoring"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	hp := NewHiveParser(zerolog.Nop())
	loader := hp.PathLoader()

	ref, err := loader(context.Background(), path)
	if err != nil {
		t.Fatalf("loader error = %v", err)
	}
	if ref.IsZero() {
		t.Fatal("loader returned the zero reference")
	}

	resolver := hive.NewPackageSetResolver(loader, zerolog.Nop())
	ps, err := resolver.Resolve(context.Background(), ref, "test")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ps.Toolchain != "stable-24.05" {
		t.Errorf("Toolchain = %q, want stable-24.05", ps.Toolchain)
	}
	if len(ps.Overlays) != 1 || ps.Overlays[0] != "monitoring" {
		t.Errorf("Overlays = %v, want [monitoring]", ps.Overlays)
	}
}

func TestPathLoaderStarlarkScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctor.star")
	script := `
packageSet = {
    "toolchain": "unstable",
    "overlays": ["gpu"],
}
`
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	hp := NewHiveParser(zerolog.Nop())
	loader := hp.PathLoader()

	ref, err := loader(context.Background(), path)
	if err != nil {
		t.Fatalf("loader error = %v", err)
	}

	resolver := hive.NewPackageSetResolver(loader, zerolog.Nop())
	ps, err := resolver.Resolve(context.Background(), ref, "test")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ps.Toolchain != "unstable" {
		t.Errorf("Toolchain = %q, want unstable", ps.Toolchain)
	}
}

func TestPathLoaderMissingFile(t *testing.T) {
	hp := NewHiveParser(zerolog.Nop())
	loader := hp.PathLoader()

	if _, err := loader(context.Background(), "/nonexistent/set.cue"); err == nil {
		t.Fatal("expected an error for a missing package-set file")
	}
}

func TestDiscoverSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.cue", "b.cue", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x: 1\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := DiscoverSources(dir)
	if err != nil {
		t.Fatalf("DiscoverSources() error = %v", err)
	}
	if len(files) != 2 {
		t.Errorf("found %d files, want 2: %v", len(files), files)
	}
}
