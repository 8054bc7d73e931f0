package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const testPolicy = `# Flags nodes deployed as root.
package apiary.policies.rootuser

import rego.v1

deny contains violation if {
	input.deployment.targetUser == "root"
	violation := {
		"message": sprintf("node %s deploys as root", [input.node]),
		"severity": "warning",
		"node": input.node,
	}
}
`

func TestLoadFromPathsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root-user.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("len(policies) = %d, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "root-user" {
		t.Errorf("Name = %q, want root-user", p.Name)
	}
	if p.Description != "Flags nodes deployed as root." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Severity = %q, want warning", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policies should be enabled by default")
	}
}

func TestLoadFromPathsDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.rego":    testPolicy,
		"b.rego":    testPolicy,
		"notes.txt": "not a policy",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("len(policies) = %d, want 2", len(policies))
	}
}

func TestLoadFromPathsMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent"}); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}

func TestLoadedPolicyEvaluates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root-user.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0644); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(t)
	if err := engine.LoadPolicies(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	node := cleanNode("web")
	node.Deployment.TargetUser = "root"

	result, err := engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "root-user" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the loaded root-user policy to fire, got %v", result.Violations)
	}
}

func TestClearCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}

	// A cached entry survives file changes until the cache is cleared.
	if err := os.WriteFile(path, []byte("# changed\n"+testPolicy), 0644); err != nil {
		t.Fatal(err)
	}
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if policies[0].Description != "Flags nodes deployed as root." {
		t.Errorf("expected cached description, got %q", policies[0].Description)
	}

	loader.ClearCache()
	policies, err = loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if policies[0].Description == "Flags nodes deployed as root." {
		t.Error("expected reloaded description after cache clear")
	}
}
