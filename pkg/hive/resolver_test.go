package hive

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

// countingBuilder wraps StoreBuilder and counts invocations.
type countingBuilder struct {
	inner StoreBuilder
	calls int32
}

func (b *countingBuilder) Build(ctx context.Context, node string, config map[string]interface{}) (BuildArtifactRef, error) {
	atomic.AddInt32(&b.calls, 1)
	return b.inner.Build(ctx, node, config)
}

// failingBuilder fails every build.
type failingBuilder struct{}

func (failingBuilder) Build(context.Context, string, map[string]interface{}) (BuildArtifactRef, error) {
	return BuildArtifactRef{}, errors.New("out of disk")
}

func testResolver(t *testing.T, builder Builder) *NodeResolver {
	t.Helper()
	packSets := NewPackageSetResolver(nil, zerolog.Nop())
	return NewNodeResolver(packSets, builder, zerolog.Nop(), nil)
}

func loadTestHive(t *testing.T, raw map[string]interface{}) *Hive {
	t.Helper()
	h, err := Load(raw)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return h
}

func TestResolveNodeDefaults(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web":   map[string]interface{}{},
	})

	node, err := testResolver(t, nil).ResolveNode(context.Background(), "web", h)
	if err != nil {
		t.Fatalf("ResolveNode() error = %v", err)
	}

	if node.Deployment.TargetHost != "web" {
		t.Errorf("TargetHost = %q, want the node name", node.Deployment.TargetHost)
	}
	if node.Deployment.TargetUser != "root" {
		t.Errorf("TargetUser = %q, want root", node.Deployment.TargetUser)
	}
	if node.BuildArtifact.IsZero() {
		t.Error("expected a build artifact")
	}
}

func TestResolveNodeLayerPrecedence(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		DefaultsKey: map[string]interface{}{
			"deployment": map[string]interface{}{
				"targetUser": "ops",
				"tags":       []interface{}{"managed"},
			},
		},
		"web": map[string]interface{}{
			"deployment": map[string]interface{}{
				"targetHost": "web.example.com",
				"tags":       []interface{}{"edge"},
			},
		},
	})

	node, err := testResolver(t, nil).ResolveNode(context.Background(), "web", h)
	if err != nil {
		t.Fatalf("ResolveNode() error = %v", err)
	}

	if node.Deployment.TargetHost != "web.example.com" {
		t.Errorf("TargetHost = %q, node layer should win", node.Deployment.TargetHost)
	}
	if node.Deployment.TargetUser != "ops" {
		t.Errorf("TargetUser = %q, defaults layer should apply", node.Deployment.TargetUser)
	}

	// List options append across layers in precedence order.
	wantTags := []string{"managed", "edge"}
	if !reflect.DeepEqual(node.Deployment.Tags, wantTags) {
		t.Errorf("Tags = %v, want %v", node.Deployment.Tags, wantTags)
	}
}

func TestResolveNodeDeterministicArtifact(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web": map[string]interface{}{
			"config": map[string]interface{}{"services": map[string]interface{}{"nginx": true}},
		},
	})

	r := testResolver(t, nil)
	first, err := r.ResolveNode(context.Background(), "web", h)
	if err != nil {
		t.Fatalf("ResolveNode() error = %v", err)
	}
	second, err := r.ResolveNode(context.Background(), "web", h)
	if err != nil {
		t.Fatalf("ResolveNode() error = %v", err)
	}

	if first.BuildArtifact != second.BuildArtifact {
		t.Errorf("artifacts differ across runs: %v vs %v", first.BuildArtifact, second.BuildArtifact)
	}
}

func TestResolveNodeValidationSkipsBuild(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web": map[string]interface{}{
			"deployment": map[string]interface{}{
				"keys": map[string]interface{}{
					"token": map[string]interface{}{
						"text":    "secret",
						"keyFile": "/etc/token",
					},
					"cert": map[string]interface{}{},
				},
			},
		},
	})

	builder := &countingBuilder{}
	_, err := testResolver(t, builder).ResolveNode(context.Background(), "web", h)
	if !IsValidationFailed(err) {
		t.Fatalf("ResolveNode() error = %v, want validation failure", err)
	}

	var he *Error
	if !errors.As(err, &he) {
		t.Fatal("expected a classified error")
	}
	if len(he.Violations) < 2 {
		t.Errorf("violations = %v, want every offending key reported", he.Violations)
	}

	if got := atomic.LoadInt32(&builder.calls); got != 0 {
		t.Errorf("builder invoked %d times despite validation failure", got)
	}
}

func TestResolveNodeRejectsReservedAndUnknownNames(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web":   map[string]interface{}{},
	})
	r := testResolver(t, nil)

	for _, name := range []string{MetaKey, DefaultsKey, "ghost"} {
		if _, err := r.ResolveNode(context.Background(), name, h); !IsValidationFailed(err) {
			t.Errorf("ResolveNode(%q) error = %v, want validation failure", name, err)
		}
	}
}

func TestResolveNodeBuildFailure(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web":   map[string]interface{}{},
	})

	_, err := testResolver(t, failingBuilder{}).ResolveNode(context.Background(), "web", h)
	var he *Error
	if !errors.As(err, &he) {
		t.Fatalf("ResolveNode() error = %v, want classified error", err)
	}
	if he.Code != CodeBuildFailed {
		t.Errorf("Code = %s, want %s", he.Code, CodeBuildFailed)
	}
}

func TestResolveNodePackageSetOverride(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{
			"name": "prod",
			"nixpkgs": map[string]interface{}{
				"toolchain": "stable",
				"overlays":  []interface{}{"base"},
				"config":    map[string]interface{}{"allowFree": true},
			},
			"nodeNixpkgs": map[string]interface{}{
				"web": map[string]interface{}{
					"overlays": []interface{}{"extra"},
					"config":   map[string]interface{}{"cuda": true},
				},
			},
		},
		"web": map[string]interface{}{},
		"db":  map[string]interface{}{},
	})

	r := testResolver(t, nil)

	web, err := r.ResolveNode(context.Background(), "web", h)
	if err != nil {
		t.Fatalf("ResolveNode(web) error = %v", err)
	}

	pkgs, ok := web.Config["packages"].(map[string]interface{})
	if !ok {
		t.Fatalf("Config[packages] = %v", web.Config["packages"])
	}
	if pkgs["toolchain"] != "stable" {
		t.Errorf("toolchain = %v, want inherited stable", pkgs["toolchain"])
	}
	wantOverlays := []interface{}{"base", "extra"}
	if !reflect.DeepEqual(pkgs["overlays"], wantOverlays) {
		t.Errorf("overlays = %v, want %v", pkgs["overlays"], wantOverlays)
	}

	// The hive-wide config key the override does not echo is dropped with a
	// warning.
	if len(web.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one ignored-key warning", web.Warnings)
	}

	db, err := r.ResolveNode(context.Background(), "db", h)
	if err != nil {
		t.Fatalf("ResolveNode(db) error = %v", err)
	}
	if len(db.Warnings) != 0 {
		t.Errorf("db Warnings = %v, want none", db.Warnings)
	}
}

func TestResolveAllIsolatesFailures(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web":   map[string]interface{}{},
		"db":    map[string]interface{}{},
		"bad": map[string]interface{}{
			"deployment": map[string]interface{}{
				"keys": map[string]interface{}{
					"k": map[string]interface{}{},
				},
			},
		},
	})

	rh, err := testResolver(t, nil).ResolveAll(context.Background(), h, 2)
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}

	if len(rh.Nodes) != 2 {
		t.Errorf("len(Nodes) = %d, want 2", len(rh.Nodes))
	}
	if len(rh.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(rh.Errors))
	}
	if !IsValidationFailed(rh.Errors["bad"]) {
		t.Errorf("Errors[bad] = %v, want validation failure", rh.Errors["bad"])
	}
}

func TestResolveAllEmptyHive(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
	})

	rh, err := testResolver(t, nil).ResolveAll(context.Background(), h, 0)
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	if len(rh.Nodes) != 0 || len(rh.Errors) != 0 {
		t.Errorf("empty hive resolved to %d nodes, %d errors", len(rh.Nodes), len(rh.Errors))
	}
}

func TestResolveAllCancelled(t *testing.T) {
	nodes := map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
	}
	for i := 0; i < 32; i++ {
		nodes[fmt.Sprintf("node%02d", i)] = map[string]interface{}{}
	}
	h := loadTestHive(t, nodes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testResolver(t, nil).ResolveAll(ctx, h, 4)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ResolveAll() error = %v, want context.Canceled", err)
	}
}

func TestResolvedHiveAccessors(t *testing.T) {
	h := loadTestHive(t, map[string]interface{}{
		MetaKey: map[string]interface{}{"name": "prod"},
		"web":   map[string]interface{}{},
		"db":    map[string]interface{}{},
	})

	rh, err := testResolver(t, nil).ResolveAll(context.Background(), h, 0)
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}

	toplevels := rh.Toplevels()
	deployments := rh.DeploymentConfig()
	for _, name := range []string{"web", "db"} {
		if toplevels[name].IsZero() {
			t.Errorf("Toplevels()[%s] is zero", name)
		}
		if deployments[name] == nil {
			t.Errorf("DeploymentConfig()[%s] is nil", name)
		}
	}
}
