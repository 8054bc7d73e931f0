package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/apiary/apiary/pkg/hive"
)

func strptr(s string) *string {
	return &s
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func cleanNode(name string) *hive.ResolvedNode {
	return &hive.ResolvedNode{
		Name: name,
		Deployment: &hive.DeploymentOptions{
			TargetHost:             name,
			TargetUser:             "ops",
			Tags:                   []string{},
			ReplaceUnknownProfiles: false,
		},
	}
}

func TestEvaluateNodeCleanConfiguration(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.EvaluateNode(context.Background(), "test", cleanNode("web"))
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("Allowed = false, violations = %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Violations = %v, want none", result.Violations)
	}
}

func TestEvaluateNodeWorldReadableKey(t *testing.T) {
	engine := newTestEngine(t)

	node := cleanNode("web")
	node.Deployment.Keys = map[string]hive.KeySpec{
		"api-token": {
			Text:        strptr("secret"),
			DestDir:     "/run/keys",
			User:        "root",
			Group:       "root",
			Permissions: "0644",
		},
	}

	result, err := engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}
	if result.Allowed {
		t.Error("a world-accessible key should block the check")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "key-permissions" && v.Node == "web" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a key-permissions violation, got %v", result.Violations)
	}
}

func TestEvaluateNodeMalformedKeyMode(t *testing.T) {
	engine := newTestEngine(t)

	node := cleanNode("web")
	node.Deployment.Keys = map[string]hive.KeySpec{
		"cert": {
			KeyFile:     strptr("/etc/cert.pem"),
			DestDir:     "/run/keys",
			User:        "root",
			Group:       "root",
			Permissions: "rw-r--r--",
		},
	}

	result, err := engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}
	if result.Allowed {
		t.Error("a malformed key mode should block the check")
	}
}

func TestEvaluateNodeUntaggedLocalDeployment(t *testing.T) {
	engine := newTestEngine(t)

	node := cleanNode("builder")
	node.Deployment.AllowLocalDeployment = true

	result, err := engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}

	// Warning severity: reported but not blocking.
	if !result.Allowed {
		t.Errorf("warnings should not block, violations = %v", result.Violations)
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "local-deployment" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a local-deployment warning, got %v", result.Violations)
	}

	node.Deployment.Tags = []string{"local"}
	result, err = engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("tagged node should pass, got %v", result.Violations)
	}
}

func TestEvaluateNodeProductionProfileReplacement(t *testing.T) {
	engine := newTestEngine(t)

	node := cleanNode("db")
	node.Deployment.Tags = []string{"production"}
	node.Deployment.ReplaceUnknownProfiles = true

	result, err := engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "unknown-profiles" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unknown-profiles warning, got %v", result.Violations)
	}
}

func TestEvaluateHiveMergesNodeResults(t *testing.T) {
	engine := newTestEngine(t)

	bad := cleanNode("web")
	bad.Deployment.Keys = map[string]hive.KeySpec{
		"token": {
			Text:        strptr("secret"),
			DestDir:     "/run/keys",
			User:        "root",
			Group:       "root",
			Permissions: "0666",
		},
	}

	rh := &hive.ResolvedHive{
		Hive: &hive.Hive{Meta: hive.HiveMeta{Name: "prod"}},
		Nodes: map[string]*hive.ResolvedNode{
			"web": bad,
			"db":  cleanNode("db"),
		},
	}

	result, err := engine.EvaluateHive(context.Background(), rh)
	if err != nil {
		t.Fatalf("EvaluateHive() error = %v", err)
	}
	if result.Allowed {
		t.Error("hive with a blocking violation should not be allowed")
	}
	for _, v := range result.Violations {
		if v.Node != "web" {
			t.Errorf("unexpected violation for node %s: %v", v.Node, v)
		}
	}
}

func TestDisablePolicy(t *testing.T) {
	engine := newTestEngine(t)

	node := cleanNode("builder")
	node.Deployment.AllowLocalDeployment = true

	if err := engine.DisablePolicy("local-deployment"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}

	result, err := engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("disabled policy still fired: %v", result.Violations)
	}

	if err := engine.EnablePolicy("local-deployment"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, err = engine.EvaluateNode(context.Background(), "test", node)
	if err != nil {
		t.Fatalf("EvaluateNode() error = %v", err)
	}
	if len(result.Violations) == 0 {
		t.Error("re-enabled policy did not fire")
	}
}

func TestGetAndListPolicies(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := engine.GetPolicy("key-permissions"); err != nil {
		t.Errorf("GetPolicy(key-permissions) error = %v", err)
	}
	if _, err := engine.GetPolicy("missing"); err == nil {
		t.Error("expected an error for an unknown policy")
	}

	if got := len(engine.ListPolicies()); got != len(GetBuiltinPolicies()) {
		t.Errorf("ListPolicies() returned %d policies, want %d", got, len(GetBuiltinPolicies()))
	}
}
