package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupMetrics(t *testing.T) {
	m, err := setupMetrics("")
	if err != nil {
		t.Fatalf("setupMetrics() error = %v", err)
	}
	if m != nil {
		t.Error("empty address should disable collection")
	}

	m, err = setupMetrics("127.0.0.1:9464")
	if err != nil {
		t.Fatalf("setupMetrics() error = %v", err)
	}
	if m == nil {
		t.Fatal("expected a collector when an address is given")
	}
}

func TestRootCommandRegistersMetricsFlag(t *testing.T) {
	cmd := newRootCommand("test", "none", "today")
	if cmd.PersistentFlags().Lookup("metrics-listen") == nil {
		t.Fatal("metrics-listen flag not registered")
	}
}

func TestEvalCommandWithMetricsEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hive.cue")
	content := `
meta: name: "prod"
web: {}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	defer func() {
		metrics = nil
		metricsAddr = ""
		hivePath = "."
	}()

	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs([]string{"eval", "-f", path, "--metrics-listen", "127.0.0.1:0"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if metrics == nil {
		t.Fatal("resolution ran without a collector despite --metrics-listen")
	}
}
