package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	if m != nil {
		t.Fatal("disabled metrics should be nil")
	}

	// A nil collector is a no-op, not a crash.
	m.NodeResolved(OutcomeResolved)
	m.ViolationsFound(3)
	m.WarningsEmitted(1)
	m.PackageSetResolved(PackageSetComputed)
	m.SelectionBuilt()
	m.ObserveResolveDuration(0.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("nil Handler() status = %d", rec.Code)
	}
}

func TestMetricsRecordAndServe(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "apiary"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.NodeResolved(OutcomeResolved)
	m.NodeResolved(OutcomeResolved)
	m.NodeResolved(OutcomeFailed)
	m.ViolationsFound(2)
	m.WarningsEmitted(0)
	m.PackageSetResolved(PackageSetCached)
	m.SelectionBuilt()
	m.ObserveResolveDuration(0.05)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Handler() status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`apiary_nodes_resolved_total{outcome="resolved"} 2`,
		`apiary_nodes_resolved_total{outcome="failed"} 1`,
		`apiary_violations_total 2`,
		`apiary_package_set_resolutions_total{source="cached"} 1`,
		`apiary_selections_built_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	// Zero-count warnings never register a sample.
	if strings.Contains(body, "apiary_warnings_total 0") && !strings.Contains(body, "# TYPE apiary_warnings_total") {
		t.Error("warnings counter should still be registered")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "trace", want: "trace"},
		{in: "debug", want: "debug"},
		{in: "warn", want: "warn"},
		{in: "error", want: "error"},
		{in: "bogus", want: "info"},
		{in: "", want: "info"},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
