package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var metricRef = regexp.MustCompile(`sentinel_[a-z_]+`)

func loadAlertRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "sentinel.yml"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, g := range file.Groups {
		if g.Name == "sentinel" {
			return g.Rules
		}
	}
	t.Fatal("sentinel alert group missing")
	return nil
}

func TestAlertRulesAreComplete(t *testing.T) {
	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"HighErrorRate":    {severity: "critical", runbook: "docs/runbook.md#high-error-rate"},
		"HighLatency":      {severity: "warning", runbook: "docs/runbook.md#high-latency"},
		"AuthzDenialSpike": {severity: "warning", runbook: "docs/runbook.md#authz-denial-spike"},
		"MailJobsFailing":  {severity: "warning", runbook: "docs/runbook.md#mail-jobs-failing"},
	}

	rules := loadAlertRules(t)
	require.Len(t, rules, len(expected))
	for _, rule := range rules {
		want, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		assert.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		assert.Equal(t, want.runbook, rule.Annotations["runbook"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		assert.NotEmpty(t, rule.Expr, rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
	}
}

func TestAlertRulesReferenceExportedMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveAuthzDecision("role", "denied")
	_ = metrics.Jobs().Track("mail:send").End(errors.New("relay down"))
	metrics.Middleware(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	families, err := metrics.registry.Gather()
	require.NoError(t, err)

	exported := make(map[string]bool)
	for _, mf := range families {
		exported[mf.GetName()] = true
	}
	// Histograms are queried through their _bucket series.
	for _, rule := range loadAlertRules(t) {
		for _, name := range metricRef.FindAllString(rule.Expr, -1) {
			name = strings.TrimSuffix(name, "_bucket")
			assert.True(t, exported[name], "%s references unknown metric %s", rule.Alert, name)
		}
	}
}
