package jobmetrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	tracker := m.Track("otp:purge")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight.WithLabelValues("otp:purge")))
	assert.NoError(t, tracker.End(nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight.WithLabelValues("otp:purge")))

	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("otp:purge").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("otp:purge", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("otp:purge", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("otp:purge")))
}

func TestMetricNamesMatchAlertRules(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.Error(t, m.Track("mail:send").End(errors.New("relay down")))

	expected := `
# HELP sentinel_jobs_failures_total Failed job executions by task type.
# TYPE sentinel_jobs_failures_total counter
sentinel_jobs_failures_total{job="mail:send"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sentinel_jobs_failures_total"))
}

func TestAddPurgedIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddPurged("otp", 0)
	m.AddPurged("otp", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purged.WithLabelValues("otp")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddPurged("otp", 2)
	assert.NoError(t, m.Track("mail:send").End(nil))
}
