package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "epts", "reports")

	m.CalculationRuns.WithLabelValues("pvls-routine", Status(nil)).Inc()
	m.CalculationPatients.WithLabelValues("pvls-routine", "true").Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalculationRuns.WithLabelValues("pvls-routine", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CalculationPatients.WithLabelValues("pvls-routine", "true")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "epts_reports_calculation_runs_total")
}

func TestNewMetricsTwiceOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry(), "epts", "reports")
		NewMetrics(prometheus.NewRegistry(), "epts", "reports")
	})
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", Status(nil))
	assert.Equal(t, "error", Status(errors.New("x")))
}
