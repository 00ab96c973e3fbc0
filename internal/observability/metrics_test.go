package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-sla/ticket-sla/internal/config"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTick("completed", 2*time.Second)
	m.RecordTick("skipped", 0)
	m.RecordTransition("response", "breached", "tick")
	m.RecordTransition("response", "breached", "tick")
	m.RecordPinned("rule")
	m.RecordWarning("resolution")
	m.RecordEscalation()
	m.RecordSkipped("configuration")
	m.RecordError("/sla/compliance", "GET", "VALIDATION_FAILED")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickRuns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickRuns.WithLabelValues("skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.tickDuration))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("response", "breached", "tick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pinned.WithLabelValues("rule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.warnings.WithLabelValues("resolution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("configuration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("GET", "/sla/compliance", "VALIDATION_FAILED")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordTick("failed", 0)
		m.RecordEscalation()
	})
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "chatty"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(0))
	assert.False(t, logger.Core().Enabled(-1))
}
