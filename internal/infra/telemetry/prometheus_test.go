package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSessionConnectRecordsDuration(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.ObserveSessionConnect("apollo", 120*time.Millisecond, nil)
	metrics.ObserveSessionConnect("apollo", 2*time.Second, errors.New("dial refused"))

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]bool, len(families))
	for _, family := range families {
		byName[family.GetName()] = true
	}
	assert.True(t, byName["mcpgate_session_connects_total"])
	assert.True(t, byName["mcpgate_session_connect_duration_seconds"])

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.sessionConnectDuration,
		"mcpgate_session_connect_duration_seconds"))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.sessionConnects.WithLabelValues("apollo", "error")))
}
