package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service", Options{StdoutTraces: true, StdoutLogs: true})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	m := GetGlobalMetrics()
	require.NotNil(t, m.RefreshesTotal)
	m.IncRefresh(context.Background(), "acc", 12.5)
	m.IncSubmission(context.Background(), "acc", "deposit")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestMetricsHolder_Gauges(t *testing.T) {
	m := GetGlobalMetrics()
	m.SetOpenOrders("acc-1", 3)
	m.SetAvailableBalance("acc-1", 100.5, 250)

	assert.Equal(t, int64(3), m.GetOpenOrders()["acc-1"])
	assert.Equal(t, 100.5, m.GetAvailableInitial()["acc-1"])

	m.RemoveAccount("acc-1")
	_, ok := m.GetOpenOrders()["acc-1"]
	assert.False(t, ok)
}
