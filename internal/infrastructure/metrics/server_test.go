package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"deriv_client/internal/core"
	"deriv_client/pkg/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	tel, err := telemetry.Setup("metrics-server-test", telemetry.Options{})
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()
	telemetry.GetGlobalMetrics().IncRefresh(context.Background(), "acct", 12)

	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"healthy":true}`))
	})
	srv := NewServer(0, health, &mockLogger{})
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop(context.Background()) }()

	base := fmt.Sprintf("http://%s", srv.Addr().String())

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "deriv_client_refreshes_total")

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"healthy":true}`, string(body))
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := NewServer(0, nil, &mockLogger{})
	assert.NoError(t, srv.Stop(context.Background()))
}
