package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, "invalid trace exporter"},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, "requires an endpoint"},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, "sampling rate"},
		{"metrics without path", func(c *Config) { c.Metrics.Path = "" }, "metrics path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerLevelReloadReachesComponents(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	l := NewLoggerTo(&buf, LoggingConfig{Level: "info", Format: "json"})
	comp := l.NewComponentLogger("sweep")

	comp.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.SetLevel("debug")
	comp.Debug().Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "sweep", entry["component"])

	buf.Reset()
	l.SetLevel("error")
	comp.Warn().Msg("hidden again")
	assert.Zero(t, buf.Len())
}

func TestLoggerContextRoundTrip(t *testing.T) {
	l := NewLoggerTo(&bytes.Buffer{}, LoggingConfig{Level: "info", Format: "json"})
	ctx := l.WithContext(context.Background())

	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetricsExposeRecordedValues(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordRemoteCall("GET", "points", http.StatusOK, 10*time.Millisecond)
	m.RecordPondOperation("create", errors.New("boom"), time.Second)
	m.RecordSweep("ok", 3, 0, time.Second)
	m.SetPondsManaged(4)
	m.RecordAggregatePatch("patched")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	assert.Contains(t, body, `pondsync_remote_requests_total{method="GET",resource="points",status="200"} 1`)
	assert.Contains(t, body, `pondsync_pond_operations_total{operation="create",outcome="error"} 1`)
	assert.Contains(t, body, `pondsync_sweep_sequences_created_total 3`)
	assert.Contains(t, body, `pondsync_ponds_managed 4`)
	assert.Contains(t, body, `pondsync_aggregate_patches_total{action="patched"} 1`)
}

func TestDisabledMetricsAreInert(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = false
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordSweep("ok", 1, 0, time.Second)
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	assert.Nil(t, m.Registry())

	var nilMetrics *Metrics
	nilMetrics.RecordAuthRefresh(true)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "ponds.create")
	require.NotNil(t, op.Span)
	op.End(errors.New("failed"))
	assert.GreaterOrEqual(t, op.Timer.Duration(), time.Duration(0))
}

func TestNewTelemetryWithTracing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"

	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, tel.Shutdown(context.Background())) }()

	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	op := StartOperation(ctx, "ponds.sweep")
	assert.True(t, op.Span.SpanContext().IsValid())
	op.End(nil)
}
