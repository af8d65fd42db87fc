package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithProcessID("p-1").Info("process started", zap.Int("pid", 42))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"process_id":"p-1"`)
	assert.Contains(t, line, `"pid":42`)
	assert.Contains(t, line, `"msg":"process started"`)
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewLogger(LoggingConfig{Level: "nope", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("visible")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.True(t, strings.Contains(string(data), "visible"))
}

func TestWithFields_DoesNotMutateParent(t *testing.T) {
	parent := NewNop().WithFields(zap.String("component", "a"))
	child := parent.WithRepository("tools")

	assert.Len(t, parent.fields, 1)
	assert.Len(t, child.fields, 2)
}

func TestWithContext(t *testing.T) {
	log := NewNop()
	assert.Same(t, log, log.WithContext(context.Background()))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	withReq := log.WithContext(ctx)
	assert.NotSame(t, log, withReq)
	assert.Len(t, withReq.fields, 1)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	assert.Len(t, log.WithContext(ctx).fields, 3)
}

func TestStdLoggerWritesThroughZap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewLogger(LoggingConfig{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithRepository("tools").StdLogger(zapcore.WarnLevel).Print("http: TLS handshake error")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"warn"`)
	assert.Contains(t, string(data), `"repository":"tools"`)
	assert.Contains(t, string(data), "TLS handshake error")
}

func TestDefaultAndSetDefault(t *testing.T) {
	t.Cleanup(func() { SetDefault(nil) })

	SetDefault(nil)
	first := Default()
	require.NotNil(t, first)
	assert.Same(t, first, Default())

	custom := NewNop()
	SetDefault(custom)
	assert.Same(t, custom, Default())
}

func TestDetectFormat(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("SCRIPTDECK_ENV", "")
	assert.Equal(t, "text", DetectFormat())

	t.Setenv("SCRIPTDECK_ENV", "production")
	assert.Equal(t, "json", DetectFormat())
}
