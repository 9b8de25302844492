package tracing

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestCollectorTLSConfig(t *testing.T) {
	strict := collectorTLSConfig(false)
	assert.Equal(t, uint16(tls.VersionTLS12), strict.MinVersion)
	assert.False(t, strict.InsecureSkipVerify)

	// Opting out of verification must not lower the minimum version.
	lax := collectorTLSConfig(true)
	assert.Equal(t, uint16(tls.VersionTLS12), lax.MinVersion)
	assert.True(t, lax.InsecureSkipVerify)
}

// The gRPC client connects lazily, so initialization succeeds without a
// collector listening and installs the global provider and propagators.
func TestInitTracerInstallsGlobals(t *testing.T) {
	ctx := context.Background()

	tp, err := InitTracer(ctx, "collab-broker", "localhost:4317", true)
	require.NoError(t, err)
	require.NotNil(t, tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	assert.Same(t, tp, otel.GetTracerProvider())

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}
