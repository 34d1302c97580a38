package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewProviderWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		p, err := NewProvider(ctx, endpoint, "gymledger-test")
		require.NoError(t, err)
		require.NotNil(t, p.TracerProvider)
		assert.NoError(t, p.Shutdown(ctx))
	}
}

func TestNewProviderInvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"http://", "http://[invalid"} {
		_, err := NewProvider(context.Background(), endpoint, "gymledger-test")
		assert.Error(t, err, endpoint)
	}
}

func TestNewProviderWithEndpoint(t *testing.T) {
	ctx := context.Background()
	// The exporter connects lazily, so no collector is needed here.
	p, err := NewProvider(ctx, "localhost:4318", "gymledger-test")
	require.NoError(t, err)
	p.SetGlobal()
	assert.Equal(t, p.TracerProvider, otel.GetTracerProvider())

	_, span := otel.Tracer("test").Start(ctx, "noop")
	span.End()

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	_ = p.Shutdown(ctx)
}
