package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupInstallsGlobalProviders(t *testing.T) {
	tel, err := Setup("test-service")
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())

	// The shared metrics holder is bound and safe to record through.
	GetGlobalMetrics().RecordCycle(context.Background(), 1.5)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
}
