package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/config"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewMetrics_OnNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordsWritten.Add(ctx, 3)
	m.IngestDuration.Record(ctx, 1.5)

	_, span := Tracer().Start(ctx, "test")
	span.End()
}
