package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

func TestSetup_NoopWhenDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), common.TelemetryConfig{Endpoint: "http://localhost:4318"}, "test", "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), common.TelemetryConfig{Enabled: true}, "test", "dev")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetup_CreatesProvider(t *testing.T) {
	// Non-routable address; nothing is exported because no spans are recorded.
	shutdown, err := Setup(context.Background(), common.TelemetryConfig{Enabled: true, Endpoint: "http://192.0.2.1:4318"}, "test", "dev")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
