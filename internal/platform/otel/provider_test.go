package otel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/otel"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("MAFIA_OTEL_ENDPOINT", "")
	t.Setenv("MAFIA_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAFIA_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("MAFIA_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
