package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationAttributesOmitsEmptyCategory(t *testing.T) {
	attrs := OperationAttributes("dev", "create_order", "success", "")
	require.Len(t, attrs, 3)
	attrs = OperationAttributes("dev", "create_order", "missing_limit_price", "validation")
	require.Len(t, attrs, 4)
	require.Equal(t, "validation", attrs[3].Value.AsString())
}

func TestInitWithoutEndpointInstallsNoop(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), Config{Environment: "staging"})
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, "staging", Environment())
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("http://collector:4318")
	require.NoError(t, err)
	require.Equal(t, "collector:4318", host)
	require.True(t, insecure)

	host, insecure, err = parseEndpoint("https://otel.example.com")
	require.NoError(t, err)
	require.Equal(t, "otel.example.com", host)
	require.False(t, insecure)
}
