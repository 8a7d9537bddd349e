package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/infra/config"
)

func TestOpenInMemoryBadger(t *testing.T) {
	cfg := config.DefaultAppConfig()
	store, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	_, err = store.GetBalance(context.Background(), schema.CashKey("u1", "USD"))
	require.Error(t, err)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Storage.Backend = "sqlite"
	_, err := Open(context.Background(), cfg, Options{})
	require.ErrorContains(t, err, "unsupported backend")
}

func TestOpenPoolRejectsBadDSN(t *testing.T) {
	_, err := OpenPool(context.Background(), config.DatabaseConfig{DSN: "postgres://%zz"})
	require.ErrorContains(t, err, "parse database dsn")
}
