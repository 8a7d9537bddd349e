package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func TestNewStoreAllowsNilPool(t *testing.T) {
	store := New(nil)
	require.NotNil(t, store)
	require.Nil(t, store.Pool())
	require.NoError(t, store.Close())
}

func TestStoreNilPool(t *testing.T) {
	store := New(nil)
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(context.Context, ledgerstore.Tx) error { return nil })
	require.Error(t, err)
	require.Error(t, store.WithTransaction(ctx, nil))

	_, err = store.GetOrder(ctx, "o1")
	require.Error(t, err)
	_, err = store.FindOrderByExternalID(ctx, "ext")
	require.Error(t, err)
	_, err = store.ListOrders(ctx, ledgerstore.OrderQuery{UserID: "u1"})
	require.Error(t, err)
	_, err = store.ListTrades(ctx, ledgerstore.TradeQuery{OrderID: "o1"})
	require.Error(t, err)
	_, err = store.GetBalance(ctx, schema.CashKey("u1", "USD"))
	require.Error(t, err)
	_, err = store.ListBalances(ctx, ledgerstore.BalanceQuery{UserID: "u1"})
	require.Error(t, err)
	_, err = store.GetHold(ctx, "h1")
	require.Error(t, err)
	_, err = store.ListHolds(ctx, ledgerstore.HoldQuery{UserID: "u1"})
	require.Error(t, err)
	_, err = store.ListAudit(ctx, ledgerstore.AuditQuery{ResourceType: "order", ResourceID: "o1"})
	require.Error(t, err)
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(pgx.ErrNoRows), ledgerstore.ErrNotFound)

	dup := &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "trades_order_external_key"}
	err := mapError(dup)
	require.ErrorIs(t, err, ledgerstore.ErrDuplicate)
	require.Contains(t, err.Error(), "trades_order_external_key")
	require.ErrorIs(t, err, ledgerstore.ErrDuplicateExternalTrade)
	require.NotErrorIs(t, err, ledgerstore.ErrDuplicateExternalOrder)

	err = mapError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "orders_external_order_id_key"})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicateExternalOrder)
	require.NotErrorIs(t, err, ledgerstore.ErrDuplicateExternalTrade)

	err = mapError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "holds_order_active_key"})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicate)
	require.NotErrorIs(t, err, ledgerstore.ErrDuplicateExternalOrder)
	require.NotErrorIs(t, err, ledgerstore.ErrDuplicateExternalTrade)

	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable} {
		require.ErrorIs(t, mapError(&pgconn.PgError{Code: code}), ledgerstore.ErrConflict, code)
	}

	other := errors.New("boom")
	require.Equal(t, other, mapError(other))
}

func TestNumericConversions(t *testing.T) {
	value := decimal.RequireFromString("12345.67890123")
	numeric, err := numericFromDecimal(value)
	require.NoError(t, err)
	require.True(t, numeric.Valid)

	null, err := numericFromOptional(nil)
	require.NoError(t, err)
	require.False(t, null.Valid)

	parsed, err := decimalFromText(" 12345.67890123 ")
	require.NoError(t, err)
	require.True(t, parsed.Equal(value))

	zero, err := decimalFromText("")
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	_, err = decimalFromText("abc")
	require.Error(t, err)

	ptr, err := decimalFromNullable(nil)
	require.NoError(t, err)
	require.Nil(t, ptr)

	args := pgx.NamedArgs{}
	require.NoError(t, bindNumerics(args, map[string]decimal.Decimal{"quantity": value}))
	require.Contains(t, args, "quantity")
}

func TestJSONHelpers(t *testing.T) {
	encoded, err := encodeJSON(nil)
	require.NoError(t, err)
	require.Nil(t, encoded)

	encoded, err = encodeJSON(map[string]any{"reason": "fill"})
	require.NoError(t, err)
	require.JSONEq(t, `{"reason":"fill"}`, encoded.(string))

	meta, err := decodeMetadata([]byte(`{"reason":"fill"}`))
	require.NoError(t, err)
	require.Equal(t, "fill", meta["reason"])

	meta, err = decodeMetadata([]byte(`{}`))
	require.NoError(t, err)
	require.Nil(t, meta)

	require.Nil(t, rawJSON(nil))
	require.Equal(t, `{"a":1}`, rawJSON([]byte(`{"a":1}`)))
	require.Nil(t, nullableString("  "))
	require.Equal(t, "x", nullableString(" x "))
}
