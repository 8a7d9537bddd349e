package ledger

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func TestOverdrawLeavesBalanceUntouched(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	deposit(t, svc, "u1", "500")

	_, err := svc.ApplyDelta(ctx, BalanceDelta{UserID: "u1", AssetType: schema.AssetTypeCash, AssetID: "USD", CashDelta: d("-1000")})
	requireKind(t, err, errs.ErrInsufficientBalance)
	require.Equal(t, errs.CodeResource, errs.CodeOf(err))

	cash, err := svc.GetBalance(ctx, schema.CashKey("u1", "USD"))
	require.NoError(t, err)
	require.True(t, cash.Available.Equal(d("500")))

	trail, err := svc.AuditTrail(ctx, ledgerstore.AuditQuery{ResourceType: schema.ResourceBalance, ResourceID: "u1"})
	require.NoError(t, err)
	require.Len(t, trail, 1, "only the deposit was recorded")
}

func TestApplyDeltaFirstInsertThenPatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	key := schema.BalanceKey{UserID: "u1", AssetType: schema.AssetTypePrediction, AssetID: "rain-tomorrow"}

	_, err := svc.GetBalance(ctx, key)
	requireKind(t, err, errs.ErrBalanceNotFound)

	change, err := svc.ApplyDelta(ctx, BalanceDelta{
		UserID:        "u1",
		AssetType:     key.AssetType,
		AssetID:       key.AssetID,
		QuantityDelta: d("100"),
		CashDelta:     d("25"),
		CurrentPrice:  dp("0.4"),
	})
	require.NoError(t, err)
	require.True(t, change.Asset.Available.Equal(d("100")))
	require.True(t, change.Asset.TotalValue.Equal(d("40")))
	require.True(t, change.Cash.Available.Equal(d("25")))

	change, err = svc.ApplyDelta(ctx, BalanceDelta{UserID: "u1", AssetType: key.AssetType, AssetID: key.AssetID, QuantityDelta: d("-30")})
	require.NoError(t, err)
	require.Nil(t, change.Cash)
	require.True(t, change.Asset.Available.Equal(d("70")))
	require.True(t, change.Asset.CurrentPrice.Equal(d("0.4")), "price carries over when not supplied")
	require.True(t, change.Asset.TotalValue.Equal(d("28")))

	_, err = svc.ApplyDelta(ctx, BalanceDelta{UserID: "u1", AssetType: key.AssetType, AssetID: key.AssetID, QuantityDelta: d("-70.00000001")})
	requireKind(t, err, errs.ErrShortSaleNotSupported)

	balances, err := svc.ListBalances(ctx, ledgerstore.BalanceQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, balances, 2)
}

func TestApplyDeltaIsAllOrNothing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	deposit(t, svc, "u1", "10")

	_, err := svc.ApplyDelta(ctx, BalanceDelta{
		UserID:        "u1",
		AssetType:     schema.AssetTypeCrypto,
		AssetID:       "SOL",
		QuantityDelta: d("1"),
		CashDelta:     d("-20"),
	})
	requireKind(t, err, errs.ErrInsufficientBalance)

	_, err = svc.GetBalance(ctx, schema.BalanceKey{UserID: "u1", AssetType: schema.AssetTypeCrypto, AssetID: "SOL"})
	requireKind(t, err, errs.ErrBalanceNotFound)
}

func TestApplyDeltaValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		delta BalanceDelta
		want  *errs.E
	}{
		{"no user", BalanceDelta{AssetType: schema.AssetTypeCash, CashDelta: d("1")}, errs.ErrInvalidRequest},
		{"empty", BalanceDelta{UserID: "u1", AssetType: schema.AssetTypeCrypto, AssetID: "BTC"}, errs.ErrInvalidQuantity},
		{"cash quantity", BalanceDelta{UserID: "u1", AssetType: schema.AssetTypeCash, AssetID: "USD", QuantityDelta: d("1")}, errs.ErrInvalidRequest},
		{"currency mismatch", BalanceDelta{UserID: "u1", AssetType: schema.AssetTypeCash, AssetID: "USD", Currency: "EUR", CashDelta: d("1")}, errs.ErrInvalidRequest},
		{"no asset id", BalanceDelta{UserID: "u1", AssetType: schema.AssetTypeCrypto, QuantityDelta: d("1")}, errs.ErrInvalidRequest},
		{"bad price", BalanceDelta{UserID: "u1", AssetType: schema.AssetTypeCrypto, AssetID: "BTC", QuantityDelta: d("1"), CurrentPrice: dp("0")}, errs.ErrInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ApplyDelta(ctx, tc.delta)
			requireKind(t, err, tc.want)
		})
	}
	_, err := svc.Deposit(ctx, "u1", "USD", d("-5"))
	requireKind(t, err, errs.ErrInvalidQuantity)
}

func TestUpdatePricesMarksToMarket(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for user, qty := range map[string]string{"u1": "2", "u2": "0.5"} {
		_, err := svc.ApplyDelta(ctx, BalanceDelta{UserID: user, AssetType: schema.AssetTypeCrypto, AssetID: "BTC", QuantityDelta: d(qty), CurrentPrice: dp("100")})
		require.NoError(t, err)
	}
	deposit(t, svc, "u1", "50")

	repriced, err := svc.UpdatePrices(ctx, []PriceUpdate{{AssetID: "BTC", Price: d("150")}, {AssetID: "DOGE", Price: d("0.1")}})
	require.NoError(t, err)
	require.Equal(t, 2, repriced)

	holders, err := svc.ListBalances(ctx, ledgerstore.BalanceQuery{AssetID: "BTC"})
	require.NoError(t, err)
	require.Len(t, holders, 2)
	for _, row := range holders {
		require.True(t, row.CurrentPrice.Equal(d("150")))
		require.True(t, row.TotalValue.Equal(row.Available.Mul(d("150"))))
	}
	u1, err := svc.GetBalance(ctx, schema.BalanceKey{UserID: "u1", AssetType: schema.AssetTypeCrypto, AssetID: "BTC"})
	require.NoError(t, err)
	require.True(t, u1.Available.Equal(d("2")), "available untouched")
	require.True(t, u1.TotalValue.Equal(d("300")))

	_, err = svc.UpdatePrices(ctx, nil)
	requireKind(t, err, errs.ErrInvalidRequest)
	_, err = svc.UpdatePrices(ctx, []PriceUpdate{{AssetID: "BTC", Price: d("-1")}})
	requireKind(t, err, errs.ErrInvalidPrice)
}

func TestAuditEntryCarriesStateSnapshots(t *testing.T) {
	svc := newTestService(t)
	ctx := WithActor(context.Background(), Actor{Type: "operator", ID: "ops-1"})
	deposit(t, svc, "u1", "10")
	_, err := svc.Deposit(ctx, "u1", "USD", d("5"))
	require.NoError(t, err)

	trail, err := svc.AuditTrail(context.Background(), ledgerstore.AuditQuery{ResourceType: schema.ResourceBalance, ResourceID: "u1"})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	last := trail[1]
	require.Equal(t, ActionBalanceUpdated, last.Action)
	require.Equal(t, "operator", last.ActorType)
	require.Equal(t, "ops-1", last.ActorID)
	require.Equal(t, "deposit", last.Metadata["reference"])

	var before, after BalanceChange
	require.NoError(t, json.Unmarshal(last.PreviousState, &before))
	require.NoError(t, json.Unmarshal(last.NewState, &after))
	require.True(t, before.Cash.Available.Equal(d("10")))
	require.True(t, after.Cash.Available.Equal(d("15")))

	_, err = svc.AuditTrail(ctx, ledgerstore.AuditQuery{ResourceType: schema.ResourceBalance})
	requireKind(t, err, errs.ErrInvalidRequest)
}
