package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func TestSummaryAggregatesUserState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	deposit(t, svc, "u1", "5000")

	filled, err := svc.CreateOrder(ctx, limitBuy("u1", "2", "1000"))
	require.NoError(t, err)
	_, err = svc.RecordTrade(ctx, RecordTradeParams{OrderID: filled.Order.ID, Quantity: d("2"), Price: d("900")})
	require.NoError(t, err)
	open, err := svc.CreateOrder(ctx, limitBuy("u1", "1", "1000"))
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, "USD", summary.Currency)
	require.True(t, summary.Cash.Equal(d("3200")), summary.Cash.String())
	require.True(t, summary.Held.Equal(d("1000")))
	require.True(t, summary.BuyingPower.Equal(d("2200")))
	require.True(t, summary.TotalValue.Equal(d("5000")), summary.TotalValue.String())
	require.Len(t, summary.Balances, 2)
	require.Len(t, summary.OpenOrders, 1)
	require.Equal(t, open.Order.ID, summary.OpenOrders[0].ID)
	require.Len(t, summary.ActiveHolds, 1)
	require.Equal(t, schema.HoldStatusActive, summary.ActiveHolds[0].Status)

	_, err = svc.Summary(ctx, "", "")
	requireKind(t, err, errs.ErrInvalidRequest)
}
