package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleOrder(id, user string, created time.Time) schema.Order {
	qty := decimal.NewFromInt(10)
	return schema.Order{
		ID:                id,
		UserID:            user,
		AssetType:         schema.AssetTypeCrypto,
		AssetID:           "BTC",
		Symbol:            "BTC-USD",
		Side:              schema.SideBuy,
		Type:              schema.OrderTypeMarket,
		Quantity:          qty,
		Status:            schema.OrderStatusPending,
		RemainingQuantity: qty,
		FeesCurrency:      "USD",
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestNilStoreGuards(t *testing.T) {
	var store *Store
	ctx := context.Background()
	require.Error(t, store.WithTransaction(ctx, func(context.Context, ledgerstore.Tx) error { return nil }))
	_, err := store.GetOrder(ctx, "o1")
	require.Error(t, err)
	require.NoError(t, store.Close())
}

func TestOrderIndexesFollowUpdates(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := sampleOrder("o1", "u1", base)
	second := sampleOrder("o2", "u1", base.Add(time.Second))
	second.AssetID = "ETH"
	other := sampleOrder("o3", "u10", base)

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		for _, order := range []schema.Order{first, second, other} {
			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
		}
		return nil
	}))

	orders, err := store.ListOrders(ctx, ledgerstore.OrderQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "o2", orders[0].ID, "newest first")

	first.Status = schema.OrderStatusSubmitted
	first.ExternalOrderID = "venue-1"
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.UpdateOrder(ctx, first)
	}))

	pending, err := store.ListOrders(ctx, ledgerstore.OrderQuery{UserID: "u1", Statuses: []schema.OrderStatus{schema.OrderStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "o2", pending[0].ID)

	open, err := store.ListOrders(ctx, ledgerstore.OrderQuery{UserID: "u1", Statuses: schema.OpenStatuses()})
	require.NoError(t, err)
	require.Len(t, open, 2)

	btc, err := store.ListOrders(ctx, ledgerstore.OrderQuery{UserID: "u1", AssetID: "BTC"})
	require.NoError(t, err)
	require.Len(t, btc, 1)
	require.Equal(t, schema.OrderStatusSubmitted, btc[0].Status)

	found, err := store.FindOrderByExternalID(ctx, "venue-1")
	require.NoError(t, err)
	require.Equal(t, "o1", found.ID)

	_, err = store.FindOrderByExternalID(ctx, "missing")
	require.ErrorIs(t, err, ledgerstore.ErrNotFound)
}

func TestInsertOrderRejectsDuplicateID(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	order := sampleOrder("o1", "u1", time.Now().UTC())
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertOrder(ctx, order)
	}))
	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicate)
}

func TestExternalOrderIDIndexIsUnique(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	now := time.Now().UTC()
	first := sampleOrder("o1", "u1", now)
	first.ExternalOrderID = "VENUE-1"
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertOrder(ctx, first)
	}))

	clash := sampleOrder("o2", "u1", now.Add(time.Millisecond))
	clash.ExternalOrderID = "VENUE-1"
	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertOrder(ctx, clash)
	})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicateExternalOrder)
	_, err = store.GetOrder(ctx, "o2")
	require.ErrorIs(t, err, ledgerstore.ErrNotFound)

	clash.ExternalOrderID = ""
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertOrder(ctx, clash)
	}))
	err = store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, "o2")
		if err != nil {
			return err
		}
		order.ExternalOrderID = "VENUE-1"
		return tx.UpdateOrder(ctx, order)
	})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicateExternalOrder)

	found, err := store.FindOrderByExternalID(ctx, "VENUE-1")
	require.NoError(t, err)
	require.Equal(t, "o1", found.ID)

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, "o1")
		if err != nil {
			return err
		}
		order.ExternalOrderID = "VENUE-2"
		return tx.UpdateOrder(ctx, order)
	}))
	_, err = store.FindOrderByExternalID(ctx, "VENUE-1")
	require.ErrorIs(t, err, ledgerstore.ErrNotFound)
}

func TestTradeExternalIDIsUniquePerOrder(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	trade := schema.Trade{
		ID:              "t1",
		OrderID:         "o1",
		UserID:          "u1",
		AssetID:         "BTC",
		Side:            schema.SideBuy,
		Quantity:        decimal.NewFromInt(1),
		Price:           decimal.NewFromInt(100),
		Value:           decimal.NewFromInt(100),
		ExternalTradeID: "fill-1",
		ExecutedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertTrade(ctx, trade)
	}))

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		seen, err := tx.TradeExists(ctx, "o1", "fill-1")
		require.NoError(t, err)
		require.True(t, seen)
		seen, err = tx.TradeExists(ctx, "o2", "fill-1")
		require.NoError(t, err)
		require.False(t, seen)
		return nil
	}))

	dup := trade
	dup.ID = "t2"
	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertTrade(ctx, dup)
	})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicateExternalTrade)

	trades, err := store.ListTrades(ctx, ledgerstore.TradeQuery{AssetID: "BTC"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestBalanceUpsertAndAssetIndex(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	btc := schema.BalanceKey{UserID: "u1", AssetType: schema.AssetTypeCrypto, AssetID: "BTC"}

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		balance, found, err := tx.GetBalanceForUpdate(ctx, btc)
		require.NoError(t, err)
		require.False(t, found)
		require.Equal(t, btc, balance.BalanceKey)
		balance.Available = decimal.NewFromInt(2)
		if err := tx.UpsertBalance(ctx, balance); err != nil {
			return err
		}
		return tx.UpsertBalance(ctx, schema.Balance{BalanceKey: schema.CashKey("u1", "USD"), Available: decimal.NewFromInt(50)})
	}))

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		rows, err := tx.ListBalancesByAssetForUpdate(ctx, "BTC")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.True(t, rows[0].Available.Equal(decimal.NewFromInt(2)))
		return nil
	}))

	byUser, err := store.ListBalances(ctx, ledgerstore.BalanceQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, byUser, 2)

	_, err = store.GetBalance(ctx, schema.CashKey("u2", "USD"))
	require.ErrorIs(t, err, ledgerstore.ErrNotFound)
}

func TestHoldTotalsTrackActiveHolds(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	hold := schema.Hold{
		ID:        "h1",
		UserID:    "u1",
		OrderID:   "o1",
		Amount:    decimal.NewFromInt(500),
		Currency:  "USD",
		Reason:    "order:o1",
		Status:    schema.HoldStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.InsertHold(ctx, hold)
	}))

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		total, err := tx.SumActiveHolds(ctx, "u1", "USD")
		require.NoError(t, err)
		require.True(t, total.Equal(decimal.NewFromInt(500)))
		active, found, err := tx.ActiveHoldForOrder(ctx, "o1")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "h1", active.ID)

		active.Status = schema.HoldStatusReleased
		return tx.UpdateHold(ctx, active)
	}))

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		total, err := tx.SumActiveHolds(ctx, "u1", "USD")
		require.NoError(t, err)
		require.True(t, total.IsZero())
		_, found, err := tx.ActiveHoldForOrder(ctx, "o1")
		require.NoError(t, err)
		require.False(t, found)
		return nil
	}))

	released, err := store.ListHolds(ctx, ledgerstore.HoldQuery{UserID: "u1", Statuses: []schema.HoldStatus{schema.HoldStatusReleased}})
	require.NoError(t, err)
	require.Len(t, released, 1)
	byOrder, err := store.ListHolds(ctx, ledgerstore.HoldQuery{OrderID: "o1"})
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
}

func TestConcurrentHoldMutationsConflict(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	newHold := func(id string) schema.Hold {
		return schema.Hold{ID: id, UserID: "u1", Amount: decimal.NewFromInt(10), Currency: "USD", Status: schema.HoldStatusActive, CreatedAt: time.Now().UTC()}
	}

	err := store.WithTransaction(ctx, func(ctx context.Context, outer ledgerstore.Tx) error {
		if _, err := outer.SumActiveHolds(ctx, "u1", "USD"); err != nil {
			return err
		}
		require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, inner ledgerstore.Tx) error {
			return inner.InsertHold(ctx, newHold("h2"))
		}))
		return outer.InsertHold(ctx, newHold("h1"))
	})
	require.ErrorIs(t, err, ledgerstore.ErrConflict)

	_, err = store.GetHold(ctx, "h1")
	require.ErrorIs(t, err, ledgerstore.ErrNotFound)
	_, err = store.GetHold(ctx, "h2")
	require.NoError(t, err)
}

func TestRolledBackTransactionLeavesNoTrace(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	boom := context.Canceled
	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		if err := tx.InsertOrder(ctx, sampleOrder("o1", "u1", time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.GetOrder(ctx, "o1")
	require.ErrorIs(t, err, ledgerstore.ErrNotFound)
}

func TestAuditRangeQuery(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		for i, action := range []string{"order_created", "order_status_changed", "order_cancelled"} {
			entry := schema.AuditEntry{
				ID:           action,
				ResourceType: schema.ResourceOrder,
				ResourceID:   "o1",
				Action:       action,
				ActorType:    "system",
				Timestamp:    base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.AppendAudit(ctx, entry); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, schema.AuditEntry{ID: "x", ResourceType: schema.ResourceOrder, ResourceID: "o10", Action: "order_created", Timestamp: base})
	}))

	all, err := store.ListAudit(ctx, ledgerstore.AuditQuery{ResourceType: schema.ResourceOrder, ResourceID: "o1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "order_created", all[0].Action)

	window, err := store.ListAudit(ctx, ledgerstore.AuditQuery{
		ResourceType: schema.ResourceOrder,
		ResourceID:   "o1",
		From:         base.Add(30 * time.Second),
		To:           base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, "order_status_changed", window[0].Action)
}

func TestAuditEntriesWithSameTimestampKeepAppendOrder(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := func(id, action string) schema.AuditEntry {
		return schema.AuditEntry{
			ID:           id,
			ResourceType: schema.ResourceOrder,
			ResourceID:   "o1",
			Action:       action,
			ActorType:    "system",
			Timestamp:    at,
		}
	}
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		if err := tx.AppendAudit(ctx, entry("z", "order_created")); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, entry("m", "order_status_changed"))
	}))
	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.AppendAudit(ctx, entry("a", "order_cancelled"))
	}))

	entries, err := store.ListAudit(ctx, ledgerstore.AuditQuery{ResourceType: schema.ResourceOrder, ResourceID: "o1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []string{"z", "m", "a"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})

	err = store.WithTransaction(ctx, func(ctx context.Context, tx ledgerstore.Tx) error {
		return tx.AppendAudit(ctx, entry("m", "order_filled"))
	})
	require.ErrorIs(t, err, ledgerstore.ErrDuplicate)
}
