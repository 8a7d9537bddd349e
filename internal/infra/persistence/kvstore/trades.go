package kvstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func tradeKey(id string) []byte {
	return key(prefixTrade, id)
}

func (t *tx) InsertTrade(_ context.Context, trade schema.Trade) error {
	found, err := exists(t.txn, tradeKey(trade.ID))
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("insert trade %s: %w", trade.ID, ledgerstore.ErrDuplicate)
	}
	if trade.ExternalTradeID != "" {
		extKey := key(idxTradeExternal, trade.OrderID, trade.ExternalTradeID)
		taken, err := exists(t.txn, extKey)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("insert trade %s external id %s: %w", trade.ID, trade.ExternalTradeID, ledgerstore.ErrDuplicateExternalTrade)
		}
		if err := t.txn.Set(extKey, []byte(trade.ID)); err != nil {
			return fmt.Errorf("kvstore: set index: %w", err)
		}
	}
	if err := setJSON(t.txn, tradeKey(trade.ID), trade); err != nil {
		return err
	}
	executed := stamp(trade.ExecutedAt)
	for _, k := range [][]byte{
		key(idxTradeOrder, trade.OrderID, executed, trade.ID),
		key(idxTradeUser, trade.UserID, executed, trade.ID),
		key(idxTradeAsset, trade.AssetID, executed, trade.ID),
	} {
		if err := setIndex(t.txn, k); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) TradeExists(_ context.Context, orderID, externalTradeID string) (bool, error) {
	return exists(t.txn, key(idxTradeExternal, orderID, externalTradeID))
}

// ListTrades returns trades in execution order from the order, user or asset index.
func (s *Store) ListTrades(ctx context.Context, query ledgerstore.TradeQuery) ([]schema.Trade, error) {
	var p []byte
	switch {
	case query.OrderID != "":
		p = prefix(idxTradeOrder, query.OrderID)
	case query.UserID != "":
		p = prefix(idxTradeUser, query.UserID)
	case query.AssetID != "":
		p = prefix(idxTradeAsset, query.AssetID)
	default:
		return nil, errors.New("list trades: order, user or asset id required")
	}
	limit := ledgerstore.ClampLimit(query.Limit)

	var trades []schema.Trade
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids, err := collectIDs(txn, p, false, limit)
		if err != nil {
			return err
		}
		trades = make([]schema.Trade, 0, len(ids))
		for _, id := range ids {
			var trade schema.Trade
			if err := getJSON(txn, tradeKey(id), &trade); err != nil {
				return err
			}
			trades = append(trades, trade)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return trades, nil
}
