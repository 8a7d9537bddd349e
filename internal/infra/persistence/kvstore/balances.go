package kvstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func balanceKey(k schema.BalanceKey) []byte {
	return key(prefixBalance, k.UserID, string(k.AssetType), k.AssetID)
}

func balanceAssetIndex(k schema.BalanceKey) []byte {
	return key(idxBalanceAsset, k.AssetID, k.UserID, string(k.AssetType))
}

func (t *tx) GetBalanceForUpdate(_ context.Context, k schema.BalanceKey) (schema.Balance, bool, error) {
	var balance schema.Balance
	err := getJSON(t.txn, balanceKey(k), &balance)
	switch {
	case err == nil:
		return balance, true, nil
	case errors.Is(err, ledgerstore.ErrNotFound):
		return schema.Balance{BalanceKey: k}, false, nil
	default:
		return schema.Balance{}, false, fmt.Errorf("get balance: %w", err)
	}
}

func (t *tx) UpsertBalance(_ context.Context, balance schema.Balance) error {
	if err := setJSON(t.txn, balanceKey(balance.BalanceKey), balance); err != nil {
		return err
	}
	return setIndex(t.txn, balanceAssetIndex(balance.BalanceKey))
}

func (t *tx) ListBalancesByAssetForUpdate(_ context.Context, assetID string) ([]schema.Balance, error) {
	var keys []schema.BalanceKey
	err := scanKeys(t.txn, prefix(idxBalanceAsset, assetID), false, func(k []byte) (bool, error) {
		parts := splitKey(k)
		if len(parts) != 5 {
			return false, fmt.Errorf("kvstore: malformed balance index key %q", k)
		}
		keys = append(keys, schema.BalanceKey{UserID: parts[3], AssetType: schema.AssetType(parts[4]), AssetID: parts[2]})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list balances for asset %s: %w", assetID, err)
	}
	balances := make([]schema.Balance, 0, len(keys))
	for _, k := range keys {
		var balance schema.Balance
		if err := getJSON(t.txn, balanceKey(k), &balance); err != nil {
			return nil, fmt.Errorf("list balances for asset %s: %w", assetID, err)
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

// GetBalance returns one balance row.
func (s *Store) GetBalance(ctx context.Context, k schema.BalanceKey) (schema.Balance, error) {
	var balance schema.Balance
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, balanceKey(k), &balance)
	})
	if err != nil {
		return schema.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ListBalances returns a user's balances (primary key order) or an asset's
// holders (asset index order).
func (s *Store) ListBalances(ctx context.Context, query ledgerstore.BalanceQuery) ([]schema.Balance, error) {
	if query.UserID == "" && query.AssetID == "" {
		return nil, errors.New("list balances: user id or asset id required")
	}
	limit := ledgerstore.ClampLimit(query.Limit)
	var balances []schema.Balance
	err := s.view(ctx, func(txn *badger.Txn) error {
		if query.UserID != "" {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix(prefixBalance, query.UserID)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix) && len(balances) < limit; it.Next() {
				var balance schema.Balance
				err := it.Item().Value(func(val []byte) error {
					return decode(val, &balance)
				})
				if err != nil {
					return err
				}
				if query.AssetID != "" && balance.AssetID != query.AssetID {
					continue
				}
				balances = append(balances, balance)
			}
			return nil
		}
		return scanKeys(txn, prefix(idxBalanceAsset, query.AssetID), false, func(k []byte) (bool, error) {
			parts := splitKey(k)
			if len(parts) != 5 {
				return false, fmt.Errorf("kvstore: malformed balance index key %q", k)
			}
			var balance schema.Balance
			bk := schema.BalanceKey{UserID: parts[3], AssetType: schema.AssetType(parts[4]), AssetID: parts[2]}
			if err := getJSON(txn, balanceKey(bk), &balance); err != nil {
				return false, err
			}
			balances = append(balances, balance)
			return len(balances) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return balances, nil
}
