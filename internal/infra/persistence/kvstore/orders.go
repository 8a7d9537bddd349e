package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func orderKey(id string) []byte {
	return key(prefixOrder, id)
}

func orderIndexKeys(order schema.Order) [][]byte {
	created := stamp(order.CreatedAt)
	return [][]byte{
		key(idxOrderUser, order.UserID, created, order.ID),
		key(idxOrderUserStatus, order.UserID, string(order.Status), created, order.ID),
		key(idxOrderUserAsset, order.UserID, order.AssetID, created, order.ID),
	}
}

func (t *tx) InsertOrder(_ context.Context, order schema.Order) error {
	found, err := exists(t.txn, orderKey(order.ID))
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("insert order %s: %w", order.ID, ledgerstore.ErrDuplicate)
	}
	return writeOrder(t.txn, nil, order)
}

func (t *tx) GetOrderForUpdate(_ context.Context, id string) (schema.Order, error) {
	var order schema.Order
	if err := getJSON(t.txn, orderKey(id), &order); err != nil {
		return schema.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return order, nil
}

func (t *tx) UpdateOrder(_ context.Context, order schema.Order) error {
	var previous schema.Order
	if err := getJSON(t.txn, orderKey(order.ID), &previous); err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	return writeOrder(t.txn, &previous, order)
}

// writeOrder stores order and moves any index entry whose key changed since previous.
func writeOrder(txn *badger.Txn, previous *schema.Order, order schema.Order) error {
	if previous != nil {
		if previous.Status != order.Status {
			stale := key(idxOrderUserStatus, previous.UserID, string(previous.Status), stamp(previous.CreatedAt), previous.ID)
			if err := deleteKey(txn, stale); err != nil {
				return err
			}
		}
		if previous.ExternalOrderID != "" && previous.ExternalOrderID != order.ExternalOrderID {
			if err := deleteKey(txn, key(idxOrderExternal, previous.ExternalOrderID)); err != nil {
				return err
			}
		}
	}
	if order.ExternalOrderID != "" && (previous == nil || previous.ExternalOrderID != order.ExternalOrderID) {
		owner, found, err := getString(txn, key(idxOrderExternal, order.ExternalOrderID))
		if err != nil {
			return err
		}
		if found && owner != order.ID {
			return fmt.Errorf("order %s external id %s held by %s: %w",
				order.ID, order.ExternalOrderID, owner, ledgerstore.ErrDuplicateExternalOrder)
		}
	}
	if err := setJSON(txn, orderKey(order.ID), order); err != nil {
		return err
	}
	for _, k := range orderIndexKeys(order) {
		if err := setIndex(txn, k); err != nil {
			return err
		}
	}
	if order.ExternalOrderID != "" {
		if err := txn.Set(key(idxOrderExternal, order.ExternalOrderID), []byte(order.ID)); err != nil {
			return fmt.Errorf("kvstore: set index: %w", err)
		}
	}
	return nil
}

// GetOrder returns one order.
func (s *Store) GetOrder(ctx context.Context, id string) (schema.Order, error) {
	var order schema.Order
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, orderKey(id), &order)
	})
	if err != nil {
		return schema.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return order, nil
}

// FindOrderByExternalID resolves the venue order id index.
func (s *Store) FindOrderByExternalID(ctx context.Context, externalOrderID string) (schema.Order, error) {
	var order schema.Order
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, found, err := getString(txn, key(idxOrderExternal, externalOrderID))
		if err != nil {
			return err
		}
		if !found {
			return ledgerstore.ErrNotFound
		}
		return getJSON(txn, orderKey(id), &order)
	})
	if err != nil {
		return schema.Order{}, fmt.Errorf("find order by external id %s: %w", externalOrderID, err)
	}
	return order, nil
}

// ListOrders returns a user's orders newest first. An asset filter drives the
// (user, asset) index; otherwise one (user, status) index per status is merged.
func (s *Store) ListOrders(ctx context.Context, query ledgerstore.OrderQuery) ([]schema.Order, error) {
	if query.UserID == "" {
		return nil, errors.New("list orders: user id required")
	}
	limit := ledgerstore.ClampLimit(query.Limit)
	statuses := make(map[schema.OrderStatus]struct{}, len(query.Statuses))
	for _, status := range query.Statuses {
		statuses[status] = struct{}{}
	}
	keep := func(order schema.Order) bool {
		if len(statuses) == 0 {
			return true
		}
		_, ok := statuses[order.Status]
		return ok
	}

	var orders []schema.Order
	err := s.view(ctx, func(txn *badger.Txn) error {
		var prefixes [][]byte
		switch {
		case query.AssetID != "":
			prefixes = [][]byte{prefix(idxOrderUserAsset, query.UserID, query.AssetID)}
		case len(query.Statuses) > 0:
			for status := range statuses {
				prefixes = append(prefixes, prefix(idxOrderUserStatus, query.UserID, string(status)))
			}
		default:
			prefixes = [][]byte{prefix(idxOrderUser, query.UserID)}
		}
		for _, p := range prefixes {
			err := scanKeys(txn, p, true, func(k []byte) (bool, error) {
				var order schema.Order
				if err := getJSON(txn, orderKey(lastSegment(k)), &order); err != nil {
					return false, err
				}
				if keep(order) {
					orders = append(orders, order)
				}
				return len(prefixes) > 1 || len(orders) < limit, nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
