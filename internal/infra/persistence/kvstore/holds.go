package kvstore

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

func holdKey(id string) []byte {
	return key(prefixHold, id)
}

func holdTotalKey(userID, currency string) []byte {
	return key(prefixTotal, userID, currency)
}

// adjustHoldTotal reads and rewrites the per-(user, currency) active total.
// Every hold mutation touches this key, so two transactions changing the same
// user's holds conflict at commit even when they touch different hold records.
func adjustHoldTotal(txn *badger.Txn, userID, currency string, delta decimal.Decimal) error {
	k := holdTotalKey(userID, currency)
	raw, found, err := getString(txn, k)
	if err != nil {
		return err
	}
	total := decimal.Zero
	if found {
		if total, err = decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("kvstore: decode hold total: %w", err)
		}
	}
	if err := txn.Set(k, []byte(total.Add(delta).String())); err != nil {
		return fmt.Errorf("kvstore: set hold total: %w", err)
	}
	return nil
}

func (t *tx) InsertHold(_ context.Context, hold schema.Hold) error {
	found, err := exists(t.txn, holdKey(hold.ID))
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("insert hold %s: %w", hold.ID, ledgerstore.ErrDuplicate)
	}
	if err := setJSON(t.txn, holdKey(hold.ID), hold); err != nil {
		return err
	}
	if err := setIndex(t.txn, key(idxHoldUser, hold.UserID, stamp(hold.CreatedAt), hold.ID)); err != nil {
		return err
	}
	if hold.OrderID != "" {
		if err := setIndex(t.txn, key(idxHoldOrder, hold.OrderID, hold.ID)); err != nil {
			return err
		}
	}
	if hold.Status != schema.HoldStatusActive {
		return nil
	}
	if hold.OrderID != "" {
		if err := t.txn.Set(key(idxHoldActive, hold.OrderID), []byte(hold.ID)); err != nil {
			return fmt.Errorf("kvstore: set index: %w", err)
		}
	}
	return adjustHoldTotal(t.txn, hold.UserID, hold.Currency, hold.Amount)
}

func (t *tx) GetHoldForUpdate(_ context.Context, id string) (schema.Hold, error) {
	var hold schema.Hold
	if err := getJSON(t.txn, holdKey(id), &hold); err != nil {
		return schema.Hold{}, fmt.Errorf("get hold %s: %w", id, err)
	}
	return hold, nil
}

func (t *tx) ActiveHoldForOrder(_ context.Context, orderID string) (schema.Hold, bool, error) {
	id, found, err := getString(t.txn, key(idxHoldActive, orderID))
	if err != nil || !found {
		return schema.Hold{}, false, err
	}
	var hold schema.Hold
	if err := getJSON(t.txn, holdKey(id), &hold); err != nil {
		return schema.Hold{}, false, fmt.Errorf("get active hold of order %s: %w", orderID, err)
	}
	return hold, true, nil
}

func (t *tx) UpdateHold(_ context.Context, hold schema.Hold) error {
	var previous schema.Hold
	if err := getJSON(t.txn, holdKey(hold.ID), &previous); err != nil {
		return fmt.Errorf("update hold %s: %w", hold.ID, err)
	}
	if err := setJSON(t.txn, holdKey(hold.ID), hold); err != nil {
		return err
	}
	if previous.Status != schema.HoldStatusActive || hold.Status == schema.HoldStatusActive {
		return nil
	}
	if previous.OrderID != "" {
		if err := deleteKey(t.txn, key(idxHoldActive, previous.OrderID)); err != nil {
			return err
		}
	}
	return adjustHoldTotal(t.txn, previous.UserID, previous.Currency, previous.Amount.Neg())
}

func (t *tx) SumActiveHolds(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	raw, found, err := getString(t.txn, holdTotalKey(userID, currency))
	if err != nil || !found {
		return decimal.Zero, err
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("kvstore: decode hold total: %w", err)
	}
	return total, nil
}

// GetHold returns one hold.
func (s *Store) GetHold(ctx context.Context, id string) (schema.Hold, error) {
	var hold schema.Hold
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, holdKey(id), &hold)
	})
	if err != nil {
		return schema.Hold{}, fmt.Errorf("get hold %s: %w", id, err)
	}
	return hold, nil
}

// ListHolds returns holds of an order, or of a user in creation order.
func (s *Store) ListHolds(ctx context.Context, query ledgerstore.HoldQuery) ([]schema.Hold, error) {
	var p []byte
	switch {
	case query.OrderID != "":
		p = prefix(idxHoldOrder, query.OrderID)
	case query.UserID != "":
		p = prefix(idxHoldUser, query.UserID)
	default:
		return nil, errors.New("list holds: user id or order id required")
	}
	limit := ledgerstore.ClampLimit(query.Limit)
	statuses := make(map[schema.HoldStatus]struct{}, len(query.Statuses))
	for _, status := range query.Statuses {
		statuses[status] = struct{}{}
	}

	var holds []schema.Hold
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanKeys(txn, p, false, func(k []byte) (bool, error) {
			var hold schema.Hold
			if err := getJSON(txn, holdKey(lastSegment(k)), &hold); err != nil {
				return false, err
			}
			if query.UserID != "" && hold.UserID != query.UserID {
				return true, nil
			}
			if _, ok := statuses[hold.Status]; len(statuses) > 0 && !ok {
				return true, nil
			}
			holds = append(holds, hold)
			return len(holds) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	return holds, nil
}
