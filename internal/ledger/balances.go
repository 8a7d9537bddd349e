package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/numeric"
	"github.com/coachpo/tradeledger/internal/observability"
)

var one = decimal.NewFromInt(1)

// BalanceDelta describes a paired asset/cash movement for one user.
//
// With AssetType cash the call is a pure cash movement: QuantityDelta must be
// zero and the currency is taken from AssetID (or Currency).
type BalanceDelta struct {
	UserID        string
	AssetType     schema.AssetType
	AssetID       string
	QuantityDelta decimal.Decimal
	CashDelta     decimal.Decimal
	Currency      string
	CurrentPrice  *decimal.Decimal
	// Reference correlates the movement with its cause, e.g. a trade id.
	Reference string
}

// BalanceChange reports the rows written by ApplyDelta. A nil side was not touched.
type BalanceChange struct {
	Asset *schema.Balance `json:"asset,omitempty"`
	Cash  *schema.Balance `json:"cash,omitempty"`
}

// PriceUpdate marks one asset to a new price.
type PriceUpdate struct {
	AssetID string          `json:"assetId"`
	Price   decimal.Decimal `json:"price"`
}

// GetBalance returns one balance row.
func (s *Service) GetBalance(ctx context.Context, key schema.BalanceKey) (schema.Balance, error) {
	const op = "ledger.GetBalance"
	key.UserID = strings.TrimSpace(key.UserID)
	key.AssetID = strings.TrimSpace(key.AssetID)
	if key.AssetType == schema.AssetTypeCash {
		key.AssetID = strings.ToUpper(key.AssetID)
	}
	if key.UserID == "" || key.AssetID == "" || !key.AssetType.Valid() {
		return schema.Balance{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user, asset type and asset id required"))
	}
	balance, err := s.store.GetBalance(ctx, key)
	if err != nil {
		return schema.Balance{}, read(op, err, errs.KindBalanceNotFound)
	}
	return balance, nil
}

// ListBalances returns balance rows by user or by asset.
func (s *Service) ListBalances(ctx context.Context, query ledgerstore.BalanceQuery) ([]schema.Balance, error) {
	const op = "ledger.ListBalances"
	query.UserID = strings.TrimSpace(query.UserID)
	query.AssetID = strings.TrimSpace(query.AssetID)
	if query.UserID == "" && query.AssetID == "" {
		return nil, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id or asset id required"))
	}
	query.Limit = ledgerstore.ClampLimit(query.Limit)
	balances, err := s.store.ListBalances(ctx, query)
	if err != nil {
		return nil, read(op, err, "")
	}
	return balances, nil
}

// Deposit credits cash to a user.
func (s *Service) Deposit(ctx context.Context, userID, currency string, amount decimal.Decimal) (schema.Balance, error) {
	if !numeric.Normalize(amount).IsPositive() {
		return schema.Balance{}, errs.New("ledger.Deposit", errs.KindInvalidQuantity, errs.WithMessage("deposit must be positive"))
	}
	change, err := s.ApplyDelta(ctx, BalanceDelta{
		UserID:    userID,
		AssetType: schema.AssetTypeCash,
		AssetID:   currency,
		CashDelta: amount,
		Reference: "deposit",
	})
	if err != nil {
		return schema.Balance{}, err
	}
	return *change.Cash, nil
}

// ApplyDelta upserts the asset and cash balances of delta atomically. Both legs
// are checked before either is written.
func (s *Service) ApplyDelta(ctx context.Context, delta BalanceDelta) (BalanceChange, error) {
	const op = "ledger.ApplyDelta"
	delta, err := s.normaliseDelta(op, delta)
	if err != nil {
		return BalanceChange{}, err
	}
	var change BalanceChange
	err = s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		var applyErr error
		change, applyErr = s.applyDeltaTx(ctx, tx, op, delta)
		return applyErr
	}, observability.F("user_id", delta.UserID), observability.F("asset_id", delta.AssetID))
	if err != nil {
		return BalanceChange{}, err
	}
	return change, nil
}

func (s *Service) normaliseDelta(op string, delta BalanceDelta) (BalanceDelta, error) {
	delta.UserID = strings.TrimSpace(delta.UserID)
	delta.AssetID = strings.TrimSpace(delta.AssetID)
	delta.Currency = strings.ToUpper(strings.TrimSpace(delta.Currency))
	delta.QuantityDelta = numeric.Normalize(delta.QuantityDelta)
	delta.CashDelta = numeric.Normalize(delta.CashDelta)

	if delta.UserID == "" {
		return delta, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id required"))
	}
	if delta.AssetType == schema.AssetTypeCash {
		if !delta.QuantityDelta.IsZero() {
			return delta, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("cash moves through the cash delta"))
		}
		currency := strings.ToUpper(delta.AssetID)
		if currency != "" && delta.Currency != "" && currency != delta.Currency {
			return delta, errs.New(op, errs.KindInvalidRequest,
				errs.WithMessage("asset id and currency disagree"),
				errs.WithField("asset_id", currency), errs.WithField("currency", delta.Currency))
		}
		if currency == "" {
			currency = delta.Currency
		}
		delta.AssetType, delta.AssetID, delta.Currency = "", "", currency
	}
	if delta.Currency == "" {
		delta.Currency = s.cashCurrency
	}
	if delta.QuantityDelta.IsZero() && delta.CashDelta.IsZero() {
		return delta, errs.New(op, errs.KindInvalidQuantity, errs.WithMessage("delta moves nothing"))
	}
	if !delta.QuantityDelta.IsZero() {
		if !delta.AssetType.Tradable() || delta.AssetID == "" {
			return delta, errs.New(op, errs.KindInvalidRequest,
				errs.WithMessage("tradable asset type and asset id required"),
				errs.WithField("asset_type", string(delta.AssetType)))
		}
	}
	if delta.CurrentPrice != nil {
		price := numeric.Normalize(*delta.CurrentPrice)
		if !price.IsPositive() {
			return delta, errs.New(op, errs.KindInvalidPrice, errs.WithMessage("current price must be positive"))
		}
		delta.CurrentPrice = &price
	}
	return delta, nil
}

// applyDeltaTx computes both legs, rejects negative results, then writes and audits.
func (s *Service) applyDeltaTx(ctx context.Context, tx ledgerstore.Tx, op string, delta BalanceDelta) (BalanceChange, error) {
	now := s.now()
	var change BalanceChange
	var before BalanceChange

	if !delta.QuantityDelta.IsZero() {
		key := schema.BalanceKey{UserID: delta.UserID, AssetType: delta.AssetType, AssetID: delta.AssetID}
		current, found, err := tx.GetBalanceForUpdate(ctx, key)
		if err != nil {
			return BalanceChange{}, err
		}
		if found {
			prev := current
			before.Asset = &prev
		}
		next := current
		next.BalanceKey = key
		next.Available = numeric.Normalize(current.Available.Add(delta.QuantityDelta))
		if next.Available.IsNegative() {
			return BalanceChange{}, errs.New(op, errs.KindShortSaleNotSupported,
				errs.WithField("asset_id", key.AssetID),
				errs.WithField("available", numeric.Format(current.Available)),
				errs.WithField("quantity_delta", numeric.Format(delta.QuantityDelta)))
		}
		if delta.CurrentPrice != nil {
			next.CurrentPrice = *delta.CurrentPrice
		}
		next.TotalValue = numeric.Mul(next.Available, next.CurrentPrice)
		next.UpdatedAt = now
		change.Asset = &next
	}

	if !delta.CashDelta.IsZero() {
		key := schema.CashKey(delta.UserID, delta.Currency)
		current, found, err := tx.GetBalanceForUpdate(ctx, key)
		if err != nil {
			return BalanceChange{}, err
		}
		if found {
			prev := current
			before.Cash = &prev
		}
		next := current
		next.BalanceKey = key
		next.Available = numeric.Normalize(current.Available.Add(delta.CashDelta))
		if next.Available.IsNegative() {
			return BalanceChange{}, errs.New(op, errs.KindInsufficientBalance,
				errs.WithField("currency", key.AssetID),
				errs.WithField("available", numeric.Format(current.Available)),
				errs.WithField("cash_delta", numeric.Format(delta.CashDelta)))
		}
		next.CurrentPrice = one
		next.TotalValue = next.Available
		next.UpdatedAt = now
		change.Cash = &next
	}

	if change.Asset != nil {
		if err := tx.UpsertBalance(ctx, *change.Asset); err != nil {
			return BalanceChange{}, err
		}
	}
	if change.Cash != nil {
		if err := tx.UpsertBalance(ctx, *change.Cash); err != nil {
			return BalanceChange{}, err
		}
	}

	meta := map[string]any{
		"quantityDelta": numeric.Format(delta.QuantityDelta),
		"cashDelta":     numeric.Format(delta.CashDelta),
		"currency":      delta.Currency,
	}
	if delta.AssetID != "" {
		meta["assetType"] = string(delta.AssetType)
		meta["assetId"] = delta.AssetID
	}
	if delta.Reference != "" {
		meta["reference"] = delta.Reference
	}
	err := s.appendAudit(ctx, tx, auditRecord{
		resourceType: schema.ResourceBalance,
		resourceID:   delta.UserID,
		action:       ActionBalanceUpdated,
		previous:     before,
		next:         change,
		metadata:     meta,
	})
	if err != nil {
		return BalanceChange{}, err
	}
	return change, nil
}

// UpdatePrices marks every non-cash balance row of each asset to its new price,
// recomputing TotalValue only. It returns the number of rows repriced.
func (s *Service) UpdatePrices(ctx context.Context, updates []PriceUpdate) (int, error) {
	const op = "ledger.UpdatePrices"
	if len(updates) == 0 {
		return 0, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("no prices supplied"))
	}
	prices := make(map[string]decimal.Decimal, len(updates))
	order := make([]string, 0, len(updates))
	for _, update := range updates {
		assetID := strings.TrimSpace(update.AssetID)
		if assetID == "" {
			return 0, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("asset id required"))
		}
		price := numeric.Normalize(update.Price)
		if !price.IsPositive() {
			return 0, errs.New(op, errs.KindInvalidPrice, errs.WithField("asset_id", assetID))
		}
		if _, seen := prices[assetID]; !seen {
			order = append(order, assetID)
		}
		prices[assetID] = price
	}

	var repriced int
	err := s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		repriced = 0
		now := s.now()
		marks := make(map[string]any, len(order))
		for _, assetID := range order {
			price := prices[assetID]
			rows, err := tx.ListBalancesByAssetForUpdate(ctx, assetID)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if row.AssetType == schema.AssetTypeCash {
					continue
				}
				row.CurrentPrice = price
				row.TotalValue = numeric.Mul(row.Available, price)
				row.UpdatedAt = now
				if err := tx.UpsertBalance(ctx, row); err != nil {
					return err
				}
				repriced++
			}
			marks[assetID] = numeric.Format(price)
		}
		return s.appendAudit(ctx, tx, auditRecord{
			resourceType: schema.ResourcePrices,
			resourceID:   s.newID(),
			action:       ActionPricesUpdated,
			next:         marks,
			metadata:     map[string]any{"rows": repriced, "assets": len(order)},
		})
	}, observability.F("assets", len(order)))
	if err != nil {
		return 0, err
	}
	return repriced, nil
}
