package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/numeric"
	"github.com/coachpo/tradeledger/internal/observability"
)

// CreateHoldParams describes a buying-power reservation.
type CreateHoldParams struct {
	UserID   string
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Reason   string
}

// CreateHold reserves amount of the user's buying power.
func (s *Service) CreateHold(ctx context.Context, params CreateHoldParams) (schema.Hold, error) {
	const op = "ledger.CreateHold"
	params.UserID = strings.TrimSpace(params.UserID)
	params.OrderID = strings.TrimSpace(params.OrderID)
	params.Currency = strings.ToUpper(strings.TrimSpace(params.Currency))
	if params.Currency == "" {
		params.Currency = s.cashCurrency
	}
	if params.UserID == "" {
		return schema.Hold{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id required"))
	}
	params.Amount = numeric.Normalize(params.Amount)
	if !params.Amount.IsPositive() {
		return schema.Hold{}, errs.New(op, errs.KindInvalidQuantity, errs.WithMessage("hold amount must be positive"))
	}

	var hold schema.Hold
	err := s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		var createErr error
		hold, createErr = s.createHoldTx(ctx, tx, op, params)
		return createErr
	}, observability.F("user_id", params.UserID), observability.F("order_id", params.OrderID))
	if err != nil {
		return schema.Hold{}, err
	}
	s.metrics.hold(ctx, hold)
	return hold, nil
}

func (s *Service) createHoldTx(ctx context.Context, tx ledgerstore.Tx, op string, params CreateHoldParams) (schema.Hold, error) {
	// Locking the cash row serialises hold creation per user on row-locking stores.
	cash, _, err := tx.GetBalanceForUpdate(ctx, schema.CashKey(params.UserID, params.Currency))
	if err != nil {
		return schema.Hold{}, err
	}
	held, err := tx.SumActiveHolds(ctx, params.UserID, params.Currency)
	if err != nil {
		return schema.Hold{}, err
	}
	power := cash.Available.Sub(held)
	if power.LessThan(params.Amount) {
		return schema.Hold{}, errs.New(op, errs.KindInsufficientBalance,
			errs.WithMessage("buying power below hold amount"),
			errs.WithField("buying_power", numeric.Format(power)),
			errs.WithField("amount", numeric.Format(params.Amount)),
			errs.WithField("currency", params.Currency))
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		reason = "manual"
	}
	hold := schema.Hold{
		ID:        s.newID(),
		UserID:    params.UserID,
		OrderID:   params.OrderID,
		Amount:    params.Amount,
		Currency:  params.Currency,
		Reason:    reason,
		Status:    schema.HoldStatusActive,
		CreatedAt: s.now(),
	}
	if err := tx.InsertHold(ctx, hold); err != nil {
		return schema.Hold{}, err
	}
	err = s.appendAudit(ctx, tx, auditRecord{
		resourceType: schema.ResourceHold,
		resourceID:   hold.ID,
		action:       ActionHoldCreated,
		next:         hold,
		metadata: map[string]any{
			"buyingPowerBefore": numeric.Format(power),
			"orderId":           hold.OrderID,
		},
	})
	if err != nil {
		return schema.Hold{}, err
	}
	return hold, nil
}

// ReleaseHold returns a reservation to buying power.
func (s *Service) ReleaseHold(ctx context.Context, holdID string) (schema.Hold, error) {
	return s.closeHold(ctx, "ledger.ReleaseHold", holdID, schema.HoldStatusReleased)
}

// ApplyHold marks a reservation as consumed by a trade. The debit itself is
// made by ApplyDelta.
func (s *Service) ApplyHold(ctx context.Context, holdID string) (schema.Hold, error) {
	return s.closeHold(ctx, "ledger.ApplyHold", holdID, schema.HoldStatusApplied)
}

func (s *Service) closeHold(ctx context.Context, op, holdID string, status schema.HoldStatus) (schema.Hold, error) {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return schema.Hold{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("hold id required"))
	}
	var closed schema.Hold
	err := s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		hold, err := tx.GetHoldForUpdate(ctx, holdID)
		if err != nil {
			return read(op, err, errs.KindHoldNotFound)
		}
		closed, err = s.closeHoldTx(ctx, tx, op, hold, status)
		return err
	}, observability.F("hold_id", holdID), observability.F("status", string(status)))
	if err != nil {
		return schema.Hold{}, err
	}
	s.metrics.hold(ctx, closed)
	return closed, nil
}

func (s *Service) closeHoldTx(ctx context.Context, tx ledgerstore.Tx, op string, hold schema.Hold, status schema.HoldStatus) (schema.Hold, error) {
	if hold.Status != schema.HoldStatusActive {
		return schema.Hold{}, errs.New(op, errs.KindHoldAlreadyClosed,
			errs.WithField("hold_id", hold.ID),
			errs.WithField("status", string(hold.Status)))
	}
	previous := hold
	now := s.now()
	hold.Status = status
	hold.ReleasedAt = &now
	if err := tx.UpdateHold(ctx, hold); err != nil {
		return schema.Hold{}, err
	}
	action := ActionHoldReleased
	if status == schema.HoldStatusApplied {
		action = ActionHoldApplied
	}
	err := s.appendAudit(ctx, tx, auditRecord{
		resourceType: schema.ResourceHold,
		resourceID:   hold.ID,
		action:       action,
		previous:     previous,
		next:         hold,
		metadata:     map[string]any{"orderId": hold.OrderID},
	})
	if err != nil {
		return schema.Hold{}, err
	}
	return hold, nil
}

// closeOrderHold closes the active hold of an order, if any.
func (s *Service) closeOrderHold(ctx context.Context, tx ledgerstore.Tx, op, orderID string, status schema.HoldStatus) (*schema.Hold, error) {
	hold, found, err := tx.ActiveHoldForOrder(ctx, orderID)
	if err != nil || !found {
		return nil, err
	}
	closed, err := s.closeHoldTx(ctx, tx, op, hold, status)
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

// GetHold returns one hold.
func (s *Service) GetHold(ctx context.Context, holdID string) (schema.Hold, error) {
	const op = "ledger.GetHold"
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return schema.Hold{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("hold id required"))
	}
	hold, err := s.store.GetHold(ctx, holdID)
	if err != nil {
		return schema.Hold{}, read(op, err, errs.KindHoldNotFound)
	}
	return hold, nil
}

// ListHolds returns holds by user or by order.
func (s *Service) ListHolds(ctx context.Context, query ledgerstore.HoldQuery) ([]schema.Hold, error) {
	const op = "ledger.ListHolds"
	query.UserID = strings.TrimSpace(query.UserID)
	query.OrderID = strings.TrimSpace(query.OrderID)
	if query.UserID == "" && query.OrderID == "" {
		return nil, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id or order id required"))
	}
	query.Limit = ledgerstore.ClampLimit(query.Limit)
	holds, err := s.store.ListHolds(ctx, query)
	if err != nil {
		return nil, read(op, err, "")
	}
	return holds, nil
}

// BuyingPower returns available cash minus the user's active holds in currency.
// It reads outside a transaction and is not linearizable with in-flight writes.
func (s *Service) BuyingPower(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	const op = "ledger.BuyingPower"
	userID = strings.TrimSpace(userID)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.cashCurrency
	}
	if userID == "" {
		return decimal.Zero, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id required"))
	}
	available := decimal.Zero
	cash, err := s.store.GetBalance(ctx, schema.CashKey(userID, currency))
	switch {
	case err == nil:
		available = cash.Available
	case errors.Is(err, ledgerstore.ErrNotFound):
	default:
		return decimal.Zero, read(op, err, "")
	}
	held, err := s.activeHoldTotal(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, read(op, err, "")
	}
	return numeric.Normalize(available.Sub(held)), nil
}

func (s *Service) activeHoldTotal(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	holds, err := s.store.ListHolds(ctx, ledgerstore.HoldQuery{
		UserID:   userID,
		Statuses: []schema.HoldStatus{schema.HoldStatusActive},
		Limit:    ledgerstore.MaxLimit,
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, hold := range holds {
		if hold.Currency == currency {
			total = total.Add(hold.Amount)
		}
	}
	return total, nil
}
