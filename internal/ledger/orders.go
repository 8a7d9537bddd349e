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

// CreateOrderParams describes a new order.
type CreateOrderParams struct {
	UserID     string
	AssetType  schema.AssetType
	AssetID    string
	Symbol     string
	Side       schema.Side
	Type       schema.OrderType
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	// ReservePrice sizes the buying-power hold of a market buy. Ignored otherwise.
	ReservePrice    *decimal.Decimal
	FeesCurrency    string
	ExternalOrderID string
	ExecutionVenue  string
	WorkflowRef     string
}

// StatusUpdate moves an order through its lifecycle. FilledQuantity, when set,
// is the new cumulative fill and may not decrease.
type StatusUpdate struct {
	Status          schema.OrderStatus
	FilledQuantity  *decimal.Decimal
	AvgFillPrice    *decimal.Decimal
	ExternalOrderID string
	ExecutionVenue  string
	Reason          string
}

// PlacedOrder is the result of CreateOrder. Hold is nil when no cash was reserved.
type PlacedOrder struct {
	Order schema.Order `json:"order"`
	Hold  *schema.Hold `json:"hold,omitempty"`
}

// CreateOrder validates and persists a pending order. Buy orders with a
// reservation price also reserve Quantity x price of buying power in the same
// transaction.
func (s *Service) CreateOrder(ctx context.Context, params CreateOrderParams) (PlacedOrder, error) {
	const op = "ledger.CreateOrder"
	order, err := s.buildOrder(op, params)
	if err != nil {
		return PlacedOrder{}, err
	}
	var reserve *decimal.Decimal
	if order.Side == schema.SideBuy {
		reserve = order.ReservationPrice()
		if reserve == nil && params.ReservePrice != nil {
			price := numeric.Normalize(*params.ReservePrice)
			if !price.IsPositive() {
				return PlacedOrder{}, errs.New(op, errs.KindInvalidPrice, errs.WithMessage("reserve price must be positive"))
			}
			reserve = &price
		}
	}

	var placed PlacedOrder
	err = s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		placed = PlacedOrder{Order: order}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		err := s.appendAudit(ctx, tx, auditRecord{
			resourceType: schema.ResourceOrder,
			resourceID:   order.ID,
			action:       ActionOrderCreated,
			next:         order,
			metadata:     map[string]any{"userId": order.UserID, "workflowRef": order.WorkflowRef},
		})
		if err != nil {
			return err
		}
		if reserve == nil {
			return nil
		}
		hold, err := s.createHoldTx(ctx, tx, op, CreateHoldParams{
			UserID:   order.UserID,
			OrderID:  order.ID,
			Amount:   numeric.Mul(order.Quantity, *reserve),
			Currency: s.cashCurrency,
			Reason:   "order:" + order.ID,
		})
		if err != nil {
			return err
		}
		placed.Hold = &hold
		return nil
	}, observability.F("order_id", order.ID), observability.F("user_id", order.UserID))
	if err != nil {
		return PlacedOrder{}, err
	}
	s.metrics.orderStatus(ctx, placed.Order)
	if placed.Hold != nil {
		s.metrics.hold(ctx, *placed.Hold)
	}
	return placed, nil
}

func (s *Service) buildOrder(op string, params CreateOrderParams) (schema.Order, error) {
	userID := strings.TrimSpace(params.UserID)
	assetID := strings.TrimSpace(params.AssetID)
	if userID == "" || assetID == "" {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id and asset id required"))
	}
	if !params.AssetType.Tradable() {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest,
			errs.WithMessage("unsupported asset type"), errs.WithField("asset_type", string(params.AssetType)))
	}
	if !params.Side.Valid() {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest,
			errs.WithMessage("unsupported side"), errs.WithField("side", string(params.Side)))
	}
	if !params.Type.Valid() {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest,
			errs.WithMessage("unsupported order type"), errs.WithField("order_type", string(params.Type)))
	}
	quantity := numeric.Normalize(params.Quantity)
	if !quantity.IsPositive() {
		return schema.Order{}, errs.New(op, errs.KindInvalidQuantity, errs.WithField("quantity", params.Quantity.String()))
	}
	if err := validatePrices(op, params.Type, params.LimitPrice, params.StopPrice); err != nil {
		return schema.Order{}, err
	}

	feesCurrency := strings.ToUpper(strings.TrimSpace(params.FeesCurrency))
	if feesCurrency == "" {
		feesCurrency = s.cashCurrency
	}
	symbol := strings.TrimSpace(params.Symbol)
	if symbol == "" {
		symbol = assetID
	}
	now := s.now()
	order := schema.Order{
		ID:                s.newID(),
		UserID:            userID,
		AssetType:         params.AssetType,
		AssetID:           assetID,
		Symbol:            symbol,
		Side:              params.Side,
		Type:              params.Type,
		Quantity:          quantity,
		Status:            schema.OrderStatusPending,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: quantity,
		AvgFillPrice:      decimal.Zero,
		Fees:              decimal.Zero,
		FeesCurrency:      feesCurrency,
		ExternalOrderID:   strings.TrimSpace(params.ExternalOrderID),
		ExecutionVenue:    strings.TrimSpace(params.ExecutionVenue),
		WorkflowRef:       params.WorkflowRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if params.LimitPrice != nil {
		order.LimitPrice = numeric.Ptr(*params.LimitPrice)
	}
	if params.StopPrice != nil {
		order.StopPrice = numeric.Ptr(*params.StopPrice)
	}
	return order, nil
}

func validatePrices(op string, orderType schema.OrderType, limit, stop *decimal.Decimal) error {
	switch orderType {
	case schema.OrderTypeMarket:
		if limit != nil || stop != nil {
			return errs.New(op, errs.KindPriceNotAllowed, errs.WithMessage("market orders carry no price"))
		}
	case schema.OrderTypeLimit:
		if limit == nil {
			return errs.New(op, errs.KindMissingLimitPrice)
		}
		if stop != nil {
			return errs.New(op, errs.KindPriceNotAllowed, errs.WithMessage("limit orders carry no stop price"))
		}
	case schema.OrderTypeStop:
		if stop == nil {
			return errs.New(op, errs.KindMissingStopPrice)
		}
		if limit != nil {
			return errs.New(op, errs.KindPriceNotAllowed, errs.WithMessage("stop orders carry no limit price"))
		}
	case schema.OrderTypeStopLimit:
		if stop == nil {
			return errs.New(op, errs.KindMissingStopPrice)
		}
		if limit == nil {
			return errs.New(op, errs.KindMissingLimitPrice)
		}
	}
	for name, price := range map[string]*decimal.Decimal{"limit_price": limit, "stop_price": stop} {
		if price != nil && !numeric.Normalize(*price).IsPositive() {
			return errs.New(op, errs.KindInvalidPrice, errs.WithField(name, price.String()))
		}
	}
	return nil
}

// UpdateStatus applies a lifecycle transition reported by the venue or the
// workflow tier. Entering cancelled, rejected, expired or failed releases the
// order's active hold; entering filled applies it.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, update StatusUpdate) (schema.Order, error) {
	const op = "ledger.UpdateStatus"
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("order id required"))
	}
	if !update.Status.Valid() {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest,
			errs.WithMessage("unknown status"), errs.WithField("status", string(update.Status)))
	}
	if update.FilledQuantity != nil {
		update.FilledQuantity = numeric.Ptr(*update.FilledQuantity)
		if update.FilledQuantity.IsNegative() {
			return schema.Order{}, errs.New(op, errs.KindInvalidQuantity, errs.WithMessage("filled quantity must not be negative"))
		}
	}
	if update.AvgFillPrice != nil {
		update.AvgFillPrice = numeric.Ptr(*update.AvgFillPrice)
		if !update.AvgFillPrice.IsPositive() {
			return schema.Order{}, errs.New(op, errs.KindInvalidPrice, errs.WithMessage("average fill price must be positive"))
		}
	}

	var updated schema.Order
	err := s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return read(op, err, errs.KindOrderNotFound)
		}
		updated, err = s.transition(op, order, update)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, updated); err != nil {
			return err
		}
		err = s.appendAudit(ctx, tx, auditRecord{
			resourceType: schema.ResourceOrder,
			resourceID:   order.ID,
			action:       ActionOrderStatusChanged,
			previous:     order,
			next:         updated,
			metadata: map[string]any{
				"from":   string(order.Status),
				"to":     string(updated.Status),
				"reason": update.Reason,
			},
		})
		if err != nil {
			return err
		}
		switch {
		case updated.Status == schema.OrderStatusFilled:
			_, err = s.closeOrderHold(ctx, tx, op, order.ID, schema.HoldStatusApplied)
		case updated.Status.ReleasesHold():
			_, err = s.closeOrderHold(ctx, tx, op, order.ID, schema.HoldStatusReleased)
		}
		return err
	}, observability.F("order_id", orderID), observability.F("status", string(update.Status)))
	if err != nil {
		return schema.Order{}, err
	}
	s.metrics.orderStatus(ctx, updated)
	return updated, nil
}

// transition returns order moved to update.Status or an error leaving it untouched.
func (s *Service) transition(op string, order schema.Order, update StatusUpdate) (schema.Order, error) {
	from, to := order.Status, update.Status
	if from.Terminal() {
		return schema.Order{}, errs.New(op, errs.KindInvalidTransition,
			errs.WithMessage("order is in a terminal status"),
			errs.WithField("from", string(from)), errs.WithField("to", string(to)))
	}
	if !schema.CanTransition(from, to) {
		return schema.Order{}, errs.New(op, errs.KindInvalidTransition,
			errs.WithField("from", string(from)), errs.WithField("to", string(to)))
	}

	carriesFill := update.FilledQuantity != nil || update.AvgFillPrice != nil
	if carriesFill && to != schema.OrderStatusPartial && to != schema.OrderStatusFilled {
		return schema.Order{}, errs.New(op, errs.KindInvalidTransition,
			errs.WithMessage("fill details only accompany partial or filled"),
			errs.WithField("to", string(to)))
	}

	next := order
	if update.FilledQuantity != nil {
		filled := *update.FilledQuantity
		if filled.LessThan(order.FilledQuantity) {
			return schema.Order{}, errs.New(op, errs.KindInvalidQuantity,
				errs.WithMessage("filled quantity may not decrease"),
				errs.WithField("filled", numeric.Format(order.FilledQuantity)),
				errs.WithField("reported", numeric.Format(filled)))
		}
		if filled.GreaterThan(order.Quantity) {
			return schema.Order{}, errs.New(op, errs.KindOverfill,
				errs.WithField("quantity", numeric.Format(order.Quantity)),
				errs.WithField("reported", numeric.Format(filled)))
		}
		next.FilledQuantity = filled
		next.RemainingQuantity = numeric.Normalize(order.Quantity.Sub(filled))
	}
	grew := next.FilledQuantity.GreaterThan(order.FilledQuantity)
	switch {
	case grew && update.AvgFillPrice == nil:
		return schema.Order{}, errs.New(op, errs.KindInvalidPrice,
			errs.WithMessage("average fill price required when the fill grows"))
	case !grew && update.AvgFillPrice != nil:
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest,
			errs.WithMessage("average fill price requires a fill increase"))
	case grew:
		next.AvgFillPrice = *update.AvgFillPrice
	}
	if to != schema.OrderStatusFilled && next.RemainingQuantity.IsZero() {
		return schema.Order{}, errs.New(op, errs.KindInvalidTransition,
			errs.WithMessage("an exhausted order can only become filled"),
			errs.WithField("to", string(to)))
	}
	switch to {
	case schema.OrderStatusFilled:
		if !next.RemainingQuantity.IsZero() {
			return schema.Order{}, errs.New(op, errs.KindInvalidTransition,
				errs.WithMessage("filled requires the full quantity"),
				errs.WithField("remaining", numeric.Format(next.RemainingQuantity)))
		}
	case schema.OrderStatusPartial:
		if !next.FilledQuantity.IsPositive() || next.RemainingQuantity.IsZero() {
			return schema.Order{}, errs.New(op, errs.KindInvalidTransition,
				errs.WithMessage("partial requires a non-exhausting fill"),
				errs.WithField("filled", numeric.Format(next.FilledQuantity)))
		}
	}

	now := s.now()
	next.Status = to
	next.UpdatedAt = now
	if id := strings.TrimSpace(update.ExternalOrderID); id != "" {
		next.ExternalOrderID = id
	}
	if venue := strings.TrimSpace(update.ExecutionVenue); venue != "" {
		next.ExecutionVenue = venue
	}
	switch to {
	case schema.OrderStatusSubmitted:
		if next.SubmittedAt == nil {
			next.SubmittedAt = &now
		}
	case schema.OrderStatusFilled:
		next.FilledAt = &now
	case schema.OrderStatusCancelled:
		next.CancelledAt = &now
		next.CancelReason = strings.TrimSpace(update.Reason)
	}
	return next, nil
}

// CancelOrder cancels an open order and releases its active hold. Orders in a
// terminal status fail with OrderNotCancellable and stay unchanged.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (schema.Order, error) {
	const op = "ledger.CancelOrder"
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("order id required"))
	}
	var cancelled schema.Order
	err := s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return read(op, err, errs.KindOrderNotFound)
		}
		if !order.Status.Open() || order.RemainingQuantity.IsZero() {
			return errs.New(op, errs.KindOrderNotCancellable,
				errs.WithField("order_id", order.ID), errs.WithField("status", string(order.Status)))
		}
		now := s.now()
		cancelled = order
		cancelled.Status = schema.OrderStatusCancelled
		cancelled.CancelledAt = &now
		cancelled.CancelReason = strings.TrimSpace(reason)
		cancelled.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, cancelled); err != nil {
			return err
		}
		err = s.appendAudit(ctx, tx, auditRecord{
			resourceType: schema.ResourceOrder,
			resourceID:   order.ID,
			action:       ActionOrderCancelled,
			previous:     order,
			next:         cancelled,
			metadata:     map[string]any{"from": string(order.Status), "reason": cancelled.CancelReason},
		})
		if err != nil {
			return err
		}
		_, err = s.closeOrderHold(ctx, tx, op, order.ID, schema.HoldStatusReleased)
		return err
	}, observability.F("order_id", orderID))
	if err != nil {
		return schema.Order{}, err
	}
	s.metrics.orderStatus(ctx, cancelled)
	return cancelled, nil
}

// GetOrder returns one order.
func (s *Service) GetOrder(ctx context.Context, orderID string) (schema.Order, error) {
	const op = "ledger.GetOrder"
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("order id required"))
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return schema.Order{}, read(op, err, errs.KindOrderNotFound)
	}
	return order, nil
}

// FindOrderByExternalID resolves a venue order id.
func (s *Service) FindOrderByExternalID(ctx context.Context, externalOrderID string) (schema.Order, error) {
	const op = "ledger.FindOrderByExternalID"
	externalOrderID = strings.TrimSpace(externalOrderID)
	if externalOrderID == "" {
		return schema.Order{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("external order id required"))
	}
	order, err := s.store.FindOrderByExternalID(ctx, externalOrderID)
	if err != nil {
		return schema.Order{}, read(op, err, errs.KindOrderNotFound)
	}
	return order, nil
}

// ListOrders returns a user's orders, newest first, optionally filtered by status and asset.
func (s *Service) ListOrders(ctx context.Context, query ledgerstore.OrderQuery) ([]schema.Order, error) {
	const op = "ledger.ListOrders"
	query.UserID = strings.TrimSpace(query.UserID)
	query.AssetID = strings.TrimSpace(query.AssetID)
	if query.UserID == "" {
		return nil, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id required"))
	}
	for _, status := range query.Statuses {
		if !status.Valid() {
			return nil, errs.New(op, errs.KindInvalidRequest, errs.WithField("status", string(status)))
		}
	}
	query.Limit = ledgerstore.ClampLimit(query.Limit)
	orders, err := s.store.ListOrders(ctx, query)
	if err != nil {
		return nil, read(op, err, "")
	}
	return orders, nil
}
