package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/numeric"
	"github.com/coachpo/tradeledger/internal/observability"
)

// RecordTradeParams is a fill reported by the execution venue.
type RecordTradeParams struct {
	OrderID  string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Fees     decimal.Decimal
	// ExternalTradeID makes the call idempotent per order when set.
	ExternalTradeID string
	ExecutedAt      time.Time
}

// TradeResult is the state committed by RecordTrade.
type TradeResult struct {
	Trade    schema.Trade  `json:"trade"`
	Order    schema.Order  `json:"order"`
	Balances BalanceChange `json:"balances"`
	Hold     *schema.Hold  `json:"hold,omitempty"`
}

// RecordTrade applies a fill: it updates the order's fill state and weighted
// average price, writes the immutable trade, moves the asset and cash legs and,
// when the order becomes filled, applies its hold. All of it commits or none of it does.
func (s *Service) RecordTrade(ctx context.Context, params RecordTradeParams) (TradeResult, error) {
	const op = "ledger.RecordTrade"
	params.OrderID = strings.TrimSpace(params.OrderID)
	params.ExternalTradeID = strings.TrimSpace(params.ExternalTradeID)
	params.Quantity = numeric.Normalize(params.Quantity)
	params.Price = numeric.Normalize(params.Price)
	params.Fees = numeric.Normalize(params.Fees)
	if params.OrderID == "" {
		return TradeResult{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("order id required"))
	}
	if !params.Quantity.IsPositive() {
		return TradeResult{}, errs.New(op, errs.KindInvalidQuantity, errs.WithField("quantity", numeric.Format(params.Quantity)))
	}
	if !params.Price.IsPositive() {
		return TradeResult{}, errs.New(op, errs.KindInvalidPrice, errs.WithField("price", numeric.Format(params.Price)))
	}
	if params.Fees.IsNegative() {
		return TradeResult{}, errs.New(op, errs.KindInvalidRequest,
			errs.WithMessage("fees must not be negative"), errs.WithField("fees", numeric.Format(params.Fees)))
	}

	var result TradeResult
	err := s.mutate(ctx, op, func(ctx context.Context, tx ledgerstore.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, params.OrderID)
		if err != nil {
			return read(op, err, errs.KindOrderNotFound)
		}
		if !order.Status.Open() {
			return errs.New(op, errs.KindInvalidTransition,
				errs.WithMessage("order no longer accepts fills"),
				errs.WithField("order_id", order.ID), errs.WithField("status", string(order.Status)))
		}
		if params.Quantity.GreaterThan(order.RemainingQuantity) {
			return errs.New(op, errs.KindOverfill,
				errs.WithField("remaining", numeric.Format(order.RemainingQuantity)),
				errs.WithField("quantity", numeric.Format(params.Quantity)))
		}
		if params.ExternalTradeID != "" {
			exists, err := tx.TradeExists(ctx, order.ID, params.ExternalTradeID)
			if err != nil {
				return err
			}
			if exists {
				return errs.New(op, errs.KindDuplicateTrade,
					errs.WithField("order_id", order.ID), errs.WithField("external_trade_id", params.ExternalTradeID))
			}
		}

		now := s.now()
		filled := numeric.Normalize(order.FilledQuantity.Add(params.Quantity))
		next := order
		next.AvgFillPrice = numeric.WeightedAverage(order.AvgFillPrice, order.FilledQuantity, params.Price, params.Quantity)
		next.FilledQuantity = filled
		next.RemainingQuantity = numeric.Normalize(order.Quantity.Sub(filled))
		next.Fees = numeric.Normalize(order.Fees.Add(params.Fees))
		next.UpdatedAt = now
		next.Status = schema.OrderStatusPartial
		if !filled.LessThan(order.Quantity) {
			next.Status = schema.OrderStatusFilled
			next.FilledAt = &now
		}
		if !schema.CanTransition(order.Status, next.Status) {
			return errs.New(op, errs.KindInvalidTransition,
				errs.WithField("from", string(order.Status)), errs.WithField("to", string(next.Status)))
		}

		executedAt := params.ExecutedAt
		if executedAt.IsZero() {
			executedAt = now
		}
		trade := schema.Trade{
			ID:               s.newID(),
			OrderID:          order.ID,
			UserID:           order.UserID,
			AssetID:          order.AssetID,
			Side:             order.Side,
			Quantity:         params.Quantity,
			Price:            params.Price,
			Value:            numeric.Mul(params.Quantity, params.Price),
			Fees:             params.Fees,
			SettlementStatus: schema.SettlementSettled,
			ExternalTradeID:  params.ExternalTradeID,
			ExecutedAt:       executedAt.UTC(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, next); err != nil {
			return err
		}
		err = s.appendAudit(ctx, tx, auditRecord{
			resourceType: schema.ResourceOrder,
			resourceID:   order.ID,
			action:       ActionTradeRecorded,
			previous:     order,
			next:         next,
			metadata: map[string]any{
				"tradeId":         trade.ID,
				"externalTradeId": trade.ExternalTradeID,
				"quantity":        numeric.Format(trade.Quantity),
				"price":           numeric.Format(trade.Price),
				"fees":            numeric.Format(trade.Fees),
			},
		})
		if err != nil {
			return err
		}

		quantityDelta, cashDelta := settlementLegs(trade)
		price := trade.Price
		balances, err := s.applyDeltaTx(ctx, tx, op, BalanceDelta{
			UserID:        order.UserID,
			AssetType:     order.AssetType,
			AssetID:       order.AssetID,
			QuantityDelta: quantityDelta,
			CashDelta:     cashDelta,
			Currency:      s.cashCurrency,
			CurrentPrice:  &price,
			Reference:     "trade:" + trade.ID,
		})
		if err != nil {
			return err
		}

		var hold *schema.Hold
		if next.Status == schema.OrderStatusFilled {
			hold, err = s.closeOrderHold(ctx, tx, op, order.ID, schema.HoldStatusApplied)
			if err != nil {
				return err
			}
		}
		result = TradeResult{Trade: trade, Order: next, Balances: balances, Hold: hold}
		return nil
	}, observability.F("order_id", params.OrderID), observability.F("external_trade_id", params.ExternalTradeID))
	if err != nil {
		return TradeResult{}, err
	}
	s.metrics.trade(ctx, result.Order)
	if result.Hold != nil {
		s.metrics.hold(ctx, *result.Hold)
	}
	return result, nil
}

// settlementLegs returns the asset and cash deltas of a trade. Buys pay value
// plus fees; sells receive value minus fees.
func settlementLegs(trade schema.Trade) (quantity, cash decimal.Decimal) {
	if trade.Side == schema.SideBuy {
		return trade.Quantity, trade.Value.Add(trade.Fees).Neg()
	}
	return trade.Quantity.Neg(), trade.Value.Sub(trade.Fees)
}

// ListTrades returns trades by order, user or asset.
func (s *Service) ListTrades(ctx context.Context, query ledgerstore.TradeQuery) ([]schema.Trade, error) {
	const op = "ledger.ListTrades"
	query.OrderID = strings.TrimSpace(query.OrderID)
	query.UserID = strings.TrimSpace(query.UserID)
	query.AssetID = strings.TrimSpace(query.AssetID)
	if query.OrderID == "" && query.UserID == "" && query.AssetID == "" {
		return nil, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("order, user or asset id required"))
	}
	query.Limit = ledgerstore.ClampLimit(query.Limit)
	trades, err := s.store.ListTrades(ctx, query)
	if err != nil {
		return nil, read(op, err, "")
	}
	return trades, nil
}

// ReplayAverage recomputes an order's weighted-average fill price and filled
// quantity from its stored trades as sum(price*qty)/sum(qty). Per-fill rounding means the stored
// average may differ from it by at most one unit in the last place per fill.
func (s *Service) ReplayAverage(ctx context.Context, orderID string) (decimal.Decimal, decimal.Decimal, error) {
	const op = "ledger.ReplayAverage"
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	trades, err := s.store.ListTrades(ctx, ledgerstore.TradeQuery{OrderID: strings.TrimSpace(orderID), Limit: ledgerstore.MaxLimit})
	if err != nil {
		return decimal.Zero, decimal.Zero, read(op, err, "")
	}
	notional, filled := decimal.Zero, decimal.Zero
	for _, trade := range trades {
		notional = notional.Add(trade.Price.Mul(trade.Quantity))
		filled = filled.Add(trade.Quantity)
	}
	if filled.IsZero() {
		return decimal.Zero, decimal.Zero, nil
	}
	return notional.DivRound(filled, numeric.Scale), numeric.Normalize(filled), nil
}
