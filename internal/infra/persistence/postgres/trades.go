package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

const (
	tradeColumns = `
    id,
    order_id,
    user_id,
    asset_id,
    side,
    quantity::text,
    price::text,
    value::text,
    fees::text,
    settlement_status,
    external_trade_id,
    executed_at`

	tradeInsertSQL = `
INSERT INTO trades (
    id,
    order_id,
    user_id,
    asset_id,
    side,
    quantity,
    price,
    value,
    fees,
    settlement_status,
    external_trade_id,
    executed_at
)
VALUES (
    @id,
    @order_id,
    @user_id,
    @asset_id,
    @side,
    @quantity,
    @price,
    @value,
    @fees,
    @settlement_status,
    @external_trade_id,
    @executed_at
);
`

	tradeExistsSQL = `
SELECT EXISTS (
    SELECT 1 FROM trades WHERE order_id = $1 AND external_trade_id = $2
);
`
)

func scanTrade(row scanner) (schema.Trade, error) {
	var (
		trade                        schema.Trade
		side, settlement             string
		quantity, price, value, fees string
		externalID                   *string
	)
	if err := row.Scan(
		&trade.ID,
		&trade.OrderID,
		&trade.UserID,
		&trade.AssetID,
		&side,
		&quantity,
		&price,
		&value,
		&fees,
		&settlement,
		&externalID,
		&trade.ExecutedAt,
	); err != nil {
		return schema.Trade{}, err
	}
	trade.Side = schema.Side(side)
	trade.SettlementStatus = schema.SettlementStatus(settlement)
	trade.ExternalTradeID = stringValue(externalID)
	trade.ExecutedAt = trade.ExecutedAt.UTC()
	if err := decimalsFromText(map[*decimal.Decimal]string{
		&trade.Quantity: quantity,
		&trade.Price:    price,
		&trade.Value:    value,
		&trade.Fees:     fees,
	}); err != nil {
		return schema.Trade{}, fmt.Errorf("ledger store: trade %s: %w", trade.ID, err)
	}
	return trade, nil
}

func (t *tx) InsertTrade(ctx context.Context, trade schema.Trade) error {
	args := pgx.NamedArgs{
		"id":                trade.ID,
		"order_id":          trade.OrderID,
		"user_id":           trade.UserID,
		"asset_id":          trade.AssetID,
		"side":              string(trade.Side),
		"settlement_status": string(trade.SettlementStatus),
		"external_trade_id": nullableString(trade.ExternalTradeID),
		"executed_at":       trade.ExecutedAt,
	}
	if err := bindNumerics(args, map[string]decimal.Decimal{
		"quantity": trade.Quantity,
		"price":    trade.Price,
		"value":    trade.Value,
		"fees":     trade.Fees,
	}); err != nil {
		return fmt.Errorf("ledger store: trade %s: %w", trade.ID, err)
	}
	if _, err := t.tx.Exec(ctx, tradeInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert trade %s: %w", trade.ID, mapError(err))
	}
	return nil
}

func (t *tx) TradeExists(ctx context.Context, orderID, externalTradeID string) (bool, error) {
	if strings.TrimSpace(externalTradeID) == "" {
		return false, nil
	}
	var found bool
	if err := t.tx.QueryRow(ctx, tradeExistsSQL, orderID, externalTradeID).Scan(&found); err != nil {
		return false, fmt.Errorf("ledger store: trade exists: %w", mapError(err))
	}
	return found, nil
}

// ListTrades returns trades of an order, user or asset in execution order.
func (s *Store) ListTrades(ctx context.Context, query ledgerstore.TradeQuery) ([]schema.Trade, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	var column, value string
	switch {
	case query.OrderID != "":
		column, value = "order_id", query.OrderID
	case query.UserID != "":
		column, value = "user_id", query.UserID
	case query.AssetID != "":
		column, value = "asset_id", query.AssetID
	default:
		return nil, errors.New("ledger store: list trades: order, user or asset id required")
	}
	sql := fmt.Sprintf("SELECT%s\nFROM trades WHERE %s = $1 ORDER BY executed_at ASC, id ASC LIMIT $2", tradeColumns, column)
	return collectRows(ctx, pool, "list trades", sql, []any{value, ledgerstore.ClampLimit(query.Limit)}, scanTrade)
}
