package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

const (
	orderColumns = `
    id,
    user_id,
    asset_type,
    asset_id,
    symbol,
    side,
    order_type,
    quantity::text,
    limit_price::text,
    stop_price::text,
    status,
    filled_quantity::text,
    remaining_quantity::text,
    avg_fill_price::text,
    fees::text,
    fees_currency,
    external_order_id,
    execution_venue,
    workflow_ref,
    cancel_reason,
    created_at,
    updated_at,
    submitted_at,
    filled_at,
    cancelled_at`

	orderInsertSQL = `
INSERT INTO orders (
    id,
    user_id,
    asset_type,
    asset_id,
    symbol,
    side,
    order_type,
    quantity,
    limit_price,
    stop_price,
    status,
    filled_quantity,
    remaining_quantity,
    avg_fill_price,
    fees,
    fees_currency,
    external_order_id,
    execution_venue,
    workflow_ref,
    cancel_reason,
    created_at,
    updated_at,
    submitted_at,
    filled_at,
    cancelled_at
)
VALUES (
    @id,
    @user_id,
    @asset_type,
    @asset_id,
    @symbol,
    @side,
    @order_type,
    @quantity,
    @limit_price,
    @stop_price,
    @status,
    @filled_quantity,
    @remaining_quantity,
    @avg_fill_price,
    @fees,
    @fees_currency,
    @external_order_id,
    @execution_venue,
    @workflow_ref,
    @cancel_reason,
    @created_at,
    @updated_at,
    @submitted_at,
    @filled_at,
    @cancelled_at
);
`

	orderUpdateSQL = `
UPDATE orders
SET status = @status,
    filled_quantity = @filled_quantity,
    remaining_quantity = @remaining_quantity,
    avg_fill_price = @avg_fill_price,
    fees = @fees,
    external_order_id = @external_order_id,
    execution_venue = @execution_venue,
    cancel_reason = @cancel_reason,
    updated_at = @updated_at,
    submitted_at = @submitted_at,
    filled_at = @filled_at,
    cancelled_at = @cancelled_at
WHERE id = @id;
`
)

func orderArgs(order schema.Order) (pgx.NamedArgs, error) {
	args := pgx.NamedArgs{
		"id":                order.ID,
		"user_id":           order.UserID,
		"asset_type":        string(order.AssetType),
		"asset_id":          order.AssetID,
		"symbol":            order.Symbol,
		"side":              string(order.Side),
		"order_type":        string(order.Type),
		"status":            string(order.Status),
		"fees_currency":     order.FeesCurrency,
		"external_order_id": nullableString(order.ExternalOrderID),
		"execution_venue":   nullableString(order.ExecutionVenue),
		"workflow_ref":      nullableString(order.WorkflowRef),
		"cancel_reason":     nullableString(order.CancelReason),
		"created_at":        order.CreatedAt,
		"updated_at":        order.UpdatedAt,
		"submitted_at":      order.SubmittedAt,
		"filled_at":         order.FilledAt,
		"cancelled_at":      order.CancelledAt,
	}
	if err := bindNumerics(args, map[string]decimal.Decimal{
		"quantity":           order.Quantity,
		"filled_quantity":    order.FilledQuantity,
		"remaining_quantity": order.RemainingQuantity,
		"avg_fill_price":     order.AvgFillPrice,
		"fees":               order.Fees,
	}); err != nil {
		return nil, fmt.Errorf("ledger store: order %s: %w", order.ID, err)
	}
	limit, err := numericFromOptional(order.LimitPrice)
	if err != nil {
		return nil, fmt.Errorf("ledger store: order %s limit price: %w", order.ID, err)
	}
	stop, err := numericFromOptional(order.StopPrice)
	if err != nil {
		return nil, fmt.Errorf("ledger store: order %s stop price: %w", order.ID, err)
	}
	args["limit_price"] = limit
	args["stop_price"] = stop
	return args, nil
}

func scanOrder(row scanner) (schema.Order, error) {
	var (
		order                                        schema.Order
		assetType, side, orderType, status           string
		quantity, filled, remaining, avgPrice, fees  string
		limitPrice, stopPrice                        *string
		externalID, venue, workflowRef, cancelReason *string
		submittedAt, filledAt, cancelledAt           *time.Time
	)
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&assetType,
		&order.AssetID,
		&order.Symbol,
		&side,
		&orderType,
		&quantity,
		&limitPrice,
		&stopPrice,
		&status,
		&filled,
		&remaining,
		&avgPrice,
		&fees,
		&order.FeesCurrency,
		&externalID,
		&venue,
		&workflowRef,
		&cancelReason,
		&order.CreatedAt,
		&order.UpdatedAt,
		&submittedAt,
		&filledAt,
		&cancelledAt,
	); err != nil {
		return schema.Order{}, err
	}
	order.AssetType = schema.AssetType(assetType)
	order.Side = schema.Side(side)
	order.Type = schema.OrderType(orderType)
	order.Status = schema.OrderStatus(status)
	order.ExternalOrderID = stringValue(externalID)
	order.ExecutionVenue = stringValue(venue)
	order.WorkflowRef = stringValue(workflowRef)
	order.CancelReason = stringValue(cancelReason)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.SubmittedAt = utcPtr(submittedAt)
	order.FilledAt = utcPtr(filledAt)
	order.CancelledAt = utcPtr(cancelledAt)

	if err := decimalsFromText(map[*decimal.Decimal]string{
		&order.Quantity:          quantity,
		&order.FilledQuantity:    filled,
		&order.RemainingQuantity: remaining,
		&order.AvgFillPrice:      avgPrice,
		&order.Fees:              fees,
	}); err != nil {
		return schema.Order{}, fmt.Errorf("ledger store: order %s: %w", order.ID, err)
	}
	var err error
	if order.LimitPrice, err = decimalFromNullable(limitPrice); err != nil {
		return schema.Order{}, fmt.Errorf("ledger store: order %s: %w", order.ID, err)
	}
	if order.StopPrice, err = decimalFromNullable(stopPrice); err != nil {
		return schema.Order{}, fmt.Errorf("ledger store: order %s: %w", order.ID, err)
	}
	return order, nil
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func (t *tx) InsertOrder(ctx context.Context, order schema.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, orderInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert order %s: %w", order.ID, mapError(err))
	}
	return nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id string) (schema.Order, error) {
	row := t.tx.QueryRow(ctx, "SELECT"+orderColumns+"\nFROM orders WHERE id = $1 FOR UPDATE", id)
	order, err := scanOrder(row)
	if err != nil {
		return schema.Order{}, fmt.Errorf("ledger store: get order %s: %w", id, mapError(err))
	}
	return order, nil
}

func (t *tx) UpdateOrder(ctx context.Context, order schema.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, orderUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("ledger store: update order %s: %w", order.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger store: update order %s: %w", order.ID, ledgerstore.ErrNotFound)
	}
	return nil
}

// GetOrder loads a single order.
func (s *Store) GetOrder(ctx context.Context, id string) (schema.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.Order{}, err
	}
	order, err := scanOrder(pool.QueryRow(ctx, "SELECT"+orderColumns+"\nFROM orders WHERE id = $1", id))
	if err != nil {
		return schema.Order{}, fmt.Errorf("ledger store: get order %s: %w", id, mapError(err))
	}
	return order, nil
}

// FindOrderByExternalID resolves an order by its venue identifier.
func (s *Store) FindOrderByExternalID(ctx context.Context, externalOrderID string) (schema.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.Order{}, err
	}
	row := pool.QueryRow(ctx, "SELECT"+orderColumns+"\nFROM orders WHERE external_order_id = $1", externalOrderID)
	order, err := scanOrder(row)
	if err != nil {
		return schema.Order{}, fmt.Errorf("ledger store: find order by external id %s: %w", externalOrderID, mapError(err))
	}
	return order, nil
}

// ListOrders returns a user's orders newest first.
func (s *Store) ListOrders(ctx context.Context, query ledgerstore.OrderQuery) ([]schema.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query.UserID) == "" {
		return nil, errors.New("ledger store: list orders: user id required")
	}
	limit := ledgerstore.ClampLimit(query.Limit)

	builder := strings.Builder{}
	builder.WriteString("SELECT")
	builder.WriteString(orderColumns)
	builder.WriteString("\nFROM orders WHERE user_id = $1")

	args := []any{query.UserID}
	argPos := 2

	if trimmed := strings.TrimSpace(query.AssetID); trimmed != "" {
		fmt.Fprintf(&builder, " AND asset_id = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	if len(query.Statuses) > 0 {
		statuses := make([]string, 0, len(query.Statuses))
		for _, status := range query.Statuses {
			statuses = append(statuses, string(status))
		}
		fmt.Fprintf(&builder, " AND status = ANY($%d)", argPos)
		args = append(args, statuses)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY created_at DESC, id DESC LIMIT $%d", argPos)
	args = append(args, limit)

	return collectRows(ctx, pool, "list orders", builder.String(), args, scanOrder)
}

// collectRows runs sql on q and scans every row with scan.
func collectRows[T any](ctx context.Context, q querier, op, sql string, args []any, scan func(scanner) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger store: %s: %w", op, mapError(err))
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger store: %s: scan: %w", op, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: %s: %w", op, mapError(err))
	}
	return out, nil
}
