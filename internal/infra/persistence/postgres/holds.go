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
	holdColumns = `
    id,
    user_id,
    order_id,
    amount::text,
    currency,
    reason,
    status,
    created_at,
    released_at`

	holdInsertSQL = `
INSERT INTO holds (id, user_id, order_id, amount, currency, reason, status, created_at, released_at)
VALUES (@id, @user_id, @order_id, @amount, @currency, @reason, @status, @created_at, @released_at);
`

	holdUpdateSQL = `
UPDATE holds
SET status = @status,
    released_at = @released_at
WHERE id = @id;
`

	holdSumSQL = `
SELECT COALESCE(SUM(amount), 0)::text
FROM holds
WHERE user_id = $1 AND currency = $2 AND status = 'active';
`
)

func scanHold(row scanner) (schema.Hold, error) {
	var (
		hold       schema.Hold
		orderID    *string
		amount     string
		status     string
		releasedAt *time.Time
	)
	if err := row.Scan(
		&hold.ID,
		&hold.UserID,
		&orderID,
		&amount,
		&hold.Currency,
		&hold.Reason,
		&status,
		&hold.CreatedAt,
		&releasedAt,
	); err != nil {
		return schema.Hold{}, err
	}
	value, err := decimalFromText(amount)
	if err != nil {
		return schema.Hold{}, fmt.Errorf("ledger store: hold %s: %w", hold.ID, err)
	}
	hold.Amount = value
	hold.OrderID = stringValue(orderID)
	hold.Status = schema.HoldStatus(status)
	hold.CreatedAt = hold.CreatedAt.UTC()
	hold.ReleasedAt = utcPtr(releasedAt)
	return hold, nil
}

func (t *tx) InsertHold(ctx context.Context, hold schema.Hold) error {
	amount, err := numericFromDecimal(hold.Amount)
	if err != nil {
		return fmt.Errorf("ledger store: hold %s: %w", hold.ID, err)
	}
	args := pgx.NamedArgs{
		"id":          hold.ID,
		"user_id":     hold.UserID,
		"order_id":    nullableString(hold.OrderID),
		"amount":      amount,
		"currency":    hold.Currency,
		"reason":      hold.Reason,
		"status":      string(hold.Status),
		"created_at":  hold.CreatedAt,
		"released_at": hold.ReleasedAt,
	}
	if _, err := t.tx.Exec(ctx, holdInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert hold %s: %w", hold.ID, mapError(err))
	}
	return nil
}

func (t *tx) GetHoldForUpdate(ctx context.Context, id string) (schema.Hold, error) {
	hold, err := scanHold(t.tx.QueryRow(ctx, "SELECT"+holdColumns+"\nFROM holds WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return schema.Hold{}, fmt.Errorf("ledger store: get hold %s: %w", id, mapError(err))
	}
	return hold, nil
}

func (t *tx) ActiveHoldForOrder(ctx context.Context, orderID string) (schema.Hold, bool, error) {
	row := t.tx.QueryRow(ctx,
		"SELECT"+holdColumns+"\nFROM holds WHERE order_id = $1 AND status = 'active' FOR UPDATE",
		orderID)
	hold, err := scanHold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Hold{}, false, nil
		}
		return schema.Hold{}, false, fmt.Errorf("ledger store: active hold for order %s: %w", orderID, mapError(err))
	}
	return hold, true, nil
}

func (t *tx) UpdateHold(ctx context.Context, hold schema.Hold) error {
	args := pgx.NamedArgs{
		"id":          hold.ID,
		"status":      string(hold.Status),
		"released_at": hold.ReleasedAt,
	}
	tag, err := t.tx.Exec(ctx, holdUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("ledger store: update hold %s: %w", hold.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger store: update hold %s: %w", hold.ID, ledgerstore.ErrNotFound)
	}
	return nil
}

// SumActiveHolds relies on the caller holding the user's cash row lock, which
// every hold mutation in the ledger takes first.
func (t *tx) SumActiveHolds(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var raw string
	if err := t.tx.QueryRow(ctx, holdSumSQL, userID, currency).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("ledger store: sum active holds: %w", mapError(err))
	}
	return decimalFromText(raw)
}

// GetHold loads a single hold.
func (s *Store) GetHold(ctx context.Context, id string) (schema.Hold, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.Hold{}, err
	}
	hold, err := scanHold(pool.QueryRow(ctx, "SELECT"+holdColumns+"\nFROM holds WHERE id = $1", id))
	if err != nil {
		return schema.Hold{}, fmt.Errorf("ledger store: get hold %s: %w", id, mapError(err))
	}
	return hold, nil
}

// ListHolds returns holds of an order, or of a user, in creation order.
func (s *Store) ListHolds(ctx context.Context, query ledgerstore.HoldQuery) ([]schema.Hold, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if query.OrderID == "" && query.UserID == "" {
		return nil, errors.New("ledger store: list holds: user id or order id required")
	}

	builder := strings.Builder{}
	builder.WriteString("SELECT")
	builder.WriteString(holdColumns)
	builder.WriteString("\nFROM holds WHERE 1=1")

	args := make([]any, 0, 4)
	argPos := 1
	if query.OrderID != "" {
		fmt.Fprintf(&builder, " AND order_id = $%d", argPos)
		args = append(args, query.OrderID)
		argPos++
	}
	if query.UserID != "" {
		fmt.Fprintf(&builder, " AND user_id = $%d", argPos)
		args = append(args, query.UserID)
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
	fmt.Fprintf(&builder, " ORDER BY created_at ASC, id ASC LIMIT $%d", argPos)
	args = append(args, ledgerstore.ClampLimit(query.Limit))

	return collectRows(ctx, pool, "list holds", builder.String(), args, scanHold)
}
