package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
)

const (
	balanceColumns = `
    user_id,
    asset_type,
    asset_id,
    available::text,
    held::text,
    pending::text,
    staked::text,
    current_price::text,
    total_value::text,
    updated_at`

	// balanceEnsureSQL creates a zero row so the following SELECT ... FOR UPDATE
	// has something to lock even for a user's first position in an asset.
	balanceEnsureSQL = `
INSERT INTO balances (user_id, asset_type, asset_id, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id, asset_type, asset_id) DO NOTHING;
`

	balanceUpsertSQL = `
INSERT INTO balances (
    user_id,
    asset_type,
    asset_id,
    available,
    held,
    pending,
    staked,
    current_price,
    total_value,
    updated_at
)
VALUES (
    @user_id,
    @asset_type,
    @asset_id,
    @available,
    @held,
    @pending,
    @staked,
    @current_price,
    @total_value,
    @updated_at
)
ON CONFLICT (user_id, asset_type, asset_id) DO UPDATE SET
    available = EXCLUDED.available,
    held = EXCLUDED.held,
    pending = EXCLUDED.pending,
    staked = EXCLUDED.staked,
    current_price = EXCLUDED.current_price,
    total_value = EXCLUDED.total_value,
    updated_at = EXCLUDED.updated_at;
`
)

func scanBalance(row scanner) (schema.Balance, error) {
	var (
		balance                                     schema.Balance
		assetType                                   string
		available, held, pending, staked, price, tv string
	)
	if err := row.Scan(
		&balance.UserID,
		&assetType,
		&balance.AssetID,
		&available,
		&held,
		&pending,
		&staked,
		&price,
		&tv,
		&balance.UpdatedAt,
	); err != nil {
		return schema.Balance{}, err
	}
	balance.AssetType = schema.AssetType(assetType)
	balance.UpdatedAt = balance.UpdatedAt.UTC()
	if err := decimalsFromText(map[*decimal.Decimal]string{
		&balance.Available:    available,
		&balance.Held:         held,
		&balance.Pending:      pending,
		&balance.Staked:       staked,
		&balance.CurrentPrice: price,
		&balance.TotalValue:   tv,
	}); err != nil {
		return schema.Balance{}, fmt.Errorf("ledger store: balance %s/%s: %w", balance.UserID, balance.AssetID, err)
	}
	return balance, nil
}

func (t *tx) GetBalanceForUpdate(ctx context.Context, key schema.BalanceKey) (schema.Balance, bool, error) {
	tag, err := t.tx.Exec(ctx, balanceEnsureSQL, key.UserID, string(key.AssetType), key.AssetID)
	if err != nil {
		return schema.Balance{}, false, fmt.Errorf("ledger store: ensure balance: %w", mapError(err))
	}
	created := tag.RowsAffected() == 1
	row := t.tx.QueryRow(ctx,
		"SELECT"+balanceColumns+"\nFROM balances WHERE user_id = $1 AND asset_type = $2 AND asset_id = $3 FOR UPDATE",
		key.UserID, string(key.AssetType), key.AssetID)
	balance, err := scanBalance(row)
	if err != nil {
		return schema.Balance{}, false, fmt.Errorf("ledger store: get balance for update: %w", mapError(err))
	}
	if created {
		return schema.Balance{BalanceKey: key}, false, nil
	}
	return balance, true, nil
}

func (t *tx) UpsertBalance(ctx context.Context, balance schema.Balance) error {
	args := pgx.NamedArgs{
		"user_id":    balance.UserID,
		"asset_type": string(balance.AssetType),
		"asset_id":   balance.AssetID,
		"updated_at": balance.UpdatedAt,
	}
	if err := bindNumerics(args, map[string]decimal.Decimal{
		"available":     balance.Available,
		"held":          balance.Held,
		"pending":       balance.Pending,
		"staked":        balance.Staked,
		"current_price": balance.CurrentPrice,
		"total_value":   balance.TotalValue,
	}); err != nil {
		return fmt.Errorf("ledger store: balance %s/%s: %w", balance.UserID, balance.AssetID, err)
	}
	if _, err := t.tx.Exec(ctx, balanceUpsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: upsert balance: %w", mapError(err))
	}
	return nil
}

func (t *tx) ListBalancesByAssetForUpdate(ctx context.Context, assetID string) ([]schema.Balance, error) {
	sql := "SELECT" + balanceColumns + "\nFROM balances WHERE asset_id = $1 ORDER BY user_id, asset_type FOR UPDATE"
	return collectRows(ctx, t.tx, "list balances for update", sql, []any{assetID}, scanBalance)
}

// GetBalance loads a single balance row.
func (s *Store) GetBalance(ctx context.Context, key schema.BalanceKey) (schema.Balance, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return schema.Balance{}, err
	}
	row := pool.QueryRow(ctx,
		"SELECT"+balanceColumns+"\nFROM balances WHERE user_id = $1 AND asset_type = $2 AND asset_id = $3",
		key.UserID, string(key.AssetType), key.AssetID)
	balance, err := scanBalance(row)
	if err != nil {
		return schema.Balance{}, fmt.Errorf("ledger store: get balance: %w", mapError(err))
	}
	return balance, nil
}

// ListBalances returns a user's balances, or an asset's holders.
func (s *Store) ListBalances(ctx context.Context, query ledgerstore.BalanceQuery) ([]schema.Balance, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := ledgerstore.ClampLimit(query.Limit)
	var (
		sql  string
		args []any
	)
	switch {
	case query.UserID != "" && query.AssetID != "":
		sql = "SELECT" + balanceColumns + "\nFROM balances WHERE user_id = $1 AND asset_id = $2 ORDER BY asset_type, asset_id LIMIT $3"
		args = []any{query.UserID, query.AssetID, limit}
	case query.UserID != "":
		sql = "SELECT" + balanceColumns + "\nFROM balances WHERE user_id = $1 ORDER BY asset_type, asset_id LIMIT $2"
		args = []any{query.UserID, limit}
	case query.AssetID != "":
		sql = "SELECT" + balanceColumns + "\nFROM balances WHERE asset_id = $1 ORDER BY user_id, asset_type LIMIT $2"
		args = []any{query.AssetID, limit}
	default:
		return nil, errors.New("ledger store: list balances: user id or asset id required")
	}
	return collectRows(ctx, pool, "list balances", sql, args, scanBalance)
}
