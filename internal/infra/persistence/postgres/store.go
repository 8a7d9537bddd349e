// Package postgres implements the ledger store on PostgreSQL through a pgx pool.
// Row locks (SELECT ... FOR UPDATE) serialise writers on the same order,
// balance or hold; all writes of one operation share a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"

	constraintOrderExternal = "orders_external_order_id_key"
	constraintTradeExternal = "trades_order_external_key"
)

// Store persists ledger aggregates in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledgerstore.Store = (*Store)(nil)

// New constructs a Store backed by the provided pool. The store owns the pool
// and closes it on Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type tx struct {
	tx pgx.Tx
}

var _ ledgerstore.Tx = (*tx)(nil)

func (s *Store) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("ledger store: nil pool")
	}
	return s.pool, nil
}

// WithTransaction executes fn within a READ COMMITTED transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context, ledgerstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("ledger store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	pgTx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("ledger store: begin tx: %w", mapError(err))
	}
	runErr := fn(ctx, &tx{tx: pgTx})
	if runErr != nil {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("ledger store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := pgTx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("ledger store: commit tx: %w", mapError(err))
	}
	return nil
}

// mapError translates driver errors into ledgerstore sentinels while keeping
// the original message.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ledgerstore.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintOrderExternal:
				return fmt.Errorf("%w: %s", ledgerstore.ErrDuplicateExternalOrder, pgErr.ConstraintName)
			case constraintTradeExternal:
				return fmt.Errorf("%w: %s", ledgerstore.ErrDuplicateExternalTrade, pgErr.ConstraintName)
			}
			return fmt.Errorf("%w: %s", ledgerstore.ErrDuplicate, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", ledgerstore.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func encodeJSON(value map[string]any) (any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("ledger store: encode metadata: %w", err)
	}
	return string(data), nil
}

func rawJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("ledger store: decode metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

func nullableString(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
