// Package ledgerstore defines persistence contracts for ledger aggregates.
package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/internal/domain/schema"
)

var (
	// ErrNotFound reports a missing order, trade, balance or hold.
	ErrNotFound = errors.New("ledgerstore: not found")
	// ErrConflict reports that a concurrent transaction committed a conflicting write.
	ErrConflict = errors.New("ledgerstore: transaction conflict")
	// ErrDuplicate reports a unique-key violation (order id, hold id, external ids).
	ErrDuplicate = errors.New("ledgerstore: duplicate key")
	// ErrDuplicateExternalOrder reports that another order already carries the venue order id.
	ErrDuplicateExternalOrder = fmt.Errorf("%w: external order id", ErrDuplicate)
	// ErrDuplicateExternalTrade reports that the order already has a trade with the venue trade id.
	ErrDuplicateExternalTrade = fmt.Errorf("%w: external trade id", ErrDuplicate)
)

// OrderQuery scopes order lookups. UserID is required unless ExternalOrderID is set.
type OrderQuery struct {
	UserID   string               `json:"userId,omitempty"`
	Statuses []schema.OrderStatus `json:"statuses,omitempty"`
	AssetID  string               `json:"assetId,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
}

// TradeQuery scopes trade lookups; exactly one of OrderID, UserID or AssetID drives the index.
type TradeQuery struct {
	OrderID string `json:"orderId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	AssetID string `json:"assetId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// BalanceQuery scopes balance lookups by user or by asset.
type BalanceQuery struct {
	UserID  string `json:"userId,omitempty"`
	AssetID string `json:"assetId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// HoldQuery scopes hold lookups.
type HoldQuery struct {
	UserID   string              `json:"userId,omitempty"`
	OrderID  string              `json:"orderId,omitempty"`
	Statuses []schema.HoldStatus `json:"statuses,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
}

// AuditQuery selects a time range of entries for one resource.
type AuditQuery struct {
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

// Tx encapsulates ledger persistence operations executed within a single
// transaction. "ForUpdate" reads lock the row (or register it for conflict
// detection) until the transaction ends.
type Tx interface {
	InsertOrder(ctx context.Context, order schema.Order) error
	GetOrderForUpdate(ctx context.Context, id string) (schema.Order, error)
	UpdateOrder(ctx context.Context, order schema.Order) error

	InsertTrade(ctx context.Context, trade schema.Trade) error
	TradeExists(ctx context.Context, orderID, externalTradeID string) (bool, error)

	// GetBalanceForUpdate returns found=false and a zero balance when the row does not exist yet.
	GetBalanceForUpdate(ctx context.Context, key schema.BalanceKey) (schema.Balance, bool, error)
	UpsertBalance(ctx context.Context, balance schema.Balance) error
	ListBalancesByAssetForUpdate(ctx context.Context, assetID string) ([]schema.Balance, error)

	InsertHold(ctx context.Context, hold schema.Hold) error
	GetHoldForUpdate(ctx context.Context, id string) (schema.Hold, error)
	ActiveHoldForOrder(ctx context.Context, orderID string) (schema.Hold, bool, error)
	UpdateHold(ctx context.Context, hold schema.Hold) error
	// SumActiveHolds totals the user's active holds in currency and participates in
	// conflict detection with concurrent hold mutations.
	SumActiveHolds(ctx context.Context, userID, currency string) (decimal.Decimal, error)

	AppendAudit(ctx context.Context, entry schema.AuditEntry) error
}

// Store defines the contract for ledger persistence. Reads outside
// WithTransaction are not linearizable with in-flight writes.
type Store interface {
	WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error

	GetOrder(ctx context.Context, id string) (schema.Order, error)
	FindOrderByExternalID(ctx context.Context, externalOrderID string) (schema.Order, error)
	ListOrders(ctx context.Context, query OrderQuery) ([]schema.Order, error)

	ListTrades(ctx context.Context, query TradeQuery) ([]schema.Trade, error)

	GetBalance(ctx context.Context, key schema.BalanceKey) (schema.Balance, error)
	ListBalances(ctx context.Context, query BalanceQuery) ([]schema.Balance, error)

	GetHold(ctx context.Context, id string) (schema.Hold, error)
	ListHolds(ctx context.Context, query HoldQuery) ([]schema.Hold, error)

	ListAudit(ctx context.Context, query AuditQuery) ([]schema.AuditEntry, error)

	Close() error
}

const (
	// DefaultLimit applies when a query does not set Limit.
	DefaultLimit = 100
	// MaxLimit caps any query.
	MaxLimit = 1000
)

// ClampLimit normalises a caller supplied limit.
func ClampLimit(value int) int {
	if value <= 0 {
		return DefaultLimit
	}
	if value > MaxLimit {
		return MaxLimit
	}
	return value
}
