package schema

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// SettlementStatus tracks post-trade settlement of a Trade.
type SettlementStatus string

const (
	// SettlementSettled marks trades whose balance legs were applied in the recording transaction.
	SettlementSettled SettlementStatus = "settled"
	// SettlementPending is reserved for venues that settle asynchronously.
	SettlementPending SettlementStatus = "pending"
)

// Trade is an immutable execution record; the sole source for PnL reconstruction.
type Trade struct {
	ID               string           `json:"id"`
	OrderID          string           `json:"orderId"`
	UserID           string           `json:"userId"`
	AssetID          string           `json:"assetId"`
	Side             Side             `json:"side"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            decimal.Decimal  `json:"price"`
	Value            decimal.Decimal  `json:"value"`
	Fees             decimal.Decimal  `json:"fees"`
	SettlementStatus SettlementStatus `json:"settlementStatus"`
	ExternalTradeID  string           `json:"externalTradeId,omitempty"`
	ExecutedAt       time.Time        `json:"executedAt"`
}

// BalanceKey identifies a balance row.
type BalanceKey struct {
	UserID    string    `json:"userId"`
	AssetType AssetType `json:"assetType"`
	AssetID   string    `json:"assetId"`
}

// CashKey returns the balance key of the user's cash in currency.
func CashKey(userID, currency string) BalanceKey {
	return BalanceKey{UserID: userID, AssetType: AssetTypeCash, AssetID: currency}
}

// Balance is the per-user, per-asset position.
type Balance struct {
	BalanceKey
	Available    decimal.Decimal `json:"available"`
	Held         decimal.Decimal `json:"held"`
	Pending      decimal.Decimal `json:"pending"`
	Staked       decimal.Decimal `json:"staked"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	TotalValue   decimal.Decimal `json:"totalValue"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// HoldStatus enumerates buying-power hold states.
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusApplied  HoldStatus = "applied"
)

// Hold is a cash reservation that reduces buying power without moving the balance.
type Hold struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	OrderID    string          `json:"orderId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	Status     HoldStatus      `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	ReleasedAt *time.Time      `json:"releasedAt,omitempty"`
}

// Resource types recorded in the audit trail.
const (
	ResourceOrder   = "order"
	ResourceBalance = "balance"
	ResourceHold    = "hold"
	ResourcePrices  = "prices"
)

// AuditEntry is an append-only record of a single mutation.
type AuditEntry struct {
	ID            string          `json:"id"`
	ResourceType  string          `json:"resourceType"`
	ResourceID    string          `json:"resourceId"`
	Action        string          `json:"action"`
	ActorType     string          `json:"actorType"`
	ActorID       string          `json:"actorId,omitempty"`
	PreviousState json.RawMessage `json:"previousState,omitempty"`
	NewState      json.RawMessage `json:"newState,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
