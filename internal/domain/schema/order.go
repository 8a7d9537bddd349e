// Package schema defines the persisted ledger records: orders, trades, balances, holds and audit entries.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType classifies the instrument a balance or order refers to.
type AssetType string

const (
	// AssetTypeCrypto marks crypto currencies and tokens.
	AssetTypeCrypto AssetType = "crypto"
	// AssetTypePrediction marks prediction-market outcome shares.
	AssetTypePrediction AssetType = "prediction"
	// AssetTypeRWA marks fractional real-world-asset units.
	AssetTypeRWA AssetType = "rwa"
	// AssetTypeCash marks settlement cash; only balances and holds use it.
	AssetTypeCash AssetType = "cash"
)

// Tradable reports whether orders may be placed against the asset type.
func (t AssetType) Tradable() bool {
	switch t {
	case AssetTypeCrypto, AssetTypePrediction, AssetTypeRWA:
		return true
	default:
		return false
	}
}

// Valid reports whether t is a known asset type.
func (t AssetType) Valid() bool {
	return t == AssetTypeCash || t.Tradable()
}

// Side captures the direction of an order or trade.
type Side string

const (
	// SideBuy acquires the asset for cash.
	SideBuy Side = "buy"
	// SideSell disposes of the asset for cash.
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType enumerates the supported order types.
type OrderType string

const (
	// OrderTypeMarket executes at the prevailing price; carries no price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimit requires a limit price.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeStop requires a stop price.
	OrderTypeStop OrderType = "stop"
	// OrderTypeStopLimit requires both stop and limit prices.
	OrderTypeStopLimit OrderType = "stop_limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	default:
		return false
	}
}

// Order is the persisted state of a user order.
type Order struct {
	ID                string           `json:"id"`
	UserID            string           `json:"userId"`
	AssetType         AssetType        `json:"assetType"`
	AssetID           string           `json:"assetId"`
	Symbol            string           `json:"symbol"`
	Side              Side             `json:"side"`
	Type              OrderType        `json:"orderType"`
	Quantity          decimal.Decimal  `json:"quantity"`
	LimitPrice        *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice         *decimal.Decimal `json:"stopPrice,omitempty"`
	Status            OrderStatus      `json:"status"`
	FilledQuantity    decimal.Decimal  `json:"filledQuantity"`
	RemainingQuantity decimal.Decimal  `json:"remainingQuantity"`
	AvgFillPrice      decimal.Decimal  `json:"avgFillPrice"`
	Fees              decimal.Decimal  `json:"fees"`
	FeesCurrency      string           `json:"feesCurrency"`
	ExternalOrderID   string           `json:"externalOrderId,omitempty"`
	ExecutionVenue    string           `json:"executionVenue,omitempty"`
	WorkflowRef       string           `json:"workflowRef,omitempty"`
	CancelReason      string           `json:"cancelReason,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	SubmittedAt       *time.Time       `json:"submittedAt,omitempty"`
	FilledAt          *time.Time       `json:"filledAt,omitempty"`
	CancelledAt       *time.Time       `json:"cancelledAt,omitempty"`
}

// QuantitiesBalanced reports whether filled + remaining equals quantity.
func (o Order) QuantitiesBalanced() bool {
	return o.FilledQuantity.Add(o.RemainingQuantity).Equal(o.Quantity)
}

// ReservationPrice returns the price used to size a buying-power hold:
// the limit price, else the stop price, else nil.
func (o Order) ReservationPrice() *decimal.Decimal {
	if o.LimitPrice != nil {
		return o.LimitPrice
	}
	return o.StopPrice
}
