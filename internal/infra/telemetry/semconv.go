// Package telemetry provides semantic conventions and provider wiring for ledger observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for ledger telemetry.
const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrOperation names the ledger operation (create_order, record_trade, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success or error kind).
	AttrResult = attribute.Key("result")
	// AttrErrorCategory groups failures by category (validation, state_conflict, ...).
	AttrErrorCategory = attribute.Key("error.category")
	// AttrAssetType labels metrics by asset class.
	AttrAssetType = attribute.Key("asset.type")
	// AttrOrderSide labels order telemetry with buy/sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType distinguishes market/limit/stop orders.
	AttrOrderType = attribute.Key("order.type")
	// AttrOrderStatus captures the lifecycle state reached.
	AttrOrderStatus = attribute.Key("order.status")
	// AttrHoldStatus captures the hold state reached.
	AttrHoldStatus = attribute.Key("hold.status")
	// AttrCurrency stores currency codes for cash metrics.
	AttrCurrency = attribute.Key("currency")
)

// OperationAttributes returns attributes for operation outcome counters.
func OperationAttributes(environment, operation, result, category string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
	if category != "" {
		attrs = append(attrs, AttrErrorCategory.String(category))
	}
	return attrs
}

// OrderAttributes returns attributes for order metrics.
func OrderAttributes(environment, assetType, side, orderType, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrEnvironment.String(environment)}
	if assetType != "" {
		attrs = append(attrs, AttrAssetType.String(assetType))
	}
	if side != "" {
		attrs = append(attrs, AttrOrderSide.String(side))
	}
	if orderType != "" {
		attrs = append(attrs, AttrOrderType.String(orderType))
	}
	if status != "" {
		attrs = append(attrs, AttrOrderStatus.String(status))
	}
	return attrs
}

// HoldAttributes returns attributes for hold metrics.
func HoldAttributes(environment, status, currency string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrHoldStatus.String(status),
	}
	if currency != "" {
		attrs = append(attrs, AttrCurrency.String(currency))
	}
	return attrs
}
