package ledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/infra/telemetry"
)

const meterName = "tradeledger/ledger"

type metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	orders     metric.Int64Counter
	trades     metric.Int64Counter
	holds      metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	operations, err := meter.Int64Counter("ledger_operations_total",
		metric.WithDescription("Ledger mutations by operation and outcome"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, fmt.Errorf("ledger metrics: operations counter: %w", err)
	}
	duration, err := meter.Float64Histogram("ledger_operation_duration_ms",
		metric.WithDescription("Ledger mutation latency including the store transaction"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("ledger metrics: duration histogram: %w", err)
	}
	orders, err := meter.Int64Counter("ledger_order_transitions_total",
		metric.WithDescription("Orders entering a lifecycle status"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, fmt.Errorf("ledger metrics: orders counter: %w", err)
	}
	trades, err := meter.Int64Counter("ledger_trades_total",
		metric.WithDescription("Trades recorded against orders"),
		metric.WithUnit("{trade}"))
	if err != nil {
		return nil, fmt.Errorf("ledger metrics: trades counter: %w", err)
	}
	holds, err := meter.Int64Counter("ledger_holds_total",
		metric.WithDescription("Buying-power holds entering a status"),
		metric.WithUnit("{hold}"))
	if err != nil {
		return nil, fmt.Errorf("ledger metrics: holds counter: %w", err)
	}
	return &metrics{operations: operations, duration: duration, orders: orders, trades: trades, holds: holds}, nil
}

func (m *metrics) observe(ctx context.Context, op string, err error, elapsed time.Duration) {
	result, category := "success", ""
	if err != nil {
		result = string(errs.KindOf(err))
		category = string(errs.CodeOf(err))
	}
	attrs := metric.WithAttributes(telemetry.OperationAttributes(telemetry.Environment(), op, result, category)...)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *metrics) orderStatus(ctx context.Context, order schema.Order) {
	m.orders.Add(ctx, 1, metric.WithAttributes(telemetry.OrderAttributes(
		telemetry.Environment(), string(order.AssetType), string(order.Side), string(order.Type), string(order.Status))...))
}

func (m *metrics) trade(ctx context.Context, order schema.Order) {
	m.trades.Add(ctx, 1, metric.WithAttributes(telemetry.OrderAttributes(
		telemetry.Environment(), string(order.AssetType), string(order.Side), string(order.Type), string(order.Status))...))
}

func (m *metrics) hold(ctx context.Context, hold schema.Hold) {
	m.holds.Add(ctx, 1, metric.WithAttributes(telemetry.HoldAttributes(
		telemetry.Environment(), string(hold.Status), hold.Currency)...))
}
