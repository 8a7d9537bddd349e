package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusSubmitted, true},
		{OrderStatusPending, OrderStatusFilled, true},
		{OrderStatusSubmitted, OrderStatusPartial, true},
		{OrderStatusPartial, OrderStatusPartial, true},
		{OrderStatusPartial, OrderStatusFilled, true},
		{OrderStatusPartial, OrderStatusCancelled, true},
		{OrderStatusSubmitted, OrderStatusPending, false},
		{OrderStatusPartial, OrderStatusSubmitted, false},
		{OrderStatusFilled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusRejected, OrderStatusSubmitted, false},
		{OrderStatus("bogus"), OrderStatusFilled, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending, OrderStatusSubmitted, OrderStatusPartial, OrderStatusFilled,
		OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusFailed,
	}
	for _, from := range all {
		if !from.Valid() {
			t.Fatalf("%s should be valid", from)
		}
		if from.Terminal() == from.Open() {
			t.Errorf("%s: terminal and open must be exclusive", from)
		}
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not move to %s", from, to)
			}
		}
	}
	if OrderStatus("").Valid() {
		t.Error("empty status should be invalid")
	}
	if OrderStatusFilled.ReleasesHold() {
		t.Error("filled applies the hold, it does not release it")
	}
	if !OrderStatusExpired.ReleasesHold() {
		t.Error("expired should release the hold")
	}
	if len(OpenStatuses()) != 3 {
		t.Errorf("expected 3 open statuses, got %d", len(OpenStatuses()))
	}
}

func TestOrderHelpers(t *testing.T) {
	limit := decimal.RequireFromString("10")
	stop := decimal.RequireFromString("12")
	order := Order{
		Quantity:          decimal.RequireFromString("3"),
		FilledQuantity:    decimal.RequireFromString("1.25"),
		RemainingQuantity: decimal.RequireFromString("1.75"),
		StopPrice:         &stop,
	}
	if !order.QuantitiesBalanced() {
		t.Error("expected balanced quantities")
	}
	if got := order.ReservationPrice(); got == nil || !got.Equal(stop) {
		t.Errorf("expected stop price reservation, got %v", got)
	}
	order.LimitPrice = &limit
	if got := order.ReservationPrice(); !got.Equal(limit) {
		t.Errorf("expected limit price reservation, got %v", got)
	}
	order.RemainingQuantity = decimal.RequireFromString("2")
	if order.QuantitiesBalanced() {
		t.Error("expected unbalanced quantities")
	}
	if (Order{}).ReservationPrice() != nil {
		t.Error("market order has no reservation price")
	}

	if AssetTypeCash.Tradable() || !AssetTypeCash.Valid() {
		t.Error("cash is valid but not tradable")
	}
	if !AssetTypeCrypto.Tradable() || !AssetTypePrediction.Tradable() || !AssetTypeRWA.Tradable() {
		t.Error("crypto, prediction and rwa are tradable")
	}
	if Side("hold").Valid() || !SideSell.Valid() {
		t.Error("side validation mismatch")
	}
	if OrderType("iceberg").Valid() || !OrderTypeStopLimit.Valid() {
		t.Error("order type validation mismatch")
	}
}
