package schema

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusFailed    OrderStatus = "failed"
)

var orderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusPending: {
		OrderStatusSubmitted: {},
		OrderStatusPartial:   {},
		OrderStatusFilled:    {},
		OrderStatusCancelled: {},
		OrderStatusRejected:  {},
		OrderStatusExpired:   {},
		OrderStatusFailed:    {},
	},
	OrderStatusSubmitted: {
		OrderStatusPartial:   {},
		OrderStatusFilled:    {},
		OrderStatusCancelled: {},
		OrderStatusRejected:  {},
		OrderStatusExpired:   {},
		OrderStatusFailed:    {},
	},
	OrderStatusPartial: {
		OrderStatusPartial:   {},
		OrderStatusFilled:    {},
		OrderStatusCancelled: {},
		OrderStatusRejected:  {},
		OrderStatusExpired:   {},
		OrderStatusFailed:    {},
	},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusPartial, OrderStatusFilled,
		OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Open reports whether the order can still receive fills or be cancelled.
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusSubmitted || s == OrderStatusPartial
}

// ReleasesHold reports whether entering s gives the reserved cash back.
func (s OrderStatus) ReleasesHold() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	next, ok := orderTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// OpenStatuses lists the non-terminal statuses.
func OpenStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusSubmitted, OrderStatusPartial}
}
