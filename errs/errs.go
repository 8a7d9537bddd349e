// Package errs provides structured error types and helpers for the trade ledger.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies the failure category of a ledger error.
type Code string

const (
	// CodeValidation indicates input rejected before any mutation. Safe to retry after correcting input.
	CodeValidation Code = "validation"
	// CodeStateConflict indicates the request raced with, or was based on a stale view of, an aggregate.
	CodeStateConflict Code = "state_conflict"
	// CodeResource indicates a missing resource or insufficient funds/holdings.
	CodeResource Code = "resource"
	// CodeContention indicates a concurrent transaction committed first; the caller may retry.
	CodeContention Code = "contention"
	// CodeInternal indicates a storage or infrastructure failure.
	CodeInternal Code = "internal"
)

// Kind names the precise reason a ledger operation was rejected.
type Kind string

const (
	// KindUnknown captures uncategorized failures.
	KindUnknown Kind = "unknown"

	KindMissingLimitPrice Kind = "missing_limit_price"
	KindMissingStopPrice  Kind = "missing_stop_price"
	KindPriceNotAllowed   Kind = "price_not_allowed"
	KindInvalidQuantity   Kind = "invalid_quantity"
	KindInvalidPrice      Kind = "invalid_price"
	KindInvalidRequest    Kind = "invalid_request"

	KindOrderNotCancellable Kind = "order_not_cancellable"
	KindHoldAlreadyClosed   Kind = "hold_already_closed"
	KindInvalidTransition   Kind = "invalid_transition"
	KindOverfill            Kind = "overfill"
	KindDuplicateTrade      Kind = "duplicate_trade"
	KindDuplicateExternalID Kind = "duplicate_external_order_id"

	KindInsufficientBalance   Kind = "insufficient_balance"
	KindShortSaleNotSupported Kind = "short_sale_not_supported"
	KindOrderNotFound         Kind = "order_not_found"
	KindHoldNotFound          Kind = "hold_not_found"
	KindBalanceNotFound       Kind = "balance_not_found"

	// KindConcurrentModification reports an optimistic transaction conflict.
	KindConcurrentModification Kind = "concurrent_modification"
	// KindStorage reports an unexpected persistence failure.
	KindStorage Kind = "storage"
)

var kindCodes = map[Kind]Code{
	KindMissingLimitPrice:      CodeValidation,
	KindMissingStopPrice:       CodeValidation,
	KindPriceNotAllowed:        CodeValidation,
	KindInvalidQuantity:        CodeValidation,
	KindInvalidPrice:           CodeValidation,
	KindInvalidRequest:         CodeValidation,
	KindOrderNotCancellable:    CodeStateConflict,
	KindHoldAlreadyClosed:      CodeStateConflict,
	KindInvalidTransition:      CodeStateConflict,
	KindOverfill:               CodeStateConflict,
	KindDuplicateTrade:         CodeStateConflict,
	KindDuplicateExternalID:    CodeStateConflict,
	KindInsufficientBalance:    CodeResource,
	KindShortSaleNotSupported:  CodeResource,
	KindOrderNotFound:          CodeResource,
	KindHoldNotFound:           CodeResource,
	KindBalanceNotFound:        CodeResource,
	KindConcurrentModification: CodeContention,
	KindStorage:                CodeInternal,
}

// CodeFor returns the category a kind belongs to.
func CodeFor(kind Kind) Code {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return CodeInternal
}

// Sentinels for errors.Is matching; comparison is by Kind only.
var (
	ErrMissingLimitPrice      = &E{Kind: KindMissingLimitPrice, Code: CodeValidation}
	ErrMissingStopPrice       = &E{Kind: KindMissingStopPrice, Code: CodeValidation}
	ErrPriceNotAllowed        = &E{Kind: KindPriceNotAllowed, Code: CodeValidation}
	ErrInvalidQuantity        = &E{Kind: KindInvalidQuantity, Code: CodeValidation}
	ErrInvalidPrice           = &E{Kind: KindInvalidPrice, Code: CodeValidation}
	ErrInvalidRequest         = &E{Kind: KindInvalidRequest, Code: CodeValidation}
	ErrOrderNotCancellable    = &E{Kind: KindOrderNotCancellable, Code: CodeStateConflict}
	ErrHoldAlreadyClosed      = &E{Kind: KindHoldAlreadyClosed, Code: CodeStateConflict}
	ErrInvalidTransition      = &E{Kind: KindInvalidTransition, Code: CodeStateConflict}
	ErrOverfill               = &E{Kind: KindOverfill, Code: CodeStateConflict}
	ErrDuplicateTrade         = &E{Kind: KindDuplicateTrade, Code: CodeStateConflict}
	ErrDuplicateExternalID    = &E{Kind: KindDuplicateExternalID, Code: CodeStateConflict}
	ErrInsufficientBalance    = &E{Kind: KindInsufficientBalance, Code: CodeResource}
	ErrShortSaleNotSupported  = &E{Kind: KindShortSaleNotSupported, Code: CodeResource}
	ErrOrderNotFound          = &E{Kind: KindOrderNotFound, Code: CodeResource}
	ErrHoldNotFound           = &E{Kind: KindHoldNotFound, Code: CodeResource}
	ErrBalanceNotFound        = &E{Kind: KindBalanceNotFound, Code: CodeResource}
	ErrConcurrentModification = &E{Kind: KindConcurrentModification, Code: CodeContention}
)

// E captures structured error information produced across the ledger.
type E struct {
	Op       string
	Code     Code
	Kind     Kind
	Message  string
	Metadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and kind. The category
// code is derived from the kind.
func New(op string, kind Kind, opts ...Option) *E {
	if strings.TrimSpace(string(kind)) == "" {
		kind = KindUnknown
	}
	e := &E{
		Op:       strings.TrimSpace(op),
		Code:     CodeFor(kind),
		Kind:     kind,
		Message:  "",
		Metadata: nil,
		cause:    nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

// WithFields merges the provided metadata into the error envelope.
func WithFields(meta map[string]string) Option {
	return func(e *E) {
		for k, v := range meta {
			WithField(k, v)(e)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	if op := strings.TrimSpace(e.Op); op != "" {
		parts = append(parts, "op="+op)
	}

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if kind := strings.TrimSpace(string(e.Kind)); kind != "" && kind != string(KindUnknown) {
		parts = append(parts, "kind="+kind)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target is an *E of the same kind.
func (e *E) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*E)
	if !ok || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of the first *E in err's chain.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the category of the first *E in err's chain.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the request unchanged.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeContention
}
