// Package ledger implements the order ledger, trade recorder, balance store,
// buying-power hold manager and audit trail on top of a transactional
// ledgerstore.Store.
//
// Every mutating operation runs in exactly one store transaction and appends
// its audit entries inside that transaction. The service never retries: store
// conflicts surface as errs.KindConcurrentModification for the caller to handle.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/observability"
)

const (
	defaultCashCurrency = "USD"
	defaultActorType    = "system"
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	// CashCurrency is the settlement currency for trades and holds.
	CashCurrency string
	// ActorType is recorded on audit entries when the context carries no Actor.
	ActorType string
	Logger    observability.Logger
	Meter     metric.Meter
	Clock     func() time.Time
	NewID     func() string
}

// Service is the ledger core. It is safe for concurrent use.
type Service struct {
	store        ledgerstore.Store
	cashCurrency string
	actorType    string
	log          observability.Logger
	metrics      *metrics
	now          func() time.Time
	newID        func() string
}

// New constructs a Service over store.
func New(store ledgerstore.Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger: store required")
	}
	currency := strings.ToUpper(strings.TrimSpace(opts.CashCurrency))
	if currency == "" {
		currency = defaultCashCurrency
	}
	actor := strings.TrimSpace(opts.ActorType)
	if actor == "" {
		actor = defaultActorType
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	m, err := newMetrics(opts.Meter)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:        store,
		cashCurrency: currency,
		actorType:    actor,
		log:          logger,
		metrics:      m,
		now:          clock,
		newID:        newID,
	}, nil
}

// CashCurrency returns the configured settlement currency.
func (s *Service) CashCurrency() string {
	return s.cashCurrency
}

// Actor identifies who initiated a mutation.
type Actor struct {
	Type string
	ID   string
}

type actorKey struct{}

// WithActor attaches the actor recorded on audit entries written under ctx.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func (s *Service) actorFrom(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok && strings.TrimSpace(actor.Type) != "" {
		return actor
	}
	return Actor{Type: s.actorType}
}

// mutate runs fn in one store transaction, classifies the outcome and
// records metrics and logs for op.
func (s *Service) mutate(ctx context.Context, op string, fn func(context.Context, ledgerstore.Tx) error, fields ...observability.Field) error {
	start := s.now()
	err := classify(op, s.store.WithTransaction(ctx, fn))
	s.metrics.observe(ctx, op, err, s.now().Sub(start))
	logFields := append([]observability.Field{observability.F("operation", op)}, fields...)
	if err != nil {
		logFields = append(logFields, observability.F("error", err), observability.F("kind", string(errs.KindOf(err))))
		switch errs.CodeOf(err) {
		case errs.CodeInternal:
			s.log.Error("ledger mutation failed", logFields...)
		case errs.CodeContention:
			s.log.Warn("ledger mutation conflicted", logFields...)
		default:
			s.log.Debug("ledger mutation rejected", logFields...)
		}
		return err
	}
	s.log.Info("ledger mutation committed", logFields...)
	return nil
}

// classify maps store failures onto ledger error kinds. Errors already
// carrying a kind pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errs.E
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, ledgerstore.ErrConflict):
		return errs.New(op, errs.KindConcurrentModification, errs.WithCause(err),
			errs.WithMessage("concurrent transaction committed first"))
	case errors.Is(err, ledgerstore.ErrDuplicateExternalOrder):
		return errs.New(op, errs.KindDuplicateExternalID, errs.WithCause(err),
			errs.WithMessage("external order id already belongs to another order"))
	case errors.Is(err, ledgerstore.ErrDuplicateExternalTrade):
		return errs.New(op, errs.KindDuplicateTrade, errs.WithCause(err))
	default:
		return errs.New(op, errs.KindStorage, errs.WithCause(err))
	}
}

// read classifies errors from non-transactional reads, mapping ErrNotFound to notFound.
func read(op string, err error, notFound errs.Kind) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledgerstore.ErrNotFound) && notFound != "" {
		return errs.New(op, notFound, errs.WithCause(err))
	}
	return classify(op, err)
}
