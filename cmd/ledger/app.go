package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/infra/config"
	"github.com/coachpo/tradeledger/internal/infra/persistence"
	"github.com/coachpo/tradeledger/internal/infra/telemetry"
	"github.com/coachpo/tradeledger/internal/ledger"
	"github.com/coachpo/tradeledger/internal/observability"
)

type globalFlags struct {
	configPath string
	actorType  string
	actorID    string
	timeout    time.Duration
}

func (g *globalFlags) register(f *flag.FlagSet) {
	f.StringVar(&g.configPath, "config", os.Getenv("LEDGER_CONFIG"), "Path to the ledger YAML config (defaults to $LEDGER_CONFIG, else an in-memory store).")
	f.StringVar(&g.actorType, "actor-type", "", "Actor type recorded on audit entries (defaults to ledger.actorType).")
	f.StringVar(&g.actorID, "actor", "", "Actor id recorded on audit entries.")
	f.DurationVar(&g.timeout, "timeout", 30*time.Second, "Maximum time for the command.")
}

// app bundles everything one CLI invocation needs.
type app struct {
	cfg      config.AppConfig
	log      observability.Logger
	store    ledgerstore.Store
	svc      *ledger.Service
	out      io.Writer
	shutdown func(context.Context) error
}

func loadConfig(ctx context.Context, path string) (config.AppConfig, error) {
	if strings.TrimSpace(path) == "" {
		return config.DefaultAppConfig(), nil
	}
	return config.Load(ctx, path)
}

func openApp(ctx context.Context, global *globalFlags, out, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(ctx, global.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(logOut, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	observability.SetLogger(logger)

	provider, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		Environment:    string(cfg.Environment),
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := persistence.Open(ctx, cfg, persistence.Options{
		Logger:       logger,
		BadgerLogger: logger.Base(),
	})
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	actorType := cfg.Ledger.ActorType
	if strings.TrimSpace(global.actorType) != "" {
		actorType = global.actorType
	}
	svc, err := ledger.New(store, ledger.Options{
		CashCurrency: cfg.Ledger.CashCurrency,
		ActorType:    actorType,
		Logger:       logger,
		Meter:        provider.Meter("tradeledger/ledger"),
	})
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, err
	}
	if out == nil {
		out = os.Stdout
	}
	return &app{cfg: cfg, log: logger, store: store, svc: svc, out: out, shutdown: shutdown}, nil
}

// withActor attaches the actor from the global flags, if any.
func (a *app) withActor(ctx context.Context, global *globalFlags) context.Context {
	if strings.TrimSpace(global.actorID) == "" && strings.TrimSpace(global.actorType) == "" {
		return ctx
	}
	actorType := global.actorType
	if strings.TrimSpace(actorType) == "" {
		actorType = a.cfg.Ledger.ActorType
	}
	return ledger.WithActor(ctx, ledger.Actor{Type: actorType, ID: global.actorID})
}

func (a *app) Close(ctx context.Context) error {
	return observability.AggregateErrors("ledger shutdown", []error{
		a.store.Close(),
		a.shutdown(ctx),
	})
}

// retry re-runs op while it fails with a contention error, backing off
// exponentially within the configured budget. Other errors return at once.
func retry[T any](ctx context.Context, a *app, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.Retry.InitialInterval
	policy.MaxInterval = a.cfg.Retry.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if errs.IsRetryable(err) {
			a.log.Warn("retrying contended ledger operation",
				observability.F("operation", op),
				observability.F("attempt", attempt),
				observability.F("error", err))
			return res, err
		}
		return res, backoff.Permanent(err)
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(a.cfg.Retry.MaxElapsed))
}

func (a *app) print(value any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

type errorOutput struct {
	Error    string            `json:"error"`
	Code     errs.Code         `json:"code,omitempty"`
	Kind     errs.Kind         `json:"kind,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func describeError(err error) errorOutput {
	out := errorOutput{Error: err.Error(), Code: errs.CodeOf(err), Kind: errs.KindOf(err)}
	var e *errs.E
	if errors.As(err, &e) {
		out.Metadata = e.Metadata
	}
	return out
}
