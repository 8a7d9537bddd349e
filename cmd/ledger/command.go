package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeledger/internal/numeric"
)

// base carries the shared state of every ledger subcommand.
type base struct {
	global *globalFlags
	stdout io.Writer
	stderr io.Writer
}

// execute opens the ledger, runs fn and prints its result as JSON.
func (b *base) execute(ctx context.Context, fn func(context.Context, *app) (any, error)) subcommands.ExitStatus {
	ctx, cancel := context.WithTimeout(ctx, b.global.timeout)
	defer cancel()

	a, err := openApp(ctx, b.global, b.stdout, b.stderr)
	if err != nil {
		fmt.Fprintln(b.stderr, err)
		return subcommands.ExitFailure
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintln(b.stderr, err)
		}
	}()

	result, err := fn(a.withActor(ctx, b.global), a)
	if err != nil {
		enc := json.NewEncoder(b.stderr)
		_ = enc.Encode(describeError(err))
		return subcommands.ExitFailure
	}
	if err := a.print(result); err != nil {
		fmt.Fprintln(b.stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (b *base) usageError(f *flag.FlagSet, format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(b.stderr, "Error: "+format+"\n", args...)
	f.SetOutput(b.stderr)
	f.PrintDefaults()
	return subcommands.ExitUsageError
}

// decimalFlag is a flag.Value holding an optional fixed-point number.
type decimalFlag struct {
	value *decimal.Decimal
}

func (d *decimalFlag) String() string {
	if d == nil || d.value == nil {
		return ""
	}
	return numeric.Format(*d.value)
}

func (d *decimalFlag) Set(raw string) error {
	parsed, err := numeric.ParseOptional(raw)
	if err != nil {
		return err
	}
	d.value = parsed
	return nil
}

func (d *decimalFlag) orZero() decimal.Decimal {
	if d.value == nil {
		return decimal.Zero
	}
	return *d.value
}

// timeFlag parses RFC 3339 timestamps.
type timeFlag struct {
	value time.Time
}

func (t *timeFlag) String() string {
	if t == nil || t.value.IsZero() {
		return ""
	}
	return t.value.Format(time.RFC3339Nano)
}

func (t *timeFlag) Set(raw string) error {
	if strings.TrimSpace(raw) == "" {
		t.value = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("timestamp %q must be RFC 3339", raw)
	}
	t.value = parsed.UTC()
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
