package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/subcommands"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/ledger"
	"github.com/coachpo/tradeledger/internal/numeric"
)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	body := fmt.Sprintf(`storage:
  backend: badger
  badger:
    path: %s
logging:
  level: error
`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &cli{t: t, config: path}
}

func (c *cli) invoke(args ...string) (string, string, int) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-config", c.config}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (c *cli) mustInvoke(out any, args ...string) {
	c.t.Helper()
	stdout, stderr, code := c.invoke(args...)
	require.Equal(c.t, int(subcommands.ExitSuccess), code, stderr)
	if out != nil {
		require.NoError(c.t, json.Unmarshal([]byte(stdout), out), stdout)
	}
}

func TestLedgerCommandsEndToEnd(t *testing.T) {
	c := newCLI(t)

	var cash schema.Balance
	c.mustInvoke(&cash, "deposit", "-user", "u1", "-amount", "1000")
	require.True(t, cash.Available.Equal(numeric.MustParse("1000")))

	var placed ledger.PlacedOrder
	c.mustInvoke(&placed, "-actor", "ops-7", "place", "-user", "u1", "-asset", "BTC", "-side", "buy", "-qty", "2", "-limit", "100")
	require.Equal(t, schema.OrderStatusPending, placed.Order.Status)
	require.NotNil(t, placed.Hold)
	require.True(t, placed.Hold.Amount.Equal(numeric.MustParse("200")))

	var fill ledger.TradeResult
	c.mustInvoke(&fill, "fill", "-order", placed.Order.ID, "-qty", "2", "-price", "90", "-fees", "1", "-external-trade-id", "t-1")
	require.Equal(t, schema.OrderStatusFilled, fill.Order.Status)
	require.True(t, fill.Order.AvgFillPrice.Equal(numeric.MustParse("90")))

	var summary ledger.PortfolioSummary
	c.mustInvoke(&summary, "summary", "-user", "u1")
	require.True(t, summary.Cash.Equal(numeric.MustParse("819")), summary.Cash.String())
	require.True(t, summary.BuyingPower.Equal(numeric.MustParse("819")))
	require.Empty(t, summary.OpenOrders)

	var repriced map[string]int
	c.mustInvoke(&repriced, "reprice", "BTC=95")
	require.Equal(t, 1, repriced["repriced"])

	var orders []schema.Order
	c.mustInvoke(&orders, "orders", "-user", "u1", "-status", "filled")
	require.Len(t, orders, 1)

	var trail []schema.AuditEntry
	c.mustInvoke(&trail, "audit", "-type", "order", "-id", placed.Order.ID)
	require.Len(t, trail, 2)
	require.Equal(t, ledger.ActionOrderCreated, trail[0].Action)
	require.Equal(t, "system", trail[0].ActorType)
	require.Equal(t, "ops-7", trail[0].ActorID)
	require.Equal(t, ledger.ActionTradeRecorded, trail[1].Action)

	_, stderr, code := c.invoke("cancel", "-order", placed.Order.ID)
	require.Equal(t, int(subcommands.ExitFailure), code)
	var failure errorOutput
	require.NoError(t, json.Unmarshal([]byte(stderr), &failure), stderr)
	require.Equal(t, "order_not_cancellable", string(failure.Kind))
}

func TestLedgerCommandsUsageErrors(t *testing.T) {
	c := newCLI(t)

	_, _, code := c.invoke("place", "-user", "u1", "-asset", "BTC")
	require.Equal(t, int(subcommands.ExitUsageError), code)

	_, _, code = c.invoke("reprice", "BTC")
	require.Equal(t, int(subcommands.ExitUsageError), code)

	_, _, code = c.invoke("deposit", "-user", "u1", "-amount", "ten")
	require.Equal(t, int(subcommands.ExitUsageError), code)
}

func TestParsePriceUpdates(t *testing.T) {
	updates, err := parsePriceUpdates([]string{"BTC=65000.5", " ETH = 3000"})
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, "ETH", updates[1].AssetID)
	require.True(t, updates[0].Price.Equal(numeric.MustParse("65000.5")))

	_, err = parsePriceUpdates(nil)
	require.Error(t, err)
	_, err = parsePriceUpdates([]string{"=1"})
	require.Error(t, err)
}
