package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"

	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/ledger"
	"github.com/coachpo/tradeledger/internal/numeric"
)

func commands(global *globalFlags, stdout, stderr io.Writer) []subcommands.Command {
	b := base{global: global, stdout: stdout, stderr: stderr}
	return []subcommands.Command{
		&depositCmd{base: b},
		&placeCmd{base: b},
		&cancelCmd{base: b},
		&statusCmd{base: b},
		&fillCmd{base: b},
		&repriceCmd{base: b},
		&summaryCmd{base: b},
		&ordersCmd{base: b},
		&releaseCmd{base: b},
		&auditCmd{base: b},
	}
}

type depositCmd struct {
	base
	user     string
	currency string
	amount   decimalFlag
}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "credit cash to a user" }
func (*depositCmd) Usage() string {
	return `ledger deposit -user <id> -amount <n> [-currency <ccy>]

  Credits settlement cash to the user's balance.
`
}

func (c *depositCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
	f.StringVar(&c.currency, "currency", "", "Cash currency. Defaults to ledger.cashCurrency.")
	f.Var(&c.amount, "amount", "Amount to credit.")
}

func (c *depositCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.amount.value == nil {
		return c.usageError(f, "-user and -amount are required")
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return retry(ctx, a, "deposit", func() (schema.Balance, error) {
			return a.svc.Deposit(ctx, c.user, c.currency, *c.amount.value)
		})
	})
}

type placeCmd struct {
	base
	params    ledger.CreateOrderParams
	assetType string
	side      string
	orderType string
	quantity  decimalFlag
	limit     decimalFlag
	stop      decimalFlag
	reserve   decimalFlag
}

func (*placeCmd) Name() string     { return "place" }
func (*placeCmd) Synopsis() string { return "create a pending order" }
func (*placeCmd) Usage() string {
	return `ledger place -user <id> -asset <id> -side buy|sell -type market|limit|stop|stop_limit -qty <n> [-limit <p>] [-stop <p>] [-reserve <p>]

  Creates a pending order. Buy orders reserve quantity x price of buying power.
`
}

func (c *placeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.params.UserID, "user", "", "User id.")
	f.StringVar(&c.assetType, "asset-type", string(schema.AssetTypeCrypto), "Asset type: crypto, prediction or rwa.")
	f.StringVar(&c.params.AssetID, "asset", "", "Asset id.")
	f.StringVar(&c.params.Symbol, "symbol", "", "Display symbol. Defaults to the asset id.")
	f.StringVar(&c.side, "side", "", "Order side: buy or sell.")
	f.StringVar(&c.orderType, "type", string(schema.OrderTypeLimit), "Order type.")
	f.Var(&c.quantity, "qty", "Order quantity.")
	f.Var(&c.limit, "limit", "Limit price.")
	f.Var(&c.stop, "stop", "Stop price.")
	f.Var(&c.reserve, "reserve", "Price used to size the hold of a market buy.")
	f.StringVar(&c.params.FeesCurrency, "fees-currency", "", "Fee currency. Defaults to ledger.cashCurrency.")
	f.StringVar(&c.params.ExternalOrderID, "external-id", "", "Venue order id.")
	f.StringVar(&c.params.ExecutionVenue, "venue", "", "Execution venue.")
	f.StringVar(&c.params.WorkflowRef, "workflow", "", "Workflow reference.")
}

func (c *placeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.params.UserID == "" || c.params.AssetID == "" || c.side == "" || c.quantity.value == nil {
		return c.usageError(f, "-user, -asset, -side and -qty are required")
	}
	params := c.params
	params.AssetType = schema.AssetType(strings.ToLower(c.assetType))
	params.Side = schema.Side(strings.ToLower(c.side))
	params.Type = schema.OrderType(strings.ToLower(c.orderType))
	params.Quantity = *c.quantity.value
	params.LimitPrice = c.limit.value
	params.StopPrice = c.stop.value
	params.ReservePrice = c.reserve.value
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return retry(ctx, a, "place", func() (ledger.PlacedOrder, error) {
			return a.svc.CreateOrder(ctx, params)
		})
	})
}

type cancelCmd struct {
	base
	orderID string
	reason  string
}

func (*cancelCmd) Name() string     { return "cancel" }
func (*cancelCmd) Synopsis() string { return "cancel an open order" }
func (*cancelCmd) Usage() string {
	return `ledger cancel -order <id> [-reason <text>]

  Cancels an open order and releases its buying-power hold.
`
}

func (c *cancelCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.orderID, "order", "", "Order id.")
	f.StringVar(&c.reason, "reason", "", "Cancellation reason.")
}

func (c *cancelCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.orderID == "" {
		return c.usageError(f, "-order is required")
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return retry(ctx, a, "cancel", func() (schema.Order, error) {
			return a.svc.CancelOrder(ctx, c.orderID, c.reason)
		})
	})
}

type statusCmd struct {
	base
	orderID    string
	to         string
	filled     decimalFlag
	avg        decimalFlag
	externalID string
	venue      string
	reason     string
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "move an order to a new status" }
func (*statusCmd) Usage() string {
	return `ledger status -order <id> -to <status> [-filled <n>] [-avg <p>] [-external-id <id>] [-venue <v>] [-reason <text>]

  Applies a lifecycle transition reported by the venue.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.orderID, "order", "", "Order id.")
	f.StringVar(&c.to, "to", "", "Target status.")
	f.Var(&c.filled, "filled", "Cumulative filled quantity.")
	f.Var(&c.avg, "avg", "Average fill price.")
	f.StringVar(&c.externalID, "external-id", "", "Venue order id.")
	f.StringVar(&c.venue, "venue", "", "Execution venue.")
	f.StringVar(&c.reason, "reason", "", "Reason for the transition.")
}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.orderID == "" || c.to == "" {
		return c.usageError(f, "-order and -to are required")
	}
	update := ledger.StatusUpdate{
		Status:          schema.OrderStatus(strings.ToLower(c.to)),
		FilledQuantity:  c.filled.value,
		AvgFillPrice:    c.avg.value,
		ExternalOrderID: c.externalID,
		ExecutionVenue:  c.venue,
		Reason:          c.reason,
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return retry(ctx, a, "status", func() (schema.Order, error) {
			return a.svc.UpdateStatus(ctx, c.orderID, update)
		})
	})
}

type fillCmd struct {
	base
	orderID    string
	quantity   decimalFlag
	price      decimalFlag
	fees       decimalFlag
	externalID string
	executedAt timeFlag
}

func (*fillCmd) Name() string     { return "fill" }
func (*fillCmd) Synopsis() string { return "record a trade against an order" }
func (*fillCmd) Usage() string {
	return `ledger fill -order <id> -qty <n> -price <p> [-fees <f>] [-external-trade-id <id>] [-executed-at <rfc3339>]

  Records an execution, settles both balance legs and updates the order.
`
}

func (c *fillCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.orderID, "order", "", "Order id.")
	f.Var(&c.quantity, "qty", "Executed quantity.")
	f.Var(&c.price, "price", "Execution price.")
	f.Var(&c.fees, "fees", "Fees charged in cash.")
	f.StringVar(&c.externalID, "external-trade-id", "", "Venue trade id; repeats are rejected.")
	f.Var(&c.executedAt, "executed-at", "Execution time. Defaults to now.")
}

func (c *fillCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.orderID == "" || c.quantity.value == nil || c.price.value == nil {
		return c.usageError(f, "-order, -qty and -price are required")
	}
	params := ledger.RecordTradeParams{
		OrderID:         c.orderID,
		Quantity:        *c.quantity.value,
		Price:           *c.price.value,
		Fees:            c.fees.orZero(),
		ExternalTradeID: c.externalID,
		ExecutedAt:      c.executedAt.value,
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return retry(ctx, a, "fill", func() (ledger.TradeResult, error) {
			return a.svc.RecordTrade(ctx, params)
		})
	})
}

type repriceCmd struct {
	base
}

func (*repriceCmd) Name() string     { return "reprice" }
func (*repriceCmd) Synopsis() string { return "mark holdings to new prices" }
func (*repriceCmd) Usage() string {
	return `ledger reprice <asset>=<price> [<asset>=<price> ...]

  Updates the current price and total value of every holder of each asset.
`
}

func (*repriceCmd) SetFlags(*flag.FlagSet) {}

func (c *repriceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	updates, err := parsePriceUpdates(f.Args())
	if err != nil {
		return c.usageError(f, "%v", err)
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		repriced, err := retry(ctx, a, "reprice", func() (int, error) {
			return a.svc.UpdatePrices(ctx, updates)
		})
		if err != nil {
			return nil, err
		}
		return map[string]int{"repriced": repriced}, nil
	})
}

func parsePriceUpdates(args []string) ([]ledger.PriceUpdate, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one <asset>=<price> pair is required")
	}
	updates := make([]ledger.PriceUpdate, 0, len(args))
	for _, arg := range args {
		asset, raw, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(asset) == "" {
			return nil, fmt.Errorf("malformed price %q, want <asset>=<price>", arg)
		}
		price, err := numeric.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", asset, err)
		}
		updates = append(updates, ledger.PriceUpdate{AssetID: strings.TrimSpace(asset), Price: price})
	}
	return updates, nil
}

type summaryCmd struct {
	base
	user     string
	currency string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show a user's portfolio" }
func (*summaryCmd) Usage() string {
	return `ledger summary -user <id> [-currency <ccy>]

  Prints balances, buying power, open orders and active holds.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
	f.StringVar(&c.currency, "currency", "", "Cash currency. Defaults to ledger.cashCurrency.")
}

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		return c.usageError(f, "-user is required")
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return a.svc.Summary(ctx, c.user, c.currency)
	})
}

type ordersCmd struct {
	base
	user     string
	asset    string
	statuses string
	limit    int
}

func (*ordersCmd) Name() string     { return "orders" }
func (*ordersCmd) Synopsis() string { return "list a user's orders" }
func (*ordersCmd) Usage() string {
	return `ledger orders -user <id> [-asset <id>] [-status pending,open,...] [-limit <n>]

  Lists orders newest first.
`
}

func (c *ordersCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
	f.StringVar(&c.asset, "asset", "", "Restrict to an asset.")
	f.StringVar(&c.statuses, "status", "", "Comma separated statuses.")
	f.IntVar(&c.limit, "limit", 0, "Maximum number of orders.")
}

func (c *ordersCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		return c.usageError(f, "-user is required")
	}
	query := ledgerstore.OrderQuery{UserID: c.user, AssetID: c.asset, Limit: c.limit}
	for _, status := range splitList(c.statuses) {
		query.Statuses = append(query.Statuses, schema.OrderStatus(strings.ToLower(status)))
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return a.svc.ListOrders(ctx, query)
	})
}

type releaseCmd struct {
	base
	holdID string
}

func (*releaseCmd) Name() string     { return "release" }
func (*releaseCmd) Synopsis() string { return "release an active hold" }
func (*releaseCmd) Usage() string {
	return `ledger release -hold <id>

  Releases a buying-power hold without moving any balance.
`
}

func (c *releaseCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.holdID, "hold", "", "Hold id.")
}

func (c *releaseCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.holdID == "" {
		return c.usageError(f, "-hold is required")
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return retry(ctx, a, "release", func() (schema.Hold, error) {
			return a.svc.ReleaseHold(ctx, c.holdID)
		})
	})
}

type auditCmd struct {
	base
	resourceType string
	resourceID   string
	from         timeFlag
	to           timeFlag
	limit        int
}

func (*auditCmd) Name() string     { return "audit" }
func (*auditCmd) Synopsis() string { return "show the audit trail of a resource" }
func (*auditCmd) Usage() string {
	return `ledger audit -type order|balance|hold|prices -id <id> [-from <rfc3339>] [-to <rfc3339>] [-limit <n>]

  Prints audit entries oldest first.
`
}

func (c *auditCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.resourceType, "type", "", "Resource type.")
	f.StringVar(&c.resourceID, "id", "", "Resource id (the user id for balances).")
	f.Var(&c.from, "from", "Earliest entry time.")
	f.Var(&c.to, "to", "Latest entry time.")
	f.IntVar(&c.limit, "limit", 0, "Maximum number of entries.")
}

func (c *auditCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.resourceType == "" || c.resourceID == "" {
		return c.usageError(f, "-type and -id are required")
	}
	query := ledgerstore.AuditQuery{
		ResourceType: strings.ToLower(c.resourceType),
		ResourceID:   c.resourceID,
		From:         c.from.value,
		To:           c.to.value,
		Limit:        c.limit,
	}
	return c.execute(ctx, func(ctx context.Context, a *app) (any, error) {
		return a.svc.AuditTrail(ctx, query)
	})
}
