package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/tradeledger/errs"
	"github.com/coachpo/tradeledger/internal/domain/ledgerstore"
	"github.com/coachpo/tradeledger/internal/domain/schema"
	"github.com/coachpo/tradeledger/internal/numeric"
)

const summaryWorkers = 3

// PortfolioSummary is a read-only view of one user's ledger state. Its parts are
// read concurrently and may straddle an in-flight write.
type PortfolioSummary struct {
	UserID      string           `json:"userId"`
	Currency    string           `json:"currency"`
	Balances    []schema.Balance `json:"balances"`
	Cash        decimal.Decimal  `json:"cash"`
	Held        decimal.Decimal  `json:"held"`
	BuyingPower decimal.Decimal  `json:"buyingPower"`
	TotalValue  decimal.Decimal  `json:"totalValue"`
	OpenOrders  []schema.Order   `json:"openOrders"`
	ActiveHolds []schema.Hold    `json:"activeHolds"`
}

// Summary gathers balances, open orders and active holds for a user.
func (s *Service) Summary(ctx context.Context, userID, currency string) (PortfolioSummary, error) {
	const op = "ledger.Summary"
	userID = strings.TrimSpace(userID)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.cashCurrency
	}
	if userID == "" {
		return PortfolioSummary{}, errs.New(op, errs.KindInvalidRequest, errs.WithMessage("user id required"))
	}

	summary := PortfolioSummary{UserID: userID, Currency: currency}
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(summaryWorkers)
	p.Go(func(ctx context.Context) error {
		balances, err := s.store.ListBalances(ctx, ledgerstore.BalanceQuery{UserID: userID, Limit: ledgerstore.MaxLimit})
		summary.Balances = balances
		return err
	})
	p.Go(func(ctx context.Context) error {
		orders, err := s.store.ListOrders(ctx, ledgerstore.OrderQuery{
			UserID:   userID,
			Statuses: schema.OpenStatuses(),
			Limit:    ledgerstore.MaxLimit,
		})
		summary.OpenOrders = orders
		return err
	})
	p.Go(func(ctx context.Context) error {
		holds, err := s.store.ListHolds(ctx, ledgerstore.HoldQuery{
			UserID:   userID,
			Statuses: []schema.HoldStatus{schema.HoldStatusActive},
			Limit:    ledgerstore.MaxLimit,
		})
		summary.ActiveHolds = holds
		return err
	})
	if err := p.Wait(); err != nil {
		return PortfolioSummary{}, read(op, err, "")
	}

	cash, held, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, balance := range summary.Balances {
		total = total.Add(balance.TotalValue)
		if balance.AssetType == schema.AssetTypeCash && balance.AssetID == currency {
			cash = balance.Available
		}
	}
	for _, hold := range summary.ActiveHolds {
		if hold.Currency == currency {
			held = held.Add(hold.Amount)
		}
	}
	summary.Cash = cash
	summary.Held = numeric.Normalize(held)
	summary.BuyingPower = numeric.Normalize(cash.Sub(held))
	summary.TotalValue = numeric.Normalize(total)
	return summary, nil
}
