// Package report derives reconciliation summaries from the persisted
// transaction and liquidation sets. Read-only; amounts are summed as plain
// float64 currency values, mirroring how they are stored.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nportel/conciliador/internal/domain"
)

// Store is the read surface the aggregator needs. *store.Store satisfies it.
type Store interface {
	ListCompletedInWindow(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]domain.Transaction, error)
	ListLiquidationsInWindow(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]domain.Liquidation, error)
}

type Aggregator struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Summarize computes the reconciliation picture for an organization over the
// given window. Nil bounds default to the first of the current month through
// now. Completed transactions split into reconciled (liquidation assigned) and
// pending; the liquidated total comes independently from the settlement side.
func (a *Aggregator) Summarize(ctx context.Context, orgID uuid.UUID, from, to *time.Time) (domain.Summary, error) {
	now := a.now()
	windowFrom := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	windowTo := now
	if from != nil {
		windowFrom = *from
	}
	if to != nil {
		windowTo = *to
	}

	summary := domain.Summary{
		From:     windowFrom,
		To:       windowTo,
		ByMethod: make(map[string]domain.MethodTotals),
	}

	transactions, err := a.store.ListCompletedInWindow(ctx, orgID, windowFrom, windowTo)
	if err != nil {
		return domain.Summary{}, err
	}
	for _, tx := range transactions {
		totals := summary.ByMethod[tx.PaymentMethod]
		if tx.LiquidationID != nil {
			summary.Reconciled += tx.Amount
			totals.Reconciled += tx.Amount
		} else {
			summary.Pending += tx.Amount
			totals.Pending += tx.Amount
		}
		summary.ByMethod[tx.PaymentMethod] = totals
	}

	liquidations, err := a.store.ListLiquidationsInWindow(ctx, orgID, windowFrom, windowTo)
	if err != nil {
		return domain.Summary{}, err
	}
	for _, liq := range liquidations {
		summary.Liquidated += liq.Amount
	}

	return summary, nil
}
