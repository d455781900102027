// Package reconcile links completed transactions to the settlement batches
// that paid them. Two matching paths exist: a local heuristic over expected
// settlement dates, and a processor-driven path that asks upstream which
// transactions each batch contains. A transaction that already holds a
// liquidation reference is never reassigned by either path.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nportel/conciliador/internal/domain"
	"github.com/nportel/conciliador/internal/events"
	"github.com/nportel/conciliador/internal/settledate"
)

var matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reconciler_matches_total",
	Help: "Transactions linked to a liquidation, by matching path",
}, []string{"path"})

// Store is the persistence surface the engine needs. *store.Store satisfies it.
type Store interface {
	ListButtonsByOrganization(ctx context.Context, orgID uuid.UUID) ([]domain.PaymentButton, error)
	ListUnmatchedCompleted(ctx context.Context, buttonID uuid.UUID) ([]domain.Transaction, error)
	ListLiquidationsByButton(ctx context.Context, buttonID uuid.UUID) ([]domain.Liquidation, error)
	ListLiquidationsByStatus(ctx context.Context, buttonID uuid.UUID, status string) ([]domain.Liquidation, error)
	ListPendingWithoutExpectedDate(ctx context.Context, buttonID uuid.UUID) ([]domain.Transaction, error)
	GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	AssignLiquidation(ctx context.Context, transactionID, liquidationID int64) error
	SetTransactionExpectedPayDate(ctx context.Context, id int64, expected time.Time) error
	AppendSyncLog(ctx context.Context, e domain.SyncLogEntry) error
}

// Lookup is the processor surface for the processor-driven path.
type Lookup interface {
	LiquidationTransactionIDs(ctx context.Context, liquidationExternalID string) ([]string, error)
}

// LookupFactory builds a processor lookup from a button's credentials.
type LookupFactory func(domain.PaymentButton) Lookup

type Engine struct {
	store   Store
	lookups LookupFactory
	events  events.Publisher
}

func New(store Store, lookups LookupFactory, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{store: store, lookups: lookups, events: pub}
}

// Reconcile runs the local heuristic match over every button of an
// organization. A transaction matches the earliest liquidation whose
// settlement date falls strictly after its expected pay date. One liquidation
// may cover any number of transactions: a settlement batch pays out many
// sales, so no exclusivity is enforced.
func (e *Engine) Reconcile(ctx context.Context, orgID uuid.UUID) domain.ReconcileResult {
	res, err := e.reconcile(ctx, orgID)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		e.appendLog(ctx, uuid.Nil, domain.OpReconciliation, domain.LogError, err.Error())
	} else {
		res.Success = true
		e.appendLog(ctx, uuid.Nil, domain.OpReconciliation, domain.LogSuccess,
			fmt.Sprintf("organization %s: matched %d, pending %d", orgID, res.Matched, res.Pending))
	}

	if pubErr := e.events.Publish(events.TopicReconcileCompleted, events.ReconcileCompleted{
		OrganizationID: orgID,
		Success:        res.Success,
		Matched:        res.Matched,
		Pending:        res.Pending,
		Error:          res.Error,
	}); pubErr != nil {
		log.Printf("publishing reconcile event for organization %s: %v", orgID, pubErr)
	}
	return res
}

func (e *Engine) reconcile(ctx context.Context, orgID uuid.UUID) (domain.ReconcileResult, error) {
	var res domain.ReconcileResult

	buttons, err := e.store.ListButtonsByOrganization(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("listing buttons: %w", err)
	}

	for _, button := range buttons {
		candidates, err := e.store.ListUnmatchedCompleted(ctx, button.ID)
		if err != nil {
			return res, fmt.Errorf("listing unmatched transactions for button %s: %w", button.ID, err)
		}
		if len(candidates) == 0 {
			continue
		}

		// Settlement-date ascending, so the first hit is the earliest batch
		// that could have paid the transaction.
		liquidations, err := e.store.ListLiquidationsByButton(ctx, button.ID)
		if err != nil {
			return res, fmt.Errorf("listing liquidations for button %s: %w", button.ID, err)
		}

		for _, tx := range candidates {
			liq := firstEligible(liquidations, tx)
			if liq == nil {
				res.Pending++
				res.TotalPending += tx.Amount
				continue
			}
			if err := e.store.AssignLiquidation(ctx, tx.ID, liq.ID); err != nil {
				return res, fmt.Errorf("assigning liquidation %d to transaction %s: %w", liq.ID, tx.ExternalID, err)
			}
			res.Matched++
			res.TotalMatched += tx.Amount
			matchesTotal.WithLabelValues("heuristic").Inc()
		}
	}
	return res, nil
}

// firstEligible returns the earliest liquidation settling strictly after the
// transaction's expected pay date, or nil. A transaction with no expected pay
// date cannot be matched heuristically; it stays pending until backfilled.
func firstEligible(liquidations []domain.Liquidation, tx domain.Transaction) *domain.Liquidation {
	if tx.ExpectedPayDate == nil {
		return nil
	}
	for i := range liquidations {
		if liquidations[i].SettlementDate.After(*tx.ExpectedPayDate) {
			return &liquidations[i]
		}
	}
	return nil
}

// MatchViaProcessor asks upstream which transactions belong to each processed
// liquidation on a button and links the local rows. A lookup failure skips
// that liquidation only; the pass continues.
func (e *Engine) MatchViaProcessor(ctx context.Context, button domain.PaymentButton) domain.ProcessorMatchResult {
	var res domain.ProcessorMatchResult

	liquidations, err := e.store.ListLiquidationsByStatus(ctx, button.ID, domain.LiqStatusProcessed)
	if err != nil {
		msg := fmt.Sprintf("listing processed liquidations: %v", err)
		e.appendLog(ctx, button.ID, domain.OpMatching, domain.LogError, msg)
		res.Error = msg
		return res
	}

	lookup := e.lookups(button)
	for _, liq := range liquidations {
		ids, err := lookup.LiquidationTransactionIDs(ctx, liq.ExternalID)
		if err != nil {
			log.Printf("liquidation %s membership lookup failed, skipping: %v", liq.ExternalID, err)
			continue
		}
		for _, externalID := range ids {
			tx, err := e.store.GetTransactionByExternalID(ctx, externalID)
			if err != nil {
				msg := fmt.Sprintf("looking up transaction %s: %v", externalID, err)
				e.appendLog(ctx, button.ID, domain.OpMatching, domain.LogError, msg)
				res.Error = msg
				return res
			}
			if tx == nil || tx.LiquidationID != nil {
				continue
			}
			if err := e.store.AssignLiquidation(ctx, tx.ID, liq.ID); err != nil {
				msg := fmt.Sprintf("assigning liquidation %d to transaction %s: %v", liq.ID, externalID, err)
				e.appendLog(ctx, button.ID, domain.OpMatching, domain.LogError, msg)
				res.Error = msg
				return res
			}
			res.Matched++
			matchesTotal.WithLabelValues("processor").Inc()
		}
	}

	res.Success = true
	e.appendLog(ctx, button.ID, domain.OpMatching, domain.LogSuccess,
		fmt.Sprintf("matched %d transactions via processor", res.Matched))
	return res
}

// BackfillExpectedDates recomputes the expected pay date for pending
// transactions where it is still null. Idempotent: a second run finds nothing
// to fill.
func (e *Engine) BackfillExpectedDates(ctx context.Context, button domain.PaymentButton) domain.BackfillResult {
	var res domain.BackfillResult

	txs, err := e.store.ListPendingWithoutExpectedDate(ctx, button.ID)
	if err != nil {
		msg := fmt.Sprintf("listing pending transactions: %v", err)
		e.appendLog(ctx, button.ID, domain.OpDateBackfill, domain.LogError, msg)
		res.Error = msg
		return res
	}

	for _, tx := range txs {
		expected := settledate.Expected(tx.TransactionDate, tx.PaymentMethod, tx.Installments)
		if err := e.store.SetTransactionExpectedPayDate(ctx, tx.ID, expected); err != nil {
			msg := fmt.Sprintf("backfilling transaction %s: %v", tx.ExternalID, err)
			e.appendLog(ctx, button.ID, domain.OpDateBackfill, domain.LogError, msg)
			res.Error = msg
			return res
		}
		res.Updated++
	}

	res.Success = true
	e.appendLog(ctx, button.ID, domain.OpDateBackfill, domain.LogSuccess,
		fmt.Sprintf("backfilled expected pay date on %d transactions", res.Updated))
	return res
}

func (e *Engine) appendLog(ctx context.Context, buttonID uuid.UUID, operation, status, message string) {
	err := e.store.AppendSyncLog(ctx, domain.SyncLogEntry{
		ButtonID:  buttonID,
		Operation: operation,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		log.Printf("sync log append failed (%s/%s): %v", operation, status, err)
	}
}
