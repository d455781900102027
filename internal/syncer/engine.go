// Package syncer pulls transaction and liquidation records from the payment
// processor and mirrors them into local storage, one payment button at a time.
// Syncs are idempotent: records are keyed by external id, re-running with no
// new upstream data changes nothing. Failures never escape a button: they are
// written to the sync log and reported through the result.
package syncer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nportel/conciliador/internal/domain"
	"github.com/nportel/conciliador/internal/events"
	"github.com/nportel/conciliador/internal/processor"
	"github.com/nportel/conciliador/internal/settledate"
)

// Lookback windows used when a button has no successful sync on record.
const (
	transactionLookback = 30 * 24 * time.Hour
	liquidationLookback = 60 * 24 * time.Hour
)

const liquidationCurrency = "ARS"

var (
	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_sync_records_total",
		Help: "Records written during sync passes",
	}, []string{"entity", "action"})

	syncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_sync_failures_total",
		Help: "Sync passes that ended in an error log entry",
	}, []string{"operation"})
)

// Store is the persistence surface the engine needs. *store.Store satisfies it.
type Store interface {
	AcquireButtonLease(ctx context.Context, buttonID uuid.UUID) (release func(), ok bool, err error)
	LatestSyncSuccess(ctx context.Context, buttonID uuid.UUID, operation string) (*time.Time, error)
	AppendSyncLog(ctx context.Context, e domain.SyncLogEntry) error

	GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	UpdateTransactionSyncFields(ctx context.Context, id int64, status string, amount float64, paymentMethod string, installments int) error

	GetLiquidationByExternalID(ctx context.Context, externalID string) (*domain.Liquidation, error)
	CreateLiquidation(ctx context.Context, l *domain.Liquidation) error
	UpdateLiquidationSyncFields(ctx context.Context, id int64, amount float64, settlementDate time.Time, status string) error
}

// Client is the processor surface the engine needs.
type Client interface {
	ListTransactions(ctx context.Context, from, to time.Time) ([]processor.Transaction, error)
	ListLiquidations(ctx context.Context, from, to time.Time) ([]processor.Liquidation, error)
}

// ClientFactory builds a processor client from a button's credentials.
type ClientFactory func(domain.PaymentButton) Client

type Engine struct {
	store   Store
	clients ClientFactory
	events  events.Publisher
	now     func() time.Time
}

func New(store Store, clients ClientFactory, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{store: store, clients: clients, events: pub, now: time.Now}
}

// SyncButton runs both entity-type passes for one button. A liquidation-sync
// failure does not undo or block the transaction pass; the caller gets both
// outcomes.
func (e *Engine) SyncButton(ctx context.Context, button domain.PaymentButton) domain.ButtonSyncResult {
	return domain.ButtonSyncResult{
		Transactions: e.SyncTransactions(ctx, button),
		Liquidations: e.SyncLiquidations(ctx, button),
	}
}

// SyncTransactions pulls processor transactions since the last successful
// transaction sync and upserts them.
func (e *Engine) SyncTransactions(ctx context.Context, button domain.PaymentButton) domain.SyncResult {
	res := e.runLeased(ctx, button, domain.OpTransactionSync, func(c Client, from, to time.Time) (domain.SyncResult, string, error) {
		return e.syncTransactions(ctx, button, c, from, to)
	}, transactionLookback)
	e.publishSync(button, "transactions", res)
	return res
}

// SyncLiquidations pulls settlement batches since the last successful
// liquidation sync and upserts them.
func (e *Engine) SyncLiquidations(ctx context.Context, button domain.PaymentButton) domain.SyncResult {
	res := e.runLeased(ctx, button, domain.OpLiquidationSync, func(c Client, from, to time.Time) (domain.SyncResult, string, error) {
		return e.syncLiquidations(ctx, button, c, from, to)
	}, liquidationLookback)
	e.publishSync(button, "liquidations", res)
	return res
}

// runLeased wraps one entity-type pass: button lease, watermark window, ledger
// entry on either outcome. Partial progress before a failure persists; there
// is no batch transaction.
func (e *Engine) runLeased(ctx context.Context, button domain.PaymentButton, operation string,
	pass func(c Client, from, to time.Time) (domain.SyncResult, string, error), lookback time.Duration) domain.SyncResult {

	release, ok, err := e.store.AcquireButtonLease(ctx, button.ID)
	if err != nil {
		return e.fail(ctx, button, operation, domain.SyncResult{}, fmt.Errorf("acquiring button lease: %w", err))
	}
	if !ok {
		return domain.SyncResult{Error: "sync already in progress for this button"}
	}
	defer release()

	from := e.now().Add(-lookback)
	if ts, err := e.store.LatestSyncSuccess(ctx, button.ID, operation); err != nil {
		return e.fail(ctx, button, operation, domain.SyncResult{}, fmt.Errorf("reading sync watermark: %w", err))
	} else if ts != nil {
		from = *ts
	}
	to := e.now()

	res, message, err := pass(e.clients(button), from, to)
	if err != nil {
		return e.fail(ctx, button, operation, res, err)
	}

	if logErr := e.store.AppendSyncLog(ctx, domain.SyncLogEntry{
		ButtonID:  button.ID,
		Operation: operation,
		Status:    domain.LogSuccess,
		Message:   message,
	}); logErr != nil {
		log.Printf("sync log append failed for button %s: %v", button.ID, logErr)
	}
	res.Success = true
	return res
}

func (e *Engine) fail(ctx context.Context, button domain.PaymentButton, operation string, partial domain.SyncResult, err error) domain.SyncResult {
	syncFailuresTotal.WithLabelValues(operation).Inc()
	if logErr := e.store.AppendSyncLog(ctx, domain.SyncLogEntry{
		ButtonID:  button.ID,
		Operation: operation,
		Status:    domain.LogError,
		Message:   err.Error(),
	}); logErr != nil {
		log.Printf("sync log append failed for button %s: %v", button.ID, logErr)
	}
	partial.Success = false
	partial.Error = err.Error()
	return partial
}

func (e *Engine) syncTransactions(ctx context.Context, button domain.PaymentButton, c Client, from, to time.Time) (domain.SyncResult, string, error) {
	var res domain.SyncResult

	remote, err := c.ListTransactions(ctx, from, to)
	if err != nil {
		return res, "", fmt.Errorf("listing transactions: %w", err)
	}

	for _, rt := range remote {
		local, err := e.store.GetTransactionByExternalID(ctx, rt.ID)
		if err != nil {
			return res, "", fmt.Errorf("looking up transaction %s: %w", rt.ID, err)
		}

		if local == nil {
			installments := rt.Installments
			if installments == 0 {
				installments = 1
			}
			expected := settledate.Expected(rt.Date, rt.PaymentMethod, installments)
			tx := &domain.Transaction{
				ExternalID:      rt.ID,
				ButtonID:        button.ID,
				Amount:          rt.Amount,
				Currency:        rt.Currency,
				PaymentMethod:   rt.PaymentMethod,
				Installments:    installments,
				Status:          rt.Status,
				TransactionDate: rt.Date,
				ExpectedPayDate: &expected,
			}
			if err := e.store.CreateTransaction(ctx, tx); err != nil {
				return res, "", fmt.Errorf("creating transaction %s: %w", rt.ID, err)
			}
			res.Created++
			syncRecordsTotal.WithLabelValues("transaction", "created").Inc()
			continue
		}

		installments := rt.Installments
		if installments == 0 {
			installments = local.Installments
		}
		if err := e.store.UpdateTransactionSyncFields(ctx, local.ID, rt.Status, rt.Amount, rt.PaymentMethod, installments); err != nil {
			return res, "", fmt.Errorf("updating transaction %s: %w", rt.ID, err)
		}
		res.Updated++
		syncRecordsTotal.WithLabelValues("transaction", "updated").Inc()
	}

	message := fmt.Sprintf("synced %d transactions (created %d, updated %d)", len(remote), res.Created, res.Updated)
	return res, message, nil
}

func (e *Engine) syncLiquidations(ctx context.Context, button domain.PaymentButton, c Client, from, to time.Time) (domain.SyncResult, string, error) {
	var res domain.SyncResult

	remote, err := c.ListLiquidations(ctx, from, to)
	if err != nil {
		return res, "", fmt.Errorf("listing liquidations: %w", err)
	}

	var skipNotes []string
	for _, rl := range remote {
		amount, parseErr := parseLocalizedAmount(rl.NetoLiquidacion)
		if parseErr != nil {
			res.Skipped++
			skipNotes = append(skipNotes, fmt.Sprintf("%s: malformed amount %q", rl.LiquidacionID, rl.NetoLiquidacion))
			continue
		}
		settlement, parseErr := time.Parse("2006-01-02", rl.FechaLiquidacion)
		if parseErr != nil {
			res.Skipped++
			skipNotes = append(skipNotes, fmt.Sprintf("%s: malformed settlement date %q", rl.LiquidacionID, rl.FechaLiquidacion))
			continue
		}
		status := domain.LiqStatusProcessed
		if strings.Contains(strings.ToUpper(rl.NumeroSubente), domain.DebitSubEntityMarker) {
			status = domain.LiqStatusDebitCard
		}

		local, err := e.store.GetLiquidationByExternalID(ctx, rl.LiquidacionID)
		if err != nil {
			return res, "", fmt.Errorf("looking up liquidation %s: %w", rl.LiquidacionID, err)
		}

		if local == nil {
			liq := &domain.Liquidation{
				ExternalID:     rl.LiquidacionID,
				ButtonID:       button.ID,
				Amount:         amount,
				Currency:       liquidationCurrency,
				SettlementDate: settlement,
				Status:         status,
			}
			if err := e.store.CreateLiquidation(ctx, liq); err != nil {
				return res, "", fmt.Errorf("creating liquidation %s: %w", rl.LiquidacionID, err)
			}
			res.Created++
			syncRecordsTotal.WithLabelValues("liquidation", "created").Inc()
			continue
		}

		if err := e.store.UpdateLiquidationSyncFields(ctx, local.ID, amount, settlement, status); err != nil {
			return res, "", fmt.Errorf("updating liquidation %s: %w", rl.LiquidacionID, err)
		}
		res.Updated++
		syncRecordsTotal.WithLabelValues("liquidation", "updated").Inc()
	}

	msg := fmt.Sprintf("synced %d liquidations (created %d, updated %d)", len(remote), res.Created, res.Updated)
	if len(skipNotes) > 0 {
		msg += fmt.Sprintf("; skipped %d malformed: %s", res.Skipped, strings.Join(skipNotes, "; "))
	}
	return res, msg, nil
}

func (e *Engine) publishSync(button domain.PaymentButton, entity string, res domain.SyncResult) {
	err := e.events.Publish(events.TopicSyncCompleted, events.SyncCompleted{
		ButtonID: button.ID,
		Entity:   entity,
		Success:  res.Success,
		Created:  res.Created,
		Updated:  res.Updated,
		Skipped:  res.Skipped,
		Error:    res.Error,
	})
	if err != nil {
		log.Printf("publishing sync event for button %s: %v", button.ID, err)
	}
}

// parseLocalizedAmount parses settlement amounts like "12 345.67". Upstream
// groups digits with spaces; all whitespace is stripped before parsing.
func parseLocalizedAmount(raw string) (float64, error) {
	cleaned := strings.Join(strings.Fields(raw), "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	return strconv.ParseFloat(cleaned, 64)
}
