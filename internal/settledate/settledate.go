// Package settledate computes the expected settlement date for a transaction
// from its payment method. The terms are a fixed business rule of the acquirer:
// debit cards and QR settle the next business day, credit cards at 18 business
// days, everything else at 5. Business days skip Saturday and Sunday only; no
// holiday calendar is applied.
package settledate

import (
	"time"

	"github.com/nportel/conciliador/internal/domain"
)

const (
	debitDays   = 1
	creditDays  = 18
	defaultDays = 5
)

// Expected returns the expected settlement date for a transaction. The
// installment count is part of the contract but does not currently alter the
// credit-card term. Pure and deterministic: the backfill pass relies on
// recomputing the same date the creation path did.
func Expected(transactionDate time.Time, paymentMethod string, installments int) time.Time {
	switch paymentMethod {
	case domain.MethodDebitCard, domain.MethodQR:
		return AddBusinessDays(transactionDate, debitDays)
	case domain.MethodCreditCard:
		return AddBusinessDays(transactionDate, creditDays)
	default:
		return AddBusinessDays(transactionDate, defaultDays)
	}
}

// AddBusinessDays advances t by n weekdays, skipping Saturdays and Sundays.
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}
