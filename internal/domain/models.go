package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses as reported by the payment processor.
const (
	TxStatusCreated      = "CREATED"
	TxStatusInPayment    = "IN_PAYMENT"
	TxStatusCompleted    = "COMPLETED"
	TxStatusPending      = "PENDING"
	TxStatusRejected     = "REJECTED"
	TxStatusExpired      = "EXPIRED"
	TxStatusCancelled    = "CANCELLED"
	TxStatusRefunded     = "REFUNDED"
	TxStatusOverdue      = "OVERDUE"
	TxStatusHashInvalid  = "HASH_INVALID"
	TxStatusHashMismatch = "HASH_MISMATCH"
)

// Payment methods with dedicated settlement terms. Anything else is stored
// verbatim and settles on the default term.
const (
	MethodDebitCard  = "DEBIT_CARD"
	MethodCreditCard = "CREDIT_CARD"
	MethodQR         = "QR"
)

// Liquidation statuses. A liquidation whose sub-entity name carries the
// debit-card marker is tagged separately; every other settled batch is PROCESSED.
const (
	LiqStatusProcessed = "PROCESSED"
	LiqStatusDebitCard = "DEBIT_CARD"

	DebitSubEntityMarker = "TARJETA DE DEBITO"
)

// Sync-log operation types.
const (
	OpTransactionSync = "transaction-sync"
	OpLiquidationSync = "liquidation-sync"
	OpMatching        = "matching"
	OpDateBackfill    = "expected-date-backfill"
	OpReconciliation  = "reconciliation"
)

// Sync-log entry statuses.
const (
	LogSuccess = "success"
	LogError   = "error"
)

// Organization groups payment buttons; its lifecycle is managed elsewhere.
type Organization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// PaymentButton is one processor credential set belonging to an organization.
// Read-only here; registration and rotation are external concerns.
type PaymentButton struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	APIGuid        string    `json:"-"`
	APIPhrase      string    `json:"-"`
}

// Transaction is a locally mirrored processor transaction. ExternalID is unique;
// a row is created on first sight and refreshed on later syncs, never deleted.
// LiquidationID is set once by matching and never cleared.
type Transaction struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	ButtonID        uuid.UUID  `json:"button_id"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	PaymentMethod   string     `json:"payment_method"`
	Installments    int        `json:"installments"`
	Status          string     `json:"status"`
	TransactionDate time.Time  `json:"transaction_date"`
	ExpectedPayDate *time.Time `json:"expected_pay_date,omitempty"`
	LiquidationID   *int64     `json:"liquidation_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Liquidation is a bank-side settlement batch for a button.
type Liquidation struct {
	ID             int64     `json:"id"`
	ExternalID     string    `json:"external_id"`
	ButtonID       uuid.UUID `json:"button_id"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	SettlementDate time.Time `json:"settlement_date"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SyncLogEntry is one append-only audit record. ButtonID is uuid.Nil for
// organization-level operations.
type SyncLogEntry struct {
	ID        uuid.UUID `json:"id"`
	ButtonID  uuid.UUID `json:"button_id,omitempty"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncResult summarizes one entity-type sync pass for a button. A failed pass
// reports Success=false with the cause in Error; it does not raise.
type SyncResult struct {
	Success bool   `json:"success"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// ButtonSyncResult bundles both entity-type passes for one button.
type ButtonSyncResult struct {
	Transactions SyncResult `json:"transactions"`
	Liquidations SyncResult `json:"liquidations"`
}

// ReconcileResult summarizes a local heuristic matching pass over an organization.
type ReconcileResult struct {
	Success      bool    `json:"success"`
	Matched      int     `json:"matched"`
	Pending      int     `json:"pending"`
	TotalMatched float64 `json:"total_matched"`
	TotalPending float64 `json:"total_pending"`
	Error        string  `json:"error,omitempty"`
}

// ProcessorMatchResult summarizes a processor-driven matching pass for a button.
type ProcessorMatchResult struct {
	Success bool   `json:"success"`
	Matched int    `json:"matched"`
	Error   string `json:"error,omitempty"`
}

// BackfillResult summarizes an expected-date backfill pass.
type BackfillResult struct {
	Success bool   `json:"success"`
	Updated int    `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// MethodTotals splits reconciled vs pending amounts for one payment method.
type MethodTotals struct {
	Reconciled float64 `json:"reconciled"`
	Pending    float64 `json:"pending"`
}

// Summary is the windowed reconciliation picture for an organization.
// Reconciled + Pending equals the sum of completed transaction amounts in the
// window; Liquidated is computed independently from the settlement side.
type Summary struct {
	From       time.Time               `json:"from"`
	To         time.Time               `json:"to"`
	Reconciled float64                 `json:"reconciled"`
	Pending    float64                 `json:"pending"`
	Liquidated float64                 `json:"liquidated"`
	ByMethod   map[string]MethodTotals `json:"by_method"`
}
