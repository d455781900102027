package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nportel/conciliador/internal/domain"
)

const transactionColumns = `id, external_id, button_id, amount, currency, payment_method,
	installments, status, transaction_date, expected_pay_date, liquidation_id, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.ExternalID, &t.ButtonID, &t.Amount, &t.Currency, &t.PaymentMethod,
		&t.Installments, &t.Status, &t.TransactionDate, &t.ExpectedPayDate, &t.LiquidationID,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionByExternalID returns (nil, nil) when no row exists, so the
// sync upsert branch reads naturally.
func (s *Store) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE external_id = $1", externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// CreateTransaction inserts a first-sighted transaction and fills in its id.
func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO transactions
			(external_id, button_id, amount, currency, payment_method, installments, status,
			 transaction_date, expected_pay_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		 RETURNING id`,
		t.ExternalID, t.ButtonID, t.Amount, t.Currency, t.PaymentMethod, t.Installments,
		t.Status, t.TransactionDate, t.ExpectedPayDate,
	).Scan(&t.ID)
}

// UpdateTransactionSyncFields refreshes the processor-owned fields on a later
// sync. The expected pay date is deliberately untouched: it is fixed at
// creation time and only ever filled by the backfill pass.
func (s *Store) UpdateTransactionSyncFields(ctx context.Context, id int64, status string, amount float64, paymentMethod string, installments int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions
		 SET status = $2, amount = $3, payment_method = $4, installments = $5, updated_at = now()
		 WHERE id = $1`,
		id, status, amount, paymentMethod, installments)
	return err
}

// SetTransactionExpectedPayDate backfills a null expected pay date.
func (s *Store) SetTransactionExpectedPayDate(ctx context.Context, id int64, expected time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions SET expected_pay_date = $2, updated_at = now()
		 WHERE id = $1 AND expected_pay_date IS NULL`,
		id, expected)
	return err
}

// AssignLiquidation links a transaction to its settlement batch. The guard on
// liquidation_id makes the link write-once at the storage layer as well.
func (s *Store) AssignLiquidation(ctx context.Context, transactionID, liquidationID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE transactions SET liquidation_id = $2, updated_at = now()
		 WHERE id = $1 AND liquidation_id IS NULL`,
		transactionID, liquidationID)
	return err
}

func (s *Store) listTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListUnmatchedCompleted returns completed transactions on a button that have
// no liquidation assigned yet, oldest first.
func (s *Store) ListUnmatchedCompleted(ctx context.Context, buttonID uuid.UUID) ([]domain.Transaction, error) {
	return s.listTransactions(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		 WHERE button_id = $1 AND status = $2 AND liquidation_id IS NULL
		 ORDER BY transaction_date`,
		buttonID, domain.TxStatusCompleted)
}

// ListPendingWithoutExpectedDate returns pending transactions whose expected
// pay date was never computed, for the backfill pass.
func (s *Store) ListPendingWithoutExpectedDate(ctx context.Context, buttonID uuid.UUID) ([]domain.Transaction, error) {
	return s.listTransactions(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		 WHERE button_id = $1 AND status = $2 AND expected_pay_date IS NULL
		 ORDER BY transaction_date`,
		buttonID, domain.TxStatusPending)
}

// ListCompletedInWindow returns every completed transaction for an
// organization with a transaction date inside the inclusive window.
func (s *Store) ListCompletedInWindow(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]domain.Transaction, error) {
	return s.listTransactions(ctx,
		"SELECT t."+`id, t.external_id, t.button_id, t.amount, t.currency, t.payment_method,
			t.installments, t.status, t.transaction_date, t.expected_pay_date, t.liquidation_id,
			t.created_at, t.updated_at
		 FROM transactions t
		 JOIN payment_buttons b ON b.id = t.button_id
		 WHERE b.organization_id = $1 AND t.status = $2
		   AND t.transaction_date >= $3 AND t.transaction_date <= $4
		 ORDER BY t.transaction_date`,
		orgID, domain.TxStatusCompleted, from, to)
}
