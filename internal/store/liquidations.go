package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nportel/conciliador/internal/domain"
)

const liquidationColumns = `id, external_id, button_id, amount, currency, settlement_date,
	status, created_at, updated_at`

func scanLiquidation(row pgx.Row) (*domain.Liquidation, error) {
	var l domain.Liquidation
	err := row.Scan(&l.ID, &l.ExternalID, &l.ButtonID, &l.Amount, &l.Currency,
		&l.SettlementDate, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLiquidationByExternalID returns (nil, nil) when no row exists.
func (s *Store) GetLiquidationByExternalID(ctx context.Context, externalID string) (*domain.Liquidation, error) {
	l, err := scanLiquidation(s.db.QueryRow(ctx,
		"SELECT "+liquidationColumns+" FROM liquidations WHERE external_id = $1", externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *Store) CreateLiquidation(ctx context.Context, l *domain.Liquidation) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO liquidations
			(external_id, button_id, amount, currency, settlement_date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 RETURNING id`,
		l.ExternalID, l.ButtonID, l.Amount, l.Currency, l.SettlementDate, l.Status,
	).Scan(&l.ID)
}

func (s *Store) UpdateLiquidationSyncFields(ctx context.Context, id int64, amount float64, settlementDate time.Time, status string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE liquidations
		 SET amount = $2, settlement_date = $3, status = $4, updated_at = now()
		 WHERE id = $1`,
		id, amount, settlementDate, status)
	return err
}

func (s *Store) listLiquidations(ctx context.Context, query string, args ...any) ([]domain.Liquidation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Liquidation
	for rows.Next() {
		l, err := scanLiquidation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListLiquidationsByButton returns a button's liquidations ordered by
// settlement date ascending. Matching depends on this ordering: a transaction
// links to the earliest batch that could have paid it.
func (s *Store) ListLiquidationsByButton(ctx context.Context, buttonID uuid.UUID) ([]domain.Liquidation, error) {
	return s.listLiquidations(ctx,
		"SELECT "+liquidationColumns+` FROM liquidations
		 WHERE button_id = $1 ORDER BY settlement_date, id`,
		buttonID)
}

// ListLiquidationsByStatus filters a button's liquidations by status,
// settlement date ascending.
func (s *Store) ListLiquidationsByStatus(ctx context.Context, buttonID uuid.UUID, status string) ([]domain.Liquidation, error) {
	return s.listLiquidations(ctx,
		"SELECT "+liquidationColumns+` FROM liquidations
		 WHERE button_id = $1 AND status = $2 ORDER BY settlement_date, id`,
		buttonID, status)
}

// ListLiquidationsInWindow returns an organization's liquidations with a
// settlement date inside the inclusive window.
func (s *Store) ListLiquidationsInWindow(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]domain.Liquidation, error) {
	return s.listLiquidations(ctx,
		`SELECT l.id, l.external_id, l.button_id, l.amount, l.currency, l.settlement_date,
			l.status, l.created_at, l.updated_at
		 FROM liquidations l
		 JOIN payment_buttons b ON b.id = l.button_id
		 WHERE b.organization_id = $1 AND l.settlement_date >= $2 AND l.settlement_date <= $3
		 ORDER BY l.settlement_date`,
		orgID, from, to)
}
