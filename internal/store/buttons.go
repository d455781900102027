package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nportel/conciliador/internal/domain"
)

// ErrButtonNotFound is returned when a payment button id does not exist.
var ErrButtonNotFound = errors.New("payment button not found")

const buttonColumns = "id, organization_id, name, api_guid, api_phrase"

func scanButton(row pgx.Row) (*domain.PaymentButton, error) {
	var b domain.PaymentButton
	if err := row.Scan(&b.ID, &b.OrganizationID, &b.Name, &b.APIGuid, &b.APIPhrase); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetButton(ctx context.Context, id uuid.UUID) (*domain.PaymentButton, error) {
	b, err := scanButton(s.db.QueryRow(ctx,
		"SELECT "+buttonColumns+" FROM payment_buttons WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrButtonNotFound
	}
	return b, err
}

func (s *Store) listButtons(ctx context.Context, query string, args ...any) ([]domain.PaymentButton, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentButton
	for rows.Next() {
		b, err := scanButton(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListButtons returns every registered payment button, for fleet passes.
func (s *Store) ListButtons(ctx context.Context) ([]domain.PaymentButton, error) {
	return s.listButtons(ctx, "SELECT "+buttonColumns+" FROM payment_buttons ORDER BY name")
}

// ListButtonsByOrganization returns an organization's payment buttons.
func (s *Store) ListButtonsByOrganization(ctx context.Context, orgID uuid.UUID) ([]domain.PaymentButton, error) {
	return s.listButtons(ctx,
		"SELECT "+buttonColumns+" FROM payment_buttons WHERE organization_id = $1 ORDER BY name", orgID)
}

// ListOrganizations returns every organization, for reconciliation passes.
func (s *Store) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name FROM organizations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
