package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nportel/conciliador/internal/domain"
)

// AppendSyncLog writes one audit entry. The log is append-only: nothing here
// or elsewhere updates or deletes rows.
func (s *Store) AppendSyncLog(ctx context.Context, e domain.SyncLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var buttonID any
	if e.ButtonID != uuid.Nil {
		buttonID = e.ButtonID
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO sync_log (id, button_id, operation, status, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		e.ID, buttonID, e.Operation, e.Status, e.Message)
	return err
}

// LatestSyncSuccess returns the timestamp of the most recent successful entry
// of the given operation for a button, or nil when none exists. This is the
// sync watermark.
func (s *Store) LatestSyncSuccess(ctx context.Context, buttonID uuid.UUID, operation string) (*time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow(ctx,
		`SELECT created_at FROM sync_log
		 WHERE button_id = $1 AND operation = $2 AND status = $3
		 ORDER BY created_at DESC LIMIT 1`,
		buttonID, operation, domain.LogSuccess).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// ListSyncLog returns the most recent entries for a button, newest first.
func (s *Store) ListSyncLog(ctx context.Context, buttonID uuid.UUID, limit int) ([]domain.SyncLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, COALESCE(button_id, $3), operation, status, message, created_at
		 FROM sync_log
		 WHERE button_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		buttonID, limit, uuid.Nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SyncLogEntry
	for rows.Next() {
		var e domain.SyncLogEntry
		if err := rows.Scan(&e.ID, &e.ButtonID, &e.Operation, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
