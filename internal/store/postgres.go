package store

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres persistence layer. External-id uniqueness for
// transactions and liquidations is enforced here with unique indexes; the
// engines rely on it to stay idempotent across repeated syncs.
type Store struct {
	db *pgxpool.Pool
}

func New(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func buttonLockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64())
}

// AcquireButtonLease takes the per-button advisory lock that serializes sync
// and match passes against one button's rows. Returns ok=false without error
// when another run already holds the lease. The release func must be called
// exactly once when ok is true.
func (s *Store) AcquireButtonLease(ctx context.Context, buttonID uuid.UUID) (release func(), ok bool, err error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lease connection: %w", err)
	}

	key := buttonLockKey(buttonID)
	var got bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&got); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("lease acquire: %w", err)
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on the same session that took the lock, even if ctx is done.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}
	return release, true, nil
}
