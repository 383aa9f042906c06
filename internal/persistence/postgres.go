package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// storeTimeout bounds each worker-side Put so a slow Postgres never stalls
// the NATS subscription's delivery loop indefinitely.
const storeTimeout = 5 * time.Second

// PostgresStore is the room_snapshots table described in §6.2: blobs
// addressed by room_id, no schema enforced on their contents.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to dsn and ensures the room_snapshots table
// exists.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("persistence: ping postgres: %w", err)
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS room_snapshots (
			room_id    TEXT PRIMARY KEY,
			clock      BIGINT NOT NULL,
			blob       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("persistence: ensure schema: %w", err)
	}
	return nil
}

// Get returns the most recently persisted compressed blob for roomID.
func (s *PostgresStore) Get(ctx context.Context, roomID string) (blob []byte, clock uint64, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT clock, blob FROM room_snapshots WHERE room_id = $1`, roomID)
	var c int64
	if err := row.Scan(&c, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("persistence: get snapshot for %s: %w", roomID, err)
	}
	return blob, uint64(c), true, nil
}

// Put upserts the compressed blob for roomID.
func (s *PostgresStore) Put(ctx context.Context, roomID string, blob []byte, clock uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, clock, blob, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room_id) DO UPDATE SET clock = $2, blob = $3, updated_at = now()
	`, roomID, int64(clock), blob)
	if err != nil {
		return fmt.Errorf("persistence: put snapshot for %s: %w", roomID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
