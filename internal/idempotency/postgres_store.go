package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS escrow_submissions (
    key TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    status_code INT NOT NULL,
    response BYTEA NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'done',
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE escrow_submissions ADD COLUMN IF NOT EXISTS state TEXT NOT NULL DEFAULT 'done';
`

const upsertSQL = `
INSERT INTO escrow_submissions (key, operation, fingerprint, status_code, response, tx_hash, state, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (key) DO UPDATE
SET operation = EXCLUDED.operation,
    fingerprint = EXCLUDED.fingerprint,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    tx_hash = EXCLUDED.tx_hash,
    state = EXCLUDED.state,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT operation, fingerprint, status_code, response, tx_hash, state, created_at, expires_at
FROM escrow_submissions
WHERE key = $1
`, key)

	var rec Record
	err := row.Scan(&rec.Operation, &rec.Fingerprint, &rec.StatusCode, &rec.Response, &rec.TxHash, &rec.State, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if rec.expired(time.Now()) {
		if _, err := p.pool.Exec(ctx, `DELETE FROM escrow_submissions WHERE key = $1`, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &rec, nil
}

// Reserve inserts record unless a live row holds key. An expired row is
// overwritten in the same statement.
func (p *PostgresStore) Reserve(ctx context.Context, key string, record Record) (*Record, bool, error) {
	tag, err := p.pool.Exec(ctx, upsertSQL+`WHERE escrow_submissions.expires_at < $10`,
		append(recordArgs(key, record), time.Now())...)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return nil, true, nil
	}

	existing, err := p.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("idempotency key %q expired while reserving", key)
	}
	return existing, false, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, upsertSQL, recordArgs(key, record)...)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM escrow_submissions WHERE key = $1`, key)
	return err
}

func recordArgs(key string, record Record) []any {
	response := record.Response
	if response == nil {
		response = []byte{}
	}
	state := record.State
	if state == "" {
		state = StateDone
	}
	return []any{key, record.Operation, record.Fingerprint, record.StatusCode, response, record.TxHash, state, record.CreatedAt, record.ExpiresAt}
}
