package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore implements Store over two tables: kv_entries for keyed
// records (with an expires_at column standing in for TTLs) and list_entries
// for the append-only queues (ordered by a bigserial sequence).
//
// Expired rows are invisible to every read; physical removal is done by the
// cleanup sweeper via DeleteExpired.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The caller owns the
// handle's lifecycle (pooling, migrations, Close).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notExpired = "(expires_at IS NULL OR expires_at > now())"

// Put upserts a key. ttl zero means no expiry.
func (p *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return unavailable("put "+key, err)
	}
	return nil
}

// Get returns the value for key or ErrKeyNotFound.
func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND `+notExpired, key).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, unavailable("get "+key, err)
	}
	return value, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return unavailable("delete "+key, err)
	}
	return nil
}

// Scan returns all unexpired keys with the given prefix, sorted.
func (p *PostgresStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key FROM kv_entries
		WHERE key LIKE $1 || '%' AND `+notExpired+`
		ORDER BY key`, prefix)
	if err != nil {
		return nil, unavailable("scan "+prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("scan "+prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan "+prefix, err)
	}
	return keys, nil
}

// ListPushTail appends a value to the list at key.
func (p *PostgresStore) ListPushTail(ctx context.Context, key, value string) error {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO list_entries (key, value) VALUES ($1, $2)`, key, value); err != nil {
		return unavailable("push "+key, err)
	}
	return nil
}

// ListPopHead removes and returns the head of the list at key.
// FOR UPDATE SKIP LOCKED keeps concurrent poppers from returning the same row.
func (p *PostgresStore) ListPopHead(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `
		DELETE FROM list_entries
		WHERE seq = (
			SELECT seq FROM list_entries
			WHERE key = $1
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING value`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", unavailable("pop "+key, err)
	}
	return value, nil
}

// ListLen returns the length of the list at key.
func (p *PostgresStore) ListLen(ctx context.Context, key string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM list_entries WHERE key = $1`, key).Scan(&n)
	if err != nil {
		return 0, unavailable("len "+key, err)
	}
	return n, nil
}

// ListSnapshot returns the list at key, head first.
func (p *PostgresStore) ListSnapshot(ctx context.Context, key string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT value FROM list_entries WHERE key = $1 ORDER BY seq`, key)
	if err != nil {
		return nil, unavailable("snapshot "+key, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, unavailable("snapshot "+key, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("snapshot "+key, err)
	}
	return values, nil
}

// Ping checks backend reachability.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// DeleteExpired physically removes rows whose expiry has passed.
// Called by the cleanup sweeper; reads never see these rows.
func (p *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, unavailable("delete expired", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
