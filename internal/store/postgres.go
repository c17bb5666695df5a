package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS planner_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresKVStore 基于 planner_kv 表的 KV 实现
type PostgresKVStore struct {
	db *sql.DB
}

func NewPostgresKVStore(db *sql.DB) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

// EnsureSchema 创建 planner_kv 表
func (p *PostgresKVStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, kvSchema); err != nil {
		return fmt.Errorf("failed to create planner_kv table: %w", err)
	}
	return nil
}

func (p *PostgresKVStore) Get(ctx context.Context, key string) (string, error) {
	query := `
		SELECT value
		FROM planner_kv
		WHERE key = $1
		  AND (expires_at IS NULL OR expires_at > now())
	`
	var value string
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	query := `
		INSERT INTO planner_kv (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
	`
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}
	if _, err := p.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}
