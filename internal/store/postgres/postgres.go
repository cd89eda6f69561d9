package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dhastore/backend/internal/store"
)

// Medium stores documents as JSONB rows keyed by document name.
type Medium struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Medium, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Medium{db: db}
	if err := m.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Medium) Close() error {
	return m.db.Close()
}

func (m *Medium) Name() string {
	return "postgres"
}

// EnsureSchema creates the documents table when missing.
func (m *Medium) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	// Two processes racing on CREATE TABLE IF NOT EXISTS can still collide
	// on the pg_type entry.
	if err != nil && !isUniqueViolation(err) {
		return err
	}
	return nil
}

func (m *Medium) Read(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT body
		FROM documents
		WHERE key = $1
	`, key).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (m *Medium) Write(ctx context.Context, key string, value []byte) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key)
		DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`, key, string(value))
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ store.Medium = (*Medium)(nil)
