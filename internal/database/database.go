package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"handyhub_push/internal/config"
)

// DSN builds a lib/pq connection string.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)
}

func Connect(cfg config.DatabaseConfig, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Connected to database", zap.String("host", cfg.Host), zap.String("name", cfg.Name))
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id         BIGSERIAL PRIMARY KEY,
	owner_id   TEXT        NOT NULL,
	type       TEXT        NOT NULL,
	title      TEXT        NOT NULL DEFAULT '',
	body       TEXT        NOT NULL DEFAULT '',
	payload    JSONB       NOT NULL DEFAULT '{}',
	is_read    BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_owner_created
	ON notifications (owner_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS device_tokens (
	owner_id    TEXT        NOT NULL,
	owner_role  TEXT        NOT NULL,
	platform    TEXT        NOT NULL,
	token       TEXT        NOT NULL UNIQUE,
	sync_status TEXT        NOT NULL DEFAULT 'synced',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner_id, platform)
);
`

// EnsureSchema creates the backend tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
