package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Schema lists the idempotent DDL statements in application order.
var Schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
	`CREATE TABLE IF NOT EXISTS users (
		id           BIGSERIAL PRIMARY KEY,
		username     VARCHAR(150) NOT NULL UNIQUE,
		first_name   VARCHAR(150) NOT NULL DEFAULT '',
		last_name    VARCHAR(150) NOT NULL DEFAULT '',
		email        VARCHAR(254) NOT NULL UNIQUE,
		about_self   TEXT NOT NULL DEFAULT '',
		avatar       VARCHAR(255) NOT NULL DEFAULT '',
		password     VARCHAR(128) NOT NULL,
		date_joined  TIMESTAMPTZ NOT NULL DEFAULT now(),
		user_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id   BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		slug VARCHAR(100) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id        BIGSERIAL PRIMARY KEY,
		title     VARCHAR(250) NOT NULL,
		slug      VARCHAR(250) NOT NULL,
		body      TEXT NOT NULL,
		created   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated   TIMESTAMPTZ NOT NULL DEFAULT now(),
		publish   TIMESTAMPTZ NOT NULL DEFAULT now(),
		author_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status    CHAR(2) NOT NULL DEFAULT 'DF' CHECK (status IN ('DF', 'PB'))
	)`,
	`CREATE INDEX IF NOT EXISTS articles_publish_idx ON articles (publish DESC)`,
	`CREATE INDEX IF NOT EXISTS articles_title_trgm_idx ON articles USING gin (title gin_trgm_ops)`,
	`CREATE TABLE IF NOT EXISTS article_tags (
		article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		tag_id     BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (article_id, tag_id)
	)`,
	`CREATE INDEX IF NOT EXISTS article_tags_tag_idx ON article_tags (tag_id)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id         BIGSERIAL PRIMARY KEY,
		article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		author_id  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		body       TEXT NOT NULL,
		created    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS comments_created_idx ON comments (created DESC)`,
	`CREATE TABLE IF NOT EXISTS mail_outbox (
		id           BIGSERIAL PRIMARY KEY,
		recipient    VARCHAR(254) NOT NULL,
		subject      TEXT NOT NULL,
		body         TEXT NOT NULL,
		status       VARCHAR(10) NOT NULL DEFAULT 'PENDING',
		attempts     INT NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS mail_outbox_pending_idx ON mail_outbox (scheduled_at) WHERE status = 'PENDING'`,
}

// Migrate applies Schema in a single transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate begin: %w", err)
	}
	for i, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate commit: %w", err)
	}
	slog.InfoContext(ctx, "schema up to date", "statements", len(Schema))
	return nil
}
