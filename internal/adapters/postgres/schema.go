package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full relay schema. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	collection text NOT NULL,
	key        text NOT NULL,
	body       jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
);

CREATE TABLE IF NOT EXISTS record_events (
	id         bigserial PRIMARY KEY,
	collection text NOT NULL,
	kind       text NOT NULL,
	key        text NOT NULL,
	body       jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS record_events_created_at_idx ON record_events (created_at);

CREATE TABLE IF NOT EXISTS accounts (
	id            text PRIMARY KEY,
	email         text NOT NULL,
	password_hash bytea NOT NULL,
	created_at    timestamptz NOT NULL,
	CONSTRAINT accounts_email_unique UNIQUE (email)
);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
