package storage

import (
	"context"
	"fmt"
)

// schema is portable between postgres and sqlite: ids are uuid text and
// timestamps are written by the application in UTC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title      TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		parts           TEXT,
		model           TEXT,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id              TEXT PRIMARY KEY,
		request_id      TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		conversation_id TEXT,
		requested_model TEXT NOT NULL,
		served_model    TEXT NOT NULL,
		substituted     BOOLEAN NOT NULL,
		attempts        INTEGER NOT NULL,
		latency_ms      BIGINT NOT NULL,
		status          TEXT NOT NULL,
		error_message   TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_records_user_created ON usage_records (user_id, created_at)`,
}

// Migrate creates the tables used by the repositories if they are missing
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
