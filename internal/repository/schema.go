package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		requester TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'task',
		priority TEXT NOT NULL DEFAULT 'medium',
		project_tag TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		deadline TIMESTAMPTZ,
		evidence JSONB NOT NULL DEFAULT '[]',
		source_message JSONB NOT NULL,
		persona_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_todos_persona_status ON todos (persona_key, status)`,
	`CREATE TABLE IF NOT EXISTS project_tag_cache (
		todo_id TEXT PRIMARY KEY,
		project_tag TEXT NOT NULL,
		source TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS persona_cache (
		persona_key TEXT PRIMARY KEY,
		messages JSONB NOT NULL DEFAULT '[]',
		todo_ids JSONB NOT NULL DEFAULT '[]',
		analysis_summary TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the persisted tables when missing. Safe to run
// on every startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
