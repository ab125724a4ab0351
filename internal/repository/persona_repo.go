package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// PersonaEntry is one persona's cached working set: the raw messages
// collected for it and the ids of the TODOs the pipeline produced.
type PersonaEntry struct {
	PersonaKey      string
	Messages        []model.Message
	TodoIDs         []string
	AnalysisSummary string
	UpdatedAt       time.Time
}

type PersonaRepository struct {
	db *pgxpool.Pool
}

func NewPersonaRepository(db *pgxpool.Pool) *PersonaRepository {
	return &PersonaRepository{db: db}
}

// Put stores a persona entry, replace-on-write. Exactly one live row
// per persona.
func (r *PersonaRepository) Put(ctx context.Context, entry PersonaEntry) error {
	messages, err := json.Marshal(entry.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	todoIDs, err := json.Marshal(entry.TodoIDs)
	if err != nil {
		return fmt.Errorf("marshal todo ids: %w", err)
	}

	query := `
		INSERT INTO persona_cache (persona_key, messages, todo_ids, analysis_summary, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (persona_key) DO UPDATE SET
			messages = EXCLUDED.messages,
			todo_ids = EXCLUDED.todo_ids,
			analysis_summary = EXCLUDED.analysis_summary,
			updated_at = NOW()
	`
	_, err = r.db.Exec(ctx, query, entry.PersonaKey, messages, todoIDs, entry.AnalysisSummary)
	return err
}

// Get returns the entry for a persona, or (nil, false) when absent.
func (r *PersonaRepository) Get(ctx context.Context, personaKey string) (*PersonaEntry, bool, error) {
	query := `SELECT persona_key, messages, todo_ids, analysis_summary, updated_at FROM persona_cache WHERE persona_key = $1`

	var entry PersonaEntry
	var messages, todoIDs []byte
	err := r.db.QueryRow(ctx, query, personaKey).Scan(&entry.PersonaKey, &messages, &todoIDs, &entry.AnalysisSummary, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if err := json.Unmarshal(messages, &entry.Messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal messages: %w", err)
	}
	if err := json.Unmarshal(todoIDs, &entry.TodoIDs); err != nil {
		return nil, false, fmt.Errorf("unmarshal todo ids: %w", err)
	}
	return &entry, true, nil
}

// Count returns the number of stored persona entries.
func (r *PersonaRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM persona_cache`).Scan(&n)
	return n, err
}

// EvictOldest removes the least recently updated entries until at most
// max remain. Called only when the size bound is exceeded; TTL expiry
// is otherwise the sole removal trigger.
func (r *PersonaRepository) EvictOldest(ctx context.Context, max int) (int64, error) {
	query := `
		DELETE FROM persona_cache
		WHERE persona_key IN (
			SELECT persona_key FROM persona_cache
			ORDER BY updated_at DESC
			OFFSET $1
		)
	`
	tag, err := r.db.Exec(ctx, query, max)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes entries whose TTL has lapsed.
func (r *PersonaRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM persona_cache WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
