package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// TagCacheRepository persists project-tag decisions per TODO. An
// existing entry short-circuits the whole classification cascade.
type TagCacheRepository struct {
	db *pgxpool.Pool
}

func NewTagCacheRepository(db *pgxpool.Pool) *TagCacheRepository {
	return &TagCacheRepository{db: db}
}

// Get returns the cached decision for a TODO, bumping last_accessed_at.
// The second return value is false on a cache miss.
func (r *TagCacheRepository) Get(ctx context.Context, todoID string) (*model.ProjectTagCacheEntry, bool, error) {
	query := `
		UPDATE project_tag_cache
		SET last_accessed_at = NOW()
		WHERE todo_id = $1
		RETURNING todo_id, project_tag, source, method, reason, created_at, last_accessed_at
	`
	var entry model.ProjectTagCacheEntry
	var source string
	err := r.db.QueryRow(ctx, query, todoID).Scan(
		&entry.TodoID, &entry.ProjectTag, &source, &entry.Method,
		&entry.Reason, &entry.CreatedAt, &entry.LastAccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	entry.Source = model.TagDecisionSource(source)
	return &entry, true, nil
}

// Put stores a decision, replace-on-write.
func (r *TagCacheRepository) Put(ctx context.Context, entry model.ProjectTagCacheEntry) error {
	query := `
		INSERT INTO project_tag_cache (todo_id, project_tag, source, method, reason, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (todo_id) DO UPDATE SET
			project_tag = EXCLUDED.project_tag,
			source = EXCLUDED.source,
			method = EXCLUDED.method,
			reason = EXCLUDED.reason,
			last_accessed_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		entry.TodoID, entry.ProjectTag, string(entry.Source), entry.Method, entry.Reason,
	)
	return err
}

// Delete drops a cached decision, forcing re-classification.
func (r *TagCacheRepository) Delete(ctx context.Context, todoID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM project_tag_cache WHERE todo_id = $1`, todoID)
	return err
}
