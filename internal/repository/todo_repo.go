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

type TodoRepository struct {
	db *pgxpool.Pool
}

func NewTodoRepository(db *pgxpool.Pool) *TodoRepository {
	return &TodoRepository{db: db}
}

// Upsert inserts or replaces one TODO. The source message snapshot is
// stored inline so re-classification never needs the external system.
func (r *TodoRepository) Upsert(ctx context.Context, todo model.Todo) error {
	evidence, err := json.Marshal(todo.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	snapshot, err := json.Marshal(todo.SourceMessage)
	if err != nil {
		return fmt.Errorf("marshal source message: %w", err)
	}

	query := `
		INSERT INTO todos (id, title, description, requester, type, priority, project_tag, status, deadline, evidence, source_message, persona_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			priority = EXCLUDED.priority,
			project_tag = EXCLUDED.project_tag,
			status = EXCLUDED.status,
			deadline = EXCLUDED.deadline,
			evidence = EXCLUDED.evidence,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.Exec(ctx, query,
		todo.ID, todo.Title, todo.Description, todo.Requester, todo.Type,
		string(todo.Priority), todo.ProjectTag, todo.Status, todo.Deadline,
		evidence, snapshot, todo.PersonaKey, todo.CreatedAt, todo.UpdatedAt,
	)
	return err
}

// UpsertBatch stores a batch one row at a time. Rows are independent;
// no cross-row transaction is needed.
func (r *TodoRepository) UpsertBatch(ctx context.Context, todos []model.Todo) error {
	for _, todo := range todos {
		if err := r.Upsert(ctx, todo); err != nil {
			return fmt.Errorf("upsert todo %s: %w", todo.ID, err)
		}
	}
	return nil
}

// GetByID loads a single TODO.
func (r *TodoRepository) GetByID(ctx context.Context, id string) (*model.Todo, error) {
	query := selectColumns + ` WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)
	todo, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}
	return todo, nil
}

// ListPending returns all non-done TODOs for a persona, newest first.
func (r *TodoRepository) ListPending(ctx context.Context, personaKey string) ([]model.Todo, error) {
	query := selectColumns + ` WHERE persona_key = $1 AND status = 'pending' ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, personaKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTodos(rows)
}

// ListByIDs loads the given TODOs, skipping ids that no longer exist.
func (r *TodoRepository) ListByIDs(ctx context.Context, ids []string) ([]model.Todo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := selectColumns + ` WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTodos(rows)
}

// UpdateProjectTag resolves a pending classification in place.
func (r *TodoRepository) UpdateProjectTag(ctx context.Context, id string, tag *string) error {
	query := `UPDATE todos SET project_tag = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, tag)
	return err
}

// MarkDone soft-deletes a TODO.
func (r *TodoRepository) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE todos SET status = 'done', updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// PurgeOlderThan removes TODOs past the retention window.
func (r *TodoRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM todos WHERE updated_at < $1`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const selectColumns = `
	SELECT id, title, description, requester, type, priority, project_tag, status, deadline, evidence, source_message, persona_key, created_at, updated_at
	FROM todos`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*model.Todo, error) {
	var todo model.Todo
	var priority string
	var evidence, snapshot []byte

	err := row.Scan(
		&todo.ID, &todo.Title, &todo.Description, &todo.Requester, &todo.Type,
		&priority, &todo.ProjectTag, &todo.Status, &todo.Deadline,
		&evidence, &snapshot, &todo.PersonaKey, &todo.CreatedAt, &todo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	todo.Priority = model.Priority(priority)
	if err := json.Unmarshal(evidence, &todo.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence for %s: %w", todo.ID, err)
	}
	if err := json.Unmarshal(snapshot, &todo.SourceMessage); err != nil {
		return nil, fmt.Errorf("unmarshal source message for %s: %w", todo.ID, err)
	}
	return &todo, nil
}

func scanTodos(rows pgx.Rows) ([]model.Todo, error) {
	var todos []model.Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, *todo)
	}
	return todos, rows.Err()
}
