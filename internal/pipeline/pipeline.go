package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	contracts "github.com/dragon-zzuni/offline-agent/contracts/mq"
	"github.com/dragon-zzuni/offline-agent/internal/extract"
	"github.com/dragon-zzuni/offline-agent/internal/filter"
	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/internal/ranker"
	"github.com/dragon-zzuni/offline-agent/pkg/logger"
	"github.com/dragon-zzuni/offline-agent/pkg/mq"
)

// TodoStore persists the pipeline output.
type TodoStore interface {
	UpsertBatch(ctx context.Context, todos []model.Todo) error
}

// EventPublisher pushes classification jobs and update notifications.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
	PublishWithPriority(routingKey string, payload any, priority uint8) error
}

// Pipeline runs the full ingest path for one batch of messages:
// filter, extract, rank, rebalance, persist, enqueue classification,
// notify. The poller, the persona manager, and one-shot re-runs all go
// through the same path so every entry point produces identical state.
type Pipeline struct {
	ranker    *ranker.Ranker
	store     TodoStore
	publisher EventPublisher
	// activePersona reports the process-wide active persona at enqueue
	// time; its jobs jump the classification queue.
	activePersona func() string
	logger        *zap.Logger
}

func New(r *ranker.Ranker, store TodoStore, publisher EventPublisher, activePersona func() string, logger *zap.Logger) *Pipeline {
	if activePersona == nil {
		activePersona = func() string { return "" }
	}
	return &Pipeline{
		ranker:        r,
		store:         store,
		publisher:     publisher,
		activePersona: activePersona,
		logger:        logger,
	}
}

// Run processes one batch of raw messages for a persona and returns the
// stored TODOs. An empty batch is a no-op, not an error.
func (p *Pipeline) Run(ctx context.Context, personaKey string, messages []model.Message) ([]model.Todo, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	log := logger.WithPersona(p.logger, personaKey)

	kept, stats := filter.Apply(messages)
	log.Info("filtered messages",
		zap.Int("original", stats.OriginalCount),
		zap.Int("kept", stats.FilteredCount),
		zap.Int("duplicates", stats.Duplicates),
	)

	todos := extract.Extract(kept, personaKey)
	if len(todos) == 0 {
		return nil, nil
	}

	todos = p.ranker.ScoreBatch(ctx, todos)
	todos = p.ranker.Rebalance(todos)

	if err := p.store.UpsertBatch(ctx, todos); err != nil {
		return nil, fmt.Errorf("persist todos: %w", err)
	}

	p.enqueueClassification(personaKey, todos)
	p.notifyUpdated(personaKey, todos)

	return todos, nil
}

// Notify re-emits the todos.updated event for an already stored set of
// TODOs. Cache restores use this so a restore is indistinguishable from
// a fresh generation downstream.
func (p *Pipeline) Notify(personaKey string, todoIDs []string) {
	if p.publisher == nil {
		return
	}
	payload := contracts.TodosUpdatedPayload{
		PersonaKey: personaKey,
		TodoIDs:    todoIDs,
		UpdatedAt:  time.Now(),
	}
	if err := p.publisher.Publish(contracts.RoutingKeyTodosUpdated, payload); err != nil {
		p.logger.Warn("failed to publish todos.updated", zap.Error(err))
	}
}

func (p *Pipeline) enqueueClassification(personaKey string, todos []model.Todo) {
	if p.publisher == nil {
		return
	}

	var priority uint8 = mq.PriorityBackground
	if personaKey != "" && personaKey == p.activePersona() {
		priority = mq.PriorityActivePersona
	}

	for _, t := range todos {
		payload := contracts.ClassifyTodoPayload{
			TodoID:     t.ID,
			PersonaKey: personaKey,
			EnqueuedAt: time.Now(),
		}
		if err := p.publisher.PublishWithPriority(contracts.RoutingKeyClassifyTodo, payload, priority); err != nil {
			p.logger.Warn("failed to enqueue classification",
				zap.String("todo_id", t.ID),
				zap.Error(err),
			)
		}
	}
}

func (p *Pipeline) notifyUpdated(personaKey string, todos []model.Todo) {
	ids := make([]string, 0, len(todos))
	for _, t := range todos {
		ids = append(ids, t.ID)
	}
	p.Notify(personaKey, ids)
}
