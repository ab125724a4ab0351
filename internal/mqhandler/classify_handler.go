package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	contracts "github.com/dragon-zzuni/offline-agent/contracts/mq"
	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
	"github.com/dragon-zzuni/offline-agent/pkg/util"
)

const (
	classifyHandlerName = "classify"
	maxClassifyRetries  = 3
)

// TodoStore is the todo persistence surface the worker needs.
type TodoStore interface {
	GetByID(ctx context.Context, id string) (*model.Todo, error)
	UpdateProjectTag(ctx context.Context, id string, tag *string) error
}

// TagClassifier resolves a project tag for one todo.
type TagClassifier interface {
	Classify(ctx context.Context, todo model.Todo) (model.TagDecision, error)
}

// Deduper suppresses redelivered classification jobs. Release undoes
// an acquire so a failed job can be retried.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// RetryCounter tracks how often one job has failed.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Publisher emits resolution events and dead letters.
type Publisher interface {
	Publish(routingKey string, payload any) error
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// ClassifyHandler consumes todo.classify jobs, resolves the project
// tag, updates the row, and announces the result. Handlers are
// idempotent: an already-tagged todo or a duplicate delivery is acked
// without work.
type ClassifyHandler struct {
	todos      TodoStore
	classifier TagClassifier
	deduper    Deduper
	retries    RetryCounter
	publisher  Publisher
	logger     *zap.Logger
}

func NewClassifyHandler(todos TodoStore, classifier TagClassifier, deduper Deduper, retries RetryCounter, publisher Publisher, logger *zap.Logger) *ClassifyHandler {
	return &ClassifyHandler{
		todos:      todos,
		classifier: classifier,
		deduper:    deduper,
		retries:    retries,
		publisher:  publisher,
		logger:     logger,
	}
}

// Handle implements mq.MessageHandler. Returning an error requeues the
// delivery; returning nil acks it.
func (h *ClassifyHandler) Handle(ctx context.Context, data json.RawMessage) error {
	start := time.Now()
	defer func() {
		metrics.RecordClassifyConsume("todo.classify", time.Since(start))
	}()

	var payload contracts.ClassifyTodoPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// A payload that never parses is dead on arrival.
		h.logger.Error("Invalid classify payload, dropping", zap.Error(err))
		h.deadLetter(data, err)
		return nil
	}

	todo, err := h.todos.GetByID(ctx, payload.TodoID)
	if err != nil {
		return h.handleFailure(ctx, payload, data, fmt.Errorf("load todo: %w", err))
	}
	if todo.ProjectTag != nil {
		h.logger.Debug("Todo already classified, skipping",
			zap.String("todo_id", payload.TodoID),
		)
		return nil
	}

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, classifyHandlerName, payload.TodoID) {
		return nil
	}

	decision, err := h.classifier.Classify(ctx, *todo)
	if err != nil {
		return h.failAndRelease(ctx, payload, data, fmt.Errorf("classify todo: %w", err))
	}

	if decision.Tag != nil {
		if err := h.todos.UpdateProjectTag(ctx, payload.TodoID, decision.Tag); err != nil {
			return h.failAndRelease(ctx, payload, data, fmt.Errorf("update project tag: %w", err))
		}
	}

	if h.retries != nil {
		_ = h.retries.Reset(ctx, util.FormatRetryKey(classifyHandlerName, payload.TodoID))
	}

	h.announce(payload, decision)

	h.logger.Info("Todo classified",
		zap.String("todo_id", payload.TodoID),
		zap.String("source", string(decision.Source)),
		zap.String("method", decision.Method),
	)
	return nil
}

func (h *ClassifyHandler) announce(payload contracts.ClassifyTodoPayload, decision model.TagDecision) {
	if h.publisher == nil {
		return
	}
	resolved := contracts.TagResolvedPayload{
		TodoID:     payload.TodoID,
		PersonaKey: payload.PersonaKey,
		Source:     string(decision.Source),
		ResolvedAt: time.Now(),
	}
	if decision.Tag != nil {
		resolved.Tag = *decision.Tag
	}
	if err := h.publisher.Publish(contracts.RoutingKeyTagResolved, resolved); err != nil {
		h.logger.Warn("Failed to publish tag resolution",
			zap.String("todo_id", payload.TodoID),
			zap.Error(err),
		)
	}
}

// failAndRelease routes a post-acquire failure through handleFailure,
// dropping the dedup lock first so a requeued delivery is not
// suppressed as a duplicate.
func (h *ClassifyHandler) failAndRelease(ctx context.Context, payload contracts.ClassifyTodoPayload, data json.RawMessage, err error) error {
	if h.deduper != nil {
		h.deduper.Release(ctx, classifyHandlerName, payload.TodoID)
	}
	return h.handleFailure(ctx, payload, data, err)
}

// handleFailure decides between requeue, drop, and dead letter. A
// missing todo is permanent; transient errors retry up to the cap.
func (h *ClassifyHandler) handleFailure(ctx context.Context, payload contracts.ClassifyTodoPayload, data json.RawMessage, err error) error {
	retryable, errType := util.IsRetryableError(err)
	if !retryable {
		h.logger.Warn("Permanent classify failure, dropping",
			zap.String("todo_id", payload.TodoID),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		if errType != "todo_not_found" {
			h.deadLetter(data, err)
		}
		return nil
	}

	if h.retries == nil {
		return err
	}

	key := util.FormatRetryKey(classifyHandlerName, payload.TodoID)
	count, cerr := h.retries.IncrementAndGet(ctx, key)
	if cerr != nil {
		// Counter unavailable: retry anyway, fail open.
		h.logger.Warn("Retry counter unavailable", zap.Error(cerr))
		return err
	}
	if util.ShouldRetry(count, maxClassifyRetries, true) {
		h.logger.Warn("Transient classify failure, requeueing",
			zap.String("todo_id", payload.TodoID),
			zap.Int64("attempt", count),
			zap.Error(err),
		)
		return err
	}

	h.logger.Error("Classify retries exhausted, dead lettering",
		zap.String("todo_id", payload.TodoID),
		zap.Int64("attempts", count),
		zap.Error(err),
	)
	_ = h.retries.Reset(ctx, key)
	h.deadLetter(data, err)
	return nil
}

func (h *ClassifyHandler) deadLetter(data json.RawMessage, cause error) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishToDLQ(contracts.RoutingKeyClassifyTodo, data, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}
