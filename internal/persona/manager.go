package persona

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/internal/repository"
)

const (
	// Entries older than this are treated as absent and re-collected.
	cacheTTL = 14 * 24 * time.Hour
	// Oldest-first eviction kicks in only above this bound; below it
	// TTL expiry is the sole removal trigger.
	maxEntries = 10
)

// MessageSource collects a persona's messages from the upstream system.
type MessageSource interface {
	Fetch(ctx context.Context, personaKey, sinceID string) ([]model.Message, error)
}

// CacheStore persists per-persona working sets.
type CacheStore interface {
	Put(ctx context.Context, entry repository.PersonaEntry) error
	Get(ctx context.Context, personaKey string) (*repository.PersonaEntry, bool, error)
	Count(ctx context.Context) (int, error)
	EvictOldest(ctx context.Context, max int) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// TodoLister loads stored TODOs by id for the cache-restore path.
type TodoLister interface {
	ListByIDs(ctx context.Context, ids []string) ([]model.Todo, error)
}

// Runner is the ingest pipeline as seen by the persona manager.
type Runner interface {
	Run(ctx context.Context, personaKey string, messages []model.Message) ([]model.Todo, error)
	Notify(personaKey string, todoIDs []string)
}

// Manager owns persona selection. Switching personas rescopes the
// working set; the previous persona's rows are left untouched so
// switching back restores them from cache.
type Manager struct {
	source   MessageSource
	store    CacheStore
	todos    TodoLister
	pipeline Runner
	logger   *zap.Logger

	mu     sync.RWMutex
	active string

	now func() time.Time
}

func NewManager(source MessageSource, store CacheStore, todos TodoLister, pipeline Runner, logger *zap.Logger) *Manager {
	return &Manager{
		source:   source,
		store:    store,
		todos:    todos,
		pipeline: pipeline,
		logger:   logger,
		now:      time.Now,
	}
}

// Active returns the current process-wide active persona key, or ""
// when none has been selected yet.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Select makes personaKey the active persona and returns its working
// set, collecting fresh or restoring from cache as needed. The swap
// happens before collection so classification jobs enqueued during the
// run already carry the new persona's queue priority.
func (m *Manager) Select(ctx context.Context, personaKey string) ([]model.Todo, error) {
	m.mu.Lock()
	previous := m.active
	m.active = personaKey
	m.mu.Unlock()

	if previous != personaKey {
		m.logger.Info("active persona changed",
			zap.String("from", previous),
			zap.String("to", personaKey),
		)
	}

	return m.GetOrCollect(ctx, personaKey)
}

// GetOrCollect returns the persona's TODOs. A cache hit within TTL
// restores the stored working set and re-emits the same todos.updated
// notification a fresh run would, so downstream consumers cannot tell
// a restore from a generation. A miss collects messages and runs the
// full pipeline.
func (m *Manager) GetOrCollect(ctx context.Context, personaKey string) ([]model.Todo, error) {
	entry, ok, err := m.store.Get(ctx, personaKey)
	if err != nil {
		return nil, fmt.Errorf("read persona cache: %w", err)
	}
	if ok && m.now().Sub(entry.UpdatedAt) < cacheTTL {
		todos, err := m.todos.ListByIDs(ctx, entry.TodoIDs)
		if err != nil {
			return nil, fmt.Errorf("restore persona todos: %w", err)
		}
		m.pipeline.Notify(personaKey, entry.TodoIDs)
		m.logger.Info("persona restored from cache",
			zap.String("persona", personaKey),
			zap.Int("todos", len(todos)),
		)
		return todos, nil
	}

	return m.collect(ctx, personaKey)
}

func (m *Manager) collect(ctx context.Context, personaKey string) ([]model.Todo, error) {
	messages, err := m.source.Fetch(ctx, personaKey, "")
	if err != nil {
		return nil, fmt.Errorf("collect messages: %w", err)
	}

	todos, err := m.pipeline.Run(ctx, personaKey, messages)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(todos))
	for _, t := range todos {
		ids = append(ids, t.ID)
	}
	entry := repository.PersonaEntry{
		PersonaKey:      personaKey,
		Messages:        messages,
		TodoIDs:         ids,
		AnalysisSummary: summarize(messages, todos),
		UpdatedAt:       m.now(),
	}
	if err := m.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("store persona cache: %w", err)
	}

	m.prune(ctx)
	return todos, nil
}

// summarize produces the short analysis line stored alongside the
// cached working set.
func summarize(messages []model.Message, todos []model.Todo) string {
	high := 0
	for _, t := range todos {
		if t.Priority == model.PriorityHigh {
			high++
		}
	}
	return fmt.Sprintf("%d messages analyzed, %d todos (%d high priority)", len(messages), len(todos), high)
}

// prune removes expired entries and, only when the size bound is
// exceeded, evicts the least recently updated ones. Failures are
// logged and ignored; pruning never blocks a selection.
func (m *Manager) prune(ctx context.Context) {
	if n, err := m.store.DeleteExpired(ctx, m.now().Add(-cacheTTL)); err != nil {
		m.logger.Warn("failed to expire persona entries", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("expired persona entries", zap.Int64("removed", n))
	}

	count, err := m.store.Count(ctx)
	if err != nil {
		m.logger.Warn("failed to count persona entries", zap.Error(err))
		return
	}
	if count <= maxEntries {
		return
	}
	if n, err := m.store.EvictOldest(ctx, maxEntries); err != nil {
		m.logger.Warn("failed to evict persona entries", zap.Error(err))
	} else {
		m.logger.Info("evicted persona entries", zap.Int64("removed", n))
	}
}
