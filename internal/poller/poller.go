package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
)

// MessageSource provides incremental message reads. The upstream
// contract is idempotent and monotonic: repeating a call with the same
// sinceID can only return the same messages or more.
type MessageSource interface {
	Fetch(ctx context.Context, personaKey, sinceID string) ([]model.Message, error)
}

// Runner feeds new messages through the ingest pipeline.
type Runner interface {
	Run(ctx context.Context, personaKey string, messages []model.Message) ([]model.Todo, error)
}

// Deduper guards against upstream redelivery across poll cycles.
// Release undoes an acquire so a failed batch can be refetched.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// Poller periodically pulls new messages for the active persona and
// pushes increments through the pipeline. Stops on context cancel.
type Poller struct {
	source        MessageSource
	pipeline      Runner
	deduper       Deduper
	activePersona func() string
	interval      time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	sinceIDs map[string]string
}

func New(source MessageSource, pipeline Runner, deduper Deduper, activePersona func() string, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		source:        source,
		pipeline:      pipeline,
		deduper:       deduper,
		activePersona: activePersona,
		interval:      interval,
		logger:        logger,
		sinceIDs:      make(map[string]string),
	}
}

// Run blocks until ctx is cancelled, polling once per interval.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	persona := p.activePersona()
	if persona == "" {
		metrics.PollerRuns.WithLabelValues("empty").Inc()
		return
	}

	p.mu.Lock()
	sinceID := p.sinceIDs[persona]
	p.mu.Unlock()

	messages, err := p.source.Fetch(ctx, persona, sinceID)
	if err != nil {
		metrics.PollerRuns.WithLabelValues("failed").Inc()
		p.logger.Warn("poll fetch failed",
			zap.String("persona", persona),
			zap.Error(err),
		)
		return
	}

	fresh := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if p.deduper == nil || p.deduper.AcquireOnce(ctx, "poller", msg.ID) {
			fresh = append(fresh, msg)
		}
	}
	if len(fresh) == 0 {
		metrics.PollerRuns.WithLabelValues("empty").Inc()
		return
	}

	if _, err := p.pipeline.Run(ctx, persona, fresh); err != nil {
		metrics.PollerRuns.WithLabelValues("failed").Inc()
		// The watermark stays put and the dedup locks are dropped so
		// the next cycle refetches and reprocesses the whole batch.
		if p.deduper != nil {
			for _, msg := range fresh {
				p.deduper.Release(ctx, "poller", msg.ID)
			}
		}
		p.logger.Error("poll pipeline run failed",
			zap.String("persona", persona),
			zap.Error(err),
		)
		return
	}

	// The upstream returns messages in ascending order; the last id is
	// the new watermark.
	p.mu.Lock()
	p.sinceIDs[persona] = messages[len(messages)-1].ID
	p.mu.Unlock()

	metrics.PollerRuns.WithLabelValues("success").Inc()
	p.logger.Info("poll cycle stored new messages",
		zap.String("persona", persona),
		zap.Int("messages", len(fresh)),
	)
}
