package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	contracts "github.com/dragon-zzuni/offline-agent/contracts/mq"
	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/internal/top3"
)

// Top3Service runs a Top-3 selection over candidate TODOs.
type Top3Service interface {
	Select(ctx context.Context, todos []model.Todo, rule string) (top3.Selection, error)
	ResetFailures()
}

// EventPublisher announces finished selections.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// Top3Handler owns the current natural-language selection rule and
// serves selections for the active persona.
type Top3Handler struct {
	selector  Top3Service
	todos     TodoReader
	active    ActivePersona
	publisher EventPublisher
	logger    *zap.Logger

	mu   sync.RWMutex
	rule string
}

func NewTop3Handler(selector Top3Service, todos TodoReader, active ActivePersona, publisher EventPublisher, logger *zap.Logger) *Top3Handler {
	return &Top3Handler{
		selector:  selector,
		todos:     todos,
		active:    active,
		publisher: publisher,
		logger:    logger,
	}
}

// SetRule handles POST /top3/rule. An empty rule resets to score-based
// selection. Changing the rule clears the selector's failure latch and
// reselects immediately.
func (h *Top3Handler) SetRule(c *gin.Context) {
	var req struct {
		Rule string `json:"rule"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	h.mu.Lock()
	h.rule = req.Rule
	h.mu.Unlock()
	h.selector.ResetFailures()

	h.respondWithSelection(c)
}

// GetTop3 handles GET /top3.
func (h *Top3Handler) GetTop3(c *gin.Context) {
	h.respondWithSelection(c)
}

func (h *Top3Handler) respondWithSelection(c *gin.Context) {
	persona := h.active.Active()
	if persona == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no persona selected"})
		return
	}

	candidates, err := h.todos.ListPending(c.Request.Context(), persona)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load todos"})
		return
	}

	h.mu.RLock()
	rule := h.rule
	h.mu.RUnlock()

	selection, err := h.selector.Select(c.Request.Context(), candidates, rule)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "selection failed"})
		return
	}

	h.announce(persona, rule, selection)

	c.JSON(http.StatusOK, gin.H{
		"persona":   persona,
		"rule":      rule,
		"selection": selection,
	})
}

func (h *Top3Handler) announce(persona, rule string, selection top3.Selection) {
	if h.publisher == nil {
		return
	}
	payload := contracts.Top3SelectedPayload{
		PersonaKey: persona,
		Rule:       rule,
		TodoIDs:    selection.SelectedIDs,
		Mode:       selection.Mode,
		SelectedAt: time.Now(),
	}
	if err := h.publisher.Publish(contracts.RoutingKeyTop3Selected, payload); err != nil {
		h.logger.Warn("failed to publish top3.selected", zap.Error(err))
	}
}
