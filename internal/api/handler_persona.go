package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// PersonaSelector swaps the active persona and returns its working set.
type PersonaSelector interface {
	Select(ctx context.Context, personaKey string) ([]model.Todo, error)
	Active() string
}

type PersonaHandler struct {
	manager PersonaSelector
}

func NewPersonaHandler(manager PersonaSelector) *PersonaHandler {
	return &PersonaHandler{manager: manager}
}

// SelectPersona handles POST /persona/select. Accepts either a raw
// persona key or an email plus chat handle pair.
func (h *PersonaHandler) SelectPersona(c *gin.Context) {
	var req struct {
		PersonaKey string `json:"persona_key"`
		Email      string `json:"email"`
		Handle     string `json:"handle"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	key := req.PersonaKey
	if key == "" && req.Email != "" {
		key = model.PersonaKey(req.Email, req.Handle)
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "persona_key or email required"})
		return
	}

	todos, err := h.manager.Select(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to select persona"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"persona": key,
		"count":   len(todos),
	})
}
