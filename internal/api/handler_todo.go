package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// TodoReader loads stored TODOs for the query surface.
type TodoReader interface {
	ListPending(ctx context.Context, personaKey string) ([]model.Todo, error)
}

// TodoCompleter soft-deletes a finished TODO.
type TodoCompleter interface {
	MarkDone(ctx context.Context, id string) error
}

// ActivePersona reports the currently selected persona key.
type ActivePersona interface {
	Active() string
}

type TodoHandler struct {
	todos     TodoReader
	completer TodoCompleter
	active    ActivePersona
}

func NewTodoHandler(todos TodoReader, completer TodoCompleter, active ActivePersona) *TodoHandler {
	return &TodoHandler{todos: todos, completer: completer, active: active}
}

// GetTodos handles GET /todos. Defaults to the active persona when no
// persona query parameter is given.
func (h *TodoHandler) GetTodos(c *gin.Context) {
	persona := c.Query("persona")
	if persona == "" {
		persona = h.active.Active()
	}
	if persona == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no persona selected"})
		return
	}

	todos, err := h.todos.ListPending(c.Request.Context(), persona)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load todos"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"persona": persona,
		"count":   len(todos),
		"todos":   todos,
	})
}

// MarkDone handles POST /todos/:id/done. Done items drop out of every
// pending listing and Top-3 candidate set; the row stays until the
// retention sweep removes it.
func (h *TodoHandler) MarkDone(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "todo id required"})
		return
	}

	if err := h.completer.MarkDone(c.Request.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update todo"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": model.StatusDone,
	})
}
