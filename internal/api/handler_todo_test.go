package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

type fakeTodoStore struct {
	pending []model.Todo
	done    []string
}

func (f *fakeTodoStore) ListPending(_ context.Context, _ string) ([]model.Todo, error) {
	return f.pending, nil
}

func (f *fakeTodoStore) MarkDone(_ context.Context, id string) error {
	for _, t := range f.pending {
		if t.ID == id {
			f.done = append(f.done, id)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func performMarkDone(h *TodoHandler, id string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/todos/:id/done", h.MarkDone)

	req := httptest.NewRequest(http.MethodPost, "/todos/"+id+"/done", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMarkDoneCompletesTodo(t *testing.T) {
	store := &fakeTodoStore{pending: []model.Todo{{ID: "t-1", Status: model.StatusPending}}}
	h := NewTodoHandler(store, store, &fakeActive{persona: "jiwon@acme.io|jiwon"})

	w := performMarkDone(h, "t-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(store.done) != 1 || store.done[0] != "t-1" {
		t.Errorf("done ids = %v, want [t-1]", store.done)
	}
}

func TestMarkDoneUnknownTodo(t *testing.T) {
	store := &fakeTodoStore{}
	h := NewTodoHandler(store, store, &fakeActive{})

	w := performMarkDone(h, "t-missing")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
