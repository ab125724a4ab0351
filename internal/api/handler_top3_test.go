package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/internal/top3"
)

type fakeTop3 struct {
	selection top3.Selection
	rules     []string
	resets    int
}

func (f *fakeTop3) Select(_ context.Context, _ []model.Todo, rule string) (top3.Selection, error) {
	f.rules = append(f.rules, rule)
	return f.selection, nil
}

func (f *fakeTop3) ResetFailures() { f.resets++ }

type fakeTodoReader struct {
	todos []model.Todo
}

func (f *fakeTodoReader) ListPending(_ context.Context, _ string) ([]model.Todo, error) {
	return f.todos, nil
}

type fakeActive struct {
	persona string
}

func (f *fakeActive) Active() string { return f.persona }

func newTop3TestHandler(sel *fakeTop3, active string) *Top3Handler {
	return NewTop3Handler(sel, &fakeTodoReader{}, &fakeActive{persona: active}, nil, zap.NewNop())
}

func performJSON(h gin.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Handle(method, path, h)

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetTop3RequiresActivePersona(t *testing.T) {
	h := newTop3TestHandler(&fakeTop3{}, "")
	w := performJSON(h.GetTop3, http.MethodGet, "/top3", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSetRuleResetsLatchAndReselects(t *testing.T) {
	sel := &fakeTop3{selection: top3.Selection{
		SelectedIDs: []string{"t-1"},
		Reasoning:   "matches the rule",
		Mode:        top3.ModeForced,
	}}
	h := newTop3TestHandler(sel, "jiwon@acme.io|jiwon")

	w := performJSON(h.SetRule, http.MethodPost, "/top3/rule", gin.H{"rule": "project=PHX"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if sel.resets != 1 {
		t.Errorf("failure latch resets = %d, want 1", sel.resets)
	}
	if len(sel.rules) != 1 || sel.rules[0] != "project=PHX" {
		t.Errorf("selection rules = %v", sel.rules)
	}
}

func TestGetTop3UsesStoredRule(t *testing.T) {
	sel := &fakeTop3{selection: top3.Selection{Mode: top3.ModeScore}}
	h := newTop3TestHandler(sel, "jiwon@acme.io|jiwon")

	performJSON(h.SetRule, http.MethodPost, "/top3/rule", gin.H{"rule": "requester=Jiwon"})
	performJSON(h.GetTop3, http.MethodGet, "/top3", nil)

	if len(sel.rules) != 2 || sel.rules[1] != "requester=Jiwon" {
		t.Errorf("selection rules = %v", sel.rules)
	}
}
