package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/config"
)

func completion(text string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
	}
}

func newTestClient(url string) *Client {
	return NewClient(config.ReasoningConfig{
		BaseURL:        url,
		Model:          "test-model",
		RequestTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestGenerateReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(completion("  PHX|matched project keywords  "))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Generate(context.Background(), "sys", "user", 0.1, 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "PHX|matched project keywords" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerateRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(completion("high"))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Generate(context.Background(), "sys", "user", 0, 10)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "high" {
		t.Errorf("Generate = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGenerateUnconfigured(t *testing.T) {
	c := NewClient(config.ReasoningConfig{}, zap.NewNop())
	if _, err := c.Generate(context.Background(), "sys", "user", 0, 10); err != ErrUnavailable {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGenerateErrorAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Generate(context.Background(), "sys", "user", 0, 10); err == nil {
		t.Fatal("expected error from persistently failing service")
	}
}
