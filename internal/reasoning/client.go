package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dragon-zzuni/offline-agent/internal/config"
	"github.com/dragon-zzuni/offline-agent/pkg/circuitbreaker"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
)

// ErrUnavailable is returned when the reasoning service is not
// configured or its circuit breaker is open. Callers fall back to
// their deterministic path on this error.
var ErrUnavailable = errors.New("reasoning service unavailable")

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient builds a client from configuration. A client with an empty
// base URL is valid but answers every call with ErrUnavailable.
func NewClient(cfg config.ReasoningConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// Configured reports whether the client has an endpoint to talk to.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.model != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends one chat completion request and returns the raw
// response text. One retry on transient failure; every call is rate
// limited and breaker protected. The returned string is untyped LLM
// output and must be parsed into a strict result at the call site.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	if !c.Configured() {
		return "", ErrUnavailable
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("reasoning rate limit wait: %w", err)
	}

	var text string
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var callErr error
		// At most one retry; beyond that callers fall back.
		for attempt := 0; attempt < 2; attempt++ {
			text, callErr = c.call(ctx, systemPrompt, userPrompt, temperature, maxTokens)
			if callErr == nil {
				return nil
			}
			if ctx.Err() != nil {
				return callErr
			}
		}
		return callErr
	})

	if err != nil {
		metrics.RecordReasoningCall("generate", "error", time.Since(start))
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			return "", ErrUnavailable
		}
		return "", err
	}

	metrics.RecordReasoningCall("generate", "ok", time.Since(start))
	return text, nil
}

func (c *Client) call(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal reasoning payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call reasoning service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("reasoning service returned error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode reasoning response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("reasoning service returned no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
