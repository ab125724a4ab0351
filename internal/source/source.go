package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// Client reads from the external message and project providers. Both
// endpoints are read-only; the assistant never writes back upstream.
type Client struct {
	messagesURL string
	projectsURL string
	httpClient  *http.Client
}

func NewClient(messagesURL, projectsURL string) *Client {
	return &Client{
		messagesURL: messagesURL,
		projectsURL: projectsURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type projectsResponse struct {
	Projects []model.Project `json:"projects"`
}

// Fetch returns messages for a persona newer than sinceID. The provider
// is idempotent and monotonic: the same arguments always return the
// same (or a superset of the same) messages, so redelivery is safe.
func (c *Client) Fetch(ctx context.Context, personaKey, sinceID string) ([]model.Message, error) {
	if c.messagesURL == "" {
		return nil, fmt.Errorf("message source not configured")
	}

	q := url.Values{}
	q.Set("persona_key", personaKey)
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.messagesURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build messages request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("message source returned status %d", resp.StatusCode)
	}

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	return body.Messages, nil
}

// ListProjects loads the project directory. Called once at startup;
// the directory is static for the lifetime of the process.
func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	if c.projectsURL == "" {
		return nil, fmt.Errorf("project source not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.projectsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build projects request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch projects: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("project source returned status %d", resp.StatusCode)
	}

	var body projectsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode projects response: %w", err)
	}
	return body.Projects, nil
}
