package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"netwarden/internal/domain"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
)

// Client talks to the monitoring server's HTTP API.
type Client struct {
	baseURL  string
	apiKey   string
	hostname string
	http     *http.Client
}

// NewClient creates an API client for the server at baseURL.
func NewClient(baseURL, apiKey, hostname string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		hostname: hostname,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Submit reports a snapshot, retrying transient failures with backoff.
func (c *Client) Submit(ctx context.Context, snap *domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/telemetry", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		c.setAuth(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keepalive

		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("telemetry rejected: %s", resp.Status)
		}
		return nil
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff), retry.Context(ctx))
}

type pollResponse struct {
	Commands []domain.DeliveredDirective `json:"commands"`
	Count    int                         `json:"count"`
}

// Poll drains the server's pending directives for this endpoint. The
// server marks them delivered as it responds, so a directive is observed
// at most once even if the response is lost.
func (c *Client) Poll(ctx context.Context) ([]domain.DeliveredDirective, error) {
	pollURL := fmt.Sprintf("%s/api/v1/commands?endpoint=%s",
		c.baseURL, url.QueryEscape(c.hostname))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keepalive
		return nil, fmt.Errorf("poll failed: %s", resp.Status)
	}

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return parsed.Commands, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
