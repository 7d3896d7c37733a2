// Package studio reports this server to an external observability
// endpoint ("studio"). Reporting is best effort: a dead studio never
// affects serving.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// ServerStatus is the payload sent on registration and heartbeats.
type ServerStatus struct {
	ServerID  string `json:"server_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Agents    int    `json:"agents"`
	Uptime    int64  `json:"uptime_seconds"`
	Timestamp int64  `json:"timestamp"`
}

// Client talks to a studio endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a studio client for baseURL. An empty baseURL is
// allowed and yields a nil client, which all methods tolerate.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Register announces the server to the studio.
func (c *Client) Register(ctx context.Context, status ServerStatus) error {
	if c == nil {
		return nil
	}
	return c.post(ctx, "/api/servers/register", status)
}

// Heartbeat refreshes the server's liveness in the studio. Failures are
// logged, not propagated: heartbeats ride a maintenance schedule and
// the next tick retries anyway.
func (c *Client) Heartbeat(ctx context.Context, status ServerStatus) {
	if c == nil {
		return
	}
	if err := c.post(ctx, "/api/servers/alive", status); err != nil {
		log.Printf("[Studio] heartbeat: %v", err)
	}
}

func (c *Client) post(ctx context.Context, path string, status ServerStatus) error {
	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %s", path, resp.Status)
	}
	return nil
}
