// Package reporter delivers bundle outcomes to an HTTP collector.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventsPath is where PostEvent sends its payload.
const EventsPath = "/api/events"

// maxErrorBody bounds how much of a rejected response ends up in an error.
const maxErrorBody = 512

// RejectedError is returned when the collector answers with a 4xx or 5xx.
type RejectedError struct {
	Path   string
	Status string
	Body   string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("reporter %s: %s", e.Path, e.Status)
	}
	return fmt.Sprintf("reporter %s: %s: %s", e.Path, e.Status, e.Body)
}

// Client posts JSON documents to BaseURL. A nil Client or an empty BaseURL
// turns every call into a no-op.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (c *Client) enabled() bool { return c != nil && c.BaseURL != "" }

func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Client) send(ctx context.Context, path string, payload any) error {
	if !c.enabled() {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("reporter %s: encode: %w", path, err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Bundle-Token", c.Token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RejectedError{Path: path, Status: resp.Status, Body: strings.TrimSpace(string(snippet))}
}

// PostEvent sends one outcome event.
func (c *Client) PostEvent(ctx context.Context, event any) error {
	return c.send(ctx, EventsPath, event)
}
