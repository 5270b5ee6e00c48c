// Package resources reads and writes player and team records over the REST API.
package resources

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

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when the API answers 404
var ErrNotFound = errors.New("resource not found")

// API endpoints
const (
	PlayersEndpoint      = "/players"
	TeamsEndpoint        = "/teams"
	AuctionStateEndpoint = "/auction/state"
)

// StatusError is a non-2xx answer other than 404
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, e.Body)
}

// Client is the request/response accessor for player and team records
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewClient creates a client rooted at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader adds a header to every request
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTimeout changes the per-request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	log.Debug().Str("method", method).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("resource request")

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], responseBody...)
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(responseBody))
	}
	return nil
}

// AuctionState fetches the current snapshot payload undecoded, in whichever
// shape the server produces.
func (c *Client) AuctionState(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, AuctionStateEndpoint, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get auction state: %w", err)
	}
	return raw, nil
}
