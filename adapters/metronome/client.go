// Package metronome implements the billing vendor ports against a
// Metronome-style REST API: bearer-token auth, /v1 paths, and JSON
// responses wrapped in a {"data": ...} envelope.
package metronome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the vendor client.
type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration

	// MaxAttempts bounds retries for idempotent calls (reads and
	// deduplicated ingestion). Creation calls are never retried.
	MaxAttempts int

	// RetryBackoff is the base delay between attempts; it doubles
	// per attempt.
	RetryBackoff time.Duration

	// Inst observes every vendor call, one record per attempt.
	Inst Instrumentation
}

// Instrumentation receives the outcome of each vendor API attempt.
// Implementations must be safe for concurrent use.
type Instrumentation interface {
	VendorRequest(operation string, d time.Duration, err error)
}

type nopInstrumentation struct{}

func (nopInstrumentation) VendorRequest(string, time.Duration, error) {}

// Client provides HTTP communication with the vendor API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	maxAttempts  int
	retryBackoff time.Duration
	inst         Instrumentation
	logger       zerolog.Logger
}

// NewClient creates a new vendor API client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	inst := cfg.Inst
	if inst == nil {
		inst = nopInstrumentation{}
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      cfg.BaseURL,
		token:        cfg.BearerToken,
		maxAttempts:  attempts,
		retryBackoff: backoff,
		inst:         inst,
		logger:       logger.With().Str("component", "metronome").Logger(),
	}
}

// APIError represents an error response from the vendor API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a vendor 404.
func IsNotFound(err error) bool {
	if ae, ok := err.(*APIError); ok {
		return ae.StatusCode == http.StatusNotFound
	}
	return false
}

// do sends one request without retries and records its outcome under
// the given operation label.
func (c *Client) do(ctx context.Context, operation, method, path string, body, result any) error {
	start := time.Now()
	err := c.send(ctx, method, path, body, result)
	c.inst.VendorRequest(operation, time.Since(start), err)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// doIdempotent sends a request with bounded retry and backoff. Only
// network failures, 429s, and 5xx responses are retried; other vendor
// errors return immediately.
func (c *Client) doIdempotent(ctx context.Context, operation, method, path string, body, result any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryBackoff << (attempt - 1)
			c.logger.Warn().
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying vendor call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = c.do(ctx, operation, method, path, body, result)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retryable(err error) bool {
	if ae, ok := err.(*APIError); ok {
		return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
	}
	// Network-level failure: the request may never have arrived.
	return true
}

// rfc3339utc renders a timestamp the way the vendor requires: RFC3339
// in UTC with second precision and a literal trailing Z.
func rfc3339utc(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
