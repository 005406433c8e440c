// Package network implements the HTTP collaborator: trigger config fetch,
// paywall content fetch, and assignment confirmation against the backend API.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tollgate-sdk/tollgate/internal/config"
	"github.com/tollgate-sdk/tollgate/model"
)

// ErrNotConfigured means the client was built without a base URL. The engine
// runs offline in that case; callers treat confirmation as deferred.
var ErrNotConfigured = errors.New("network: no base URL configured")

// StatusError is returned for non-retryable HTTP failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("network: unexpected status %d: %s", e.Code, e.Body)
}

// Client talks JSON over HTTP to the backend. Transport failures and 5xx
// responses are retried with doubling backoff up to the configured cap; 4xx
// responses fail immediately.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient builds the client from network configuration.
func NewClient(cfg *config.NetworkConfig, logger *slog.Logger) *Client {
	if cfg == nil {
		panic("network: config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		logger:     logger,
	}
}

// Configured reports whether the client can reach a backend at all.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// FetchConfig retrieves the trigger configuration document.
func (c *Client) FetchConfig(ctx context.Context) ([]model.Trigger, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/config", nil)
	if err != nil {
		return nil, err
	}

	triggers, err := model.DecodeTriggers(body)
	if err != nil {
		return nil, fmt.Errorf("network: decode config: %w", err)
	}
	return triggers, nil
}

// FetchPaywall retrieves resolved paywall content for a request. Implements
// the coordinator's ContentSource.
func (c *Client) FetchPaywall(ctx context.Context, req model.PaywallRequest) (model.Paywall, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/paywall", req)
	if err != nil {
		return model.Paywall{}, err
	}

	var p model.Paywall
	if err := json.Unmarshal(body, &p); err != nil {
		return model.Paywall{}, fmt.Errorf("network: decode paywall: %w", err)
	}
	return p, nil
}

type confirmRequest struct {
	Assignments []model.ConfirmableAssignment `json:"assignments"`
}

// ConfirmAssignments posts the batch of assignments awaiting server
// acknowledgement. An empty batch is a no-op.
func (c *Client) ConfirmAssignments(ctx context.Context, assignments []model.ConfirmableAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/confirm_assignments", confirmRequest{Assignments: assignments})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("network: encode request: %w", err)
		}
	}

	attempts := c.maxRetries + 1
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, retryable, err := c.attempt(ctx, method, path, encoded)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt < attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("network: %s %s failed after %d attempts: %w", method, path, attempts, lastErr)
}

// attempt runs one request. The bool reports whether the failure is worth
// retrying.
func (c *Client) attempt(ctx context.Context, method, path string, encoded []byte) ([]byte, bool, error) {
	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, fmt.Errorf("network: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, fmt.Errorf("network: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, false, nil
	case resp.StatusCode >= 500:
		return nil, true, &StatusError{Code: resp.StatusCode, Body: trim(body)}
	default:
		return nil, false, &StatusError{Code: resp.StatusCode, Body: trim(body)}
	}
}

func trim(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
