// Package http provides a shared outbound HTTP client with rate limiting
// and retry behavior for all external API calls.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// StatusError reports a non-2xx response from an upstream API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Body)
}

// Client wraps http.Client with rate limiting and exponential backoff retries.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxElapsed time.Duration
	logger     zerolog.Logger
}

// NewClient creates a rate-limited API client. requestsPerSec bounds the
// steady-state request rate; timeout applies per attempt.
func NewClient(requestsPerSec int, timeout time.Duration) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), requestsPerSec),
		maxElapsed: 30 * time.Second,
		logger:     log.With().Str("component", "api_client").Logger(),
	}
}

// WithTimeout returns a client with a different per-attempt timeout that
// shares this client's rate limiter, so all outbound requests draw on one
// token bucket.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    c.limiter,
		maxElapsed: c.maxElapsed,
		logger:     c.logger,
	}
}

// Get fetches url and returns the response body. Transient failures and
// non-200 responses are retried with exponential backoff until maxElapsed.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

// PostJSON sends payload as a JSON body and returns the response body.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error().Err(err).Str("response", truncate(string(body), 512)).Msg("Error parsing JSON")
		return fmt.Errorf("parsing JSON: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, newRequest func() (*http.Request, error)) ([]byte, error) {
	// Use exponential backoff for retries. A fresh request is built per
	// attempt so that consumed bodies do not poison retries.
	var resp *http.Response
	var lastURL string
	operation := func() error {
		req, err := newRequest()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		lastURL = req.URL.String()
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			statusErr := &StatusError{Code: resp.StatusCode, Body: string(body)}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				// Client errors will not heal on retry
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = c.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	c.logger.Debug().Str("url", lastURL).Int("bytes", len(body)).Msg("Request completed")
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
