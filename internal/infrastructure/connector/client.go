// Package connector implements the provider adapters behind the
// integration.Connector port, plus the registry that exposes the closed
// provider set to the application layer.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/integration"
)

const (
	defaultTimeout = 30 * time.Second
	defaultBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// client is the HTTP helper shared by all connectors. It owns the retry
// policy for provider throttling so individual adapters never see a 429.
type client struct {
	http    *http.Client
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

func newClient(logger *zap.Logger, retries int) *client {
	return &client{
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
		retries: retries,
		backoff: defaultBackoff,
	}
}

// request describes one provider API call
type request struct {
	method string
	url    string
	query  url.Values
	header http.Header
	// body is JSON-encoded when non-nil
	body any
	// form is URL-encoded when non-nil; mutually exclusive with body
	form url.Values
}

// doJSON performs the request and decodes a JSON response into out.
// Throttled (429) and 5xx responses are retried with exponential backoff up
// to the configured budget; auth failures and malformed responses map onto
// the integration error taxonomy.
func (c *client) doJSON(ctx context.Context, req request, out any) error {
	attempts := c.retries + 1
	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt, retryAfter, lastErr); err != nil {
				return err
			}
		}

		status, body, hint, err := c.roundTrip(ctx, req)
		retryAfter = hint
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", integration.ErrTransient, err)
			continue
		}

		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: HTTP %d", integration.ErrAuthFailed, status)
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: HTTP 429", integration.ErrRateLimited)
			continue
		case status >= 500:
			lastErr = fmt.Errorf("%w: HTTP %d", integration.ErrTransient, status)
			continue
		case status >= 400:
			return fmt.Errorf("%w: HTTP %d: %s", integration.ErrInvalidResponse, status, truncate(body, 200))
		}

		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %v", integration.ErrInvalidResponse, err)
		}
		return nil
	}

	return lastErr
}

// roundTrip performs one HTTP exchange. The third return value is the
// provider's Retry-After hint on throttled responses, zero otherwise.
func (c *client) roundTrip(ctx context.Context, req request) (int, []byte, time.Duration, error) {
	target := req.url
	if len(req.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.query.Encode()
	}

	var reader io.Reader
	contentType := ""
	switch {
	case req.form != nil:
		reader = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.body != nil:
		payload, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, err
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		if retryAfter = parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
			c.logger.Debug("provider throttled request",
				zap.String("url", req.url),
				zap.Duration("retry_after", retryAfter))
		}
	}

	return resp.StatusCode, body, retryAfter, nil
}

// wait sleeps the backoff for the given attempt, honoring context
// cancellation. A Retry-After hint from the previous response takes
// precedence over the exponential delay when it asks for longer.
func (c *client) wait(ctx context.Context, attempt int, retryAfter time.Duration, cause error) error {
	delay := c.backoff * time.Duration(1<<(attempt-1))
	if retryAfter > delay {
		delay = retryAfter
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	c.logger.Debug("retrying provider request",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(body []byte, limit int) string {
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// bearerHeader builds an Authorization header for token-authenticated providers
func bearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
