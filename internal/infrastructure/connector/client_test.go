package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsedeck/backend/internal/domain/integration"
)

func newTestClient(retries int) *client {
	c := newClient(zap.NewNop(), retries)
	c.backoff = time.Millisecond
	return c
}

func TestClient_DoJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"name":"ok"}`))
		}))
		defer server.Close()

		var out struct {
			Name string `json:"name"`
		}
		err := newTestClient(0).doJSON(ctx, request{
			method: http.MethodGet,
			url:    server.URL,
			header: bearerHeader("tok"),
		}, &out)
		require.NoError(t, err)
		assert.Equal(t, "ok", out.Name)
	})

	t.Run("retries throttled requests until success", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		err := newTestClient(3).doJSON(ctx, request{method: http.MethodGet, url: server.URL}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted throttle budget surfaces rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		err := newTestClient(2).doJSON(ctx, request{method: http.MethodGet, url: server.URL}, nil)
		assert.ErrorIs(t, err, integration.ErrRateLimited)
	})

	t.Run("auth failures are terminal, never retried", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		err := newTestClient(3).doJSON(ctx, request{method: http.MethodGet, url: server.URL}, nil)
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
		assert.Equal(t, 1, calls)
	})

	t.Run("server errors retry then map to transient", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		err := newTestClient(1).doJSON(ctx, request{method: http.MethodGet, url: server.URL}, nil)
		assert.ErrorIs(t, err, integration.ErrTransient)
		assert.Equal(t, 2, calls)
	})

	t.Run("malformed body maps to invalid response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		var out map[string]any
		err := newTestClient(0).doJSON(ctx, request{method: http.MethodGet, url: server.URL}, &out)
		assert.ErrorIs(t, err, integration.ErrInvalidResponse)
	})

	t.Run("honors context cancellation during backoff", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := newTestClient(5)
		c.backoff = time.Minute
		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		err := c.doJSON(cancelCtx, request{method: http.MethodGet, url: server.URL}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("retry-after hint stretches the next backoff", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		start := time.Now()
		err := newTestClient(1).doJSON(ctx, request{method: http.MethodGet, url: server.URL}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.GreaterOrEqual(t, time.Since(start), time.Second)
	})
}

func TestClientWait(t *testing.T) {
	t.Run("retry-after beyond the exponential delay wins", func(t *testing.T) {
		c := newTestClient(1)

		start := time.Now()
		err := c.wait(context.Background(), 1, 60*time.Millisecond, integration.ErrRateLimited)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("shorter retry-after keeps the exponential delay", func(t *testing.T) {
		c := newTestClient(1)
		c.backoff = 40 * time.Millisecond

		start := time.Now()
		err := c.wait(context.Background(), 1, time.Millisecond, integration.ErrRateLimited)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}

	for _, tt := range tests {
		t.Run("value "+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseRetryAfter(tt.value))
		})
	}
}
