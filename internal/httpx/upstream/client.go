// Package upstream provides the circuit-broken HTTP transport shared by the
// platform API clients.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/vadim/neo-publisher/internal/domain/post/entity"
)

const defaultTimeout = 30 * time.Second

// Client wraps an *http.Client with a per-platform circuit breaker.
// It never retries; retry decisions belong to the publishers.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// Option configures the Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithBreaker sets a caller-provided circuit breaker
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New creates a client whose breaker is named after the platform
func New(name string, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{Timeout: defaultTimeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do executes the request through the breaker.
// Any HTTP response is returned to the caller, including 429 and 5xx, so
// the platform error body can be decoded. Network failures and an open
// breaker are reported as entity.ErrRemoteTransient.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("upstream returned %d", r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		return resp, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker is open: %v", entity.ErrRemoteTransient, err)
	}
	return nil, fmt.Errorf("%w: executing request: %v", entity.ErrRemoteTransient, err)
}

// RoundTrip lets the breaker sit under clients that only accept an *http.Client
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Do(req)
}

// IsTransientStatus reports whether an HTTP status is worth retrying
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
