// Package upstream performs the single-shot HTTP GETs the resolvers depend on.
// Each call carries a deadline and runs behind a circuit breaker; every
// failure is reported as models.ErrUpstreamUnavailable.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/models"
)

const maxErrorBody = 512

// HTTPError captures unexpected status codes and response bodies.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// userAgentRoundTripper adds a User-Agent header.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

// Client fetches JSON documents from one upstream source.
type Client struct {
	name    string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient builds a Client named after its source. base may be nil.
func NewClient(name, userAgent string, timeout time.Duration, settings gobreaker.Settings, base *http.Client, logger *zap.Logger) *Client {
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	hc := &http.Client{
		Transport:     &userAgentRoundTripper{Wrapped: transport, UserAgent: userAgent},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       timeout,
	}

	settings.Name = name
	onChange := settings.OnStateChange
	settings.OnStateChange = func(n string, from, to gobreaker.State) {
		logger.Warn("Upstream circuit breaker state changed",
			zap.String("source", n), zap.String("from", from.String()), zap.String("to", to.String()))
		if onChange != nil {
			onChange(n, from, to)
		}
	}

	return &Client{
		name:    name,
		http:    hc,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// GetJSON issues exactly one GET and decodes a 200 response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.get(ctx, url, v)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Debug("Upstream call rejected by circuit breaker", zap.String("source", c.name))
		}
		return fmt.Errorf("%w: %s: %w", models.ErrUpstreamUnavailable, c.name, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s JSON: %w", c.name, err)
	}
	return nil
}
