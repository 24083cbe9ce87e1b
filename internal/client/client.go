package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/metweather/internal/circuitbreaker"
	"github.com/kjstillabower/metweather/internal/observability"
)

// FeedClient fetches raw time-series documents.
type FeedClient interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var (
	// ErrTransport wraps every fetch failure: connection errors, timeouts,
	// non-2xx statuses, empty bodies and an open circuit.
	ErrTransport = errors.New("transport failure")

	// ErrCircuitOpen accompanies ErrTransport when the breaker rejects a fetch.
	ErrCircuitOpen = circuitbreaker.ErrOpen

	ErrInvalidBaseURL = errors.New("invalid feed base URL")
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "metweather/1.0"
	maxBodyBytes     = 8 << 20
)

// NDFDClient performs single GET requests against the NDFD XML endpoint.
// It never retries.
type NDFDClient struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
}

// NewNDFDClient returns a client for baseURL. insecureSkipVerify disables TLS
// certificate verification and exists only for legacy endpoints; it must be
// enabled explicitly in configuration.
func NewNDFDClient(baseURL, userAgent string, timeout time.Duration, insecureSkipVerify bool) (*NDFDClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via feed.insecure_skip_verify
	}

	return &NDFDClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		timeout:   timeout,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// SetCircuitBreaker enables circuit breaking for fetches. Open-circuit
// rejections fail with ErrTransport and ErrCircuitOpen.
func (c *NDFDClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// BaseURL returns the endpoint the URL builders should target.
func (c *NDFDClient) BaseURL() string {
	return c.baseURL
}

// Fetch GETs rawURL and returns the body. All failures wrap ErrTransport.
func (c *NDFDClient) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	var err error
	if c.breaker == nil {
		body, err = c.fetch(ctx, rawURL)
	} else {
		err = c.breaker.Call(ctx, func() error {
			var fetchErr error
			body, fetchErr = c.fetch(ctx, rawURL)
			return fetchErr
		})
		if errors.Is(err, ErrCircuitOpen) {
			observability.FeedCallsTotal.WithLabelValues("circuit_open").Inc()
		}
	}
	if err != nil {
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil, err
	}
	return body, nil
}

func (c *NDFDClient) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", c.userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		status := "error"
		if isTimeout(err) {
			status = "timeout"
		}
		observability.FeedCallsTotal.WithLabelValues(status).Inc()
		observability.FeedDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		if status == "timeout" {
			return nil, fmt.Errorf("%w: request timeout after %s: %w", ErrTransport, c.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%w: http request failed: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.FeedCallsTotal.WithLabelValues(status).Inc()
	observability.FeedDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: read body timeout: %w", ErrTransport, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%w: read response body: %w", ErrTransport, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrTransport)
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
