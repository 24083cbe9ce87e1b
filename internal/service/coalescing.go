package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/metweather/internal/models"
)

// inFlightRequest tracks a single computation that multiple callers may wait for.
type inFlightRequest struct {
	done   chan struct{}
	result models.WeatherResult
	err    error
}

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a new requestCoalescer with the specified timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight request for key or starts one running fn.
// shared reports whether the caller joined an existing request.
//
// fn runs on a context detached from the first caller's cancellation and
// bounded by the coalescer timeout, so a caller giving up does not fail the
// others. Each caller still stops waiting when its own ctx is done.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(context.Context) (models.WeatherResult, error)) (result models.WeatherResult, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		go rc.run(ctx, key, req, fn)
	}

	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-ctx.Done():
		return models.WeatherResult{}, exists, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, req *inFlightRequest, fn func(context.Context) (models.WeatherResult, error)) {
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			req.err = fmt.Errorf("compute panicked: %v", r)
		}
		rc.cleanup(key)
		close(req.done)
	}()

	req.result, req.err = fn(flightCtx)
}

// cleanup removes the in-flight request for key. Must be called after request completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}

// inFlightCount returns the number of keys with a running request.
func (rc *requestCoalescer) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
