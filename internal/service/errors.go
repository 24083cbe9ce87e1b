package service

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/metweather/internal/client"
	"github.com/kjstillabower/metweather/internal/feed"
	"github.com/kjstillabower/metweather/internal/forecast"
)

// Error categories used as metric labels and for HTTP status mapping.
const (
	CategoryTimeout          = "timeout"
	CategoryTransport        = "transport"
	CategoryCircuitOpen      = "circuit_open"
	CategoryMalformedFeed    = "malformed_feed"
	CategoryInsufficientData = "insufficient_data"
	CategoryCache            = "cache"
	CategoryUnknown          = "unknown"
)

// ErrCache marks store failures surfaced to callers. Store errors are
// normally absorbed; this only escapes when nothing else can be served.
var ErrCache = errors.New("cache failure")

// CategorizeError maps err to a stable category label. Order matters: an open
// circuit and a timeout are both transport failures but report separately.
func CategorizeError(err error) string {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, client.ErrCircuitOpen):
		return CategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, client.ErrTransport):
		return CategoryTransport
	case errors.Is(err, feed.ErrMalformedFeed):
		return CategoryMalformedFeed
	case errors.Is(err, forecast.ErrInsufficientData):
		return CategoryInsufficientData
	case errors.Is(err, ErrCache):
		return CategoryCache
	default:
		return CategoryUnknown
	}
}

// categorizeCacheError returns a stable label for store error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
