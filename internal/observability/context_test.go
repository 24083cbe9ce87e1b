package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if CorrelationID(ctx) != "" {
		t.Error("CorrelationID() on empty context should be empty")
	}
	if LoggerFromContext(ctx) != nil {
		t.Error("LoggerFromContext() on empty context should be nil")
	}

	logger := zap.NewNop()
	ctx = WithLogger(WithCorrelationID(ctx, "abc-123"), logger)
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID() = %q, want abc-123", got)
	}
	if got := LoggerFromContext(ctx); got != logger {
		t.Errorf("LoggerFromContext() = %p, want %p", got, logger)
	}
}
