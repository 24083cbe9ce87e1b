package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// summaryCounters are totalled into the final shutdown log line.
var summaryCounters = []string{
	"weatherQueriesTotal",
	"feedCallsTotal",
	"cacheLookupsTotal",
	"computeErrorsTotal",
	"staleCacheServesTotal",
	"rateLimitDeniedTotal",
}

// FlushTelemetry logs a summary of the main counters and flushes buffered
// logs. Prometheus is pull-based, so nothing is pushed. Call after in-flight
// requests drain.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info("final telemetry", counterSummary()...)
	if err := logger.Sync(); err != nil {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

// counterSummary sums every series of each summary counter.
func counterSummary() []zap.Field {
	families, err := registry.Gather()
	if err != nil {
		return []zap.Field{zap.Error(err)}
	}
	totals := make(map[string]float64, len(summaryCounters))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				totals[mf.GetName()] += c.GetValue()
			}
		}
	}
	fields := make([]zap.Field, 0, len(summaryCounters))
	for _, name := range summaryCounters {
		fields = append(fields, zap.Float64(name, totals[name]))
	}
	return fields
}
