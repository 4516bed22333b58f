package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RequestIDKey is the context key the transport layer uses to pass a
// correlation identifier down to the service decorators. A plain string so
// gin's context lookup finds it too.
const RequestIDKey = "request_id"

// RequestIDFromContext pulls the correlation id, "-" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		return v
	}
	return "-"
}

// MetricsCollector receives operation outcomes. Implementations must not
// block; the core never waits on them.
type MetricsCollector interface {
	RecordOperationDuration(op string, d time.Duration)
	RecordOperationResult(op, result string)
	RecordBalanceChange(walletID uint64, balance decimal.Decimal)
	RecordError(op, kind string)
}

// NoopMetricsCollector is the default when no collector is wired.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (NoopMetricsCollector) RecordOperationResult(string, string)          {}
func (NoopMetricsCollector) RecordBalanceChange(uint64, decimal.Decimal)   {}
func (NoopMetricsCollector) RecordError(string, string)                    {}

// LogMetricsCollector emits metrics as structured log lines.
type LogMetricsCollector struct {
	Log *zap.SugaredLogger
}

func (c *LogMetricsCollector) RecordOperationDuration(op string, d time.Duration) {
	c.Log.Infow("op duration", "op", op, "duration_ms", d.Milliseconds())
}

func (c *LogMetricsCollector) RecordOperationResult(op, result string) {
	c.Log.Infow("op result", "op", op, "result", result)
}

func (c *LogMetricsCollector) RecordBalanceChange(walletID uint64, balance decimal.Decimal) {
	c.Log.Infow("balance change", "wallet_id", walletID, "balance", balance.String())
}

func (c *LogMetricsCollector) RecordError(op, kind string) {
	c.Log.Infow("op error", "op", op, "kind", kind)
}

// CacheInvalidator drops externally cached balances after a mutation.
// Fire-and-forget: callers ignore the outcome.
type CacheInvalidator interface {
	InvalidateBalances(ctx context.Context, walletIDs ...uint64) error
}
