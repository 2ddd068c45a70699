package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation times one gateway call and reports it as a span, a log line
// and the botstore_operation_* meters.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
	logger  *slog.Logger
}

// StartOperation opens a span named name and returns the derived context.
// attrs are attached to both the span and every log line of the operation.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := StartSpan(ctx, name, attrs...)
	args := make([]any, 0, 2+2*len(attrs))
	args = append(args, "operation", name)
	for _, kv := range attrs {
		args = append(args, string(kv.Key), kv.Value.Emit())
	}
	logger := slog.Default().With(args...)
	logger.DebugContext(ctx, "operation started")

	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
		logger:  logger,
	}, ctx
}

// Annotate records a value learned mid-operation, such as the backend that
// finally served it.
func (o *Operation) Annotate(key, value string) {
	o.span.SetAttributes(attribute.String(key, value))
	o.logger = o.logger.With(key, value)
}

// End closes the span and records duration under ok, canceled or error.
func (o *Operation) End(err error) {
	elapsed := time.Since(o.start)
	status := operationStatus(err)
	switch status {
	case "ok":
		o.logger.DebugContext(o.ctx, "operation completed", "elapsed", elapsed)
	case "canceled":
		o.logger.InfoContext(o.ctx, "operation canceled", "elapsed", elapsed, "error", err)
	default:
		o.logger.WarnContext(o.ctx, "operation failed", "elapsed", elapsed, "error", err)
	}

	EndSpan(o.span, err)
	o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(elapsed.Seconds())
	o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
}

func operationStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
