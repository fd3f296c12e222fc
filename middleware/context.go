// Package middleware holds context helpers and Echo middleware shared by
// the bus admin HTTP surface and the bus client's own call/serve paths.
package middleware

import "context"

// Context keys carrying bus call identity within a process; they are not
// put on the wire.
type contextKey string

const (
	// CorrelationIDKey is the context key for the id threading together
	// an inbound RPC/event and whatever calls it makes in turn.
	CorrelationIDKey contextKey = "bus_correlation_id"
	// ProcessNameKey is the context key for the identifier of the bus
	// client process a call or event is being handled in.
	ProcessNameKey contextKey = "bus_process_name"
)

// WithCorrelationID returns a new context carrying the given correlation
// id, for propagation into nested calls and log lines.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// WithProcessName returns a new context carrying the owning process's
// identifier.
func WithProcessName(ctx context.Context, processName string) context.Context {
	return context.WithValue(ctx, ProcessNameKey, processName)
}

// GetCorrelationID extracts the correlation id from the context, if any.
func GetCorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(CorrelationIDKey).(string)
	return v, ok
}

// GetProcessName extracts the process name from the context, if any.
func GetProcessName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ProcessNameKey).(string)
	return v, ok
}
