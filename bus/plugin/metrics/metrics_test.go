package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/arc-self/corebus/bus"
	"github.com/arc-self/corebus/bus/plugin/metrics"
)

// fakeSink records every event a Plugin publishes through it instead of
// forwarding to a real transport, so tests can assert on exactly what
// the metrics plugin emitted.
type fakeSink struct {
	sent []*bus.EventMessage
}

func (s *fakeSink) SendEvent(_ context.Context, msg *bus.EventMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

func newTestPlugin(t *testing.T) *metrics.Plugin {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	p, err := metrics.New(mp.Meter("corebus-test"))
	require.NoError(t, err)
	return p
}

// TestMetricsPluginRoundTripRpc covers spec scenario 1: a call emits
// rpc_call_sent then rpc_response_received, both naming the same api,
// procedure and rpc_id.
func TestMetricsPluginRoundTripRpc(t *testing.T) {
	p := newTestPlugin(t)
	sink := &fakeSink{}
	ctx := context.Background()

	msg := bus.NewRpcMessage("example.test", "my_method", map[string]any{"f": float64(123)}, "")

	require.NoError(t, p.Handle(ctx, bus.BeforeRpcCall, bus.HookEvent{RpcMessage: msg}, sink))
	require.NoError(t, p.Handle(ctx, bus.AfterRpcCall, bus.HookEvent{RpcMessage: msg}, sink))

	require.Len(t, sink.sent, 2)

	sent := sink.sent[0]
	assert.Equal(t, "internal.metrics", sent.ApiName)
	assert.Equal(t, "rpc_call_sent", sent.EventName)
	assert.Equal(t, "example.test", sent.Kwargs["api_name"])
	assert.Equal(t, "my_method", sent.Kwargs["procedure_name"])
	assert.Equal(t, msg.RpcID, sent.Kwargs["rpc_id"])

	received := sink.sent[1]
	assert.Equal(t, "rpc_response_received", received.EventName)
	assert.Equal(t, "example.test", received.Kwargs["api_name"])
	assert.Equal(t, "my_method", received.Kwargs["procedure_name"])
	assert.Equal(t, msg.RpcID, received.Kwargs["rpc_id"])
}

// TestMetricsPluginServeRpc covers spec scenario 2: serving an injected
// request emits rpc_call_received then rpc_response_sent, the latter
// carrying the handler's result and the same rpc_id.
func TestMetricsPluginServeRpc(t *testing.T) {
	p := newTestPlugin(t)
	sink := &fakeSink{}
	ctx := context.Background()

	msg := bus.NewRpcMessage("example.test", "my_method", map[string]any{"f": float64(123)}, "123abc")
	result := bus.NewResultMessage(msg.RpcID, "value")

	require.NoError(t, p.Handle(ctx, bus.BeforeRpcExecution, bus.HookEvent{RpcMessage: msg}, sink))
	require.NoError(t, p.Handle(ctx, bus.AfterRpcExecution, bus.HookEvent{RpcMessage: msg, ResultMessage: result}, sink))

	require.Len(t, sink.sent, 2)

	received := sink.sent[0]
	assert.Equal(t, "rpc_call_received", received.EventName)
	assert.Equal(t, "123abc", received.Kwargs["rpc_id"])

	sent := sink.sent[1]
	assert.Equal(t, "rpc_response_sent", sent.EventName)
	assert.Equal(t, "value", sent.Kwargs["result"])
	assert.Equal(t, "123abc", sent.Kwargs["rpc_id"])
}

// TestMetricsPluginFireEvent covers spec scenario 3: firing an event
// eventually produces an internal.metrics.event_fired describing it,
// carrying api_name, event_name and the original kwargs.
func TestMetricsPluginFireEvent(t *testing.T) {
	p := newTestPlugin(t)
	sink := &fakeSink{}
	ctx := context.Background()

	msg := bus.NewEventMessage("example.test", "my_event", map[string]any{"f": float64(123)})

	require.NoError(t, p.Handle(ctx, bus.AfterEventSent, bus.HookEvent{EventMessage: msg}, sink))

	require.Len(t, sink.sent, 1)
	fired := sink.sent[0]
	assert.Equal(t, "internal.metrics", fired.ApiName)
	assert.Equal(t, "event_fired", fired.EventName)
	assert.Equal(t, "example.test", fired.Kwargs["api_name"])
	assert.Equal(t, "my_event", fired.Kwargs["event_name"])
	assert.Equal(t, map[string]any{"f": float64(123)}, fired.Kwargs["kwargs"])
}

// TestMetricsPluginConsumeEvent covers spec scenario 4: consuming an
// injected event emits event_received then event_processed, both
// carrying the same api_name, event_name and kwargs.
func TestMetricsPluginConsumeEvent(t *testing.T) {
	p := newTestPlugin(t)
	sink := &fakeSink{}
	ctx := context.Background()

	msg := bus.NewEventMessage("example.test", "my_event", map[string]any{"f": float64(123)})

	require.NoError(t, p.Handle(ctx, bus.BeforeEventExecution, bus.HookEvent{EventMessage: msg}, sink))
	require.NoError(t, p.Handle(ctx, bus.AfterEventExecution, bus.HookEvent{EventMessage: msg}, sink))

	require.Len(t, sink.sent, 2)
	for _, evt := range sink.sent {
		assert.Equal(t, "example.test", evt.Kwargs["api_name"])
		assert.Equal(t, "my_event", evt.Kwargs["event_name"])
		assert.Equal(t, map[string]any{"f": float64(123)}, evt.Kwargs["kwargs"])
	}
	assert.Equal(t, "event_received", sink.sent[0].EventName)
	assert.Equal(t, "event_processed", sink.sent[1].EventName)
}

// TestMetricsPluginUnknownHookPointIsNoop confirms Handle is a no-op
// (no publish, no error) for hook points it does not model metrics for,
// so that a future HookPoint addition fails safe rather than panicking
// on a nil EventMessage/RpcMessage.
func TestMetricsPluginUnknownHookPointIsNoop(t *testing.T) {
	p := newTestPlugin(t)
	sink := &fakeSink{}

	require.NoError(t, p.Handle(context.Background(), bus.HookPoint(999), bus.HookEvent{}, sink))
	assert.Empty(t, sink.sent)
}

func TestMetricsPluginName(t *testing.T) {
	p := newTestPlugin(t)
	assert.Equal(t, "metrics", p.Name())
}
