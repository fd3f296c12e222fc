// Package metrics implements a bus.Plugin that turns Client hook firings
// into both OpenTelemetry counter increments and internal.metrics.*
// events published back onto the bus, so any process with a listener
// registered for the internal.metrics surface can observe call/event
// traffic without being wired into the serving process itself.
package metrics

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/arc-self/corebus/bus"
)

const apiName = "internal.metrics"

// Plugin is the metrics bus.Plugin. Construct with New, passing a
// metric.Meter obtained from whatever MeterProvider the host process set
// up (see telemetry.InitMeterProvider).
type Plugin struct {
	processName string

	rpcCallsSent         metric.Int64Counter
	rpcResponsesReceived metric.Int64Counter
	rpcCallsReceived     metric.Int64Counter
	rpcResponsesSent     metric.Int64Counter
	eventsFired          metric.Int64Counter
	eventsReceived       metric.Int64Counter
	eventsProcessed      metric.Int64Counter
}

// New builds a Plugin backed by meter. Returns an error only if the
// meter fails to hand out one of the counter instruments.
func New(meter metric.Meter) (*Plugin, error) {
	hostname, _ := os.Hostname()
	p := &Plugin{
		processName: hostname + ":" + strconv.Itoa(os.Getpid()),
	}

	var err error
	if p.rpcCallsSent, err = meter.Int64Counter("bus.rpc.calls_sent"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	if p.rpcResponsesReceived, err = meter.Int64Counter("bus.rpc.responses_received"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	if p.rpcCallsReceived, err = meter.Int64Counter("bus.rpc.calls_received"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	if p.rpcResponsesSent, err = meter.Int64Counter("bus.rpc.responses_sent"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	if p.eventsFired, err = meter.Int64Counter("bus.events.fired"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	if p.eventsReceived, err = meter.Int64Counter("bus.events.received"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	if p.eventsProcessed, err = meter.Int64Counter("bus.events.processed"); err != nil {
		return nil, fmt.Errorf("metrics plugin: %w", err)
	}
	return p, nil
}

// Name implements bus.Plugin.
func (p *Plugin) Name() string { return "metrics" }

// Handle implements bus.Plugin.
func (p *Plugin) Handle(ctx context.Context, point bus.HookPoint, evt bus.HookEvent, sink bus.EventSink) error {
	switch point {
	case bus.BeforeRpcCall:
		p.rpcCallsSent.Add(ctx, 1)
		return p.emit(ctx, sink, "rpc_call_sent", map[string]any{
			"timestamp":      p.now(),
			"process_name":   p.processName,
			"rpc_id":         evt.RpcMessage.RpcID,
			"api_name":       evt.RpcMessage.ApiName,
			"procedure_name": evt.RpcMessage.ProcedureName,
			"kwargs":         evt.RpcMessage.Kwargs,
		})

	case bus.AfterRpcCall:
		p.rpcResponsesReceived.Add(ctx, 1)
		return p.emit(ctx, sink, "rpc_response_received", map[string]any{
			"timestamp":      p.now(),
			"process_name":   p.processName,
			"rpc_id":         evt.RpcMessage.RpcID,
			"api_name":       evt.RpcMessage.ApiName,
			"procedure_name": evt.RpcMessage.ProcedureName,
		})

	case bus.BeforeRpcExecution:
		p.rpcCallsReceived.Add(ctx, 1)
		return p.emit(ctx, sink, "rpc_call_received", map[string]any{
			"timestamp":      p.now(),
			"process_name":   p.processName,
			"rpc_id":         evt.RpcMessage.RpcID,
			"api_name":       evt.RpcMessage.ApiName,
			"procedure_name": evt.RpcMessage.ProcedureName,
		})

	case bus.AfterRpcExecution:
		p.rpcResponsesSent.Add(ctx, 1)
		kwargs := map[string]any{
			"timestamp":      p.now(),
			"process_name":   p.processName,
			"rpc_id":         evt.RpcMessage.RpcID,
			"api_name":       evt.RpcMessage.ApiName,
			"procedure_name": evt.RpcMessage.ProcedureName,
		}
		if evt.ResultMessage != nil {
			kwargs["result"] = evt.ResultMessage.Result
		}
		return p.emit(ctx, sink, "rpc_response_sent", kwargs)

	case bus.AfterEventSent:
		p.eventsFired.Add(ctx, 1)
		return p.emit(ctx, sink, "event_fired", map[string]any{
			"timestamp":  p.now(),
			"process_name": p.processName,
			"api_name":   evt.EventMessage.ApiName,
			"event_name": evt.EventMessage.EventName,
			"event_id":   newEventID(),
			"kwargs":     evt.EventMessage.Kwargs,
		})

	case bus.BeforeEventExecution:
		p.eventsReceived.Add(ctx, 1)
		return p.emit(ctx, sink, "event_received", map[string]any{
			"timestamp":  p.now(),
			"process_name": p.processName,
			"api_name":   evt.EventMessage.ApiName,
			"event_name": evt.EventMessage.EventName,
			"event_id":   newEventID(),
			"kwargs":     evt.EventMessage.Kwargs,
		})

	case bus.AfterEventExecution:
		p.eventsProcessed.Add(ctx, 1)
		return p.emit(ctx, sink, "event_processed", map[string]any{
			"timestamp":  p.now(),
			"process_name": p.processName,
			"api_name":   evt.EventMessage.ApiName,
			"event_name": evt.EventMessage.EventName,
			"event_id":   newEventID(),
			"kwargs":     evt.EventMessage.Kwargs,
		})
	}

	return nil
}

func (p *Plugin) emit(ctx context.Context, sink bus.EventSink, eventName string, kwargs map[string]any) error {
	return sink.SendEvent(ctx, bus.NewEventMessage(apiName, eventName, kwargs))
}

func (p *Plugin) now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func newEventID() string {
	return uuid.NewString()
}
