package bus

import "context"

// HookPoint names a place in the Client's call/serve/fire/listen paths
// where registered Plugins are given a chance to observe (and, for the
// "before" points, veto) what is about to happen.
type HookPoint int

const (
	BeforeRpcCall HookPoint = iota
	AfterRpcCall
	BeforeRpcExecution
	AfterRpcExecution
	BeforeEventSent
	AfterEventSent
	BeforeEventExecution
	AfterEventExecution
)

func (p HookPoint) String() string {
	switch p {
	case BeforeRpcCall:
		return "before_rpc_call"
	case AfterRpcCall:
		return "after_rpc_call"
	case BeforeRpcExecution:
		return "before_rpc_execution"
	case AfterRpcExecution:
		return "after_rpc_execution"
	case BeforeEventSent:
		return "before_event_sent"
	case AfterEventSent:
		return "after_event_sent"
	case BeforeEventExecution:
		return "before_event_execution"
	case AfterEventExecution:
		return "after_event_execution"
	default:
		return "unknown_hook_point"
	}
}

// HookEvent carries whatever a hook point has available at the moment it
// fires. Only the fields relevant to the current HookPoint are
// populated; the rest are left at their zero value.
type HookEvent struct {
	RpcMessage    *RpcMessage
	ResultMessage *ResultMessage
	EventMessage  *EventMessage
	Err           error
}

// EventSink publishes an event directly through a transport, bypassing
// the Client's own hooked Fire/FireAsync path. Plugins that themselves emit
// events (an observability plugin recording internal.metrics.* events,
// say) must publish through the sink they are given rather than calling
// back into the Client: going through the hooked path would re-trigger
// BeforeEventSent/AfterEventSent for the plugin's own emission,
// recursing into the plugin forever.
type EventSink interface {
	SendEvent(ctx context.Context, msg *EventMessage) error
}

// Plugin observes Client activity at named hook points. Handle is called
// synchronously on the Client's own goroutine for "before" points (a
// returned error aborts the operation before it is attempted) and after
// the fact for "after" points (a returned error is logged but does not
// undo anything).
type Plugin interface {
	// Name identifies the plugin for logging and diagnostics.
	Name() string

	// Handle processes one hook firing. sink is only ever used by a
	// plugin that wants to emit its own events as a side effect of
	// observing this one; most plugins ignore it.
	Handle(ctx context.Context, point HookPoint, evt HookEvent, sink EventSink) error
}

// pluginChain runs a set of Plugins against the hook points a Client
// fires, stopping at the first error any plugin returns; later plugins in
// the chain do not see that firing.
type pluginChain struct {
	plugins []Plugin
	sink    EventSink
}

func newPluginChain(sink EventSink, plugins ...Plugin) *pluginChain {
	return &pluginChain{plugins: plugins, sink: sink}
}

func (c *pluginChain) fire(ctx context.Context, point HookPoint, evt HookEvent) error {
	for _, p := range c.plugins {
		if err := p.Handle(ctx, point, evt, c.sink); err != nil {
			return err
		}
	}
	return nil
}
