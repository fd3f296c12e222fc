package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/corebus/middleware"
)

// Client is the bus orchestrator: it owns a Registry and the three
// transport contracts and exposes the public call/serve/fire/listen
// surface everything else in this package is built to support.
type Client struct {
	registry *Registry
	rpcT     RpcTransport
	resultT  ResultTransport
	eventT   EventTransport

	plugins *pluginChain
	logger  *zap.Logger
	tracer  trace.Tracer
	dsp     *dispatcher

	mu        sync.Mutex
	listening map[string]*listenerGroup
}

// listenerGroup is every handler registered under one listener-group key.
// The consumption loop is started once, by whichever Listen call creates
// the group; later calls sharing the same key just append to handlers.
type listenerGroup struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers []EventHandler
}

func (g *listenerGroup) add(handler EventHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, handler)
}

func (g *listenerGroup) snapshot() []EventHandler {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]EventHandler, len(g.handlers))
	copy(out, g.handlers)
	return out
}

// rawEventSink publishes directly through an EventTransport, bypassing
// the Client's own hook firing. See EventSink for why this matters.
type rawEventSink struct {
	transport EventTransport
	options   Options
}

func (s rawEventSink) SendEvent(ctx context.Context, msg *EventMessage) error {
	return s.transport.SendEvent(ctx, msg, s.options)
}

// NewClient constructs a Client. logger may be nil (a no-op logger is
// used); plugins fire in the order supplied.
func NewClient(reg *Registry, rpcT RpcTransport, resultT ResultTransport, eventT EventTransport, logger *zap.Logger, plugins ...Plugin) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := rawEventSink{transport: eventT}
	return &Client{
		registry:  reg,
		rpcT:      rpcT,
		resultT:   resultT,
		eventT:    eventT,
		plugins:   newPluginChain(sink, plugins...),
		logger:    logger,
		tracer:    otel.Tracer("corebus"),
		dsp:       newDispatcher(reg),
		listening: map[string]*listenerGroup{},
	}
}

// CallAsync sends an RPC without waiting for its result, returning the
// envelope that was sent (its ReturnPath is what ReceiveResult/Call later
// key on).
func (c *Client) CallAsync(ctx context.Context, apiName, procedureName string, kwargs map[string]any, opts Options) (*RpcMessage, error) {
	ctx, span := c.tracer.Start(ctx, "bus.call_async")
	defer span.End()

	msg := NewRpcMessage(apiName, procedureName, kwargs, "")
	msg.ReturnPath = c.resultT.GetReturnPath(msg)

	if err := c.plugins.fire(ctx, BeforeRpcCall, HookEvent{RpcMessage: msg}); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := c.rpcT.CallRpc(ctx, msg, opts); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("call_async %s: %w", msg.CanonicalName(), err)
	}

	if err := c.plugins.fire(ctx, AfterRpcCall, HookEvent{RpcMessage: msg}); err != nil {
		c.logger.Warn("after_rpc_call plugin hook failed", zap.Error(err))
	}

	return msg, nil
}

// Call sends an RPC and blocks for its result, returning the result
// value or an error describing either a transport failure, a timeout, or
// the remote handler's own failure.
func (c *Client) Call(ctx context.Context, apiName, procedureName string, kwargs map[string]any, opts Options) (any, error) {
	msg, err := c.CallAsync(ctx, apiName, procedureName, kwargs, opts)
	if err != nil {
		return nil, err
	}

	result, err := c.resultT.ReceiveResult(ctx, msg, opts)
	if err != nil {
		return nil, fmt.Errorf("receive_result %s: %w", msg.CanonicalName(), err)
	}

	if err := c.plugins.fire(ctx, AfterRpcCall, HookEvent{RpcMessage: msg, ResultMessage: result}); err != nil {
		c.logger.Warn("after_rpc_call plugin hook failed", zap.Error(err))
	}

	if result.Error {
		return nil, fmt.Errorf("remote error from %s: %s", msg.CanonicalName(), result.Result)
	}
	return result.Result, nil
}

// ServeRPCs runs until ctx is cancelled, consuming RpcMessages destined
// for any of apiNames, dispatching each to the registry, and publishing
// its ResultMessage. A single call's handler failure is reported back to
// the caller as a failed ResultMessage, except ErrSuddenDeath, which fails
// the delivery so it is Nacked and served again; neither stops the loop.
func (c *Client) ServeRPCs(ctx context.Context, apiNames []string, opts Options) error {
	fetcher, err := c.rpcT.ConsumeRpcs(ctx, apiNames)
	if err != nil {
		return fmt.Errorf("serve_rpcs: %w", err)
	}

	handler := func(ctx context.Context, msg *RpcMessage) error {
		return c.serveOne(ctx, msg, opts)
	}

	cc := NewConsumptionContext[*RpcMessage](fetcher, handler, c.logger)
	return cc.Run(ctx)
}

func (c *Client) serveOne(ctx context.Context, msg *RpcMessage, opts Options) error {
	ctx = middleware.WithCorrelationID(ctx, msg.RpcID)
	ctx, span := c.tracer.Start(ctx, "bus.serve_rpc."+msg.CanonicalName())
	defer span.End()

	if err := c.plugins.fire(ctx, BeforeRpcExecution, HookEvent{RpcMessage: msg}); err != nil {
		span.RecordError(err)
		return err
	}

	value, callErr := c.dsp.dispatch(ctx, msg)

	if errors.Is(callErr, ErrSuddenDeath) {
		// A sudden death never produces a result: the handler is modelling
		// a process crash mid-call, so the delivery itself must fail and
		// come back around for redelivery rather than resolve the caller
		// with an error.
		span.RecordError(callErr)
		return callErr
	}

	var result *ResultMessage
	if callErr != nil {
		span.RecordError(callErr)
		if correlationID, ok := middleware.GetCorrelationID(ctx); ok {
			c.logger.Warn("procedure call failed", zap.String("correlation_id", correlationID), zap.Error(callErr))
		}
		result = NewErrorResultMessage(msg.RpcID, callErr, "")
	} else {
		result = NewResultMessage(msg.RpcID, value)
	}

	if err := c.resultT.SendResult(ctx, msg, result, opts); err != nil {
		return fmt.Errorf("send_result %s: %w", msg.CanonicalName(), err)
	}

	if err := c.plugins.fire(ctx, AfterRpcExecution, HookEvent{RpcMessage: msg, ResultMessage: result, Err: callErr}); err != nil {
		c.logger.Warn("after_rpc_execution plugin hook failed", zap.Error(err))
	}

	// A handler failure is reported to the caller via ResultMessage, not
	// by failing this delivery: the message itself was served correctly.
	return nil
}

// FireAsync publishes an event without waiting for any listener to
// process it.
func (c *Client) FireAsync(ctx context.Context, apiName, eventName string, kwargs map[string]any, opts Options) error {
	ctx, span := c.tracer.Start(ctx, "bus.fire."+apiName+"."+eventName)
	defer span.End()

	api, err := c.registry.Get(apiName)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if _, err := api.Event(eventName); err != nil {
		span.RecordError(err)
		return err
	}

	msg := NewEventMessage(apiName, eventName, kwargs)

	if err := c.plugins.fire(ctx, BeforeEventSent, HookEvent{EventMessage: msg}); err != nil {
		span.RecordError(err)
		return err
	}

	if err := c.eventT.SendEvent(ctx, msg, opts); err != nil {
		span.RecordError(err)
		return fmt.Errorf("fire %s: %w", msg.CanonicalName(), err)
	}

	if err := c.plugins.fire(ctx, AfterEventSent, HookEvent{EventMessage: msg}); err != nil {
		c.logger.Warn("after_event_sent plugin hook failed", zap.Error(err))
	}

	return nil
}

// Fire is an alias for FireAsync; events are always fire-and-forget, so
// there is no blocking counterpart the way Call is to CallAsync.
func (c *Client) Fire(ctx context.Context, apiName, eventName string, kwargs map[string]any, opts Options) error {
	return c.FireAsync(ctx, apiName, eventName, kwargs, opts)
}

// EventHandler processes one delivered event.
type EventHandler func(ctx context.Context, msg *EventMessage) error

// Listen registers handler against the given events. Two Listen calls
// whose transport listener-group keys match cause exactly one
// start_listening_for subscription: both handlers are registered against
// that shared group and every delivered event invokes all of them, each
// in turn. Calls that produce distinct keys each get an independent
// subscription (every event delivered to every distinct group). The
// first Listen call for a given key starts its consumption loop; later
// calls sharing that key just add their handler to the running group.
func (c *Client) Listen(ctx context.Context, events []EventIdentifier, handler EventHandler, opts Options) error {
	if len(events) == 0 {
		return fmt.Errorf("listen: no events given")
	}

	groupKey := c.eventT.GetListenerGroupKey(events[0].ApiName, events[0].EventName, opts)

	c.mu.Lock()
	if group, already := c.listening[groupKey]; already {
		c.mu.Unlock()
		group.add(handler)
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	group := &listenerGroup{cancel: cancel, handlers: []EventHandler{handler}}
	c.listening[groupKey] = group
	c.mu.Unlock()

	// Pin the group key so that, when events names more than one event,
	// every one of GetListenerGroupKey's further lookups inside
	// ConsumeEvents resolves to the same group this registration was
	// just recorded under, rather than each event picking an
	// independent anonymous group.
	pinnedOpts := make(Options, len(opts)+1)
	for k, v := range opts {
		pinnedOpts[k] = v
	}
	if _, ok := pinnedOpts["durable"]; !ok {
		pinnedOpts["durable"] = groupKey
	}

	fetcher, err := c.eventT.ConsumeEvents(loopCtx, events, pinnedOpts)
	if err != nil {
		cancel()
		c.mu.Lock()
		delete(c.listening, groupKey)
		c.mu.Unlock()
		return fmt.Errorf("listen: %w", err)
	}

	wrapped := func(ctx context.Context, msg *EventMessage) error {
		return c.executeListener(ctx, msg, group)
	}

	cc := NewConsumptionContext[*EventMessage](fetcher, wrapped, c.logger)

	go func() {
		if err := cc.Run(loopCtx); err != nil {
			c.logger.Info("listener loop stopped", zap.String("group", groupKey), zap.Error(err))
		}
	}()

	return nil
}

// executeListener dispatches msg to every callback currently registered
// against group, in order. A failure from one callback does not stop
// the others from running, but the delivery as a whole is reported
// failed (so the event is not acked and is redelivered to the whole
// group again) whenever any callback returned an error.
func (c *Client) executeListener(ctx context.Context, msg *EventMessage, group *listenerGroup) error {
	ctx = middleware.WithCorrelationID(ctx, msg.CanonicalName())
	ctx, span := c.tracer.Start(ctx, "bus.listen."+msg.CanonicalName())
	defer span.End()

	if err := c.plugins.fire(ctx, BeforeEventExecution, HookEvent{EventMessage: msg}); err != nil {
		span.RecordError(err)
		return err
	}

	var firstErr error
	for _, handler := range group.snapshot() {
		if err := handler(ctx, msg); err != nil {
			span.RecordError(err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := c.plugins.fire(ctx, AfterEventExecution, HookEvent{EventMessage: msg, Err: firstErr}); err != nil {
		c.logger.Warn("after_event_execution plugin hook failed", zap.Error(err))
	}

	return firstErr
}

// StopListening cancels the listener loop registered under groupKey, if
// any, dropping every handler registered against it. It is a no-op if no
// such loop is running in this process.
func (c *Client) StopListening(groupKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if group, ok := c.listening[groupKey]; ok {
		group.cancel()
		delete(c.listening, groupKey)
	}
}

// Registry exposes the Client's underlying Registry, chiefly so callers
// can register Apis before the Client starts serving or listening.
func (c *Client) Registry() *Registry { return c.registry }
