// Package memory provides an in-process Transport implementing the
// bus.RpcTransport, bus.ResultTransport and bus.EventTransport
// contracts over buffered Go channels. It has no external dependencies
// and is the transport tests and local examples run against; it is
// never meant to cross a process boundary.
//
// Its listener-group semantics mirror the channel broadcast bus used
// elsewhere in this repo for operational events: Publish/Subscribe over
// a map of channels, non-blocking sends so a stalled consumer cannot
// wedge a producer. The difference here is that two registrations
// sharing a group key read from the *same* channel (so each message
// goes to exactly one of them, implementing competing consumers),
// while registrations with distinct keys each get their own channel
// (so every message reaches every group).
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arc-self/corebus/bus"
)

const defaultBuffer = 256

// Transport is a single in-process backing store good for all three of
// bus.RpcTransport, bus.ResultTransport and bus.EventTransport. Tests
// and examples wire one Transport value into all three Client
// constructor slots.
type Transport struct {
	mu sync.Mutex

	rpcQueues    map[string]chan *bus.RpcMessage
	resultChans  map[string]chan *bus.ResultMessage
	eventQueues  map[string]chan *bus.EventMessage
	anonymousSeq atomic.Uint64
}

// New constructs an empty Transport.
func New() *Transport {
	return &Transport{
		rpcQueues:   map[string]chan *bus.RpcMessage{},
		resultChans: map[string]chan *bus.ResultMessage{},
		eventQueues: map[string]chan *bus.EventMessage{},
	}
}

func (t *Transport) rpcQueue(apiName string) chan *bus.RpcMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.rpcQueues[apiName]
	if !ok {
		q = make(chan *bus.RpcMessage, defaultBuffer)
		t.rpcQueues[apiName] = q
	}
	return q
}

func (t *Transport) resultChan(rpcID string) chan *bus.ResultMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.resultChans[rpcID]
	if !ok {
		ch = make(chan *bus.ResultMessage, 1)
		t.resultChans[rpcID] = ch
	}
	return ch
}

func (t *Transport) eventQueue(groupKey string) chan *bus.EventMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.eventQueues[groupKey]
	if !ok {
		q = make(chan *bus.EventMessage, defaultBuffer)
		t.eventQueues[groupKey] = q
	}
	return q
}

// CallRpc implements bus.RpcTransport.
func (t *Transport) CallRpc(ctx context.Context, msg *bus.RpcMessage, _ bus.Options) error {
	select {
	case t.rpcQueue(msg.ApiName) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetListenerGroupKey implements bus.RpcTransport. RPC service queues
// are always grouped by api name: there is never a useful sense in
// which two ServeRPCs registrations for the same api should each
// receive every call.
func (t *Transport) GetListenerGroupKey(apiName string, _ bus.Options) string {
	return apiName
}

// ConsumeRpcs implements bus.RpcTransport, fanning in the per-api queues
// named by apiNames into a single Fetcher.
func (t *Transport) ConsumeRpcs(ctx context.Context, apiNames []string) (bus.Fetcher[*bus.RpcMessage], error) {
	if len(apiNames) == 0 {
		return nil, fmt.Errorf("memory: ConsumeRpcs requires at least one api name")
	}
	queues := make([]chan *bus.RpcMessage, 0, len(apiNames))
	for _, name := range apiNames {
		queues = append(queues, t.rpcQueue(name))
	}
	return &rpcFetcher{queues: queues, requeue: t}, nil
}

type rpcFetcher struct {
	queues  []chan *bus.RpcMessage
	requeue *Transport
}

func (f *rpcFetcher) Fetch(ctx context.Context) ([]bus.Delivery[*bus.RpcMessage], error) {
	msg, err := fetchOneOf(ctx, f.queues)
	if err != nil {
		return nil, err
	}
	apiName := msg.ApiName
	return []bus.Delivery[*bus.RpcMessage]{{
		Message: msg,
		Ack:     func() error { return nil },
		Nack: func() error {
			f.requeue.rpcQueue(apiName) <- msg
			return nil
		},
	}}, nil
}

// fetchOneOf blocks until one of queues has a value ready or ctx is
// cancelled, and returns that single value.
func fetchOneOf[T any](ctx context.Context, queues []chan T) (T, error) {
	var zero T
	cases := make([]chan T, len(queues))
	copy(cases, queues)

	// Block on the first available message across every queue.
	first, err := selectOne(ctx, cases)
	if err != nil {
		return zero, err
	}
	return first, nil
}

func selectOne[T any](ctx context.Context, queues []chan T) (T, error) {
	v, _, err := selectOneTracked(ctx, queues)
	return v, err
}

// selectOneTracked behaves like selectOne but also returns the specific
// queue the value was read from, so a caller that needs to requeue a
// Nacked delivery puts it back on the same channel it came from rather
// than an arbitrary one of the queues being fanned in.
func selectOneTracked[T any](ctx context.Context, queues []chan T) (T, chan T, error) {
	var zero T
	if len(queues) == 1 {
		select {
		case v := <-queues[0]:
			return v, queues[0], nil
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		}
	}
	// Fan multiple queues into one select: one forwarding goroutine per
	// queue feeds a shared channel for the duration of this call.
	merged := make(chan trackedDelivery[T], len(queues))
	done := make(chan struct{})
	defer close(done)
	for _, q := range queues {
		go func(q chan T) {
			select {
			case v := <-q:
				select {
				case merged <- trackedDelivery[T]{value: v, queue: q}:
				case <-done:
				}
			case <-done:
			}
		}(q)
	}
	select {
	case d := <-merged:
		return d.value, d.queue, nil
	case <-ctx.Done():
		return zero, nil, ctx.Err()
	}
}

// trackedDelivery pairs a fanned-in value with the specific queue it was
// read from.
type trackedDelivery[T any] struct {
	value T
	queue chan T
}

// GetReturnPath implements bus.ResultTransport. The in-memory transport
// has no addressing scheme of its own, so the path is just the rpc_id
// itself — deterministic and identical whichever side derives it.
func (t *Transport) GetReturnPath(rpcMessage *bus.RpcMessage) string {
	return rpcMessage.RpcID
}

// SendResult implements bus.ResultTransport.
func (t *Transport) SendResult(ctx context.Context, rpcMessage *bus.RpcMessage, result *bus.ResultMessage, _ bus.Options) error {
	select {
	case t.resultChan(rpcMessage.ReturnPath) <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveResult implements bus.ResultTransport.
func (t *Transport) ReceiveResult(ctx context.Context, rpcMessage *bus.RpcMessage, _ bus.Options) (*bus.ResultMessage, error) {
	select {
	case result := <-t.resultChan(rpcMessage.ReturnPath):
		return result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", bus.ErrRpcTimeout, ctx.Err())
	}
}

// SendEvent implements bus.EventTransport. It is broadcast across every
// group queue ConsumeEvents has created for msg's (apiName, eventName),
// whether named by a durable override or anonymous. An event sent before
// any such queue exists reaches no one.
func (t *Transport) SendEvent(ctx context.Context, msg *bus.EventMessage, _ bus.Options) error {
	t.mu.Lock()
	targets := make([]chan *bus.EventMessage, 0, len(t.eventQueues))
	prefix := msg.CanonicalName()
	for key, q := range t.eventQueues {
		if key == prefix || hasGroupPrefix(key, prefix) {
			targets = append(targets, q)
		}
	}
	t.mu.Unlock()

	for _, q := range targets {
		select {
		case q <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Group queue is full: drop for that group rather than block
			// the publisher, matching fire-and-forget semantics.
		}
	}
	return nil
}

func hasGroupPrefix(key, canonicalName string) bool {
	return len(key) > len(canonicalName) && key[:len(canonicalName)+1] == canonicalName+"#"
}

// GetListenerGroupKey implements bus.EventTransport. options["durable"],
// if present, names an explicit competing-consumer group; without it
// every Listen() call gets its own independent group (ordinary
// broadcast fan-out), mirroring how a NATS durable consumer name
// chooses between shared and independent JetStream subscriptions.
func (t *Transport) GetListenerGroupKey(apiName, eventName string, options bus.Options) string {
	canonical := apiName + "." + eventName
	if options != nil {
		if durable, ok := options["durable"].(string); ok && durable != "" {
			return canonical + "#" + durable
		}
	}
	return canonical + "#" + fmt.Sprintf("anon-%d", t.anonymousSeq.Add(1))
}

// ConsumeEvents implements bus.EventTransport.
func (t *Transport) ConsumeEvents(ctx context.Context, events []bus.EventIdentifier, options bus.Options) (bus.Fetcher[*bus.EventMessage], error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("memory: ConsumeEvents requires at least one event identifier")
	}
	queues := make([]chan *bus.EventMessage, 0, len(events))
	for _, ev := range events {
		groupKey := t.GetListenerGroupKey(ev.ApiName, ev.EventName, options)
		queues = append(queues, t.eventQueue(groupKey))
	}
	return &eventFetcher{queues: queues}, nil
}

type eventFetcher struct {
	queues []chan *bus.EventMessage
}

func (f *eventFetcher) Fetch(ctx context.Context) ([]bus.Delivery[*bus.EventMessage], error) {
	msg, queue, err := selectOneTracked(ctx, f.queues)
	if err != nil {
		return nil, err
	}
	return []bus.Delivery[*bus.EventMessage]{{
		Message: msg,
		Ack:     func() error { return nil },
		Nack: func() error {
			// Put the event back on the same group queue it was read
			// from, the same way rpcFetcher.Nack requeues: a failed
			// handler must see the event again, not silently drop it.
			select {
			case queue <- msg:
			default:
				// Group queue is full: matches SendEvent's own
				// drop-rather-than-block policy under backpressure.
			}
			return nil
		},
	}}, nil
}
