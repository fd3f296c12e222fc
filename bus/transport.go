package bus

import "context"

// RpcTransport delivers RpcMessage envelopes from a caller to whichever
// process is serving the target api. Implementations are free to choose
// their own wire encoding; the bus core only ever hands them envelopes
// and dict forms.
type RpcTransport interface {
	// CallRpc sends an RpcMessage towards whatever process serves
	// msg.ApiName. It does not wait for a result; pairing a call with its
	// result is the ResultTransport's job.
	CallRpc(ctx context.Context, msg *RpcMessage, opts Options) error

	// ConsumeRpcs returns a Fetcher of incoming RpcMessage batches destined
	// for one of the given apiNames, grouped for delivery according to
	// GetListenerGroupKey.
	ConsumeRpcs(ctx context.Context, apiNames []string) (Fetcher[*RpcMessage], error)

	// GetListenerGroupKey returns an opaque key identifying the delivery
	// group a listener registration belongs to. Two registrations that
	// produce the same key compete for the same underlying subscription
	// (each message delivered to exactly one of them); registrations that
	// produce different keys each receive their own independent
	// subscription (every message delivered to every group). A transport
	// with no notion of named consumer groups may return a key derived
	// purely from apiName, making every registration for that api share
	// one subscription.
	GetListenerGroupKey(apiName string, options Options) string
}

// ResultTransport pairs an RpcMessage with the ResultMessage its handler
// eventually produces.
type ResultTransport interface {
	// GetReturnPath produces the opaque address the result for rpcMessage
	// must be delivered to. The calling side attaches it to the envelope
	// as ReturnPath before publishing; SendResult and ReceiveResult both
	// address rpcMessage.ReturnPath, so the serving side never has to
	// derive the path itself.
	GetReturnPath(rpcMessage *RpcMessage) string

	// SendResult publishes result as the outcome of the call described by
	// rpcMessage, addressed to rpcMessage.ReturnPath.
	SendResult(ctx context.Context, rpcMessage *RpcMessage, result *ResultMessage, options Options) error

	// ReceiveResult blocks until the ResultMessage for rpcMessage arrives
	// or ctx is cancelled (in which case it returns ErrRpcTimeout wrapped
	// around ctx.Err()).
	ReceiveResult(ctx context.Context, rpcMessage *RpcMessage, options Options) (*ResultMessage, error)
}

// EventTransport delivers fire-and-forget EventMessage envelopes from
// producers to listeners.
type EventTransport interface {
	// SendEvent publishes an EventMessage. There is no acknowledgement:
	// once SendEvent returns nil the transport has accepted the message,
	// but delivery to any particular listener is not guaranteed to have
	// happened yet.
	SendEvent(ctx context.Context, msg *EventMessage, options Options) error

	// ConsumeEvents returns a Fetcher of incoming EventMessage batches for
	// any of the given (apiName, eventName) pairs, grouped for delivery
	// according to GetListenerGroupKey.
	ConsumeEvents(ctx context.Context, events []EventIdentifier, options Options) (Fetcher[*EventMessage], error)

	// GetListenerGroupKey has the same contract as
	// RpcTransport.GetListenerGroupKey, scoped to event listener groups
	// rather than rpc ones. A NATS JetStream transport, for example,
	// returns its durable consumer name here: two Listen() registrations
	// sharing a durable name become competing consumers on one
	// subscription, while distinct durable names each get an independent
	// subscription receiving every event.
	GetListenerGroupKey(apiName, eventName string, options Options) string
}

// EventIdentifier names a single declared event an EventTransport should
// deliver to a listener group.
type EventIdentifier struct {
	ApiName   string
	EventName string
}

// Options carries transport-specific tuning values (timeouts, durable
// names, delivery hints) that the bus core passes through without
// interpreting. Implementations document which keys they recognize.
type Options map[string]any

// Fetcher is the pull side of a transport's delivery contract: Fetch
// blocks until at least one message is available, ctx is cancelled, or
// the underlying connection is closed, returning a batch of Deliveries
// to process. Ack/Nack resolve the batch's redelivery fate.
type Fetcher[T any] interface {
	// Fetch returns the next batch of deliveries, blocking as needed.
	Fetch(ctx context.Context) ([]Delivery[T], error)
}

// Delivery pairs a decoded message with the means to acknowledge or
// reject it. The message is considered durably handled only once Ack is
// called; calling Nack (or letting the delivery's visibility window
// lapse without acking) makes it eligible for redelivery per whatever
// policy the transport implements.
type Delivery[T any] struct {
	Message T
	Ack     func() error
	Nack    func() error
}
