// Package nats implements bus.RpcTransport, bus.ResultTransport and
// bus.EventTransport over NATS JetStream, grounded on the same
// PullSubscribe/Fetch/Ack/Nak pull-consumer idiom the platform's
// notification-service and audit-service consumers use.
//
// Listener-group keying maps directly onto JetStream's durable consumer
// name: two ConsumeRpcs/ConsumeEvents registrations sharing a durable
// name bind the same durable pull consumer and so compete for delivery;
// registrations with distinct durable names each get their own durable
// consumer and each see every message, exactly as the audit-service's
// shared globalDurable name turns its replicas into competing consumers
// on one subscription.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	natslib "github.com/nats-io/nats.go"

	"github.com/arc-self/corebus/bus"
	"github.com/arc-self/corebus/natsclient"
)

const (
	fetchBatch   = 20
	fetchTimeout = 5 * time.Second
)

// Transport is a JetStream-backed implementation of all three bus
// transport contracts.
type Transport struct {
	client *natsclient.Client
}

// New wraps an already-connected natsclient.Client. The caller is
// responsible for having called Client.ProvisionStreams beforehand.
func New(client *natsclient.Client) *Transport {
	return &Transport{client: client}
}

// wireEnvelope is the JSON form every message kind is marshalled to
// before publication; ToDict's map[string]any output serializes
// directly into it with no further adaptation needed.
type wireEnvelope = map[string]any

// CallRpc implements bus.RpcTransport.
func (t *Transport) CallRpc(ctx context.Context, msg *bus.RpcMessage, _ bus.Options) error {
	payload, err := json.Marshal(wireEnvelope(msg.ToDict()))
	if err != nil {
		return fmt.Errorf("nats: marshal rpc message: %w", err)
	}
	subject := natsclient.RpcSubject(msg.ApiName)
	if _, err := t.client.JS.Publish(subject, payload, natslib.Context(ctx)); err != nil {
		return fmt.Errorf("nats: publish rpc to %s: %w", subject, err)
	}
	return nil
}

// GetListenerGroupKey implements bus.RpcTransport. options["durable"]
// overrides the default, a durable name derived from the api name — every server
// process for a given api shares one durable consumer by default, since
// an rpc call must be served exactly once.
func (t *Transport) GetListenerGroupKey(apiName string, options bus.Options) string {
	if options != nil {
		if durable, ok := options["durable"].(string); ok && durable != "" {
			return durable
		}
	}
	return durableName("rpc", apiName)
}

// ConsumeRpcs implements bus.RpcTransport.
func (t *Transport) ConsumeRpcs(ctx context.Context, apiNames []string) (bus.Fetcher[*bus.RpcMessage], error) {
	subs := make([]*natslib.Subscription, 0, len(apiNames))
	for _, apiName := range apiNames {
		durable := t.GetListenerGroupKey(apiName, nil)
		sub, err := t.client.JS.PullSubscribe(
			natsclient.RpcSubject(apiName),
			durable,
			natslib.BindStream(natsclient.StreamBusEvents),
			natslib.AckExplicit(),
			natslib.ManualAck(),
		)
		if err != nil {
			return nil, fmt.Errorf("nats: pull subscribe rpc %s: %w", apiName, err)
		}
		subs = append(subs, sub)
	}
	return &rpcFetcher{subs: subs}, nil
}

type rpcFetcher struct {
	subs []*natslib.Subscription
	next int
}

func (f *rpcFetcher) Fetch(ctx context.Context) ([]bus.Delivery[*bus.RpcMessage], error) {
	for i := 0; i < len(f.subs); i++ {
		sub := f.subs[f.next]
		f.next = (f.next + 1) % len(f.subs)

		msgs, err := sub.Fetch(fetchBatch, natslib.MaxWait(fetchTimeout))
		if err != nil {
			if err == natslib.ErrTimeout {
				continue
			}
			return nil, fmt.Errorf("nats: fetch rpc: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}
		return decodeRpcDeliveries(msgs), nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

func decodeRpcDeliveries(msgs []*natslib.Msg) []bus.Delivery[*bus.RpcMessage] {
	out := make([]bus.Delivery[*bus.RpcMessage], 0, len(msgs))
	for _, raw := range msgs {
		msg := raw
		var dict map[string]any
		if err := json.Unmarshal(msg.Data, &dict); err != nil {
			msg.Term()
			continue
		}
		decoded, err := bus.RpcMessageFromDict(dict)
		if err != nil {
			msg.Term()
			continue
		}
		out = append(out, bus.Delivery[*bus.RpcMessage]{
			Message: decoded,
			Ack:     msg.Ack,
			Nack:    msg.Nak,
		})
	}
	return out
}

// GetReturnPath implements bus.ResultTransport. The path is the NATS
// subject the result will be published to; the calling side attaches it
// to the envelope before CallRpc, and the serving side reads it back from
// the decoded envelope's return_path.
func (t *Transport) GetReturnPath(rpcMessage *bus.RpcMessage) string {
	return natsclient.ResultSubject(rpcMessage.RpcID)
}

// SendResult implements bus.ResultTransport.
func (t *Transport) SendResult(ctx context.Context, rpcMessage *bus.RpcMessage, result *bus.ResultMessage, _ bus.Options) error {
	payload, err := json.Marshal(wireEnvelope(result.ToDict()))
	if err != nil {
		return fmt.Errorf("nats: marshal result: %w", err)
	}
	subject := rpcMessage.ReturnPath
	if _, err := t.client.JS.Publish(subject, payload, natslib.Context(ctx)); err != nil {
		return fmt.Errorf("nats: publish result to %s: %w", subject, err)
	}
	return nil
}

// ReceiveResult implements bus.ResultTransport. Each call subscribes
// freshly to its own return-path subject rather than joining a durable
// consumer group: a result has exactly one intended recipient (whichever
// goroutine issued the call), never a competing-consumer set.
func (t *Transport) ReceiveResult(ctx context.Context, rpcMessage *bus.RpcMessage, _ bus.Options) (*bus.ResultMessage, error) {
	subject := rpcMessage.ReturnPath
	sub, err := t.client.Conn.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe result %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bus.ErrRpcTimeout, err)
	}

	var dict map[string]any
	if err := json.Unmarshal(msg.Data, &dict); err != nil {
		return nil, fmt.Errorf("nats: decode result: %w", err)
	}
	return bus.ResultMessageFromDict(dict)
}

// SendEvent implements bus.EventTransport.
func (t *Transport) SendEvent(ctx context.Context, msg *bus.EventMessage, _ bus.Options) error {
	payload, err := json.Marshal(wireEnvelope(msg.ToDict()))
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	subject := natsclient.EventSubject(msg.ApiName, msg.EventName)
	if _, err := t.client.JS.Publish(subject, payload, natslib.Context(ctx)); err != nil {
		return fmt.Errorf("nats: publish event to %s: %w", subject, err)
	}
	return nil
}

// GetListenerGroupKey implements bus.EventTransport. Without an explicit
// durable override every Listen() registration gets its own durable
// name (ordinary fan-out); supplying the same options["durable"] across
// registrations turns them into one competing-consumer group, the same
// pattern audit-service's global consumer uses to let multiple replicas
// share one logical subscription.
func (t *Transport) GetListenerGroupKey(apiName, eventName string, options bus.Options) string {
	if options != nil {
		if durable, ok := options["durable"].(string); ok && durable != "" {
			return durable
		}
	}
	return durableName("event", apiName+"."+eventName)
}

// ConsumeEvents implements bus.EventTransport.
func (t *Transport) ConsumeEvents(ctx context.Context, events []bus.EventIdentifier, options bus.Options) (bus.Fetcher[*bus.EventMessage], error) {
	subs := make([]*natslib.Subscription, 0, len(events))
	for _, ev := range events {
		durable := t.GetListenerGroupKey(ev.ApiName, ev.EventName, options)
		sub, err := t.client.JS.PullSubscribe(
			natsclient.EventSubject(ev.ApiName, ev.EventName),
			durable,
			natslib.BindStream(natsclient.StreamBusEvents),
			natslib.AckExplicit(),
			natslib.ManualAck(),
		)
		if err != nil {
			return nil, fmt.Errorf("nats: pull subscribe event %s.%s: %w", ev.ApiName, ev.EventName, err)
		}
		subs = append(subs, sub)
	}
	return &eventFetcher{subs: subs}, nil
}

type eventFetcher struct {
	subs []*natslib.Subscription
	next int
}

func (f *eventFetcher) Fetch(ctx context.Context) ([]bus.Delivery[*bus.EventMessage], error) {
	for i := 0; i < len(f.subs); i++ {
		sub := f.subs[f.next]
		f.next = (f.next + 1) % len(f.subs)

		msgs, err := sub.Fetch(fetchBatch, natslib.MaxWait(fetchTimeout))
		if err != nil {
			if err == natslib.ErrTimeout {
				continue
			}
			return nil, fmt.Errorf("nats: fetch event: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}
		return decodeEventDeliveries(msgs), nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

func decodeEventDeliveries(msgs []*natslib.Msg) []bus.Delivery[*bus.EventMessage] {
	out := make([]bus.Delivery[*bus.EventMessage], 0, len(msgs))
	for _, raw := range msgs {
		msg := raw
		var dict map[string]any
		if err := json.Unmarshal(msg.Data, &dict); err != nil {
			msg.Term()
			continue
		}
		decoded, err := bus.EventMessageFromDict(dict)
		if err != nil {
			msg.Term()
			continue
		}
		out = append(out, bus.Delivery[*bus.EventMessage]{
			Message: decoded,
			Ack:     msg.Ack,
			Nack:    msg.Nak,
		})
	}
	return out
}

// durableName builds a JetStream-legal durable consumer name out of a
// dotted bus address: JetStream durable names may not contain '.'.
func durableName(kind, canonical string) string {
	return kind + "-" + strings.ReplaceAll(canonical, ".", "-")
}
