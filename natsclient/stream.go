package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamBusEvents is the durable stream that captures every event
	// fired on the bus, across every api.
	StreamBusEvents = "BUS_EVENTS"
	// SubjectBusEvents captures all bus event traffic: bus.events.<api>.<event>.
	SubjectBusEvents = "bus.events.>"
	// SubjectBusRpc captures bus rpc call traffic: bus.rpc.<api>.
	SubjectBusRpc = "bus.rpc.>"
	// SubjectBusResult captures bus rpc result traffic: bus.result.<rpc_id>.
	SubjectBusResult = "bus.result.>"
)

var streamSubjects = []string{SubjectBusEvents, SubjectBusRpc, SubjectBusResult}

// ProvisionStreams idempotently ensures the BUS_EVENTS JetStream stream
// exists with the correct subject filters. It creates the stream on
// first run and is a no-op if the stream already exists.
func (c *Client) ProvisionStreams() error {
	info, err := c.JS.StreamInfo(StreamBusEvents)
	if err == nil {
		_ = info
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamBusEvents))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamBusEvents,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", StreamBusEvents),
		zap.Strings("subjects", streamSubjects),
	)
	return nil
}

// EventSubject renders the NATS subject a bus event is published under.
func EventSubject(apiName, eventName string) string {
	return "bus.events." + apiName + "." + eventName
}

// RpcSubject renders the NATS subject an rpc call targeting apiName is
// published under.
func RpcSubject(apiName string) string {
	return "bus.rpc." + apiName
}

// ResultSubject renders the NATS subject an rpc result for rpcID is
// published under.
func ResultSubject(rpcID string) string {
	return "bus.result." + rpcID
}
