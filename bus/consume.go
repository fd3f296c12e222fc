package bus

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Handler processes one decoded message from a Delivery batch. A
// returned error fails that single delivery (it is Nacked) without
// affecting its batch-mates or stopping the loop.
type Handler[T any] func(ctx context.Context, msg T) error

// ConsumptionContext drives a single long-running fetch/handle/ack loop
// against a Fetcher. It is the one piece of the consumption machinery
// genuinely shared across transports and message kinds; the transports
// themselves (see bus/transport/nats and bus/transport/memory) still
// implement their own Fetch/Ack/Nack plumbing the way the rest of this
// codebase writes per-service NATS consumer loops, rather than hiding
// that behind a second layer of generic abstraction.
type ConsumptionContext[T any] struct {
	Fetcher Fetcher[T]
	Handler Handler[T]
	Logger  *zap.Logger
}

// NewConsumptionContext constructs a ConsumptionContext. logger may be
// nil, in which case a no-op logger is used.
func NewConsumptionContext[T any](fetcher Fetcher[T], handler Handler[T], logger *zap.Logger) *ConsumptionContext[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsumptionContext[T]{Fetcher: fetcher, Handler: handler, Logger: logger}
}

// Run fetches and handles batches until ctx is cancelled or Fetch returns
// a context cancellation or deadline error; any other Fetch error is
// logged and the fetch is tried again. A single delivery's handler failure never
// aborts the loop: it is Nacked, logged, and the loop moves on to the
// next delivery in the batch, then the next batch. This is what gives
// callers at-least-once delivery — the transport's own redelivery policy
// decides when a Nacked message comes back around.
func (c *ConsumptionContext[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.Fetcher.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.Logger.Error("fetch failed", zap.Error(err))
			continue
		}

		for _, d := range deliveries {
			c.handleOne(ctx, d)
		}
	}
}

func (c *ConsumptionContext[T]) handleOne(ctx context.Context, d Delivery[T]) {
	if err := c.Handler(ctx, d.Message); err != nil {
		c.Logger.Warn("handler failed, nacking for redelivery", zap.Error(err))
		if nackErr := d.Nack(); nackErr != nil {
			c.Logger.Error("nack failed", zap.Error(nackErr))
		}
		return
	}
	if err := d.Ack(); err != nil {
		c.Logger.Error("ack failed", zap.Error(err))
	}
}
