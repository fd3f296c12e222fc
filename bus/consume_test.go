package bus_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/corebus/bus"
)

// fakeFetcher hands out a fixed set of deliveries one at a time; with an
// empty queue, Fetch waits briefly (or until ctx is cancelled) and returns
// an empty batch. Nack pushes the delivery's message back onto the queue,
// simulating transport redelivery.
type fakeFetcher struct {
	mu    sync.Mutex
	queue []int
}

func newFakeFetcher(n int) *fakeFetcher {
	queue := make([]int, n)
	for i := range queue {
		queue[i] = i
	}
	return &fakeFetcher{queue: queue}
}

func (f *fakeFetcher) requeue(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, i)
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]bus.Delivery[int], error) {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return nil, nil
		}
	}
	i := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()

	return []bus.Delivery[int]{{
		Message: i,
		Ack:     func() error { return nil },
		Nack: func() error {
			f.requeue(i)
			return nil
		},
	}}, nil
}

// TestConsumptionContextRetriesFailedDeliveries exercises Testable
// Properties around at-least-once delivery: the first delivery of
// message 0 fails, is Nacked, and comes back around; every message is
// eventually handled successfully exactly once, and the loop never
// stops running because of an intermediate failure.
func TestConsumptionContextRetriesFailedDeliveries(t *testing.T) {
	const total = 5
	fetcher := newFakeFetcher(total)

	var failedOnce atomic.Bool
	processed := make(chan int, total)

	handler := func(_ context.Context, msg int) error {
		if msg == 0 && failedOnce.CompareAndSwap(false, true) {
			return fmt.Errorf("synthetic failure for message 0")
		}
		processed <- msg
		return nil
	}

	cc := bus.NewConsumptionContext[int](fetcher, handler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cc.Run(ctx) }()

	seen := map[int]bool{}
	for len(seen) < total {
		select {
		case msg := <-processed:
			seen[msg] = true
		case <-time.After(900 * time.Millisecond):
			t.Fatalf("timed out with only %d/%d messages processed: %v", len(seen), total, seen)
		}
	}

	cancel()
	<-done

	assert.True(t, failedOnce.Load())
	for i := 0; i < total; i++ {
		assert.True(t, seen[i], "message %d was never successfully processed", i)
	}
}

func TestConsumptionContextStopsOnContextCancel(t *testing.T) {
	fetcher := newFakeFetcher(0)
	handler := func(_ context.Context, _ int) error { return nil }
	cc := bus.NewConsumptionContext[int](fetcher, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
