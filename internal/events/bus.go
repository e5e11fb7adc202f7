package events

import (
	"context"
	"sync"
)

// defaultQueueSize is the aggregated channel's buffer. Producers (Wayland
// dispatch, D-Bus launch and suspend monitors) each run on their own goroutine and
// must not block on a slow consumer, so the buffer absorbs a burst of
// toplevel churn between LifecycleController ticks.
const defaultQueueSize = 256

// Bus is a multi-producer, single-consumer event queue. Any number of
// sources call Publish concurrently; a single LifecycleController drains it
// with Drain or by ranging over Events.
type Bus struct {
	ch chan Event

	closeOnce sync.Once
}

// NewBus creates a Bus with the default buffer size.
func NewBus() *Bus {
	return NewBusSize(defaultQueueSize)
}

// NewBusSize creates a Bus with an explicit buffer size, mainly for tests
// that want to exercise backpressure.
func NewBusSize(size int) *Bus {
	return &Bus{ch: make(chan Event, size)}
}

// Publish enqueues an event. It blocks if the buffer is full, and returns
// early if ctx is cancelled first so a producer shutting down doesn't wedge
// forever on a stalled consumer.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues an event without blocking, reporting false if the
// buffer is full.
func (b *Bus) TryPublish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Events exposes the receive side for a consumer loop that wants to select
// over it alongside a ticker or done channel.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Drain collects every event currently buffered without blocking. The
// LifecycleController calls this once per tick so a single loop iteration
// processes a consistent batch rather than one event at a time.
func (b *Bus) Drain() []Event {
	var batch []Event
	for {
		select {
		case ev := <-b.ch:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// Close closes the underlying channel. Safe to call more than once;
// publishing after Close panics, matching normal Go channel semantics, so
// producers must stop calling Publish before Close runs.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.ch)
	})
}
