package worker

import "context"

// Bridge carries worker messages to the goroutine that owns the cache.
//
// Any number of workers send; exactly one owner receives. After every send
// the owner is woken through a coalescing wake channel, so the owner can
// select on Wake and then drain everything available without blocking.
type Bridge struct {
	messages chan Message
	wake     chan struct{}
}

func NewBridge(buffer int) *Bridge {
	if buffer < 1 {
		buffer = 1
	}
	return &Bridge{
		messages: make(chan Message, buffer),
		wake:     make(chan struct{}, 1),
	}
}

// Send queues m for the owner, blocking while the buffer is full or until
// ctx is done.
func (b *Bridge) Send(ctx context.Context, m Message) error {
	select {
	case b.messages <- m:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires at least once after one or more Sends.
func (b *Bridge) Wake() <-chan struct{} {
	return b.wake
}

// Drain returns every message available right now, up to max (0 means no
// limit). It never blocks.
func (b *Bridge) Drain(max int) []Message {
	var out []Message
	for max <= 0 || len(out) < max {
		select {
		case m := <-b.messages:
			out = append(out, m)
		default:
			return out
		}
	}
	return out
}

// Pending is the number of undelivered messages.
func (b *Bridge) Pending() int {
	return len(b.messages)
}
