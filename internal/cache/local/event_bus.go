package local

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

const defaultHistory = 256

// EventBus is an in-process domain.EventBus. Slow subscribers drop
// messages rather than block publishers.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	history map[string][][]byte
	keep    int
}

// NewEventBus creates an EventBus keeping the last keep payloads per
// channel for Recent. keep <= 0 selects a default.
func NewEventBus(keep int) *EventBus {
	if keep <= 0 {
		keep = defaultHistory
	}
	return &EventBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		history: make(map[string][][]byte),
		keep:    keep,
	}
}

// Publish delivers payload to current subscribers of channel.
func (b *EventBus) Publish(_ context.Context, channel string, payload []byte) error {
	msg := append([]byte(nil), payload...)

	b.mu.Lock()
	h := append(b.history[channel], msg)
	if len(h) > b.keep {
		h = h[len(h)-b.keep:]
	}
	b.history[channel] = h
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published after the call. It is
// closed when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Recent returns up to n of the latest payloads on channel, oldest first.
func (b *EventBus) Recent(_ context.Context, channel string, n int) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h := b.history[channel]
	if n <= 0 {
		return nil, nil
	}
	if n > len(h) {
		n = len(h)
	}
	out := make([][]byte, n)
	copy(out, h[len(h)-n:])
	return out, nil
}

var (
	_ domain.EventBus     = (*EventBus)(nil)
	_ domain.EventHistory = (*EventBus)(nil)
)
