package session

import (
	"sort"
	"sync"

	"github.com/danmuck/hopmq/internal/protocol/frame"
)

// Inbox holds frames that arrived for a channel while another channel was
// reading. Delivery is FIFO per channel.
type Inbox struct {
	mu    sync.RWMutex
	items map[string][]frame.Frame
}

func NewInbox() *Inbox {
	return &Inbox{
		items: make(map[string][]frame.Frame),
	}
}

func (b *Inbox) Push(channel string, f frame.Frame) {
	if channel == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[channel] = append(b.items[channel], f)
}

// Pop removes and returns the oldest frame for channel.
func (b *Inbox) Pop(channel string) (frame.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.items[channel]
	if len(q) == 0 {
		return frame.Frame{}, false
	}
	f := q[0]
	q[0] = frame.Frame{}
	if len(q) == 1 {
		delete(b.items, channel)
	} else {
		b.items[channel] = q[1:]
	}
	return f, true
}

func (b *Inbox) Len(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items[channel])
}

// Discard drops every pending frame for channel and returns how many.
func (b *Inbox) Discard(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.items[channel])
	delete(b.items, channel)
	return n
}

// Depth is the pending count for one channel.
type Depth struct {
	Channel string `json:"channel"`
	Pending int    `json:"pending"`
}

func (b *Inbox) List() []Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Depth, 0, len(b.items))
	for name, q := range b.items {
		out = append(out, Depth{Channel: name, Pending: len(q)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Channel < out[j].Channel
	})
	return out
}
