package fakes

import (
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

// Channel is an in-memory SignalChannel.
type Channel struct {
	mu          sync.Mutex
	unavailable bool
	sent        []domain.Envelope
	subs        map[domain.RoomID]map[int]func(domain.Envelope)
	next        int
	closed      bool
}

func NewChannel() *Channel {
	return &Channel{subs: make(map[domain.RoomID]map[int]func(domain.Envelope))}
}

func (c *Channel) SetUnavailable(v bool) {
	c.mu.Lock()
	c.unavailable = v
	c.mu.Unlock()
}

func (c *Channel) Send(e domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable || c.closed {
		return core.ErrChannelUnavailable
	}
	c.sent = append(c.sent, e)
	return nil
}

func (c *Channel) Subscribe(room domain.RoomID, fn func(domain.Envelope)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.subs[room] == nil {
		c.subs[room] = make(map[int]func(domain.Envelope))
	}
	c.subs[room][id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs[room], id)
		c.mu.Unlock()
	}
}

func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Deliver hands e to every subscriber of its room synchronously.
func (c *Channel) Deliver(e domain.Envelope) {
	c.mu.Lock()
	fns := make([]func(domain.Envelope), 0, len(c.subs[e.RoomID]))
	for _, fn := range c.subs[e.RoomID] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (c *Channel) Sent() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Envelope(nil), c.sent...)
}

// SentOf filters sent envelopes by kind.
func (c *Channel) SentOf(kind domain.EnvelopeKind) []domain.Envelope {
	var out []domain.Envelope
	for _, e := range c.Sent() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (c *Channel) Subscribers(room domain.RoomID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[room])
}
