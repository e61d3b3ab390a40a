package core

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/dkeye/roomcast/internal/core SignalChannel,RoomStore

import "github.com/dkeye/roomcast/internal/domain"

// SignalChannel abstracts the signaling transport.
// Owned by the adapter; the orchestrator only sends and subscribes.
type SignalChannel interface {
	// Send returns ErrChannelUnavailable when there is no live connection.
	Send(domain.Envelope) error
	// Subscribe delivers envelopes for room in arrival order.
	Subscribe(room domain.RoomID, fn func(domain.Envelope)) (unsubscribe func())
	Close()
}
