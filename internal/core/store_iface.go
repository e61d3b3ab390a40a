package core

import "github.com/dkeye/roomcast/internal/domain"

// RoomStore holds room metadata and playback flags.
// The orchestrator never writes live state or transport kind.
type RoomStore interface {
	Snapshot(room domain.RoomID) (domain.RoomSnapshot, bool)
	Subscribe(room domain.RoomID, fn func(domain.RoomSnapshot)) (unsubscribe func())
}
