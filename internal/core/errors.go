package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/roomcast/internal/domain"
)

var (
	ErrUnsupportedPlatform   = errors.New("platform offers no real-time transport")
	ErrNegotiation           = errors.New("negotiation failed")
	ErrConstraintApplication = errors.New("constraint application failed")
	ErrStale                 = errors.New("session already closed")
	ErrChannelUnavailable    = errors.New("signaling channel unavailable")
	ErrSessionActive         = errors.New("room already has an active session")
	ErrNoMediaURL            = errors.New("room has no media url for transport")
	ErrPlaybackFailed        = errors.New("playback failed")
)

// OpError wraps a failure of a named operation.
type OpError struct {
	Op   string
	Room domain.RoomID
	Err  error
}

func (e *OpError) Error() string {
	if e.Room != "" {
		return fmt.Sprintf("%s [room %s]: %v", e.Op, e.Room, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func NewOpError(op string, room domain.RoomID, err error) *OpError {
	return &OpError{Op: op, Room: room, Err: err}
}

// Negotiation wraps err so that it matches both ErrNegotiation and err.
func Negotiation(op string, room domain.RoomID, err error) error {
	return NewOpError(op, room, fmt.Errorf("%w: %w", ErrNegotiation, err))
}
