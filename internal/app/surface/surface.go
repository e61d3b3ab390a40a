package surface

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
)

var ErrClosed = errors.New("surface closed")

type State int32

const (
	StateOk State = iota
	StateMuted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOk:
		return "ok"
	case StateMuted:
		return "muted"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Options struct {
	TrackID  string
	Kind     domain.TrackKind
	Role     domain.TrackRole
	Origin   domain.Origin
	Size     domain.Size
	Renderer core.Renderer
	// OnMute forwards mute changes to an element that renders by itself,
	// e.g. a pull player.
	OnMute func(bool)
	// Release detaches the surface from its source. Called once on Close.
	Release func()
}

// Surface is the renderable sink bound to exactly one track, or to a pull
// player when TrackID is empty.
type Surface struct {
	id       string
	trackID  string
	kind     domain.TrackKind
	origin   domain.Origin
	renderer core.Renderer
	onMute   func(bool)
	release  func()

	state atomic.Int32 // Zero by default (StateOk)

	mu   sync.RWMutex
	role domain.TrackRole
	size domain.Size

	closeOnce sync.Once
}

func New(opts Options) *Surface {
	return &Surface{
		id:       uuid.NewString(),
		trackID:  opts.TrackID,
		kind:     opts.Kind,
		origin:   opts.Origin,
		renderer: opts.Renderer,
		onMute:   opts.OnMute,
		release:  opts.Release,
		role:     opts.Role,
		size:     opts.Size,
	}
}

func (s *Surface) ID() string              { return s.id }
func (s *Surface) TrackID() string         { return s.trackID }
func (s *Surface) Kind() domain.TrackKind  { return s.kind }
func (s *Surface) Origin() domain.Origin   { return s.origin }
func (s *Surface) GetState() State         { return State(s.state.Load()) }
func (s *Surface) Closed() bool            { return s.GetState() == StateClosed }
func (s *Surface) Muted() bool             { return s.GetState() == StateMuted }
func (s *Surface) Renderer() core.Renderer { return s.renderer }

func (s *Surface) Role() domain.TrackRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Surface) SetRole(r domain.TrackRole) {
	s.mu.Lock()
	s.role = r
	s.mu.Unlock()
}

func (s *Surface) Size() domain.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Surface) Resize(size domain.Size) {
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
}

// SetMuted is a no-op on a closed surface.
func (s *Surface) SetMuted(muted bool) {
	from, to := int32(StateOk), int32(StateMuted)
	if !muted {
		from, to = to, from
	}
	if !s.state.CompareAndSwap(from, to) {
		return
	}
	if s.onMute != nil {
		s.onMute(muted)
	}
}

// WriteRTP forwards a packet to the renderer. Audio is dropped while muted.
func (s *Surface) WriteRTP(pkt *rtp.Packet) error {
	switch s.GetState() {
	case StateClosed:
		return ErrClosed
	case StateMuted:
		if s.kind == domain.TrackKindAudio {
			return nil
		}
	case StateOk:
	}
	if s.renderer == nil {
		return nil
	}
	return s.renderer.WriteRTP(pkt)
}

// Close detaches and releases the binding. Safe to call more than once.
func (s *Surface) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if s.release != nil {
			s.release()
		}
		if s.renderer != nil {
			_ = s.renderer.Close()
		}
	})
}

// Snapshot is an immutable view of a surface.
type Snapshot struct {
	ID      string           `json:"id"`
	TrackID string           `json:"track_id,omitempty"`
	Kind    domain.TrackKind `json:"kind,omitempty"`
	Role    domain.TrackRole `json:"role,omitempty"`
	Origin  domain.Origin    `json:"origin,omitempty"`
	State   string           `json:"state"`
	Width   int              `json:"width,omitempty"`
	Height  int              `json:"height,omitempty"`
}

func (s *Surface) Snapshot() Snapshot {
	size := s.Size()
	return Snapshot{
		ID:      s.id,
		TrackID: s.trackID,
		Kind:    s.kind,
		Role:    s.Role(),
		Origin:  s.origin,
		State:   s.GetState().String(),
		Width:   size.Width,
		Height:  size.Height,
	}
}
