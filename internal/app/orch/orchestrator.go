// Package orch selects and drives the active media session of a room.
package orch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/roomcast/internal/app/peer"
	"github.com/dkeye/roomcast/internal/app/pull"
	"github.com/dkeye/roomcast/internal/app/quality"
	"github.com/dkeye/roomcast/internal/app/surface"
	"github.com/dkeye/roomcast/internal/app/tracks"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("not joined to a room")

type Options struct {
	// Self identifies this client in signaling envelopes.
	Self       domain.PeerID
	Signal     core.SignalChannel
	Store      core.RoomStore
	Transports core.PeerTransportFactory
	Players    core.PlayerFactory
	Renderers  core.RendererFactory
	Registry   *Registry
	Quality    domain.QualityProfile
	// ReconnectOnFailure re-offers with an ICE restart when a relayed
	// connection fails.
	ReconnectOnFailure    bool
	LegacyScreenHeuristic bool
	Metrics               *metrics.Metrics
	Logger                *zerolog.Logger
}

// Controller is the room session state machine. At most one peer or pull
// session is active at a time; a new one is opened only after the previous
// one is fully closed.
type Controller struct {
	opts     Options
	logger   zerolog.Logger
	registry *Registry
	router   *tracks.Router
	machine  *fsm.FSM

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	room     domain.RoomID
	autoplay bool
	play     bool
	snap     domain.RoomSnapshot
	seen     bool
	peer     *peer.Session
	pull     *pull.Session
	local    core.LocalStream
	quality  domain.QualityProfile
	unsubs   []func()

	// pullCur mirrors pull for surface listing without taking mu.
	pullCur atomic.Pointer[pull.Session]

	obsMu      sync.Mutex
	onSurfaces []func([]surface.Snapshot)
	onError    []func(error)
}

func NewController(opts Options) *Controller {
	logger := log.With().Str("module", "orch").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	q := opts.Quality
	if q == (domain.QualityProfile{}) {
		q = domain.DefaultQualityProfile()
	}
	c := &Controller{
		opts:     opts,
		logger:   logger,
		registry: reg,
		quality:  q.Normalize(),
	}
	c.router = tracks.NewRouter(tracks.Options{
		Renderers:             opts.Renderers,
		Metrics:               opts.Metrics,
		LegacyScreenHeuristic: opts.LegacyScreenHeuristic,
	})
	c.router.OnChange(c.notifySurfaces)
	c.machine = newMachine(&c.logger)
	return c
}

// Sessions exposes the registry read side.
func (c *Controller) Sessions() SessionLookup { return c.registry }

func (c *Controller) State() State { return State(c.machine.Current()) }

func (c *Controller) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// OnSurfaces registers fn to receive the full surface list after every
// change. fn must not call back into the controller synchronously.
func (c *Controller) OnSurfaces(fn func([]surface.Snapshot)) {
	c.obsMu.Lock()
	c.onSurfaces = append(c.onSurfaces, fn)
	c.obsMu.Unlock()
}

// OnError registers fn for failures the controller did not recover from.
func (c *Controller) OnError(fn func(error)) {
	c.obsMu.Lock()
	c.onError = append(c.onError, fn)
	c.obsMu.Unlock()
}

// Surfaces lists every bound surface: routed tracks first, then the pull
// playback surface.
func (c *Controller) Surfaces() []*surface.Surface {
	out := c.router.Surfaces()
	if ps := c.pullCur.Load(); ps != nil {
		if s := ps.Surface(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *Controller) surfaceSnapshots() []surface.Snapshot {
	surfaces := c.Surfaces()
	out := make([]surface.Snapshot, len(surfaces))
	for i, s := range surfaces {
		out[i] = s.Snapshot()
	}
	return out
}

func (c *Controller) notifySurfaces() {
	c.obsMu.Lock()
	fns := append([]func([]surface.Snapshot){}, c.onSurfaces...)
	c.obsMu.Unlock()
	if len(fns) == 0 {
		return
	}
	snaps := c.surfaceSnapshots()
	for _, fn := range fns {
		fn(snaps)
	}
}

func (c *Controller) report(err error) {
	if errors.Is(err, core.ErrStale) {
		c.logger.Debug().Err(err).Msg("stale completion ignored")
		return
	}
	c.logger.Error().Err(err).Msg("session error")
	c.obsMu.Lock()
	fns := append([]func(error){}, c.onError...)
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Join moves idle to joining, subscribes to the room's signaling and store
// updates and reacts to the room's current state.
func (c *Controller) Join(ctx context.Context, room domain.RoomID, autoplay bool) error {
	c.mu.Lock()
	if err := fire(c.machine, evJoin); err != nil {
		c.mu.Unlock()
		return core.NewOpError("join", room, err)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.room = room
	c.autoplay = autoplay
	c.mu.Unlock()

	c.logger.Info().Str("room", string(room)).Bool("autoplay", autoplay).Msg("joining room")

	var unsubs []func()
	if c.opts.Signal != nil {
		unsubs = append(unsubs, c.opts.Signal.Subscribe(room, c.HandleEnvelope))
	}
	if c.opts.Store != nil {
		unsubs = append(unsubs, c.opts.Store.Subscribe(room, c.onSnapshot))
	}
	c.mu.Lock()
	c.unsubs = unsubs
	c.mu.Unlock()

	if c.opts.Store != nil {
		if snap, ok := c.opts.Store.Snapshot(room); ok {
			c.onSnapshot(snap)
		}
	}
	return nil
}

// Leave unbinds every surface, closes the active session and ends the room.
func (c *Controller) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateEnded {
		return nil
	}
	c.endLocked()
	return nil
}

func (c *Controller) endLocked() {
	c.router.UnbindAll()
	c.closeActiveLocked()
	for _, fn := range c.unsubs {
		fn()
	}
	c.unsubs = nil
	if c.cancel != nil {
		c.cancel()
	}
	if err := fire(c.machine, evEnd); err != nil {
		c.logger.Error().Err(err).Msg("end transition")
	}
	c.logger.Info().Str("room", string(c.room)).Msg("left room")
}

// Play starts deferred pull playback. Peer transports play on connect
// regardless.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == "" {
		return ErrNotJoined
	}
	c.play = true
	if c.pull != nil && !c.pull.Started() {
		c.startPullLocked(c.pull)
	}
	return nil
}

// SessionInfo is a point-in-time view of the controller.
type SessionInfo struct {
	Room      domain.RoomID         `json:"room"`
	State     State                 `json:"state"`
	LiveState domain.LiveState      `json:"live_state,omitempty"`
	Transport domain.TransportKind  `json:"transport,omitempty"`
	Autoplay  bool                  `json:"autoplay"`
	Muted     bool                  `json:"muted"`
	PeerState domain.PeerState      `json:"peer_state,omitempty"`
	Playing   bool                  `json:"playing"`
	Quality   domain.QualityProfile `json:"quality"`
	Surfaces  []surface.Snapshot    `json:"surfaces"`
	Sessions  []domain.RoomID       `json:"sessions"`
}

func (c *Controller) Snapshot() SessionInfo {
	c.mu.Lock()
	info := SessionInfo{
		Room:      c.room,
		State:     c.State(),
		LiveState: c.snap.Room.LiveState,
		Autoplay:  c.autoplay,
		Muted:     c.snap.Muted,
		Quality:   c.quality,
	}
	switch {
	case c.peer != nil:
		info.Transport = c.peer.Kind()
		info.PeerState = c.peer.State()
		info.Playing = true
		info.Quality = c.peer.Quality()
	case c.pull != nil:
		info.Transport = c.pull.Kind()
		info.Playing = c.pull.Surface() != nil
	}
	c.mu.Unlock()
	info.Surfaces = c.surfaceSnapshots()
	info.Sessions = c.registry.Rooms()
	return info
}

// ApplyQuality lays p over the desired profile and applies the result to the
// active peer session, if any. Zero fields are left as they are and negative
// ones reset to the platform default. Results are per field.
func (c *Controller) ApplyQuality(p domain.QualityProfile) []quality.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quality = p.Over(c.quality)
	if c.peer == nil {
		return nil
	}
	results := c.peer.ApplyQuality(p)
	base := c.peer.Quality()
	for _, r := range results {
		if r.Err != nil && !r.Pending {
			c.quality.Set(r.Field, base.Get(r.Field))
		}
	}
	return results
}
