// Package pull plays a packaged stream URL without negotiation and exposes
// it as a single renderable surface.
package pull

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/roomcast/internal/app/surface"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Room    domain.RoomID
	Kind    domain.TransportKind
	URL     string
	Muted   bool
	Players core.PlayerFactory
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

type Session struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	player   core.PullPlayer
	surface  *surface.Surface
	started  bool
	closed   bool
	muted    bool
	stop     chan struct{}
	onResize []func(domain.Size)
}

func New(opts Options) (*Session, error) {
	if !opts.Kind.IsPull() {
		return nil, core.NewOpError("pull", opts.Room, fmt.Errorf("transport %q is not a pull transport", opts.Kind))
	}
	if opts.URL == "" {
		return nil, core.NewOpError("pull", opts.Room, core.ErrNoMediaURL)
	}
	if opts.Players == nil {
		return nil, core.NewOpError("pull", opts.Room, core.ErrUnsupportedPlatform)
	}
	logger := log.With().Str("module", "pull").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("room", string(opts.Room)).Str("kind", string(opts.Kind)).Logger()

	opts.Metrics.SessionOpened(string(opts.Kind))
	return &Session{
		opts:   opts,
		logger: logger,
		muted:  opts.Muted,
		stop:   make(chan struct{}),
	}, nil
}

func (s *Session) Kind() domain.TransportKind { return s.opts.Kind }
func (s *Session) URL() string                { return s.opts.URL }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Surface returns the playback surface once Start has resolved.
func (s *Session) Surface() *surface.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// OnResize registers fn for intrinsic size changes after Start.
func (s *Session) OnResize(fn func(domain.Size)) {
	s.mu.Lock()
	s.onResize = append(s.onResize, fn)
	s.mu.Unlock()
}

// Start opens the player and blocks until the initial media size is known.
// Calling Start on a started session returns the current size.
// If the session is stopped meanwhile, the result is discarded and ErrStale
// is returned.
func (s *Session) Start(ctx context.Context) (domain.Size, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Size{}, core.ErrStale
	}
	if s.started {
		var size domain.Size
		if s.surface != nil {
			size = s.surface.Size()
		}
		s.mu.Unlock()
		return size, nil
	}
	player, err := s.opts.Players.NewPlayer(s.opts.Kind)
	if err != nil {
		s.mu.Unlock()
		return domain.Size{}, core.NewOpError("start", s.opts.Room, err)
	}
	s.player = player
	s.started = true
	if s.muted {
		player.SetMuted(true)
	}
	s.mu.Unlock()

	s.logger.Info().Str("url", s.opts.URL).Msg("starting playback")
	size, err := player.Start(ctx, s.opts.URL)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug().Msg("stopped while starting, discarding result")
		return domain.Size{}, core.ErrStale
	}
	if err != nil {
		s.player = nil
		s.started = false
		s.mu.Unlock()
		_ = player.Stop()
		if !errors.Is(err, core.ErrPlaybackFailed) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", core.ErrPlaybackFailed, err)
		}
		s.logger.Error().Err(err).Msg("playback failed")
		return domain.Size{}, core.NewOpError("start", s.opts.Room, err)
	}
	s.surface = surface.New(surface.Options{
		Kind:   domain.TrackKindVideo,
		Role:   domain.RoleUnknownVideo,
		Origin: domain.OriginRemote,
		Size:   size,
		OnMute: player.SetMuted,
	})
	if s.muted {
		s.surface.SetMuted(true)
	}
	stop := s.stop
	s.mu.Unlock()

	go s.watch(player.Metadata(), stop)
	s.opts.Metrics.SurfaceBound()
	s.logger.Info().Int("width", size.Width).Int("height", size.Height).Msg("playback started")
	return size, nil
}

func (s *Session) watch(sizes <-chan domain.Size, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case size, ok := <-sizes:
			if !ok {
				return
			}
			s.resize(size)
		}
	}
}

func (s *Session) resize(size domain.Size) {
	s.mu.Lock()
	if s.closed || s.surface == nil || s.surface.Size() == size {
		s.mu.Unlock()
		return
	}
	s.surface.Resize(size)
	fns := append([]func(domain.Size){}, s.onResize...)
	s.mu.Unlock()

	s.logger.Info().Int("width", size.Width).Int("height", size.Height).Msg("media size changed")
	for _, fn := range fns {
		fn(size)
	}
}

func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	surf, player := s.surface, s.player
	s.mu.Unlock()
	switch {
	case surf != nil:
		surf.SetMuted(muted)
	case player != nil:
		player.SetMuted(muted)
	}
}

// Stop releases the player and its surface. Safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	player, surf := s.player, s.surface
	s.player, s.surface = nil, nil
	s.mu.Unlock()

	if surf != nil {
		surf.Close()
		s.opts.Metrics.SurfaceReleased()
	}
	var err error
	if player != nil {
		err = player.Stop()
	}
	s.opts.Metrics.SessionClosed(string(s.opts.Kind))
	s.logger.Info().Msg("pull session stopped")
	return err
}
