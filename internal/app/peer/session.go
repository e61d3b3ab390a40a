// Package peer owns the lifecycle of one peer connection for a room and a
// remote endpoint: negotiation, candidate relay, remote track intake and
// teardown.
package peer

import (
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/roomcast/internal/app/quality"
	"github.com/dkeye/roomcast/internal/app/tracks"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/dkeye/roomcast/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Room      domain.RoomID
	Self      domain.PeerID
	Receiver  domain.PeerID
	Direction domain.Direction
	// Relayed sessions talk to a media server instead of the publisher.
	Relayed bool
	// Quality is applied once outbound video exists.
	Quality *domain.QualityProfile

	Transports core.PeerTransportFactory
	Signal     core.SignalChannel
	Router     *tracks.Router
	Metrics    *metrics.Metrics
	Logger     *zerolog.Logger
}

type Session struct {
	opts    Options
	kind    domain.TransportKind
	logger  zerolog.Logger
	quality *quality.Controller

	// opMu serializes signaling-driven operations so candidates and
	// descriptions are applied in arrival order.
	opMu sync.Mutex

	mu        sync.Mutex
	pc        core.PeerTransport
	state     domain.PeerState
	closed    bool
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	pending   []webrtc.ICECandidateInit
	stream    core.LocalStream
	observers []func(domain.PeerState)
	// renegotiate is set when outbound transceivers changed after the
	// first offer.
	renegotiate bool
}

// Open checks that the platform can build a peer connection. The connection
// itself is created on first use.
func Open(opts Options) (*Session, error) {
	if opts.Transports == nil {
		return nil, core.NewOpError("open", opts.Room, core.ErrUnsupportedPlatform)
	}
	if err := opts.Transports.Supported(); err != nil {
		return nil, core.NewOpError("open", opts.Room, err)
	}
	if opts.Direction == "" {
		opts.Direction = domain.DirectionRecvOnly
	}
	kind := domain.TransportPeerToPeer
	if opts.Relayed {
		kind = domain.TransportRelayedPeer
	}
	logger := log.With().Str("module", "peer").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().
		Str("room", string(opts.Room)).
		Str("receiver", string(opts.Receiver)).
		Str("kind", string(kind)).
		Logger()

	s := &Session{
		opts:   opts,
		kind:   kind,
		logger: logger,
		state:  domain.PeerStateNew,
	}
	s.quality = quality.NewController(s, opts.Metrics, &s.logger)
	if opts.Quality != nil {
		s.quality.Apply(*opts.Quality)
	}
	opts.Metrics.SessionOpened(string(kind))
	s.logger.Info().Str("direction", string(opts.Direction)).Msg("peer session opened")
	return s, nil
}

func (s *Session) Kind() domain.TransportKind { return s.kind }
func (s *Session) Room() domain.RoomID        { return s.opts.Room }
func (s *Session) Receiver() domain.PeerID    { return s.opts.Receiver }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) State() domain.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for every connection state transition.
// failed and disconnected are reported, never recovered here.
func (s *Session) OnStateChange(fn func(domain.PeerState)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// connection returns the transport, creating it on first use.
func (s *Session) connection() (core.PeerTransport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrStale
	}
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := s.opts.Transports.NewTransport(core.TransportConfig{
		Relayed:   s.opts.Relayed,
		Direction: s.opts.Direction,
	})
	if err != nil {
		return nil, core.NewOpError("open", s.opts.Room, err)
	}
	pc.OnICECandidate(s.relayCandidate)
	pc.OnTrack(s.handleTrack)
	pc.OnConnectionStateChange(s.handleState)
	s.pc = pc
	return pc, nil
}

func (s *Session) stale(op string) error {
	s.logger.Debug().Str("op", op).Msg("session closed, ignoring")
	return core.ErrStale
}

func (s *Session) negotiationErr(op string, err error) error {
	s.opts.Metrics.NegotiationError(op)
	s.logger.Error().Err(err).Str("op", op).Msg("negotiation failed")
	return core.Negotiation(op, s.opts.Room, err)
}

func (s *Session) markNegotiating() {
	s.mu.Lock()
	if s.state == domain.PeerStateNew {
		s.state = domain.PeerStateNegotiating
	}
	s.mu.Unlock()
}

// CreateOffer builds an offer. Once a remote description exists the offer
// restarts ICE, so the same call serves renegotiation after a failure.
// The session never retries on its own.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	pc, err := s.connection()
	if err != nil {
		if errors.Is(err, core.ErrStale) {
			return webrtc.SessionDescription{}, s.stale("createOffer")
		}
		return webrtc.SessionDescription{}, err
	}
	s.markNegotiating()

	s.mu.Lock()
	restart := s.remote != nil && !s.renegotiate
	s.renegotiate = false
	s.mu.Unlock()

	sd, err := pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
	if s.Closed() {
		return webrtc.SessionDescription{}, s.stale("createOffer")
	}
	if err != nil {
		return webrtc.SessionDescription{}, s.negotiationErr("createOffer", err)
	}
	return sd, nil
}

func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	pc, err := s.connection()
	if err != nil {
		if errors.Is(err, core.ErrStale) {
			return webrtc.SessionDescription{}, s.stale("createAnswer")
		}
		return webrtc.SessionDescription{}, err
	}
	sd, err := pc.CreateAnswer()
	if s.Closed() {
		return webrtc.SessionDescription{}, s.stale("createAnswer")
	}
	if err != nil {
		return webrtc.SessionDescription{}, s.negotiationErr("createAnswer", err)
	}
	return sd, nil
}

func sameDescription(a *webrtc.SessionDescription, b webrtc.SessionDescription) bool {
	return a != nil && a.Type == b.Type && a.SDP == b.SDP
}

// SetLocalDescription is a no-op for the description already applied.
func (s *Session) SetLocalDescription(sd webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.stale("setLocalDescription")
	}
	if sameDescription(s.local, sd) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	pc, err := s.connection()
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(sd); err != nil {
		if s.Closed() {
			return s.stale("setLocalDescription")
		}
		return s.negotiationErr("setLocalDescription", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.stale("setLocalDescription")
	}
	s.local = &sd
	if s.state == domain.PeerStateNew {
		s.state = domain.PeerStateNegotiating
	}
	return nil
}

// SetRemoteDescription applies sd and flushes buffered candidates in arrival
// order. It is a no-op for the description already applied.
func (s *Session) SetRemoteDescription(sd webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.stale("setRemoteDescription")
	}
	if sameDescription(s.remote, sd) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	pc, err := s.connection()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(sd); err != nil {
		if s.Closed() {
			return s.stale("setRemoteDescription")
		}
		return s.negotiationErr("setRemoteDescription", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.stale("setRemoteDescription")
	}
	s.remote = &sd
	if s.state == domain.PeerStateNew {
		s.state = domain.PeerStateNegotiating
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("buffered candidate rejected")
		}
	}
	if len(pending) > 0 {
		s.logger.Debug().Int("count", len(pending)).Msg("flushed buffered candidates")
	}

	s.applyRoleHints(sd)
	return nil
}

func (s *Session) applyRoleHints(sd webrtc.SessionDescription) {
	if s.opts.Router == nil {
		return
	}
	hints, err := roleHints(sd.SDP)
	if err != nil {
		s.logger.Debug().Err(err).Msg("no role hints in remote description")
		return
	}
	for id, role := range hints {
		s.opts.Router.SetRoleHint(id, role)
	}
}

// AddRemoteCandidate applies c, or buffers it until a remote description is
// set.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.stale("addRemoteCandidate")
	}
	if s.remote == nil {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		s.opts.Metrics.CandidateBuffered()
		return nil
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.AddICECandidate(c); err != nil {
		if s.Closed() {
			return s.stale("addRemoteCandidate")
		}
		return s.negotiationErr("addRemoteCandidate", err)
	}
	return nil
}

// Pending reports the number of buffered remote candidates.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) relayCandidate(c *webrtc.ICECandidateInit) {
	if c == nil {
		s.logger.Debug().Msg("candidate gathering complete")
		return
	}
	if s.Closed() {
		return
	}
	env, err := domain.NewCandidateEnvelope(s.opts.Room, s.opts.Self, s.opts.Receiver, *c)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode candidate")
		return
	}
	if s.opts.Signal == nil {
		return
	}
	if err := s.opts.Signal.Send(env); err != nil {
		if errors.Is(err, core.ErrChannelUnavailable) {
			s.opts.Metrics.SignalDropped(string(env.Kind))
			s.logger.Warn().Err(err).Msg("candidate dropped")
			return
		}
		s.logger.Error().Err(err).Msg("send candidate")
	}
}

func (s *Session) handleTrack(track core.MediaTrack, stream core.MediaStream) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	local := s.stream
	s.mu.Unlock()

	if local != nil {
		for _, lt := range local.LocalTracks() {
			if lt.ID() == track.ID() {
				s.logger.Debug().Str("track_id", track.ID()).Msg("track already on outbound stream")
				return
			}
		}
	}
	s.logger.Info().
		Str("track_id", track.ID()).
		Str("kind", string(track.Kind())).
		Str("stream_id", track.StreamID()).
		Msg("remote track")
	if s.opts.Router != nil {
		s.opts.Router.Ingest(stream, domain.OriginRemote)
	}
}

func (s *Session) handleState(st domain.PeerState) {
	s.mu.Lock()
	if s.closed || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	obs := append([]func(domain.PeerState){}, s.observers...)
	s.mu.Unlock()

	ev := s.logger.Info()
	if st == domain.PeerStateFailed || st == domain.PeerStateDisconnected {
		ev = s.logger.Warn()
	}
	ev.Str("state", string(st)).Msg("peer state")
	for _, fn := range obs {
		fn(st)
	}
}

// Senders lists the outbound senders of the connection.
func (s *Session) Senders() []core.OutboundSender {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Senders()
}

// ApplyQuality applies each set field independently. Failures stay inside
// the returned results.
func (s *Session) ApplyQuality(p domain.QualityProfile) []quality.Result {
	if s.Closed() {
		_ = s.stale("applyQuality")
		return nil
	}
	return s.quality.Apply(p)
}

func (s *Session) Quality() domain.QualityProfile { return s.quality.Baseline() }

// AttachLocalStream replaces the outbound tracks with those of stream and
// re-applies the desired quality to them. A track takes over a sender of the
// same kind in place; added or removed senders mark the session for
// renegotiation. A receive-only session only remembers the stream so its
// tracks are not taken for remote ones.
func (s *Session) AttachLocalStream(stream core.LocalStream) error {
	pc, err := s.connection()
	if err != nil {
		if errors.Is(err, core.ErrStale) {
			return s.stale("attachLocalStream")
		}
		return err
	}
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	if !s.opts.Direction.Sends() {
		return nil
	}
	var next []core.LocalTrack
	if stream != nil {
		next = stream.LocalTracks()
	}
	senders := pc.Senders()
	changed := false
	for _, lt := range next {
		if i := slices.IndexFunc(senders, func(snd core.OutboundSender) bool {
			return snd.Track().Kind() == lt.Kind()
		}); i >= 0 {
			snd := senders[i]
			senders = slices.Delete(senders, i, i+1)
			err := snd.ReplaceTrack(lt)
			if err == nil {
				continue
			}
			s.logger.Warn().Err(err).Str("track_id", lt.ID()).Msg("replace track failed, re-adding")
			if err := pc.RemoveSender(snd); err != nil {
				s.logger.Warn().Err(err).Msg("remove sender")
			}
		}
		if _, err := pc.AddTrack(lt); err != nil {
			return core.NewOpError("attachLocalStream", s.opts.Room, err)
		}
		changed = true
	}
	for _, snd := range senders {
		if err := pc.RemoveSender(snd); err != nil {
			s.logger.Warn().Err(err).Msg("remove sender")
		}
		changed = true
	}
	if changed {
		s.mu.Lock()
		s.renegotiate = s.local != nil
		s.mu.Unlock()
	}
	for _, r := range s.quality.Reapply() {
		if !r.OK() && !r.Pending {
			s.logger.Warn().Err(r.Err).Str("field", string(r.Field)).Msg("quality not reapplied")
		}
	}
	return nil
}

// NegotiationNeeded reports whether outbound transceivers changed since the
// last offer.
func (s *Session) NegotiationNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renegotiate
}

// Close removes every outbound sender and closes the connection. Remote
// surfaces are unbound before the connection goes away. Safe to call more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pc := s.pc
	s.pc = nil
	s.pending = nil
	s.state = domain.PeerStateClosed
	obs := append([]func(domain.PeerState){}, s.observers...)
	s.mu.Unlock()

	if s.opts.Router != nil {
		s.opts.Router.UnbindOrigin(domain.OriginRemote)
	}
	var closeErr error
	if pc != nil {
		for _, snd := range pc.Senders() {
			if err := pc.RemoveSender(snd); err != nil {
				s.logger.Warn().Err(err).Msg("remove sender")
			}
		}
		closeErr = pc.Close()
	}
	s.opts.Metrics.SessionClosed(string(s.kind))
	if closeErr != nil {
		s.logger.Error().Err(closeErr).Msg("close error")
	} else {
		s.logger.Info().Msg("peer session closed")
	}
	for _, fn := range obs {
		fn(domain.PeerStateClosed)
	}
	return nil
}
