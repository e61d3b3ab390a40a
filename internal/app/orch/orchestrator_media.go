package orch

import (
	"errors"

	"github.com/dkeye/roomcast/internal/app/peer"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

var ErrNotOfferer = errors.New("peer-to-peer sessions are renegotiated by the publisher")

// HandleEnvelope applies one signaling message. The signaling adapter calls
// it in arrival order.
func (c *Controller) HandleEnvelope(env domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Receiver != "" && c.opts.Self != "" && env.Receiver != c.opts.Self {
		return
	}
	if env.Kind == domain.EnvelopeTrackMeta {
		meta, err := env.TrackMeta()
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad trackMeta")
			return
		}
		c.router.SetRoleHint(meta.TrackID, meta.Role)
		return
	}
	if env.Kind == domain.EnvelopeRoomLiveState {
		// The room store consumes these.
		return
	}

	sess := c.peer
	if sess == nil {
		c.logger.Debug().Str("kind", string(env.Kind)).Msg("no peer session, dropping envelope")
		return
	}
	if err := c.applyEnvelopeLocked(sess, env); err != nil {
		c.report(err)
	}
}

func (c *Controller) applyEnvelopeLocked(sess *peer.Session, env domain.Envelope) error {
	switch env.Kind {
	case domain.EnvelopeOffer:
		sd, err := env.Description()
		if err != nil {
			return err
		}
		if err := sess.SetRemoteDescription(sd); err != nil {
			return err
		}
		answer, err := sess.CreateAnswer()
		if err != nil {
			return err
		}
		if err := sess.SetLocalDescription(answer); err != nil {
			return err
		}
		to := env.Sender
		if to == "" {
			to = sess.Receiver()
		}
		return c.sendLocked(domain.EnvelopeAnswer, to, answer)
	case domain.EnvelopeAnswer:
		sd, err := env.Description()
		if err != nil {
			return err
		}
		return sess.SetRemoteDescription(sd)
	case domain.EnvelopeCandidate:
		cand, err := env.Candidate()
		if err != nil {
			return err
		}
		return sess.AddRemoteCandidate(cand)
	}
	c.logger.Debug().Str("kind", string(env.Kind)).Msg("unhandled envelope")
	return nil
}

// watchPeer reacts to connection state. Failures are reported; a relayed
// session is re-offered with an ICE restart when reconnection is enabled.
func (c *Controller) watchPeer(sess *peer.Session) func(domain.PeerState) {
	return func(st domain.PeerState) {
		if st == domain.PeerStateClosed {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.peer != sess {
			return
		}
		switch st {
		case domain.PeerStateFailed:
			c.report(core.NewOpError("connection", c.room, errors.New("peer connection failed")))
			if c.opts.ReconnectOnFailure && sess.Kind() == domain.TransportRelayedPeer {
				c.logger.Info().Msg("re-offering with ice restart")
				if err := c.offerLocked(sess); err != nil {
					c.report(err)
				}
			}
		case domain.PeerStateDisconnected:
			c.logger.Warn().Msg("peer disconnected")
		case domain.PeerStateConnected:
			c.logger.Info().Msg("peer connected")
		}
		c.notifySurfaces()
	}
}

// Renegotiate re-offers the active relayed session with an ICE restart.
func (c *Controller) Renegotiate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.peer
	if sess == nil {
		return core.NewOpError("renegotiate", c.room, ErrNotJoined)
	}
	if sess.Kind() != domain.TransportRelayedPeer {
		return core.NewOpError("renegotiate", c.room, ErrNotOfferer)
	}
	return c.offerLocked(sess)
}

// SetLocalStream replaces the local capture stream. Local surfaces are
// rebuilt, remote ones are left alone, and the active peer session sends the
// new tracks with the desired quality re-applied. A relayed session is
// re-offered when the set of outbound senders changed.
func (c *Controller) SetLocalStream(stream core.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local = stream
	c.router.UnbindOrigin(domain.OriginLocal)
	if stream != nil {
		c.router.Ingest(localMedia{stream}, domain.OriginLocal)
	}
	sess := c.peer
	if sess == nil {
		return nil
	}
	if err := sess.AttachLocalStream(stream); err != nil {
		return err
	}
	if !sess.NegotiationNeeded() {
		return nil
	}
	if sess.Kind() != domain.TransportRelayedPeer {
		c.logger.Warn().Msg("outbound tracks changed, waiting for the publisher to re-offer")
		return nil
	}
	c.logger.Info().Msg("outbound tracks changed, re-offering")
	return c.offerLocked(sess)
}

// localMedia presents a capture stream to the router.
type localMedia struct {
	core.LocalStream
}

func (l localMedia) Tracks() []core.MediaTrack {
	lts := l.LocalTracks()
	out := make([]core.MediaTrack, len(lts))
	for i, t := range lts {
		out[i] = t
	}
	return out
}
