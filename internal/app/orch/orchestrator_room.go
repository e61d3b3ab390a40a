package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/roomcast/internal/app/peer"
	"github.com/dkeye/roomcast/internal/app/pull"
	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

// onSnapshot reconciles the active session with the room store.
func (c *Controller) onSnapshot(snap domain.RoomSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateIdle, StateEnded:
		return
	}
	if snap.Room.ID != "" && snap.Room.ID != c.room {
		return
	}
	prev, seen := c.snap, c.seen
	c.snap, c.seen = snap, true

	if !seen || prev.Muted != snap.Muted {
		c.applyMuteLocked(snap.Muted)
	}

	switch snap.Room.LiveState {
	case domain.LiveStateEnded:
		c.endLocked()
	case domain.LiveStateNotLive:
		if c.peer != nil || c.pull != nil {
			c.logger.Info().Str("room", string(c.room)).Msg("room went off air")
			c.closeActiveLocked()
		}
		if err := fire(c.machine, evNotLive); err != nil {
			c.logger.Debug().Err(err).Msg("not live")
		}
	case domain.LiveStateLive:
		c.goLiveLocked(prev, snap.Room)
	}
}

func (c *Controller) applyMuteLocked(muted bool) {
	c.router.SetMuted(muted)
	if c.pull != nil {
		c.pull.SetMuted(muted)
	}
	c.logger.Info().Bool("muted", muted).Msg("mute policy applied")
}

func (c *Controller) goLiveLocked(prev domain.RoomSnapshot, room domain.Room) {
	kind := room.Transport
	if !kind.Valid() {
		c.report(core.NewOpError("live", c.room, fmt.Errorf("unknown transport kind %q", kind)))
		return
	}
	switch {
	case c.peer != nil && c.peer.Kind() == kind && !c.peer.Closed():
		return
	case c.pull != nil && c.pull.Kind() == kind && c.pull.URL() == room.Media.For(kind):
		return
	}
	if c.peer != nil || c.pull != nil {
		c.logger.Info().
			Str("from", string(prev.Room.Transport)).
			Str("to", string(kind)).
			Msg("transport changed, closing previous session")
		c.closeActiveLocked()
	}

	var err error
	if kind.IsPeer() {
		err = c.openPeerLocked(room)
		if errors.Is(err, core.ErrUnsupportedPlatform) {
			if fallback := pullFallback(room.Media); fallback != "" {
				c.logger.Warn().Err(err).Str("fallback", string(fallback)).Msg("peer transport unsupported, falling back to pull")
				c.report(err)
				err = c.openPullLocked(fallback, room.Media.For(fallback))
			}
		}
	} else {
		err = c.openPullLocked(kind, room.Media.For(kind))
	}
	if err != nil {
		c.report(err)
	}
}

// pullFallback picks a packaged transport the room also publishes.
func pullFallback(urls domain.MediaURLs) domain.TransportKind {
	switch {
	case urls.Segmented != "":
		return domain.TransportPackagedSegmented
	case urls.Progressive != "":
		return domain.TransportPackagedProgressive
	}
	return ""
}

func (c *Controller) openPeerLocked(room domain.Room) error {
	relayed := room.Transport == domain.TransportRelayedPeer
	receiver := room.Publisher
	if relayed {
		receiver = room.Relay
	}
	direction := domain.DirectionRecvOnly
	if c.local != nil {
		direction = domain.DirectionSendRecv
	}
	q := c.quality
	sess, err := peer.Open(peer.Options{
		Room:       c.room,
		Self:       c.opts.Self,
		Receiver:   receiver,
		Direction:  direction,
		Relayed:    relayed,
		Quality:    &q,
		Transports: c.opts.Transports,
		Signal:     c.opts.Signal,
		Router:     c.router,
		Metrics:    c.opts.Metrics,
	})
	if err != nil {
		return err
	}
	if err := c.registry.Insert(c.room, sess); err != nil {
		_ = sess.Close()
		return err
	}
	c.peer = sess
	sess.OnStateChange(c.watchPeer(sess))

	if c.local != nil {
		if err := sess.AttachLocalStream(c.local); err != nil {
			c.report(err)
		}
	}
	if err := fire(c.machine, evPeer); err != nil {
		return err
	}
	if relayed {
		// The relay answers; a publisher offers to peer-to-peer viewers.
		return c.offerLocked(sess)
	}
	return nil
}

// offerLocked creates and sends an offer. Once a remote description exists
// the offer carries an ICE restart.
func (c *Controller) offerLocked(sess *peer.Session) error {
	sd, err := sess.CreateOffer()
	if err != nil {
		return err
	}
	if err := sess.SetLocalDescription(sd); err != nil {
		return err
	}
	return c.sendLocked(domain.EnvelopeOffer, sess.Receiver(), sd)
}

func (c *Controller) sendLocked(kind domain.EnvelopeKind, to domain.PeerID, payload any) error {
	env, err := domain.NewEnvelope(kind, c.room, c.opts.Self, to, payload)
	if err != nil {
		return err
	}
	if c.opts.Signal == nil {
		return core.ErrChannelUnavailable
	}
	if err := c.opts.Signal.Send(env); err != nil {
		if errors.Is(err, core.ErrChannelUnavailable) {
			c.opts.Metrics.SignalDropped(string(kind))
			c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("signal dropped")
			return nil
		}
		return core.NewOpError("send", c.room, err)
	}
	return nil
}

func (c *Controller) openPullLocked(kind domain.TransportKind, url string) error {
	ps, err := pull.New(pull.Options{
		Room:    c.room,
		Kind:    kind,
		URL:     url,
		Muted:   c.snap.Muted,
		Players: c.opts.Players,
		Metrics: c.opts.Metrics,
	})
	if err != nil {
		return err
	}
	if err := c.registry.Insert(c.room, ps); err != nil {
		_ = ps.Stop()
		return err
	}
	c.pull = ps
	c.pullCur.Store(ps)
	ps.OnResize(func(domain.Size) { c.notifySurfaces() })

	if err := fire(c.machine, evPull); err != nil {
		return err
	}
	if c.autoplay || c.play {
		c.startPullLocked(ps)
	} else {
		c.logger.Info().Str("url", url).Msg("autoplay off, waiting for play")
	}
	return nil
}

// startPullLocked starts playback without blocking the controller. The
// result is dropped if ps is no longer current by then.
func (c *Controller) startPullLocked(ps *pull.Session) {
	ctx := c.ctx
	go func() {
		if _, err := ps.Start(ctx); err != nil {
			c.report(err)
			return
		}
		c.notifySurfaces()
	}()
}

// closeActiveLocked fully closes the active session before anything else
// may open.
func (c *Controller) closeActiveLocked() {
	if sess := c.peer; sess != nil {
		c.peer = nil
		if err := sess.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close peer session")
		}
		c.registry.Remove(c.room, sess)
	}
	if ps := c.pull; ps != nil {
		c.pull = nil
		c.pullCur.Store(nil)
		if err := ps.Stop(); err != nil {
			c.logger.Error().Err(err).Msg("stop pull session")
		}
		c.registry.Remove(c.room, ps)
		c.notifySurfaces()
	}
}
