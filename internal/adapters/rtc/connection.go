// Package rtc implements the peer transport on top of pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrForeignTrack = errors.New("local track was not created by this adapter")

type Connection struct {
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu          sync.Mutex
	senders     []*sender
	streams     map[string]*remoteStream
	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(core.MediaTrack, core.MediaStream)
	onState     func(domain.PeerState)
}

func newConnection(pc *webrtc.PeerConnection, cfg core.TransportConfig) (*Connection, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:      pc,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With().Str("module", "rtc").Logger(),
		streams: make(map[string]*remoteStream),
	}

	if cfg.Relayed && cfg.Direction == domain.DirectionRecvOnly {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				cancel()
				_ = pc.Close()
				return nil, err
			}
		}
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(peerState(s))
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn == nil {
			return
		}
		if cand == nil {
			fn(nil)
			return
		}
		ci := cand.ToJSON()
		fn(&ci)
	})
	pc.OnTrack(c.handleTrack)
	return c, nil
}

func peerState(s webrtc.PeerConnectionState) domain.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerStateNegotiating
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerStateClosed
	default:
		return domain.PeerStateNew
	}
}

func (c *Connection) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.logger.Info().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Msg("OnTrack received")

	rt := newRemoteTrack(track, c.requestKeyframe)

	c.mu.Lock()
	st, ok := c.streams[track.StreamID()]
	if !ok {
		st = &remoteStream{id: track.StreamID()}
		c.streams[track.StreamID()] = st
	}
	rt.stream = st
	st.add(rt)
	fn := c.onTrack
	c.mu.Unlock()

	go rt.loop(c.ctx, &c.logger)

	if fn != nil {
		fn(rt, st)
	}
}

func (c *Connection) requestKeyframe(ssrc webrtc.SSRC) {
	err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
	if err != nil {
		c.logger.Debug().Err(err).Uint32("ssrc", uint32(ssrc)).Msg("PLI not sent")
	}
}

func (c *Connection) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(opts)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *Connection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches a local track built by NewLocalTrack.
func (c *Connection) AddTrack(t core.LocalTrack) (core.OutboundSender, error) {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return nil, ErrForeignTrack
	}
	rs, err := c.pc.AddTrack(lt.rtp)
	if err != nil {
		return nil, err
	}
	s := &sender{rtp: rs, track: lt}
	go s.drainRTCP()

	c.mu.Lock()
	c.senders = append(c.senders, s)
	c.mu.Unlock()
	return s, nil
}

func (c *Connection) RemoveSender(s core.OutboundSender) error {
	snd, ok := s.(*sender)
	if !ok {
		return ErrForeignTrack
	}
	c.mu.Lock()
	for i, cur := range c.senders {
		if cur == snd {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return c.pc.RemoveTrack(snd.rtp)
}

func (c *Connection) Senders() []core.OutboundSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.OutboundSender, len(c.senders))
	for i, s := range c.senders {
		out[i] = s
	}
	return out
}

func (c *Connection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(core.MediaTrack, core.MediaStream)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(domain.PeerState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}
