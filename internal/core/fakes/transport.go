package fakes

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Sender struct {
	mu     sync.Mutex
	track  core.LocalTrack
	params core.SendParameters
	// MaxBitrateBps makes SetParameters fail above this bound when > 0.
	MaxBitrateBps uint64
	// Err makes every SetParameters call fail.
	Err error
	// ReplaceErr makes every ReplaceTrack call fail.
	ReplaceErr error
	replaced   int
}

func NewSender(track core.LocalTrack) *Sender {
	return &Sender{track: track, params: core.SendParameters{Encodings: []core.Encoding{{}}}}
}

func (s *Sender) Track() core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track core.LocalTrack) error {
	if s.ReplaceErr != nil {
		return s.ReplaceErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if track.Kind() != s.track.Kind() {
		return fmt.Errorf("replace %s track with %s", s.track.Kind(), track.Kind())
	}
	s.track = track
	s.replaced++
	return nil
}

// Replaced counts successful ReplaceTrack calls.
func (s *Sender) Replaced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

func (s *Sender) Parameters() core.SendParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.SendParameters{Encodings: append([]core.Encoding(nil), s.params.Encodings...)}
}

func (s *Sender) SetParameters(p core.SendParameters) error {
	if s.Err != nil {
		return s.Err
	}
	for _, e := range p.Encodings {
		if s.MaxBitrateBps > 0 && e.MaxBitrateBps > s.MaxBitrateBps {
			return fmt.Errorf("bitrate %d over limit %d", e.MaxBitrateBps, s.MaxBitrateBps)
		}
	}
	s.mu.Lock()
	s.params = core.SendParameters{Encodings: append([]core.Encoding(nil), p.Encodings...)}
	s.mu.Unlock()
	return nil
}

// Transport records every call made by a peer session.
type Transport struct {
	Config core.TransportConfig

	OfferErr  error
	AnswerErr error
	// BeforeOffer runs inside CreateOffer before it returns.
	BeforeOffer func()

	mu          sync.Mutex
	offers      []*webrtc.OfferOptions
	local       []webrtc.SessionDescription
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	senders     []core.OutboundSender
	closed      int
	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(core.MediaTrack, core.MediaStream)
	onState     func(domain.PeerState)
}

var errTransportClosed = errors.New("transport closed")

func (t *Transport) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	t.offers = append(t.offers, opts)
	hook := t.BeforeOffer
	err := t.OfferErr
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer-%d", len(t.Offers()))}, nil
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	if t.AnswerErr != nil {
		return webrtc.SessionDescription{}, t.AnswerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *Transport) SetLocalDescription(sd webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed > 0 {
		return errTransportClosed
	}
	t.local = append(t.local, sd)
	return nil
}

func (t *Transport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed > 0 {
		return errTransportClosed
	}
	t.remote = append(t.remote, sd)
	return nil
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.remote) == 0 {
		return errors.New("candidate before remote description")
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *Transport) AddTrack(track core.LocalTrack) (core.OutboundSender, error) {
	s := NewSender(track)
	t.mu.Lock()
	t.senders = append(t.senders, s)
	t.mu.Unlock()
	return s, nil
}

func (t *Transport) RemoveSender(s core.OutboundSender) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.senders {
		if cur == s {
			t.senders = append(t.senders[:i], t.senders[i+1:]...)
			return nil
		}
	}
	return errors.New("unknown sender")
}

func (t *Transport) Senders() []core.OutboundSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.OutboundSender(nil), t.senders...)
}

func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnTrack(fn func(core.MediaTrack, core.MediaStream)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *Transport) OnConnectionStateChange(fn func(domain.PeerState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

// EmitCandidate simulates a locally gathered candidate; nil ends gathering.
func (t *Transport) EmitCandidate(c *webrtc.ICECandidateInit) {
	t.mu.Lock()
	fn := t.onCandidate
	t.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (t *Transport) EmitTrack(track core.MediaTrack, stream core.MediaStream) {
	t.mu.Lock()
	fn := t.onTrack
	t.mu.Unlock()
	if fn != nil {
		fn(track, stream)
	}
}

func (t *Transport) EmitState(s domain.PeerState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) Offers() []*webrtc.OfferOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*webrtc.OfferOptions(nil), t.offers...)
}

func (t *Transport) Local() []webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), t.local...)
}

func (t *Transport) Remote() []webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), t.remote...)
}

func (t *Transport) Candidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), t.candidates...)
}

func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type TransportFactory struct {
	Unsupported bool
	// Configure runs on every new transport before it is returned.
	Configure func(*Transport)

	mu         sync.Mutex
	transports []*Transport
}

func (f *TransportFactory) Supported() error {
	if f.Unsupported {
		return core.ErrUnsupportedPlatform
	}
	return nil
}

func (f *TransportFactory) NewTransport(cfg core.TransportConfig) (core.PeerTransport, error) {
	if err := f.Supported(); err != nil {
		return nil, err
	}
	t := &Transport{Config: cfg}
	if f.Configure != nil {
		f.Configure(t)
	}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t, nil
}

func (f *TransportFactory) Transports() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.transports...)
}

// Last returns the most recently created transport or nil.
func (f *TransportFactory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}
