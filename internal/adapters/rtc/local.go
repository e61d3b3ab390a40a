package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"
)

// MaxHeight is the largest capture height a local track accepts.
const MaxHeight = 4320

// LocalTrack is an outbound track fed with RTP by a capture source. It
// enforces the encoding bounds set through its sender: packets over the
// bitrate budget and frames over the framerate are dropped.
type LocalTrack struct {
	rtp      *webrtc.TrackLocalStaticRTP
	kind     domain.TrackKind
	now      func() time.Time
	done     chan struct{}
	doneOnce sync.Once

	mu          sync.Mutex
	constraints core.VideoConstraints
	params      core.SendParameters
	limiter     *rate.Limiter
	minFrame    time.Duration
	frameTS     uint32
	frameStart  time.Time
	dropFrame   bool
	preview     core.PacketSink
}

// NewLocalTrack creates a track for codec, e.g. webrtc.MimeTypeVP8.
func NewLocalTrack(mimeType, id, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{
		rtp:    track,
		kind:   trackKind(track.Kind()),
		now:    time.Now,
		done:   make(chan struct{}),
		params: core.SendParameters{Encodings: []core.Encoding{{}}},
	}, nil
}

func (t *LocalTrack) ID() string             { return t.rtp.ID() }
func (t *LocalTrack) StreamID() string       { return t.rtp.StreamID() }
func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }
func (t *LocalTrack) Codec() string          { return t.rtp.Codec().MimeType }
func (t *LocalTrack) Done() <-chan struct{}  { return t.done }

// Attach mirrors written packets to a local preview sink.
func (t *LocalTrack) Attach(sink core.PacketSink) func() {
	t.mu.Lock()
	t.preview = sink
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		if t.preview == sink {
			t.preview = nil
		}
		t.mu.Unlock()
	}
}

// Stop ends the track for every consumer.
func (t *LocalTrack) Stop() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *LocalTrack) ApplyConstraints(c core.VideoConstraints) error {
	if t.kind != domain.TrackKindVideo && c.Height != 0 {
		return fmt.Errorf("height constraint on %s track", t.kind)
	}
	if c.Height < 0 || c.Height > MaxHeight {
		return fmt.Errorf("height %d outside 0..%d", c.Height, MaxHeight)
	}
	t.mu.Lock()
	t.constraints = c
	t.mu.Unlock()
	return nil
}

func (t *LocalTrack) Constraints() core.VideoConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.constraints
}

func (t *LocalTrack) parameters() core.SendParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return core.SendParameters{Encodings: append([]core.Encoding(nil), t.params.Encodings...)}
}

func (t *LocalTrack) setParameters(p core.SendParameters) error {
	if len(p.Encodings) != 1 {
		return fmt.Errorf("expected one encoding, got %d", len(p.Encodings))
	}
	enc := p.Encodings[0]
	if enc.MaxFramerate < 0 {
		return fmt.Errorf("negative framerate %v", enc.MaxFramerate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.params = core.SendParameters{Encodings: []core.Encoding{enc}}
	t.limiter = nil
	if enc.MaxBitrateBps > 0 {
		bytesPerSec := float64(enc.MaxBitrateBps) / 8
		burst := int(bytesPerSec / 4)
		if burst < 16*1500 {
			burst = 16 * 1500
		}
		t.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	t.minFrame = 0
	if enc.MaxFramerate > 0 {
		t.minFrame = time.Duration(float64(time.Second) / enc.MaxFramerate)
	}
	return nil
}

// WriteRTP sends pkt unless a bound drops it.
func (t *LocalTrack) WriteRTP(pkt *rtp.Packet) error {
	t.mu.Lock()
	if !t.admitLocked(pkt) {
		t.mu.Unlock()
		return nil
	}
	preview := t.preview
	t.mu.Unlock()

	if preview != nil {
		_ = preview.WriteRTP(pkt)
	}
	return t.rtp.WriteRTP(pkt)
}

func (t *LocalTrack) admitLocked(pkt *rtp.Packet) bool {
	now := t.now()
	if t.minFrame > 0 && t.kind == domain.TrackKindVideo && pkt.Timestamp != t.frameTS {
		t.frameTS = pkt.Timestamp
		t.dropFrame = !t.frameStart.IsZero() && now.Sub(t.frameStart) < t.minFrame
		if !t.dropFrame {
			t.frameStart = now
		}
	}
	if t.dropFrame {
		return false
	}
	if t.limiter != nil && !t.limiter.AllowN(now, len(pkt.Payload)) {
		return false
	}
	return true
}

// sender exposes a LocalTrack's bounds as send parameters.
type sender struct {
	rtp *webrtc.RTPSender

	mu    sync.Mutex
	track *LocalTrack
}

func (s *sender) current() *LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *sender) Track() core.LocalTrack                   { return s.current() }
func (s *sender) Parameters() core.SendParameters          { return s.current().parameters() }
func (s *sender) SetParameters(p core.SendParameters) error { return s.current().setParameters(p) }

// ReplaceTrack binds t to the negotiated transceiver. The encoding bounds of
// the previous track carry over.
func (s *sender) ReplaceTrack(t core.LocalTrack) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return ErrForeignTrack
	}
	prev := s.current()
	if lt == prev {
		return nil
	}
	if lt.kind != prev.kind {
		return fmt.Errorf("replace %s track with %s", prev.kind, lt.kind)
	}
	if err := lt.setParameters(prev.parameters()); err != nil {
		return err
	}
	if err := s.rtp.ReplaceTrack(lt.rtp); err != nil {
		return err
	}
	s.mu.Lock()
	s.track = lt
	s.mu.Unlock()
	return nil
}

// drainRTCP keeps the interceptors fed until the sender stops.
func (s *sender) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.rtp.Read(buf); err != nil {
			return
		}
	}
}

// LocalStream groups local tracks sent together.
type LocalStream struct {
	id     string
	tracks []*LocalTrack
}

func NewLocalStream(id string, tracks ...*LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) LocalTracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}
