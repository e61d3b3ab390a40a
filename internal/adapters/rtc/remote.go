package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type remoteTrack struct {
	src *webrtc.TrackRemote
	// read is src.ReadRTP without attributes.
	read       func() (*rtp.Packet, error)
	id         string
	streamID   string
	kind       domain.TrackKind
	keyframe   func(webrtc.SSRC)
	stream     *remoteStream
	sink       atomic.Pointer[sinkBox]
	done       chan struct{}
	finishOnce sync.Once
}

type sinkBox struct{ sink core.PacketSink }

func trackKind(k webrtc.RTPCodecType) domain.TrackKind {
	if k == webrtc.RTPCodecTypeAudio {
		return domain.TrackKindAudio
	}
	return domain.TrackKindVideo
}

func newRemoteTrack(src *webrtc.TrackRemote, keyframe func(webrtc.SSRC)) *remoteTrack {
	t := &remoteTrack{
		src:      src,
		id:       src.ID(),
		streamID: src.StreamID(),
		kind:     trackKind(src.Kind()),
		keyframe: keyframe,
		done:     make(chan struct{}),
	}
	t.read = func() (*rtp.Packet, error) {
		pkt, _, err := src.ReadRTP()
		return pkt, err
	}
	return t
}

func (t *remoteTrack) ID() string             { return t.id }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }
func (t *remoteTrack) StreamID() string       { return t.streamID }
func (t *remoteTrack) Done() <-chan struct{}  { return t.done }

func (t *remoteTrack) Codec() string {
	if t.src == nil {
		return ""
	}
	return t.src.Codec().MimeType
}

// Attach routes packets to sink. Video asks the sender for a keyframe so the
// new surface does not wait for the next one.
func (t *remoteTrack) Attach(sink core.PacketSink) func() {
	box := &sinkBox{sink: sink}
	t.sink.Store(box)
	if t.kind == domain.TrackKindVideo && t.keyframe != nil && t.src != nil {
		t.keyframe(t.src.SSRC())
	}
	return func() { t.sink.CompareAndSwap(box, nil) }
}

// loop reads RTP packets until the track or the connection ends.
func (t *remoteTrack) loop(ctx context.Context, logger *zerolog.Logger) {
	defer t.finish()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := t.read()
		if err != nil {
			logger.Info().Err(err).Str("track_id", t.id).Msg("remote track ended")
			return
		}
		t.forward(pkt, logger)
	}
}

func (t *remoteTrack) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	box := t.sink.Load()
	if box == nil {
		return
	}
	if err := box.sink.WriteRTP(pkt); err != nil {
		logger.Debug().Err(err).Str("track_id", t.id).Msg("sink write error, detaching")
		t.sink.CompareAndSwap(box, nil)
	}
}

func (t *remoteTrack) finish() {
	t.finishOnce.Do(func() {
		if t.stream != nil {
			t.stream.remove(t)
		}
		close(t.done)
	})
}

type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []core.MediaTrack
}

func (s *remoteStream) add(t core.MediaTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *remoteStream) remove(t core.MediaTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.tracks {
		if cur == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return
		}
	}
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.MediaTrack(nil), s.tracks...)
}
