// Package fakes provides in-memory implementations of the core platform
// interfaces for tests.
package fakes

import (
	"fmt"
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/rtp"
)

type Track struct {
	id     string
	kind   domain.TrackKind
	stream string
	codec  string

	mu       sync.Mutex
	sink     core.PacketSink
	attaches int
	done     chan struct{}
	ended    bool
}

func NewTrack(id string, kind domain.TrackKind, stream string) *Track {
	codec := "video/VP8"
	if kind == domain.TrackKindAudio {
		codec = "audio/opus"
	}
	return &Track{id: id, kind: kind, stream: stream, codec: codec, done: make(chan struct{})}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }
func (t *Track) StreamID() string       { return t.stream }
func (t *Track) Codec() string          { return t.codec }
func (t *Track) Done() <-chan struct{}  { return t.done }

func (t *Track) Attach(sink core.PacketSink) func() {
	t.mu.Lock()
	t.sink = sink
	t.attaches++
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		if t.sink == sink {
			t.sink = nil
		}
		t.mu.Unlock()
	}
}

// Sink returns the currently attached sink, if any.
func (t *Track) Sink() core.PacketSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

func (t *Track) Attaches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attaches
}

// Push delivers a packet to the attached sink.
func (t *Track) Push(pkt *rtp.Packet) error {
	sink := t.Sink()
	if sink == nil {
		return fmt.Errorf("track %s: no sink", t.id)
	}
	return sink.WriteRTP(pkt)
}

// End simulates the remote party stopping the track.
func (t *Track) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ended {
		t.ended = true
		close(t.done)
	}
}

type Stream struct {
	id     string
	tracks []core.MediaTrack
}

func NewStream(id string, tracks ...core.MediaTrack) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string                { return s.id }
func (s *Stream) Tracks() []core.MediaTrack { return s.tracks }

// LocalTrack rejects heights above MaxHeight when MaxHeight > 0.
type LocalTrack struct {
	*Track

	MaxHeight int

	mu          sync.Mutex
	constraints core.VideoConstraints
	applied     []core.VideoConstraints
}

func NewLocalTrack(id string, kind domain.TrackKind, stream string) *LocalTrack {
	return &LocalTrack{Track: NewTrack(id, kind, stream)}
}

func (t *LocalTrack) ApplyConstraints(c core.VideoConstraints) error {
	if t.MaxHeight > 0 && c.Height > t.MaxHeight {
		return fmt.Errorf("height %d over limit %d", c.Height, t.MaxHeight)
	}
	t.mu.Lock()
	t.constraints = c
	t.applied = append(t.applied, c)
	t.mu.Unlock()
	return nil
}

func (t *LocalTrack) Constraints() core.VideoConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.constraints
}

type LocalStream struct {
	id     string
	tracks []core.LocalTrack
}

func NewLocalStream(id string, tracks ...core.LocalTrack) *LocalStream {
	return &LocalStream{id: id, tracks: tracks}
}

func (s *LocalStream) ID() string                     { return s.id }
func (s *LocalStream) LocalTracks() []core.LocalTrack { return s.tracks }

type Renderer struct {
	mu      sync.Mutex
	packets int
	closed  bool
}

func (r *Renderer) WriteRTP(*rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("renderer closed")
	}
	r.packets++
	return nil
}

func (r *Renderer) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

func (r *Renderer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// RendererFactory hands out a fresh Renderer per track and remembers them.
type RendererFactory struct {
	mu        sync.Mutex
	Err       error
	renderers map[string][]*Renderer
}

func (f *RendererFactory) NewRenderer(track core.MediaTrack) (core.Renderer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.renderers == nil {
		f.renderers = make(map[string][]*Renderer)
	}
	r := &Renderer{}
	f.renderers[track.ID()] = append(f.renderers[track.ID()], r)
	return r, nil
}

func (f *RendererFactory) For(trackID string) []*Renderer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Renderer(nil), f.renderers[trackID]...)
}
