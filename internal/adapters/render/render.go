// Package render stores or counts the media routed to surfaces.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	opusSampleRate = 48000
	opusChannels   = 2
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type mediaWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Factory writes each track to its own file under Dir. With an empty Dir,
// or a codec it cannot store, it returns a Counter.
type Factory struct {
	dir    string
	logger zerolog.Logger
}

func NewFactory(dir string) *Factory {
	return &Factory{dir: dir, logger: log.With().Str("module", "render").Logger()}
}

func (f *Factory) NewRenderer(track core.MediaTrack) (core.Renderer, error) {
	if f.dir == "" {
		return &Counter{}, nil
	}
	ext, open := writerFor(track.Codec())
	if open == nil {
		f.logger.Debug().Str("track_id", track.ID()).Str("codec", track.Codec()).Msg("no file writer, counting only")
		return &Counter{}, nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("render dir: %w", err)
	}
	path := filepath.Join(f.dir, fileName(track.ID(), ext))
	w, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f.logger.Info().Str("track_id", track.ID()).Str("path", path).Msg("recording track")
	return &File{path: path, w: w, logger: f.logger}, nil
}

func writerFor(codec string) (string, func(path string) (mediaWriter, error)) {
	switch {
	case strings.EqualFold(codec, webrtc.MimeTypeVP8):
		return "ivf", func(p string) (mediaWriter, error) { return ivfwriter.New(p) }
	case strings.EqualFold(codec, webrtc.MimeTypeH264):
		return "h264", func(p string) (mediaWriter, error) { return h264writer.New(p) }
	case strings.EqualFold(codec, webrtc.MimeTypeOpus):
		return "ogg", func(p string) (mediaWriter, error) { return oggwriter.New(p, opusSampleRate, opusChannels) }
	default:
		return "", nil
	}
}

func fileName(trackID, ext string) string {
	id := unsafeName.ReplaceAllString(trackID, "_")
	if id == "" {
		id = "track"
	}
	return fmt.Sprintf("%s-%s.%s", id, uuid.NewString()[:8], ext)
}

// Counter drops packets and counts them.
type Counter struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	closed  atomic.Bool
}

func (c *Counter) WriteRTP(p *rtp.Packet) error {
	if c.closed.Load() {
		return os.ErrClosed
	}
	c.packets.Add(1)
	c.bytes.Add(uint64(len(p.Payload)))
	return nil
}

func (c *Counter) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Counter) Packets() uint64 { return c.packets.Load() }
func (c *Counter) Bytes() uint64   { return c.bytes.Load() }

// File writes one track into a container file.
type File struct {
	path    string
	w       mediaWriter
	logger  zerolog.Logger
	packets atomic.Uint64
}

func (f *File) Path() string { return f.path }

func (f *File) WriteRTP(p *rtp.Packet) error {
	f.packets.Add(1)
	return f.w.WriteRTP(p)
}

func (f *File) Close() error {
	err := f.w.Close()
	f.logger.Info().Str("path", f.path).Uint64("packets", f.packets.Load()).Msg("recording closed")
	return err
}
