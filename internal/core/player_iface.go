package core

import (
	"context"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/rtp"
)

// PullPlayer decodes a packaged stream URL into a playable element.
type PullPlayer interface {
	// Start blocks until the initial media metadata is known.
	// A failure is reported as an error wrapping ErrPlaybackFailed; a
	// cancelled ctx returns ctx.Err().
	Start(ctx context.Context, url string) (domain.Size, error)
	// Metadata emits the intrinsic size whenever it changes after Start.
	Metadata() <-chan domain.Size
	SetMuted(bool)
	Stop() error
}

type PlayerFactory interface {
	NewPlayer(kind domain.TransportKind) (PullPlayer, error)
}

// Renderer is the sink that displays or stores one track's output.
type Renderer interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

type RendererFactory interface {
	NewRenderer(track MediaTrack) (Renderer, error)
}
