// Package player implements pull players for packaged streams.
package player

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Client *http.Client
	// RequestTimeout bounds playlist fetches and the wait for the first metadata.
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Logger         *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Logger == nil {
		l := log.With().Str("module", "player").Logger()
		o.Logger = &l
	}
	return o
}

// Factory picks the player for a pull transport kind.
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts.withDefaults()}
}

func (f *Factory) NewPlayer(kind domain.TransportKind) (core.PullPlayer, error) {
	switch kind {
	case domain.TransportPackagedSegmented:
		return NewHLS(f.opts), nil
	case domain.TransportPackagedProgressive:
		return NewFLV(f.opts), nil
	default:
		return nil, fmt.Errorf("%w: no player for %s", core.ErrUnsupportedPlatform, kind)
	}
}

// base carries what both players share: the mute flag, the metadata feed
// and the background loop started after the first metadata.
type base struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	muted    bool
	size     domain.Size
	cancel   context.CancelFunc
	metadata chan domain.Size
}

func (b *base) setup(opts Options, kind string) {
	b.opts = opts.withDefaults()
	b.logger = b.opts.Logger.With().Str("player", kind).Logger()
	b.metadata = make(chan domain.Size, 1)
}

func (b *base) Metadata() <-chan domain.Size { return b.metadata }

func (b *base) SetMuted(m bool) {
	b.mu.Lock()
	b.muted = m
	b.mu.Unlock()
}

func (b *base) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

func (b *base) Stop() error {
	b.mu.Lock()
	b.stopped = true
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// claim marks the player started; a second Start or a Start after Stop fails.
func (b *base) claim() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return fmt.Errorf("%w: player stopped", core.ErrPlaybackFailed)
	}
	if b.started {
		return fmt.Errorf("%w: player already started", core.ErrPlaybackFailed)
	}
	b.started = true
	return nil
}

// run starts loop in the background unless the player was stopped meanwhile.
// The metadata channel is closed when loop returns.
func (b *base) run(size domain.Size, cancel context.CancelFunc, loop func()) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		cancel()
		return false
	}
	b.size = size
	b.cancel = cancel
	b.mu.Unlock()

	go func() {
		defer close(b.metadata)
		loop()
	}()
	return true
}

// emit publishes size when it differs from the last one. Only the newest
// size is kept when the reader falls behind.
func (b *base) emit(size domain.Size) {
	b.mu.Lock()
	if size == b.size || size.IsZero() {
		b.mu.Unlock()
		return
	}
	b.size = size
	b.mu.Unlock()

	b.logger.Info().Int("width", size.Width).Int("height", size.Height).Msg("size changed")
	for {
		select {
		case b.metadata <- size:
			return
		default:
		}
		select {
		case <-b.metadata:
		default:
		}
	}
}

func failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", core.ErrPlaybackFailed, err)
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp, nil
}
