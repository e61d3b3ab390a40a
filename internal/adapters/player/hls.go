package player

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/grafov/m3u8"
)

var errEmptyPlaylist = errors.New("playlist has no segments or variants")

// HLS plays segmented streams. The size comes from the RESOLUTION of the
// preferred master variant; the playlist is re-read every PollInterval.
type HLS struct {
	base
}

func NewHLS(opts Options) *HLS {
	p := &HLS{}
	p.setup(opts, "hls")
	return p
}

func (p *HLS) Start(ctx context.Context, url string) (domain.Size, error) {
	if err := p.claim(); err != nil {
		return domain.Size{}, err
	}
	size, err := p.probe(ctx, url)
	if err != nil {
		return domain.Size{}, failed(ctx, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.run(size, cancel, func() { p.poll(loopCtx, url) })
	p.logger.Info().Str("url", url).Int("width", size.Width).Int("height", size.Height).Msg("playlist loaded")
	return size, nil
}

func (p *HLS) poll(ctx context.Context, url string) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		size, err := p.probe(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Str("url", url).Msg("playlist refresh failed")
			continue
		}
		p.emit(size)
	}
}

func (p *HLS) probe(ctx context.Context, url string) (domain.Size, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	resp, err := get(ctx, p.opts.Client, url)
	if err != nil {
		return domain.Size{}, err
	}
	defer resp.Body.Close()

	pl, listType, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return domain.Size{}, fmt.Errorf("decode playlist: %w", err)
	}
	switch listType {
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return domain.Size{}, errEmptyPlaylist
		}
		return variantSize(master.Variants), nil
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		if media.Count() == 0 {
			return domain.Size{}, errEmptyPlaylist
		}
		// A media playlist carries no resolution.
		return domain.Size{}, nil
	default:
		return domain.Size{}, fmt.Errorf("unknown playlist type %v", listType)
	}
}

// variantSize returns the resolution of the highest bandwidth variant that
// declares one.
func variantSize(variants []*m3u8.Variant) domain.Size {
	var (
		best domain.Size
		bw   uint32
	)
	for _, v := range variants {
		if v == nil {
			continue
		}
		size, ok := parseResolution(v.Resolution)
		if !ok {
			continue
		}
		if best.IsZero() || v.Bandwidth > bw {
			best, bw = size, v.Bandwidth
		}
	}
	return best
}

func parseResolution(s string) (domain.Size, bool) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return domain.Size{}, false
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return domain.Size{}, false
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return domain.Size{}, false
	}
	return domain.Size{Width: width, Height: height}, true
}
