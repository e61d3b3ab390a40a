package player

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dkeye/roomcast/internal/domain"
)

const (
	flvHeaderLen    = 9
	flvTagHeaderLen = 11
	flvTagScript    = 18
)

var errNotFLV = errors.New("not an flv stream")

// FLV plays progressive streams. The size comes from onMetaData script
// tags; later metadata tags report size changes.
type FLV struct {
	base
}

func NewFLV(opts Options) *FLV {
	p := &FLV{}
	p.setup(opts, "flv")
	return p
}

func (p *FLV) Start(ctx context.Context, url string) (domain.Size, error) {
	if err := p.claim(); err != nil {
		return domain.Size{}, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stopWatch := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(p.opts.RequestTimeout, cancel)
	abort := func(err error) (domain.Size, error) {
		timer.Stop()
		stopWatch()
		if ctx.Err() == nil && streamCtx.Err() != nil {
			err = fmt.Errorf("no metadata within %s", p.opts.RequestTimeout)
		}
		cancel()
		return domain.Size{}, failed(ctx, err)
	}

	resp, err := get(streamCtx, p.opts.Client, url)
	if err != nil {
		return abort(err)
	}
	r := &flvReader{r: bufio.NewReader(resp.Body)}
	if err := r.header(); err != nil {
		_ = resp.Body.Close()
		return abort(err)
	}
	size, err := r.nextSize()
	if err != nil {
		_ = resp.Body.Close()
		return abort(err)
	}
	timer.Stop()
	stopWatch()

	if !p.run(size, cancel, func() {
		defer resp.Body.Close()
		p.follow(streamCtx, r)
	}) {
		_ = resp.Body.Close()
	}
	p.logger.Info().Str("url", url).Int("width", size.Width).Int("height", size.Height).Msg("stream opened")
	return size, nil
}

func (p *FLV) follow(ctx context.Context, r *flvReader) {
	for {
		size, err := r.nextSize()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Info().Err(err).Msg("stream ended")
			}
			return
		}
		p.emit(size)
	}
}

type flvReader struct {
	r *bufio.Reader
}

func (f *flvReader) header() error {
	var h [flvHeaderLen]byte
	if _, err := io.ReadFull(f.r, h[:]); err != nil {
		return err
	}
	if string(h[:3]) != "FLV" {
		return errNotFLV
	}
	offset := binary.BigEndian.Uint32(h[5:9])
	if offset < flvHeaderLen {
		return fmt.Errorf("%w: header size %d", errNotFLV, offset)
	}
	_, err := f.r.Discard(int(offset - flvHeaderLen))
	return err
}

// nextSize skips tags until an onMetaData tag with a width and height.
func (f *flvReader) nextSize() (domain.Size, error) {
	for {
		// PreviousTagSize precedes every tag.
		var h [4 + flvTagHeaderLen]byte
		if _, err := io.ReadFull(f.r, h[:]); err != nil {
			return domain.Size{}, err
		}
		tagType := h[4] & 0x1f
		n := int(h[5])<<16 | int(h[6])<<8 | int(h[7])
		if tagType != flvTagScript {
			if _, err := f.r.Discard(n); err != nil {
				return domain.Size{}, err
			}
			continue
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(f.r, data); err != nil {
			return domain.Size{}, err
		}
		w, hgt, ok, err := metaDataSize(data)
		if err != nil || !ok || w <= 0 || hgt <= 0 {
			continue
		}
		return domain.Size{Width: w, Height: hgt}, nil
	}
}
