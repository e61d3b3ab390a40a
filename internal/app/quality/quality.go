// Package quality applies bitrate, framerate and resolution bounds to the
// outbound video of a peer connection.
//
// Each field is applied on its own: a failure in one never blocks or undoes
// another. Within one field the change is all-or-nothing across tracks.
package quality

import (
	"errors"
	"fmt"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
)

// ErrNoVideoTrack means there is nothing to apply to yet. The value stays
// pending until Reapply.
var ErrNoVideoTrack = errors.New("no outbound video track")

// Target exposes the outbound senders of a connection.
type Target interface {
	Senders() []core.OutboundSender
}

func videoSenders(t Target) []core.OutboundSender {
	var out []core.OutboundSender
	for _, s := range t.Senders() {
		if tr := s.Track(); tr != nil && tr.Kind() == domain.TrackKindVideo {
			out = append(out, s)
		}
	}
	return out
}

func constraintErr(field domain.QualityField, value int, err error) error {
	return fmt.Errorf("%w: %s=%d: %w", core.ErrConstraintApplication, field, value, err)
}

// SetResolution bounds the capture height of every local video track.
// A non-positive height removes the bound.
func SetResolution(t Target, height int) error {
	senders := videoSenders(t)
	if len(senders) == 0 {
		return ErrNoVideoTrack
	}
	want := core.VideoConstraints{}
	if height > 0 {
		want.Height = height
	}

	type prev struct {
		track core.LocalTrack
		c     core.VideoConstraints
	}
	changed := make([]prev, 0, len(senders))
	for _, s := range senders {
		tr := s.Track()
		before := tr.Constraints()
		if err := tr.ApplyConstraints(want); err != nil {
			for i := len(changed) - 1; i >= 0; i-- {
				_ = changed[i].track.ApplyConstraints(changed[i].c)
			}
			return constraintErr(domain.FieldResolution, height, err)
		}
		changed = append(changed, prev{track: tr, c: before})
	}
	return nil
}

// SetMaxBitrateKbps bounds every video encoding. Unset, zero or any other
// non-positive value removes the bound.
func SetMaxBitrateKbps(t Target, kbps int) error {
	var bps uint64
	if kbps > 0 {
		bps = uint64(kbps) * 1000
	}
	return setEncodings(t, domain.FieldMaxBitrate, kbps, func(e *core.Encoding) {
		e.MaxBitrateBps = bps
	})
}

// SetMaxFramerateFps bounds every video encoding. A non-positive value removes
// the bound.
func SetMaxFramerateFps(t Target, fps int) error {
	var f float64
	if fps > 0 {
		f = float64(fps)
	}
	return setEncodings(t, domain.FieldMaxFramerate, fps, func(e *core.Encoding) {
		e.MaxFramerate = f
	})
}

func setEncodings(t Target, field domain.QualityField, value int, mutate func(*core.Encoding)) error {
	senders := videoSenders(t)
	if len(senders) == 0 {
		return ErrNoVideoTrack
	}

	type prev struct {
		sender core.OutboundSender
		params core.SendParameters
	}
	changed := make([]prev, 0, len(senders))
	for _, s := range senders {
		before := s.Parameters()
		next := core.SendParameters{Encodings: append([]core.Encoding(nil), before.Encodings...)}
		if len(next.Encodings) == 0 {
			next.Encodings = []core.Encoding{{}}
		}
		for i := range next.Encodings {
			mutate(&next.Encodings[i])
		}
		if err := s.SetParameters(next); err != nil {
			for i := len(changed) - 1; i >= 0; i-- {
				_ = changed[i].sender.SetParameters(changed[i].params)
			}
			return constraintErr(field, value, err)
		}
		changed = append(changed, prev{sender: s, params: before})
	}
	return nil
}

func apply(t Target, field domain.QualityField, value int) error {
	switch field {
	case domain.FieldResolution:
		return SetResolution(t, value)
	case domain.FieldMaxBitrate:
		return SetMaxBitrateKbps(t, value)
	case domain.FieldMaxFramerate:
		return SetMaxFramerateFps(t, value)
	}
	return fmt.Errorf("unknown quality field %q", field)
}
