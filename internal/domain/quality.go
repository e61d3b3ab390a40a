package domain

import "fmt"

// Unset means "use the platform default" for a quality field.
const Unset = -1

type QualityProfile struct {
	MaxBitrateKbps   int `json:"max_bitrate_kbps" mapstructure:"max_bitrate_kbps"`
	MaxFramerateFps  int `json:"max_framerate_fps" mapstructure:"max_framerate_fps"`
	ResolutionHeight int `json:"resolution_height" mapstructure:"resolution_height"`
}

func DefaultQualityProfile() QualityProfile {
	return QualityProfile{MaxBitrateKbps: Unset, MaxFramerateFps: Unset, ResolutionHeight: Unset}
}

type QualityField string

const (
	FieldMaxBitrate   QualityField = "max_bitrate"
	FieldMaxFramerate QualityField = "max_framerate"
	FieldResolution   QualityField = "resolution"
)

// Fields lists quality fields in a fixed order.
var Fields = []QualityField{FieldResolution, FieldMaxBitrate, FieldMaxFramerate}

func (p QualityProfile) Get(f QualityField) int {
	switch f {
	case FieldMaxBitrate:
		return p.MaxBitrateKbps
	case FieldMaxFramerate:
		return p.MaxFramerateFps
	case FieldResolution:
		return p.ResolutionHeight
	}
	return Unset
}

func (p *QualityProfile) Set(f QualityField, v int) {
	switch f {
	case FieldMaxBitrate:
		p.MaxBitrateKbps = v
	case FieldMaxFramerate:
		p.MaxFramerateFps = v
	case FieldResolution:
		p.ResolutionHeight = v
	}
}

// Normalize maps zero and negative values to Unset.
func (p QualityProfile) Normalize() QualityProfile {
	for _, f := range Fields {
		if p.Get(f) <= 0 {
			p.Set(f, Unset)
		}
	}
	return p
}

// Over lays p on base field by field. Zero keeps the base value and a
// negative value resets the field to Unset.
func (p QualityProfile) Over(base QualityProfile) QualityProfile {
	out := base
	for _, f := range Fields {
		switch v := p.Get(f); {
		case v < 0:
			out.Set(f, Unset)
		case v > 0:
			out.Set(f, v)
		}
	}
	return out
}

func (p QualityProfile) String() string {
	return fmt.Sprintf("bitrate=%dkbps framerate=%dfps height=%d", p.MaxBitrateKbps, p.MaxFramerateFps, p.ResolutionHeight)
}
