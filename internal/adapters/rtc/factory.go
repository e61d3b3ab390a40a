package rtc

import (
	"fmt"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Factory builds pion peer connections sharing one media engine.
type Factory struct {
	ice ICEConfig
	api *webrtc.API
	err error
}

func NewFactory(ice ICEConfig) *Factory {
	f := &Factory{ice: ice}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		f.err = err
		return f
	}
	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		f.err = err
		return f
	}
	f.api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg))
	return f
}

// Supported reports whether the media engine could be set up.
func (f *Factory) Supported() error {
	if f.err != nil || f.api == nil {
		return fmt.Errorf("%w: %v", core.ErrUnsupportedPlatform, f.err)
	}
	return nil
}

func (f *Factory) NewTransport(cfg core.TransportConfig) (core.PeerTransport, error) {
	if err := f.Supported(); err != nil {
		return nil, err
	}
	pc, err := f.api.NewPeerConnection(f.ice.Configuration(cfg.Relayed))
	if err != nil {
		return nil, err
	}
	return newConnection(pc, cfg)
}
