package core

import (
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PacketSink consumes RTP packets of a single track.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
}

// MediaTrack is one audio or video feed, local or remote.
type MediaTrack interface {
	ID() string
	Kind() domain.TrackKind
	StreamID() string
	// Codec is the negotiated mime type, empty while unknown.
	Codec() string
	// Attach routes the track's packets to sink until the returned func is called.
	Attach(sink PacketSink) (detach func())
	// Done is closed when the track ends on its own.
	Done() <-chan struct{}
}

type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
}

// VideoConstraints are applied to a capture track; zero means unconstrained.
type VideoConstraints struct {
	Height int
}

// LocalTrack is a capture track that can be sent to a peer.
type LocalTrack interface {
	MediaTrack
	ApplyConstraints(VideoConstraints) error
	Constraints() VideoConstraints
}

type LocalStream interface {
	ID() string
	LocalTracks() []LocalTrack
}

// Encoding is one outbound encoding; zero means unbounded.
type Encoding struct {
	MaxBitrateBps uint64
	MaxFramerate  float64
}

type SendParameters struct {
	Encodings []Encoding
}

// OutboundSender carries one local track to the remote peer.
type OutboundSender interface {
	Track() LocalTrack
	Parameters() SendParameters
	SetParameters(SendParameters) error
	// ReplaceTrack swaps the outgoing track for one of the same kind
	// without renegotiation.
	ReplaceTrack(LocalTrack) error
}

// PeerTransport is the platform peer connection.
type PeerTransport interface {
	CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(LocalTrack) (OutboundSender, error)
	RemoveSender(OutboundSender) error
	Senders() []OutboundSender
	// OnICECandidate receives nil when gathering is complete.
	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnTrack(func(track MediaTrack, stream MediaStream))
	OnConnectionStateChange(func(domain.PeerState))
	Close() error
}

type TransportConfig struct {
	// Relayed transports talk to a media server and use no ICE servers.
	Relayed   bool
	Direction domain.Direction
}

type PeerTransportFactory interface {
	// Supported returns ErrUnsupportedPlatform when no transport can be built.
	Supported() error
	NewTransport(TransportConfig) (PeerTransport, error)
}
