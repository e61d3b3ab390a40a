// Package domain contains entities without logic, just meta-data
package domain

type (
	RoomID string
	PeerID string
)

// LiveState is owned by the room store; the orchestrator only reads it.
type LiveState string

const (
	LiveStateNotLive LiveState = "notLive"
	LiveStateLive    LiveState = "live"
	LiveStateEnded   LiveState = "ended"
)

// TransportKind selects how media reaches the viewer.
type TransportKind string

const (
	TransportPeerToPeer          TransportKind = "peerToPeer"
	TransportRelayedPeer         TransportKind = "relayedPeer"
	TransportPackagedProgressive TransportKind = "packagedProgressive"
	TransportPackagedSegmented   TransportKind = "packagedSegmented"
)

func (k TransportKind) IsPeer() bool {
	return k == TransportPeerToPeer || k == TransportRelayedPeer
}

func (k TransportKind) IsPull() bool {
	return k == TransportPackagedProgressive || k == TransportPackagedSegmented
}

func (k TransportKind) Valid() bool {
	return k.IsPeer() || k.IsPull()
}

type MediaURLs struct {
	Progressive string `json:"progressive_url,omitempty"`
	Segmented   string `json:"segmented_url,omitempty"`
}

// For returns the URL matching a pull transport kind, or "".
func (u MediaURLs) For(kind TransportKind) string {
	switch kind {
	case TransportPackagedProgressive:
		return u.Progressive
	case TransportPackagedSegmented:
		return u.Segmented
	default:
		return ""
	}
}

type Room struct {
	ID        RoomID        `json:"id"`
	LiveState LiveState     `json:"live_state"`
	Transport TransportKind `json:"transport_kind"`
	Media     MediaURLs     `json:"media_urls"`
	// Publisher is the anchor peer that offers in peerToPeer rooms.
	Publisher PeerID `json:"publisher,omitempty"`
	// Relay is the media server endpoint answering relayedPeer offers.
	Relay PeerID `json:"relay,omitempty"`
}

// RoomSnapshot is what a store subscriber observes.
type RoomSnapshot struct {
	Room  Room `json:"room"`
	Muted bool `json:"muted"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }
