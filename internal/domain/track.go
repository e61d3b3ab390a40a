package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackRole is the logical use of a track. Video tracks without richer
// metadata are RoleUnknownVideo: camera and screen share cannot be told apart
// from the media alone.
type TrackRole string

const (
	RoleCamera       TrackRole = "camera"
	RoleMicrophone   TrackRole = "microphone"
	RoleScreen       TrackRole = "screen"
	RoleUnknownVideo TrackRole = "unknownVideo"
)

func (r TrackRole) Valid() bool {
	switch r {
	case RoleCamera, RoleMicrophone, RoleScreen, RoleUnknownVideo:
		return true
	}
	return false
}

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
)

func (d Direction) Sends() bool {
	return d == DirectionSendRecv || d == DirectionSendOnly
}

// PeerState mirrors the connection state reported by the platform.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateNegotiating  PeerState = "negotiating"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)
