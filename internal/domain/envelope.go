package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type EnvelopeKind string

const (
	EnvelopeOffer         EnvelopeKind = "offer"
	EnvelopeAnswer        EnvelopeKind = "answer"
	EnvelopeCandidate     EnvelopeKind = "candidate"
	EnvelopeTrackMeta     EnvelopeKind = "trackMeta"
	EnvelopeRoomLiveState EnvelopeKind = "roomLiveStateChanged"
)

// Envelope is one signaling message scoped to a room and a sender/receiver pair.
type Envelope struct {
	Kind     EnvelopeKind    `json:"type"`
	RoomID   RoomID          `json:"room_id"`
	Sender   PeerID          `json:"sender,omitempty"`
	Receiver PeerID          `json:"receiver,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// CandidatePayload is a locally gathered ICE candidate on the wire.
type CandidatePayload struct {
	webrtc.ICECandidateInit
	Sender   PeerID `json:"sender"`
	Receiver PeerID `json:"receiver"`
	RoomID   RoomID `json:"roomId"`
}

// NewCandidateEnvelope packages c for the remote peer.
func NewCandidateEnvelope(room RoomID, sender, receiver PeerID, c webrtc.ICECandidateInit) (Envelope, error) {
	return NewEnvelope(EnvelopeCandidate, room, sender, receiver, CandidatePayload{
		ICECandidateInit: c,
		Sender:           sender,
		Receiver:         receiver,
		RoomID:           room,
	})
}

// TrackMeta refines the role of a remote track.
type TrackMeta struct {
	TrackID string    `json:"track_id"`
	Role    TrackRole `json:"role"`
}

func NewEnvelope(kind EnvelopeKind, room RoomID, sender, receiver PeerID, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, RoomID: room, Sender: sender, Receiver: receiver, Payload: b}, nil
}

func (e Envelope) Description() (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(e.Payload, &sd); err != nil {
		return sd, fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return sd, nil
}

func (e Envelope) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return c, fmt.Errorf("decode candidate payload: %w", err)
	}
	return c, nil
}

func (e Envelope) TrackMeta() (TrackMeta, error) {
	var m TrackMeta
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return m, fmt.Errorf("decode trackMeta payload: %w", err)
	}
	return m, nil
}

func (e Envelope) Room() (Room, error) {
	var r Room
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return r, fmt.Errorf("decode room payload: %w", err)
	}
	if r.ID == "" {
		r.ID = e.RoomID
	}
	return r, nil
}
