package orch

import (
	"sync"
	"testing"

	"github.com/dkeye/roomcast/internal/app/pull"
	"github.com/dkeye/roomcast/internal/core/fakes"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	roomID domain.RoomID = "room-1"
	self   domain.PeerID = "viewer"
)

type memStore struct {
	mu    sync.Mutex
	snaps map[domain.RoomID]domain.RoomSnapshot
	subs  map[domain.RoomID]map[int]func(domain.RoomSnapshot)
	next  int
}

func newMemStore() *memStore {
	return &memStore{
		snaps: make(map[domain.RoomID]domain.RoomSnapshot),
		subs:  make(map[domain.RoomID]map[int]func(domain.RoomSnapshot)),
	}
}

func (s *memStore) Snapshot(room domain.RoomID) (domain.RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[room]
	return snap, ok
}

func (s *memStore) Subscribe(room domain.RoomID, fn func(domain.RoomSnapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	if s.subs[room] == nil {
		s.subs[room] = make(map[int]func(domain.RoomSnapshot))
	}
	s.subs[room][id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs[room], id)
		s.mu.Unlock()
	}
}

func (s *memStore) Set(snap domain.RoomSnapshot) {
	s.mu.Lock()
	s.snaps[snap.Room.ID] = snap
	fns := make([]func(domain.RoomSnapshot), 0, len(s.subs[snap.Room.ID]))
	for _, fn := range s.subs[snap.Room.ID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

type harness struct {
	store      *memStore
	channel    *fakes.Channel
	transports *fakes.TransportFactory
	players    *fakes.PlayerFactory
	renderers  *fakes.RendererFactory
	ctrl       *Controller

	mu     sync.Mutex
	errors []error
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:      newMemStore(),
		channel:    fakes.NewChannel(),
		transports: &fakes.TransportFactory{},
		players:    &fakes.PlayerFactory{Size: domain.Size{Width: 1280, Height: 720}},
		renderers:  &fakes.RendererFactory{},
	}
	opts := Options{
		Self:       self,
		Signal:     h.channel,
		Store:      h.store,
		Transports: h.transports,
		Players:    h.players,
		Renderers:  h.renderers,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.ctrl = NewController(opts)
	h.ctrl.OnError(func(err error) {
		h.mu.Lock()
		h.errors = append(h.errors, err)
		h.mu.Unlock()
	})
	t.Cleanup(func() { _ = h.ctrl.Leave() })
	return h
}

func (h *harness) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errors...)
}

func (h *harness) setRoom(room domain.Room, muted bool) {
	room.ID = roomID
	h.store.Set(domain.RoomSnapshot{Room: room, Muted: muted})
}

func liveRoom(kind domain.TransportKind) domain.Room {
	return domain.Room{
		LiveState: domain.LiveStateLive,
		Transport: kind,
		Publisher: "publisher",
		Relay:     "sfu",
		Media: domain.MediaURLs{
			Progressive: "https://x/stream.flv",
			Segmented:   "https://x/stream.m3u8",
		},
	}
}

func (h *harness) deliver(t *testing.T, kind domain.EnvelopeKind, from domain.PeerID, payload any) {
	t.Helper()
	env, err := domain.NewEnvelope(kind, roomID, from, self, payload)
	require.NoError(t, err)
	h.channel.Deliver(env)
}

func (h *harness) deliverOffer(t *testing.T, n int) {
	t.Helper()
	h.deliver(t, domain.EnvelopeOffer, "publisher", webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0 publisher-offer-" + string(rune('0'+n)),
	})
}

func fakesPull(t *testing.T) (*pull.Session, error) {
	t.Helper()
	return pull.New(pull.Options{
		Room:    roomID,
		Kind:    domain.TransportPackagedSegmented,
		URL:     "https://x/stream.m3u8",
		Players: &fakes.PlayerFactory{},
	})
}
