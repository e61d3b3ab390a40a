// Package store keeps room snapshots in memory.
package store

import (
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Memory is a core.RoomStore. Room state comes from the signaling channel;
// the mute flag is set by the presentation layer.
type Memory struct {
	logger zerolog.Logger

	mu     sync.Mutex
	rooms  map[domain.RoomID]domain.RoomSnapshot
	subs   map[domain.RoomID][]storeSub
	nextID int
}

type storeSub struct {
	id int
	fn func(domain.RoomSnapshot)
}

func NewMemory() *Memory {
	return &Memory{
		logger: log.With().Str("module", "store").Logger(),
		rooms:  make(map[domain.RoomID]domain.RoomSnapshot),
		subs:   make(map[domain.RoomID][]storeSub),
	}
}

func (m *Memory) Snapshot(room domain.RoomID) (domain.RoomSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rooms[room]
	return s, ok
}

func (m *Memory) Subscribe(room domain.RoomID, fn func(domain.RoomSnapshot)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[room] = append(m.subs[room], storeSub{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[room]
		for i, s := range list {
			if s.id == id {
				m.subs[room] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Put replaces the room metadata, keeping the mute flag.
func (m *Memory) Put(r domain.Room) {
	m.update(r.ID, func(s *domain.RoomSnapshot) bool {
		if s.Room == r {
			return false
		}
		s.Room = r
		return true
	})
}

func (m *Memory) SetMuted(room domain.RoomID, muted bool) {
	m.update(room, func(s *domain.RoomSnapshot) bool {
		if s.Muted == muted {
			return false
		}
		s.Muted = muted
		return true
	})
}

// Follow feeds the store from roomLiveStateChanged envelopes of room.
func (m *Memory) Follow(ch core.SignalChannel, room domain.RoomID) func() {
	return ch.Subscribe(room, func(env domain.Envelope) {
		if env.Kind != domain.EnvelopeRoomLiveState {
			return
		}
		r, err := env.Room()
		if err != nil {
			m.logger.Warn().Err(err).Str("room", string(room)).Msg("bad room payload")
			return
		}
		if r.ID != room {
			m.logger.Warn().Str("room", string(room)).Str("payload_room", string(r.ID)).Msg("room mismatch")
			return
		}
		m.logger.Info().
			Str("room", string(room)).
			Str("state", string(r.LiveState)).
			Str("transport", string(r.Transport)).
			Msg("room changed")
		m.Put(r)
	})
}

// update mutates the snapshot of room and notifies subscribers outside the lock.
func (m *Memory) update(room domain.RoomID, fn func(*domain.RoomSnapshot) bool) {
	m.mu.Lock()
	s, ok := m.rooms[room]
	if !ok {
		s.Room.ID = room
	}
	if !fn(&s) && ok {
		m.mu.Unlock()
		return
	}
	m.rooms[room] = s
	subs := append([]storeSub(nil), m.subs[room]...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s)
	}
}
