package orch

import (
	"sort"
	"sync"

	"github.com/dkeye/roomcast/internal/core"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionLookup is the read side of the registry handed to consumers.
type SessionLookup interface {
	Lookup(room domain.RoomID) (core.ActiveSession, bool)
	Rooms() []domain.RoomID
}

// Registry holds the active session of every room. The controller is its
// only writer.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.RoomID]core.ActiveSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.RoomID]core.ActiveSession)}
}

// Insert fails with ErrSessionActive while another open session holds room.
func (r *Registry) Insert(room domain.RoomID, s core.ActiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[room]; ok && cur != s && !cur.Closed() {
		return core.NewOpError("registry.insert", room, core.ErrSessionActive)
	}
	r.sessions[room] = s
	log.Info().Str("module", "orch.registry").Str("room", string(room)).Str("kind", string(s.Kind())).Msg("session registered")
	return nil
}

// Remove drops s if it is still the session registered for room.
func (r *Registry) Remove(room domain.RoomID, s core.ActiveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[room]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, room)
	log.Info().Str("module", "orch.registry").Str("room", string(room)).Msg("session removed")
	return true
}

func (r *Registry) Lookup(room domain.RoomID) (core.ActiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[room]
	return s, ok
}

func (r *Registry) Rooms() []domain.RoomID {
	r.mu.RLock()
	out := make([]domain.RoomID, 0, len(r.sessions))
	for room := range r.sessions {
		out = append(out, room)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
