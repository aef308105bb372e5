package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxcord/voxcord/internal/domain"
)

type sessionEntry struct {
	user   *domain.User
	conn   sender
	room   domain.RoomID
	cancel context.CancelFunc
}

// Registry tracks live gateway connections and which room each one occupies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*sessionEntry)}
}

func (r *Registry) Bind(sid SessionID, user *domain.User, conn sender, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{user: user, conn: conn, cancel: cancel}
	log.Info().Str("module", "gateway.registry").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("bound session")
}

func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if ok && entry.cancel != nil {
		entry.cancel()
	}
	log.Info().Str("module", "gateway.registry").Str("sid", string(sid)).Msg("unbound session")
}

func (r *Registry) User(sid SessionID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.user, true
	}
	return nil, false
}

// RoomOf reports the room the session currently occupies, if any.
func (r *Registry) RoomOf(sid SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.room == "" {
		return "", false
	}
	return e.room, true
}

func (r *Registry) SetRoom(sid SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.room = roomID
	return true
}

func (r *Registry) ClearRoom(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.room = ""
	}
}
