package gateway

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxcord/voxcord/internal/domain"
)

// SessionID identifies one websocket connection on the gateway.
type SessionID string

// sender is the transport endpoint of a member. Owned by the controller;
// rooms never close it.
type sender interface {
	TrySend(data []byte) error
}

type member struct {
	user  *domain.User
	muted bool
	conn  sender
}

// room is a threadsafe in-memory membership set with per-member mute state.
type room struct {
	domain.Room

	mu     sync.RWMutex
	bySID  map[SessionID]*member
	byUser map[domain.UserID]SessionID
}

func newRoom(id domain.RoomID) *room {
	return &room{
		Room:   domain.Room{ID: id},
		bySID:  make(map[SessionID]*member),
		byUser: make(map[domain.UserID]SessionID),
	}
}

// Rooms owns every active voice room. Rooms appear on first join and vanish
// when the last member leaves; persistent room metadata lives in the external
// room service, not here.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]*room)}
}

func (rs *Rooms) get(id domain.RoomID) (*room, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.rooms[id]
	return r, ok
}

func (rs *Rooms) getOrCreate(id domain.RoomID) *room {
	rs.mu.RLock()
	r, ok := rs.rooms[id]
	rs.mu.RUnlock()
	if ok {
		return r
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok = rs.rooms[id]; ok {
		return r
	}
	r = newRoom(id)
	rs.rooms[id] = r
	return r
}

// Add inserts a member and returns the resulting roster.
func (rs *Rooms) Add(id domain.RoomID, sid SessionID, user *domain.User, conn sender) []domain.Participant {
	r := rs.getOrCreate(id)
	r.mu.Lock()
	r.bySID[sid] = &member{user: user, conn: conn}
	r.byUser[user.ID] = sid
	r.mu.Unlock()
	log.Info().Str("module", "gateway.rooms").Str("room", string(id)).Str("user", string(user.ID)).Msg("member added")
	return rs.Roster(id)
}

// Remove deletes a member; the room itself is dropped once empty. Reports
// whether the member was present.
func (rs *Rooms) Remove(id domain.RoomID, sid SessionID) bool {
	r, ok := rs.get(id)
	if !ok {
		return false
	}
	r.mu.Lock()
	m, present := r.bySID[sid]
	if present {
		// A reconnect leaves a stale session for the same user until the read
		// deadline reaps it; only drop the identity route while it still
		// points at this session.
		if r.byUser[m.user.ID] == sid {
			delete(r.byUser, m.user.ID)
		}
		delete(r.bySID, sid)
	}
	empty := len(r.bySID) == 0
	r.mu.Unlock()

	if empty {
		rs.mu.Lock()
		if cur, ok := rs.rooms[id]; ok && cur == r {
			delete(rs.rooms, id)
		}
		rs.mu.Unlock()
	}
	if present {
		log.Info().Str("module", "gateway.rooms").Str("room", string(id)).Str("sid", string(sid)).Msg("member removed")
	}
	return present
}

// SetMuted updates a member's mute flag and returns their identity.
func (rs *Rooms) SetMuted(id domain.RoomID, sid SessionID, muted bool) (domain.UserID, bool) {
	r, ok := rs.get(id)
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySID[sid]
	if !ok {
		return "", false
	}
	m.muted = muted
	return m.user.ID, true
}

// Roster is the full authoritative participant snapshot at this instant.
func (rs *Rooms) Roster(id domain.RoomID) []domain.Participant {
	r, ok := rs.get(id)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.bySID))
	for sid, m := range r.bySID {
		// Sessions superseded by a same-user reconnect stay out of the roster.
		if r.byUser[m.user.ID] != sid {
			continue
		}
		p := domain.NewParticipant(m.user)
		p.Muted = m.muted
		out = append(out, p)
	}
	return out
}

func (rs *Rooms) Count(id domain.RoomID) int {
	r, ok := rs.get(id)
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// Broadcast fans data out to every member except exclude. Slow members drop
// the frame instead of stalling the room.
func (rs *Rooms) Broadcast(id domain.RoomID, exclude SessionID, data []byte) {
	r, ok := rs.get(id)
	if !ok {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, m := range r.bySID {
		if sid == exclude {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			log.Warn().Str("module", "gateway.rooms").Str("sid", string(sid)).Err(err).Msg("broadcast drop")
		}
	}
}

// SendToUser delivers data to one member by identity.
func (rs *Rooms) SendToUser(id domain.RoomID, target domain.UserID, data []byte) bool {
	r, ok := rs.get(id)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byUser[target]
	if !ok {
		return false
	}
	m, ok := r.bySID[sid]
	if !ok {
		return false
	}
	if err := m.conn.TrySend(data); err != nil {
		log.Warn().Str("module", "gateway.rooms").Str("target", string(target)).Err(err).Msg("targeted send drop")
		return false
	}
	return true
}
