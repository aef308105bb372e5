package client

import "github.com/voxcord/voxcord/internal/domain"

// Event is one input to the presence reducer. Events come from the gateway
// (translated from protocol messages) or from the connection lifecycle.
type Event interface{ event() }

// Joined carries the authoritative roster snapshot for a freshly joined room.
type Joined struct {
	RoomID domain.RoomID
	Roster []domain.Participant
}

// LeftRoom confirms the local user left the named room.
type LeftRoom struct {
	RoomID domain.RoomID
}

// RosterUpdated replaces the participant set wholesale. Always a full
// snapshot, never a delta, so missed peer events cannot cause drift.
type RosterUpdated struct {
	RoomID domain.RoomID
	Roster []domain.Participant
}

// PeerJoined is low-latency optimistic feedback between roster snapshots.
type PeerJoined struct {
	RoomID   domain.RoomID
	Identity domain.UserID
	Username string
}

type PeerLeft struct {
	RoomID   domain.RoomID
	Identity domain.UserID
}

type MuteChanged struct {
	Identity domain.UserID
	Muted    bool
}

// ConnectionLost force-clears all presence regardless of prior state.
type ConnectionLost struct{}

func (Joined) event()         {}
func (LeftRoom) event()       {}
func (RosterUpdated) event()  {}
func (PeerJoined) event()     {}
func (PeerLeft) event()       {}
func (MuteChanged) event()    {}
func (ConnectionLost) event() {}

// presence is the reducer state: the current room and who is in it.
// The zero value means "not in any room".
type presence struct {
	roomID       domain.RoomID
	participants map[domain.UserID]domain.Participant
}

// reduce is a pure transition function: (state, event) -> state. It never
// mutates its input; any change produces a fresh participant map. Unknown
// events are a no-op transition.
func reduce(st presence, ev Event) presence {
	switch e := ev.(type) {
	case Joined:
		// A roster without even the local user means the room is gone.
		if len(e.Roster) == 0 {
			return presence{}
		}
		return presence{roomID: e.RoomID, participants: rosterMap(e.Roster)}

	case LeftRoom:
		if st.roomID != e.RoomID {
			return st
		}
		return presence{}

	case RosterUpdated:
		if st.roomID == "" || st.roomID != e.RoomID {
			return st
		}
		if len(e.Roster) == 0 {
			return presence{}
		}
		return presence{roomID: st.roomID, participants: rosterMap(e.Roster)}

	case PeerJoined:
		if st.roomID == "" || st.roomID != e.RoomID {
			return st
		}
		if _, ok := st.participants[e.Identity]; ok {
			return st
		}
		next := st.clone()
		next.participants[e.Identity] = domain.Participant{ID: e.Identity, Username: e.Username}
		return next

	case PeerLeft:
		if st.roomID == "" || st.roomID != e.RoomID {
			return st
		}
		if _, ok := st.participants[e.Identity]; !ok {
			return st
		}
		next := st.clone()
		delete(next.participants, e.Identity)
		if len(next.participants) == 0 {
			return presence{}
		}
		return next

	case MuteChanged:
		// The participant may already be gone; a late mute event is ignored.
		p, ok := st.participants[e.Identity]
		if !ok || p.Muted == e.Muted {
			return st
		}
		p.Muted = e.Muted
		next := st.clone()
		next.participants[e.Identity] = p
		return next

	case ConnectionLost:
		return presence{}

	default:
		return st
	}
}

func (st presence) clone() presence {
	out := presence{roomID: st.roomID, participants: make(map[domain.UserID]domain.Participant, len(st.participants))}
	for id, p := range st.participants {
		out.participants[id] = p
	}
	return out
}

func rosterMap(roster []domain.Participant) map[domain.UserID]domain.Participant {
	out := make(map[domain.UserID]domain.Participant, len(roster))
	for _, p := range roster {
		out[p.ID] = p
	}
	return out
}
