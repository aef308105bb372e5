package client

import "github.com/voxcord/voxcord/internal/domain"

// Status is the connection lifecycle state of the voice session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Session is an immutable snapshot of the voice session, published to
// observers on every state change. Observers must never mutate it; the
// participant map is copied per snapshot.
type Session struct {
	Status     Status
	Self       domain.UserID
	SelfName   string
	RoomID     domain.RoomID
	LocalMuted bool

	Participants map[domain.UserID]domain.Participant

	// Notice is a one-time human-readable message (rejoin failure, timeout).
	// It is set on exactly one snapshot and empty afterwards.
	Notice string
}

// InRoom reports whether the session has an active voice room.
func (s Session) InRoom() bool { return s.RoomID != "" }
