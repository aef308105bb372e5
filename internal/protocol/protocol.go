// Package protocol defines the JSON wire messages exchanged over the voice
// signaling connection. Both the client coordinator and the gateway speak it;
// signal payloads are opaque blobs and are never inspected here.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/voxcord/voxcord/internal/domain"
)

type Type string

// Client to server.
const (
	TypeJoinRoom   Type = "join-room"
	TypeLeaveRoom  Type = "leave-room"
	TypeMuteStatus Type = "mute-status"
	TypeSignal     Type = "signal"
)

// Server to client.
const (
	TypeConnected         Type = "connected"
	TypeJoined            Type = "joined"
	TypeLeft              Type = "left"
	TypeRosterUpdated     Type = "roster-updated"
	TypePeerJoined        Type = "peer-joined"
	TypePeerLeft          Type = "peer-left"
	TypeMuteStatusChanged Type = "mute-status-changed"
	TypeSignalDelivery    Type = "signal-delivery"
	TypeError             Type = "error"
)

// Message is any wire message; MsgType dispatches without reflection.
type Message interface {
	MsgType() Type
}

type JoinRoom struct {
	Type   Type          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type LeaveRoom struct {
	Type   Type          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type MuteStatus struct {
	Type   Type          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Muted  bool          `json:"isMuted"`
}

type Signal struct {
	Type     Type            `json:"type"`
	RoomID   domain.RoomID   `json:"roomId"`
	Payload  json.RawMessage `json:"payload"`
	TargetID domain.UserID   `json:"targetId,omitempty"`
}

// Connected is the first message after a successful upgrade; it tells the
// client its own identity as resolved from the bearer token.
type Connected struct {
	Type     Type          `json:"type"`
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
}

type Joined struct {
	Type   Type                 `json:"type"`
	RoomID domain.RoomID        `json:"roomId"`
	Roster []domain.Participant `json:"roster"`
}

type Left struct {
	Type   Type          `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type RosterUpdated struct {
	Type   Type                 `json:"type"`
	RoomID domain.RoomID        `json:"roomId"`
	Roster []domain.Participant `json:"roster"`
}

type PeerJoined struct {
	Type     Type          `json:"type"`
	RoomID   domain.RoomID `json:"roomId"`
	Identity domain.UserID `json:"identity"`
	Username string        `json:"username"`
}

type PeerLeft struct {
	Type     Type          `json:"type"`
	RoomID   domain.RoomID `json:"roomId"`
	Identity domain.UserID `json:"identity"`
}

type MuteStatusChanged struct {
	Type     Type          `json:"type"`
	Identity domain.UserID `json:"identity"`
	Muted    bool          `json:"isMuted"`
}

type SignalDelivery struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	FromID  domain.UserID   `json:"fromId"`
}

type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func (m JoinRoom) MsgType() Type          { return TypeJoinRoom }
func (m LeaveRoom) MsgType() Type         { return TypeLeaveRoom }
func (m MuteStatus) MsgType() Type        { return TypeMuteStatus }
func (m Signal) MsgType() Type            { return TypeSignal }
func (m Connected) MsgType() Type         { return TypeConnected }
func (m Joined) MsgType() Type            { return TypeJoined }
func (m Left) MsgType() Type              { return TypeLeft }
func (m RosterUpdated) MsgType() Type     { return TypeRosterUpdated }
func (m PeerJoined) MsgType() Type        { return TypePeerJoined }
func (m PeerLeft) MsgType() Type          { return TypePeerLeft }
func (m MuteStatusChanged) MsgType() Type { return TypeMuteStatusChanged }
func (m SignalDelivery) MsgType() Type    { return TypeSignalDelivery }
func (m Error) MsgType() Type             { return TypeError }

// Encode stamps the message's type discriminator and marshals it.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case JoinRoom:
		v.Type = TypeJoinRoom
		return json.Marshal(v)
	case LeaveRoom:
		v.Type = TypeLeaveRoom
		return json.Marshal(v)
	case MuteStatus:
		v.Type = TypeMuteStatus
		return json.Marshal(v)
	case Signal:
		v.Type = TypeSignal
		return json.Marshal(v)
	case Connected:
		v.Type = TypeConnected
		return json.Marshal(v)
	case Joined:
		v.Type = TypeJoined
		return json.Marshal(v)
	case Left:
		v.Type = TypeLeft
		return json.Marshal(v)
	case RosterUpdated:
		v.Type = TypeRosterUpdated
		return json.Marshal(v)
	case PeerJoined:
		v.Type = TypePeerJoined
		return json.Marshal(v)
	case PeerLeft:
		v.Type = TypePeerLeft
		return json.Marshal(v)
	case MuteStatusChanged:
		v.Type = TypeMuteStatusChanged
		return json.Marshal(v)
	case SignalDelivery:
		v.Type = TypeSignalDelivery
		return json.Marshal(v)
	case Error:
		v.Type = TypeError
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
}

// Decode parses the envelope's type discriminator and unmarshals the matching
// message. Unknown types come back as ErrUnknownType so callers can drop them
// without treating the connection as broken.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: bad envelope: %w", err)
	}

	switch env.Type {
	case TypeJoinRoom:
		return decodeAs[JoinRoom](data)
	case TypeLeaveRoom:
		return decodeAs[LeaveRoom](data)
	case TypeMuteStatus:
		return decodeAs[MuteStatus](data)
	case TypeSignal:
		return decodeAs[Signal](data)
	case TypeConnected:
		return decodeAs[Connected](data)
	case TypeJoined:
		return decodeAs[Joined](data)
	case TypeLeft:
		return decodeAs[Left](data)
	case TypeRosterUpdated:
		return decodeAs[RosterUpdated](data)
	case TypePeerJoined:
		return decodeAs[PeerJoined](data)
	case TypePeerLeft:
		return decodeAs[PeerLeft](data)
	case TypeMuteStatusChanged:
		return decodeAs[MuteStatusChanged](data)
	case TypeSignalDelivery:
		return decodeAs[SignalDelivery](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("protocol: bad %s payload: %w", v.MsgType(), err)
	}
	return v, nil
}
