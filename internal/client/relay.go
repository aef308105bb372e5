package client

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxcord/voxcord/internal/domain"
	"github.com/voxcord/voxcord/internal/protocol"
)

// SignalHandler consumes one inbound peer signaling payload. The payload is
// an opaque blob; the relay never interprets it.
type SignalHandler func(payload json.RawMessage, from domain.UserID)

// Relay is a stateless pass-through for peer-to-peer signaling. Outbound it
// tags payloads with room and target metadata; inbound it strips the envelope
// and hands the payload to the registered handler. Consumers attach lazily,
// so a missing handler drops the message without error.
type Relay struct {
	mu      sync.RWMutex
	handler SignalHandler
	log     zerolog.Logger
}

func NewRelay(log zerolog.Logger) *Relay {
	return &Relay{log: log.With().Str("module", "client.relay").Logger()}
}

// OnSignal registers the single inbound handler, replacing any previous one.
func (r *Relay) OnSignal(fn SignalHandler) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

// wrap envelopes an outbound payload for the current room. An empty target
// broadcasts to the room.
func (r *Relay) wrap(roomID domain.RoomID, payload json.RawMessage, target domain.UserID) protocol.Signal {
	return protocol.Signal{RoomID: roomID, Payload: payload, TargetID: target}
}

func (r *Relay) dispatch(m protocol.SignalDelivery) {
	r.mu.RLock()
	fn := r.handler
	r.mu.RUnlock()
	if fn == nil {
		r.log.Debug().Str("from", string(m.FromID)).Msg("no signal handler registered, dropping")
		return
	}
	fn(m.Payload, m.FromID)
}
