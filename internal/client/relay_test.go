package client

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcord/voxcord/internal/domain"
	"github.com/voxcord/voxcord/internal/protocol"
)

func TestRelayWrapTagsRoomAndTarget(t *testing.T) {
	r := NewRelay(zerolog.Nop())
	payload := json.RawMessage(`{"k":"v"}`)

	sig := r.wrap("room1", payload, "peer")
	assert.Equal(t, domain.RoomID("room1"), sig.RoomID)
	assert.Equal(t, domain.UserID("peer"), sig.TargetID)
	assert.Equal(t, []byte(payload), []byte(sig.Payload))

	broadcast := r.wrap("room1", payload, "")
	assert.Empty(t, broadcast.TargetID)
}

func TestRelayDispatchPreservesPayloadBytes(t *testing.T) {
	r := NewRelay(zerolog.Nop())
	payload := json.RawMessage(`{"sdp":"a=fingerprint:\tsha-256 AA:BB","n":[0.5,1e9]}`)

	var gotPayload json.RawMessage
	var gotFrom domain.UserID
	r.OnSignal(func(p json.RawMessage, from domain.UserID) {
		gotPayload = p
		gotFrom = from
	})

	r.dispatch(protocol.SignalDelivery{Payload: payload, FromID: "u7"})
	require.Equal(t, []byte(payload), []byte(gotPayload))
	assert.Equal(t, domain.UserID("u7"), gotFrom)
}

func TestRelayDropsWithoutHandler(t *testing.T) {
	r := NewRelay(zerolog.Nop())
	assert.NotPanics(t, func() {
		r.dispatch(protocol.SignalDelivery{Payload: json.RawMessage(`1`), FromID: "u1"})
	})

	// Consumers attach lazily; later messages reach the late handler.
	called := false
	r.OnSignal(func(json.RawMessage, domain.UserID) { called = true })
	r.dispatch(protocol.SignalDelivery{Payload: json.RawMessage(`2`), FromID: "u1"})
	assert.True(t, called)
}
