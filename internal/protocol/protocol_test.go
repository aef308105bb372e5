package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcord/voxcord/internal/domain"
)

func TestEncodeStampsType(t *testing.T) {
	data, err := Encode(JoinRoom{RoomID: "r1"})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "join-room", env["type"])
	assert.Equal(t, "r1", env["roomId"])
}

func TestDecodeDispatchesOnType(t *testing.T) {
	data, err := Encode(Joined{
		RoomID: "r1",
		Roster: []domain.Participant{{ID: "u1", Username: "alice", Muted: true}},
	})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	joined, ok := msg.(Joined)
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), joined.RoomID)
	require.Len(t, joined.Roster, 1)
	assert.True(t, joined.Roster[0].Muted)
}

func TestDecodeSignalKeepsPayloadOpaque(t *testing.T) {
	payload := json.RawMessage(`{"anything":["goes",null,{"nested":true}]}`)
	data, err := Encode(Signal{RoomID: "r1", Payload: payload, TargetID: "u2"})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	sig := msg.(Signal)
	assert.JSONEq(t, string(payload), string(sig.Payload))
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"who-knows"}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"type":"joined","roster":"not-a-list"}`))
	require.Error(t, err)
}
