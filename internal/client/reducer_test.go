package client

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcord/voxcord/internal/domain"
)

func pt(id string) domain.Participant {
	return domain.Participant{ID: domain.UserID(id), Username: id}
}

func roster(ids ...string) []domain.Participant {
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, pt(id))
	}
	return out
}

func TestReduceJoinedReplacesEverything(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1", "u2")})
	require.Equal(t, domain.RoomID("a"), st.roomID)
	require.Len(t, st.participants, 2)

	// Joining another room replaces roster wholesale, never merges.
	st = reduce(st, Joined{RoomID: "b", Roster: roster("u3")})
	assert.Equal(t, domain.RoomID("b"), st.roomID)
	require.Len(t, st.participants, 1)
	_, ok := st.participants["u3"]
	assert.True(t, ok)
}

func TestReduceRosterSnapshotSemantics(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1", "u2")})

	// The resulting set equals exactly the last roster received.
	st = reduce(st, RosterUpdated{RoomID: "a", Roster: roster("u2", "u3", "u4")})
	require.Len(t, st.participants, 3)
	_, gone := st.participants["u1"]
	assert.False(t, gone, "u1 should not survive a snapshot that omits it")

	// A snapshot for a different room is ignored.
	st = reduce(st, RosterUpdated{RoomID: "other", Roster: roster("x")})
	assert.Equal(t, domain.RoomID("a"), st.roomID)
	assert.Len(t, st.participants, 3)
}

func TestReduceLeft(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1")})

	ignored := reduce(st, LeftRoom{RoomID: "b"})
	assert.Equal(t, st, ignored)

	cleared := reduce(st, LeftRoom{RoomID: "a"})
	assert.Empty(t, cleared.roomID)
	assert.Empty(t, cleared.participants)
}

func TestReducePeerJoinedIsOptimisticOnly(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1")})

	st = reduce(st, PeerJoined{RoomID: "a", Identity: "u2", Username: "u2"})
	require.Len(t, st.participants, 2)

	// Duplicate insert is a no-op.
	again := reduce(st, PeerJoined{RoomID: "a", Identity: "u2", Username: "u2"})
	assert.Equal(t, st, again)

	// Wrong room is a no-op.
	other := reduce(st, PeerJoined{RoomID: "b", Identity: "u9", Username: "u9"})
	assert.Equal(t, st, other)
}

func TestReducePeerLeftIdempotent(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1", "u2")})

	once := reduce(st, PeerLeft{RoomID: "a", Identity: "u2"})
	twice := reduce(once, PeerLeft{RoomID: "a", Identity: "u2"})
	assert.Equal(t, once, twice)
	require.Len(t, once.participants, 1)
}

func TestReduceMuteChanged(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1", "u2")})

	st = reduce(st, MuteChanged{Identity: "u2", Muted: true})
	assert.True(t, st.participants["u2"].Muted)
	assert.False(t, st.participants["u1"].Muted)

	// Mute for an already removed participant is ignored, not an error.
	unknown := reduce(st, MuteChanged{Identity: "nope", Muted: true})
	assert.Equal(t, st, unknown)
}

func TestReduceConnectionLost(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1", "u2")})
	st = reduce(st, ConnectionLost{})
	assert.Empty(t, st.roomID)
	assert.Empty(t, st.participants)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	st := reduce(presence{}, Joined{RoomID: "a", Roster: roster("u1", "u2")})
	before := len(st.participants)

	_ = reduce(st, PeerLeft{RoomID: "a", Identity: "u1"})
	_ = reduce(st, MuteChanged{Identity: "u2", Muted: true})

	assert.Len(t, st.participants, before)
	assert.False(t, st.participants["u2"].Muted)
}

// Room id and a non-empty participant set are always set together or not at
// all, for any event sequence.
func TestReduceInvariantRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rooms := []domain.RoomID{"a", "b", "c"}
	ids := []domain.UserID{"u1", "u2", "u3", "u4"}

	randomRoster := func() []domain.Participant {
		n := rng.Intn(len(ids)) + 1
		out := make([]domain.Participant, 0, n)
		for _, i := range rng.Perm(len(ids))[:n] {
			out = append(out, pt(string(ids[i])))
		}
		return out
	}

	randomEvent := func() Event {
		room := rooms[rng.Intn(len(rooms))]
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(7) {
		case 0:
			return Joined{RoomID: room, Roster: randomRoster()}
		case 1:
			return LeftRoom{RoomID: room}
		case 2:
			return RosterUpdated{RoomID: room, Roster: randomRoster()}
		case 3:
			return PeerJoined{RoomID: room, Identity: id, Username: string(id)}
		case 4:
			return PeerLeft{RoomID: room, Identity: id}
		case 5:
			return MuteChanged{Identity: id, Muted: rng.Intn(2) == 0}
		default:
			return ConnectionLost{}
		}
	}

	for run := 0; run < 50; run++ {
		st := presence{}
		for i := 0; i < 200; i++ {
			ev := randomEvent()
			st = reduce(st, ev)
			hasRoom := st.roomID != ""
			hasMembers := len(st.participants) > 0
			require.Equal(t, hasRoom, hasMembers,
				fmt.Sprintf("run %d step %d: room=%q members=%d after %#v", run, i, st.roomID, len(st.participants), ev))
		}
	}
}
