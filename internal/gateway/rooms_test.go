package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcord/voxcord/internal/domain"
)

type fakeSender struct {
	mu    sync.Mutex
	data  [][]byte
	fail  bool
	drops int
}

func (f *fakeSender) TrySend(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		f.drops++
		return ErrBackpressure
	}
	f.data = append(f.data, data)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func addMember(rs *Rooms, room domain.RoomID, sid SessionID, uid domain.UserID) *fakeSender {
	s := &fakeSender{}
	rs.Add(room, sid, &domain.User{ID: uid, Username: string(uid)}, s)
	return s
}

func TestRoomsAddAndRoster(t *testing.T) {
	rs := NewRooms()
	addMember(rs, "r1", "s1", "u1")
	roster := rs.Roster("r1")
	require.Len(t, roster, 1)
	assert.Equal(t, domain.UserID("u1"), roster[0].ID)
	assert.False(t, roster[0].Muted)

	addMember(rs, "r1", "s2", "u2")
	assert.Equal(t, 2, rs.Count("r1"))
	assert.Equal(t, 0, rs.Count("nope"))
}

func TestRoomsRemoveDropsEmptyRoom(t *testing.T) {
	rs := NewRooms()
	addMember(rs, "r1", "s1", "u1")

	require.True(t, rs.Remove("r1", "s1"))
	assert.Equal(t, 0, rs.Count("r1"))
	assert.Empty(t, rs.Roster("r1"))

	// Removing again or from a missing room is harmless.
	assert.False(t, rs.Remove("r1", "s1"))
	assert.False(t, rs.Remove("ghost", "s1"))
}

func TestRoomsSetMuted(t *testing.T) {
	rs := NewRooms()
	addMember(rs, "r1", "s1", "u1")

	uid, ok := rs.SetMuted("r1", "s1", true)
	require.True(t, ok)
	assert.Equal(t, domain.UserID("u1"), uid)

	roster := rs.Roster("r1")
	require.Len(t, roster, 1)
	assert.True(t, roster[0].Muted)

	_, ok = rs.SetMuted("r1", "ghost", true)
	assert.False(t, ok)
}

func TestRoomsBroadcastExcludesSender(t *testing.T) {
	rs := NewRooms()
	a := addMember(rs, "r1", "s1", "u1")
	b := addMember(rs, "r1", "s2", "u2")
	c := addMember(rs, "r1", "s3", "u3")

	rs.Broadcast("r1", "s1", []byte("hello"))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 1, c.count())
}

func TestRoomsBroadcastDropsSlowMembers(t *testing.T) {
	rs := NewRooms()
	slow := &fakeSender{fail: true}
	rs.Add("r1", "s1", &domain.User{ID: "u1", Username: "u1"}, slow)
	fast := addMember(rs, "r1", "s2", "u2")

	rs.Broadcast("r1", "", []byte("x"))
	assert.Equal(t, 1, fast.count())
	assert.Equal(t, 1, slow.drops)
	// The slow member stays; drop policy is per frame.
	assert.Equal(t, 2, rs.Count("r1"))
}

func TestRoomsReconnectedUserKeepsTargetedRoute(t *testing.T) {
	rs := NewRooms()
	stale := addMember(rs, "r1", "sOld", "u1")
	live := addMember(rs, "r1", "sNew", "u1")

	// While the dead connection lingers, the roster lists the identity once.
	roster := rs.Roster("r1")
	require.Len(t, roster, 1)
	assert.Equal(t, domain.UserID("u1"), roster[0].ID)

	// Reaping the stale session must not cut the live session's route.
	require.True(t, rs.Remove("r1", "sOld"))
	assert.Equal(t, 1, rs.Count("r1"))
	require.True(t, rs.SendToUser("r1", "u1", []byte("direct")))
	assert.Equal(t, 0, stale.count())
	assert.Equal(t, 1, live.count())

	// A genuine leave still clears the route.
	require.True(t, rs.Remove("r1", "sNew"))
	assert.False(t, rs.SendToUser("r1", "u1", []byte("x")))
}

func TestRoomsSendToUser(t *testing.T) {
	rs := NewRooms()
	a := addMember(rs, "r1", "s1", "u1")
	b := addMember(rs, "r1", "s2", "u2")

	require.True(t, rs.SendToUser("r1", "u2", []byte("direct")))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())

	assert.False(t, rs.SendToUser("r1", "ghost", []byte("x")))
	assert.False(t, rs.SendToUser("ghost", "u2", []byte("x")))
}
