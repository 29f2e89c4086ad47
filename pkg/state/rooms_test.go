package state

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertBidirectional checks that room membership and the reverse index agree.
func assertBidirectional(t *testing.T, d *RoomDirectory) {
	t.Helper()
	for name, r := range d.rooms {
		assert.NotEmpty(t, r.members, "room %q exists without members", name)
		for id := range r.members {
			assert.Contains(t, d.memberships[id], name)
		}
	}
	for id, rooms := range d.memberships {
		assert.NotEmpty(t, rooms)
		for name := range rooms {
			require.Contains(t, d.rooms, name)
			assert.Contains(t, d.rooms[name].members, id)
		}
	}
}

func TestRoomDirectory_JoinIsIdempotent(t *testing.T) {
	d := NewRoomDirectory()
	id := uuid.New()

	assert.True(t, d.Join("lobby", id))
	assert.False(t, d.Join("lobby", id))
	assert.Equal(t, []uuid.UUID{id}, d.Members("lobby"))
	assertBidirectional(t, d)
}

func TestRoomDirectory_MembersInJoinOrder(t *testing.T) {
	d := NewRoomDirectory()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		d.Join("lobby", id)
	}
	assert.Equal(t, ids, d.Members("lobby"))
}

func TestRoomDirectory_LeaveEvictsEmptyRoom(t *testing.T) {
	d := NewRoomDirectory()
	a, b := uuid.New(), uuid.New()
	d.Join("lobby", a)
	d.Join("lobby", b)

	left, evicted := d.Leave(a, "lobby")
	assert.True(t, left)
	assert.False(t, evicted)

	left, evicted = d.Leave(a, "lobby")
	assert.False(t, left)
	assert.False(t, evicted)

	left, evicted = d.Leave(b, "lobby")
	assert.True(t, left)
	assert.True(t, evicted)
	assert.False(t, d.Exists("lobby"))
	assert.True(t, d.IsEmpty("lobby"))
	assertBidirectional(t, d)
}

func TestRoomDirectory_LeaveAll(t *testing.T) {
	d := NewRoomDirectory()
	a, b := uuid.New(), uuid.New()
	d.Join("zeta", a)
	d.Join("alpha", a)
	d.Join("alpha", b)

	assert.Equal(t, []string{"alpha", "zeta"}, d.LeaveAll(a))
	assert.Empty(t, d.RoomsOf(a))
	assert.False(t, d.Exists("zeta"))
	assert.Equal(t, []uuid.UUID{b}, d.Members("alpha"))
	assertBidirectional(t, d)
}

func TestRoomDirectory_LatestRoomOf(t *testing.T) {
	d := NewRoomDirectory()
	id := uuid.New()

	_, ok := d.LatestRoomOf(id)
	assert.False(t, ok)

	d.Join("first", id)
	d.Join("second", id)
	room, ok := d.LatestRoomOf(id)
	require.True(t, ok)
	assert.Equal(t, "second", room)

	d.Leave(id, "second")
	room, _ = d.LatestRoomOf(id)
	assert.Equal(t, "first", room)
}

func TestRoomDirectory_RandomSequencesKeepIndicesInStep(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := NewRoomDirectory()
	conns := make([]uuid.UUID, 8)
	for i := range conns {
		conns[i] = uuid.New()
	}
	rooms := []string{"global", "a", "b", "c"}

	for step := 0; step < 2000; step++ {
		id := conns[rng.Intn(len(conns))]
		room := rooms[rng.Intn(len(rooms))]
		switch rng.Intn(3) {
		case 0:
			d.Join(room, id)
		case 1:
			d.Leave(id, room)
		case 2:
			d.LeaveAll(id)
		}
		if step%100 == 0 {
			assertBidirectional(t, d)
		}
	}
	assertBidirectional(t, d)
}
