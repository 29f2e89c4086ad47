package state

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIDGenerator_StrictlyIncreasingWithinOneMillisecond(t *testing.T) {
	g := NewIDGenerator(fixedClock(time.UnixMilli(1_700_000_000_000)))

	last := int64(0)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		require.Greater(t, id, last)
		last = id
	}
	assert.Equal(t, int64(1_700_000_000_000+999), last)
}

func TestIDGenerator_ClockStepsBackwards(t *testing.T) {
	now := time.UnixMilli(5_000)
	g := NewIDGenerator(func() time.Time { return now })

	first := g.Next()
	now = time.UnixMilli(1_000)
	assert.Equal(t, first+1, g.Next())
}

func TestMessageStore_AppendBoundsRoomLog(t *testing.T) {
	s := NewMessageStore(100, nil)

	var ids []int64
	for i := 0; i < 150; i++ {
		m, _ := s.Append("global", &Message{Body: "hello"})
		ids = append(ids, m.ID)
	}

	require.Equal(t, 100, s.Len("global"))
	page := s.Page("global", 1, 100)
	require.Len(t, page, 100)
	assert.Equal(t, ids[50], page[0].ID, "oldest retained message is the 51st appended")
	assert.Equal(t, ids[149], page[99].ID)

	_, found := s.FindByID(ids[0])
	assert.False(t, found, "evicted messages are no longer findable")
}

func TestMessageStore_AppendReportsEvictedIDs(t *testing.T) {
	s := NewMessageStore(2, nil)
	first, evicted := s.Append("r", &Message{Body: "a"})
	assert.Empty(t, evicted)
	s.Append("r", &Message{Body: "b"})

	_, evicted = s.Append("r", &Message{Body: "c"})
	assert.Equal(t, []int64{first.ID}, evicted)
}

func TestMessageStore_PageOutOfRange(t *testing.T) {
	s := NewMessageStore(10, nil)
	s.Append("r", &Message{Body: "only"})

	tests := []struct {
		name       string
		room       string
		page, size int
	}{
		{"past the end", "r", 2, 20},
		{"zero page", "r", 0, 20},
		{"zero size", "r", 1, 0},
		{"unknown room", "nope", 1, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Page(tt.room, tt.page, tt.size)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestMessageStore_PageReturnsCopies(t *testing.T) {
	s := NewMessageStore(10, nil)
	m, _ := s.Append("r", &Message{Body: "original"})

	page := s.Page("r", 1, 10)
	page[0].Body = "tampered"
	page[0].Reactions[uuid.New()] = "x"

	stored, ok := s.FindByID(m.ID)
	require.True(t, ok)
	assert.Equal(t, "original", stored.Body)
	assert.Empty(t, stored.Reactions)
}

func TestMessageStore_DirectMessagesStayOutOfRoomLogs(t *testing.T) {
	s := NewMessageStore(10, nil)
	dm, _ := s.AppendDirect(&Message{Body: "psst"})

	assert.True(t, dm.Private)
	assert.Empty(t, dm.Room)
	assert.Equal(t, 0, s.Len(""))
	assert.Empty(t, s.Page("", 1, 10))

	found, ok := s.FindByID(dm.ID)
	require.True(t, ok)
	assert.Equal(t, "psst", found.Body)
}

func TestMessageStore_AddReactionLastWriteWins(t *testing.T) {
	s := NewMessageStore(10, nil)
	m, _ := s.Append("r", &Message{Body: "hi"})
	reactor := uuid.New()

	_, err := s.AddReaction(m.ID, reactor, "👍")
	require.NoError(t, err)
	got, err := s.AddReaction(m.ID, reactor, "❤️")
	require.NoError(t, err)

	assert.Len(t, got.Reactions, 1)
	assert.Equal(t, "❤️", got.Reactions[reactor])

	_, err = s.AddReaction(424242, reactor, "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessageStore_DropRoom(t *testing.T) {
	s := NewMessageStore(10, nil)
	a, _ := s.Append("r", &Message{Body: "a"})
	b, _ := s.Append("r", &Message{Body: "b"})
	keep, _ := s.Append("other", &Message{Body: "c"})

	assert.Equal(t, []int64{a.ID, b.ID}, s.DropRoom("r"))
	assert.Equal(t, 0, s.Len("r"))
	_, ok := s.FindByID(a.ID)
	assert.False(t, ok)
	_, ok = s.FindByID(keep.ID)
	assert.True(t, ok)
	assert.Nil(t, s.DropRoom("r"))
}

func TestMessageView_ResolvesReactors(t *testing.T) {
	alice, gone := uuid.New(), uuid.New()
	m := &Message{
		ID:        1,
		Sender:    "alice",
		SenderID:  alice,
		Room:      "global",
		Body:      "hi",
		Reactions: map[uuid.UUID]string{alice: "👍", gone: "🎉"},
	}
	resolve := func(id uuid.UUID) (string, bool) {
		if id == alice {
			return "alice", true
		}
		return "", false
	}

	v := m.View(resolve, nil)
	require.Len(t, v.Reactions, 2)
	names := map[uuid.UUID]string{}
	for _, r := range v.Reactions {
		names[r.UserID] = r.Username
	}
	assert.Equal(t, "alice", names[alice])
	assert.Equal(t, UnknownName, names[gone])
	require.NotNil(t, v.SenderID)
	assert.Equal(t, alice, *v.SenderID)
}

func TestMessageView_SystemMessagesHaveNoSender(t *testing.T) {
	m := &Message{ID: 1, Room: "global", Body: "alice joined global", System: true}
	v := m.View(nil, nil)
	assert.True(t, v.System)
	assert.Empty(t, v.Sender)
	assert.Nil(t, v.SenderID)
}
