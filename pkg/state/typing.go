package state

import (
	"sort"

	"github.com/google/uuid"
)

type typist struct {
	id       uuid.UUID
	username string
}

// TypingAggregator tracks who is typing in each room, in the order they started.
type TypingAggregator struct {
	rooms map[string][]typist
}

func NewTypingAggregator() *TypingAggregator {
	return &TypingAggregator{rooms: make(map[string][]typist)}
}

// SetTyping adds or removes id from room's typist set. A connection that is
// already typing keeps its position; only its name is refreshed.
func (t *TypingAggregator) SetTyping(room string, id uuid.UUID, username string, isTyping bool) (changed bool) {
	if !isTyping {
		return t.Remove(room, id)
	}
	list := t.rooms[room]
	for i := range list {
		if list[i].id == id {
			changed = list[i].username != username
			list[i].username = username
			return changed
		}
	}
	t.rooms[room] = append(list, typist{id: id, username: username})
	return true
}

func (t *TypingAggregator) Remove(room string, id uuid.UUID) bool {
	list := t.rooms[room]
	for i := range list {
		if list[i].id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(t.rooms, room)
		} else {
			t.rooms[room] = list
		}
		return true
	}
	return false
}

func (t *TypingAggregator) IsTyping(room string, id uuid.UUID) bool {
	for _, ty := range t.rooms[room] {
		if ty.id == id {
			return true
		}
	}
	return false
}

// Typists returns the names typing in room.
func (t *TypingAggregator) Typists(room string) []string {
	names := make([]string, 0, len(t.rooms[room]))
	for _, ty := range t.rooms[room] {
		names = append(names, ty.username)
	}
	return names
}

func (t *TypingAggregator) DropRoom(room string) {
	delete(t.rooms, room)
}

// RemoveAll clears id from every room and returns the rooms it was typing in.
func (t *TypingAggregator) RemoveAll(id uuid.UUID) []string {
	var rooms []string
	for room := range t.rooms {
		if t.IsTyping(room, id) {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		t.Remove(room, id)
	}
	return rooms
}
