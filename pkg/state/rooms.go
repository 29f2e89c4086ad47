package state

import (
	"sort"

	"github.com/google/uuid"
)

// canonical representation of a communication channel.
type Room struct {
	Name    string
	members map[uuid.UUID]uint64 // member -> join sequence
}

// RoomDirectory keeps room -> members and connection -> rooms in lockstep.
// A room exists only while it has members.
type RoomDirectory struct {
	rooms       map[string]*Room
	memberships map[uuid.UUID]map[string]struct{}
	seq         uint64
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms:       make(map[string]*Room),
		memberships: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Join adds id to room, creating the room if needed. Re-joining is a no-op.
func (d *RoomDirectory) Join(room string, id uuid.UUID) (created bool) {
	r, exists := d.rooms[room]
	if !exists {
		r = &Room{Name: room, members: make(map[uuid.UUID]uint64)}
		d.rooms[room] = r
		created = true
	}
	if _, already := r.members[id]; already {
		return created
	}
	d.seq++
	r.members[id] = d.seq

	rooms, ok := d.memberships[id]
	if !ok {
		rooms = make(map[string]struct{})
		d.memberships[id] = rooms
	}
	rooms[room] = struct{}{}
	return created
}

// Leave removes id from room and evicts the room once it is empty.
func (d *RoomDirectory) Leave(id uuid.UUID, room string) (left, evicted bool) {
	r, ok := d.rooms[room]
	if !ok {
		return false, false
	}
	if _, member := r.members[id]; !member {
		return false, false
	}
	delete(r.members, id)
	if rooms, ok := d.memberships[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(d.memberships, id)
		}
	}
	if len(r.members) == 0 {
		delete(d.rooms, room)
		evicted = true
	}
	return true, evicted
}

// LeaveAll removes id from every room and returns the vacated rooms, sorted.
func (d *RoomDirectory) LeaveAll(id uuid.UUID) []string {
	vacated := d.RoomsOf(id)
	for _, room := range vacated {
		d.Leave(id, room)
	}
	return vacated
}

// Members lists the members of room in join order.
func (d *RoomDirectory) Members(room string) []uuid.UUID {
	r, ok := d.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.members[ids[i]] < r.members[ids[j]]
	})
	return ids
}

func (d *RoomDirectory) IsMember(room string, id uuid.UUID) bool {
	_, ok := d.memberships[id][room]
	return ok
}

func (d *RoomDirectory) IsEmpty(room string) bool {
	r, ok := d.rooms[room]
	return !ok || len(r.members) == 0
}

func (d *RoomDirectory) Exists(room string) bool {
	_, ok := d.rooms[room]
	return ok
}

// RoomsOf returns the rooms id belongs to, sorted.
func (d *RoomDirectory) RoomsOf(id uuid.UUID) []string {
	rooms := make([]string, 0, len(d.memberships[id]))
	for room := range d.memberships[id] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// LatestRoomOf returns the room id joined most recently among those it still holds.
func (d *RoomDirectory) LatestRoomOf(id uuid.UUID) (string, bool) {
	var (
		latest string
		best   uint64
	)
	for room := range d.memberships[id] {
		if seq := d.rooms[room].members[id]; seq > best {
			latest, best = room, seq
		}
	}
	return latest, best > 0
}

func (d *RoomDirectory) Rooms() []string {
	names := make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
