package state

import (
	"time"

	"github.com/google/uuid"
)

const DefaultHistoryLimit = 100

// IDGenerator issues strictly increasing message ids. Ids track the wall clock
// in milliseconds and fall back to last+1 when several arrive in the same
// millisecond or the clock steps backwards.
type IDGenerator struct {
	now  func() time.Time
	last int64
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

func (g *IDGenerator) Next() int64 {
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// bounded FIFO of messages.
type messageLog struct {
	entries []*Message
}

// MessageStore holds one bounded log per room plus a bounded log for private
// messages, and indexes every retained message by id.
type MessageStore struct {
	limit  int
	ids    *IDGenerator
	now    func() time.Time
	rooms  map[string]*messageLog
	direct *messageLog
	byID   map[int64]*Message
}

func NewMessageStore(limit int, now func() time.Time) *MessageStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if now == nil {
		now = time.Now
	}
	return &MessageStore{
		limit:  limit,
		ids:    NewIDGenerator(now),
		now:    now,
		rooms:  make(map[string]*messageLog),
		direct: &messageLog{},
		byID:   make(map[int64]*Message),
	}
}

func (s *MessageStore) Limit() int {
	return s.limit
}

// Append stamps msg with an id and timestamp and adds it to room's log. It
// returns the stored message and the ids evicted to keep the log bounded.
func (s *MessageStore) Append(room string, msg *Message) (*Message, []int64) {
	log, ok := s.rooms[room]
	if !ok {
		log = &messageLog{}
		s.rooms[room] = log
	}
	msg.Room = room
	return s.push(log, msg)
}

// AppendDirect stores a private message outside every room log.
func (s *MessageStore) AppendDirect(msg *Message) (*Message, []int64) {
	msg.Room = ""
	msg.Private = true
	return s.push(s.direct, msg)
}

func (s *MessageStore) push(log *messageLog, msg *Message) (*Message, []int64) {
	msg.ID = s.ids.Next()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	if msg.Reactions == nil {
		msg.Reactions = make(map[uuid.UUID]string)
	}
	log.entries = append(log.entries, msg)
	s.byID[msg.ID] = msg

	var evicted []int64
	if over := len(log.entries) - s.limit; over > 0 {
		for _, old := range log.entries[:over] {
			delete(s.byID, old.ID)
			evicted = append(evicted, old.ID)
		}
		kept := make([]*Message, s.limit)
		copy(kept, log.entries[over:])
		log.entries = kept
	}
	return msg, evicted
}

// Page returns a copy of the page-th slice (1-indexed) of room's log, oldest
// first. Pages past the end, or non-positive arguments, yield an empty slice.
func (s *MessageStore) Page(room string, page, size int) []Message {
	out := []Message{}
	log, ok := s.rooms[room]
	if !ok || page < 1 || size < 1 {
		return out
	}
	start := (page - 1) * size
	if start >= len(log.entries) {
		return out
	}
	end := start + size
	if end > len(log.entries) {
		end = len(log.entries)
	}
	for _, m := range log.entries[start:end] {
		out = append(out, m.clone())
	}
	return out
}

func (s *MessageStore) Len(room string) int {
	if log, ok := s.rooms[room]; ok {
		return len(log.entries)
	}
	return 0
}

// FindByID returns a copy of the retained message with id.
func (s *MessageStore) FindByID(id int64) (Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// AddReaction records reaction for reactor, replacing any earlier one.
func (s *MessageStore) AddReaction(id int64, reactor uuid.UUID, reaction string) (Message, error) {
	m, ok := s.byID[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	m.Reactions[reactor] = reaction
	return m.clone(), nil
}

// DropRoom discards room's log and returns the ids it held.
func (s *MessageStore) DropRoom(room string) []int64 {
	log, ok := s.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(log.entries))
	for _, m := range log.entries {
		delete(s.byID, m.ID)
		ids = append(ids, m.ID)
	}
	delete(s.rooms, room)
	return ids
}
