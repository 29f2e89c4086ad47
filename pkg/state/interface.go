package state

import (
	"github.com/google/uuid"
)

// Manager is the aggregate relay state. Each method is one atomic transition
// across the registry, rooms, message store, typing sets and delivery
// receipts, and returns everything the caller needs to notify clients.
type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(peer Peer, ipAddr string) (Connection, error)
	// RemoveConnection cascades a disconnect through every store at once.
	RemoveConnection(connID uuid.UUID) (*Departure, error)
	GetConnection(connID uuid.UUID) (Connection, bool)
	CountConnectionsByIP(ip string) int
	OldestConnectionByIP(ip string) (Connection, bool)
	Peers() []Peer

	// --- Identity ---
	Identify(connID uuid.UUID, username string) (*Identity, error)
	Users() []User

	// --- Room Membership ---
	JoinRoom(connID uuid.UUID, room string) (*RoomChange, error)
	LeaveRoom(connID uuid.UUID, room string) (*RoomChange, error)
	RoomMembers(room string) ([]User, error)

	// --- Messaging ---
	SendMessage(connID uuid.UUID, room, body string) (*Post, error)
	SendFile(connID uuid.UUID, room, fileURL string) (*Post, error)
	SendPrivate(connID uuid.UUID, toUsername, body, fileURL string) (*DirectPost, error)
	SetTyping(connID uuid.UUID, isTyping bool) (*TypingUpdate, error)
	MarkRead(connID uuid.UUID, messageID int64) (*ReadReceipt, error)
	React(connID uuid.UUID, messageID int64, reaction string) (*ReactionUpdate, error)

	// History reads one page of a room log. It never mutates state.
	History(room string, page, limit int) []MessageView
}

// Identity is the outcome of a client naming itself.
type Identity struct {
	User     User
	Users    []User
	Everyone []Peer
}

// TypingUpdate carries the full typist list of one room.
type TypingUpdate struct {
	Room       string
	Typists    []string
	Changed    bool
	Recipients []Peer
}

// RoomChange describes a join or leave and who must hear about it.
type RoomChange struct {
	Room    string
	ConnID  uuid.UUID
	Self    Peer
	Created bool
	Evicted bool
	// AlreadyMember is set by a join for a room the connection was already in.
	AlreadyMember bool
	// Notice is the system message announcing the change. Nil when nobody is
	// left in the room to read it.
	Notice     *MessageView
	Members    []User
	Recipients []Peer
	// Typing is set when the change cleared a typing entry.
	Typing *TypingUpdate
}

// Post is a room message ready for fan-out.
type Post struct {
	Message    MessageView
	Sender     Peer
	Recipients []Peer
}

// DirectPost is a private message and its two endpoints.
type DirectPost struct {
	Message   MessageView
	Sender    Peer
	Recipient Peer
}

type ReadReceipt struct {
	MessageID   int64
	ReaderID    uuid.UUID
	Changed     bool
	AlreadySelf bool
	// Recipients excludes the reader.
	Recipients []Peer
}

type ReactionUpdate struct {
	MessageID  int64
	ReactorID  uuid.UUID
	Reaction   string
	Recipients []Peer
}

// Departure is everything a disconnect changed.
type Departure struct {
	User       User
	Identified bool
	Rooms      []RoomChange
	// Typing lists rooms the connection was typing in without being a member.
	Typing   []TypingUpdate
	Users    []User
	Everyone []Peer
}
