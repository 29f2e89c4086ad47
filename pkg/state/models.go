package state

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AnonymousName is shown for connections that have not identified yet.
const AnonymousName = "Anonymous"

// UnknownName is shown for reactors whose connection is gone.
const UnknownName = "Unknown"

// Peer is the outbound half of a transport connection.
type Peer interface {
	ID() uuid.UUID
	// Send enqueues an encoded frame. It must not block.
	Send(frame []byte)
}

// representation of a single transport-layer connection.
type Connection struct {
	ID          uuid.UUID
	IPAddress   string
	Peer        Peer   // The actual connection for sending messages
	Username    string // empty until the client identifies
	CurrentRoom string // last joined room still held
	CreatedAt   time.Time
}

func (c *Connection) DisplayName() string {
	if c.Username == "" {
		return AnonymousName
	}
	return c.Username
}

// User is the public projection of an identified connection.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Message is one entry in a room log or the direct log.
type Message struct {
	ID          int64
	Sender      string
	SenderID    uuid.UUID
	Room        string // empty for private messages
	Body        string
	FileURL     string
	Timestamp   time.Time
	Private     bool
	System      bool
	Recipient   string
	RecipientID uuid.UUID
	Reactions   map[uuid.UUID]string
}

func (m *Message) IsFile() bool {
	return m.FileURL != ""
}

func (m *Message) clone() Message {
	cp := *m
	cp.Reactions = make(map[uuid.UUID]string, len(m.Reactions))
	for k, v := range m.Reactions {
		cp.Reactions[k] = v
	}
	return cp
}

// Reaction is a reaction resolved for display.
type Reaction struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Reaction string    `json:"reaction"`
}

// MessageView is the client-facing shape of a message.
type MessageView struct {
	ID        int64       `json:"id"`
	Sender    string      `json:"sender,omitempty"`
	SenderID  *uuid.UUID  `json:"senderId,omitempty"`
	Room      string      `json:"room,omitempty"`
	Message   string      `json:"message,omitempty"`
	FileURL   string      `json:"fileUrl,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	IsPrivate bool        `json:"isPrivate,omitempty"`
	IsFile    bool        `json:"isFile,omitempty"`
	System    bool        `json:"system,omitempty"`
	To        string      `json:"to,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"`
	ReadBy    []uuid.UUID `json:"readBy,omitempty"`
}

// View projects m for clients. resolve maps a reactor id to a username and
// reports whether the reactor is still connected.
func (m *Message) View(resolve func(uuid.UUID) (string, bool), readBy []uuid.UUID) MessageView {
	v := MessageView{
		ID:        m.ID,
		Room:      m.Room,
		Message:   m.Body,
		FileURL:   m.FileURL,
		Timestamp: m.Timestamp,
		IsPrivate: m.Private,
		IsFile:    m.IsFile(),
		System:    m.System,
		To:        m.Recipient,
		ReadBy:    readBy,
	}
	if !m.System {
		id := m.SenderID
		v.Sender = m.Sender
		v.SenderID = &id
	}
	if len(m.Reactions) > 0 {
		v.Reactions = make([]Reaction, 0, len(m.Reactions))
		for reactor, symbol := range m.Reactions {
			name := UnknownName
			if resolve != nil {
				if n, ok := resolve(reactor); ok {
					name = n
				}
			}
			v.Reactions = append(v.Reactions, Reaction{UserID: reactor, Username: name, Reaction: symbol})
		}
		sortReactions(v.Reactions)
	}
	return v
}

func sortReactions(rs []Reaction) {
	sort.Slice(rs, func(i, j int) bool {
		return rs[i].UserID.String() < rs[j].UserID.String()
	})
}
