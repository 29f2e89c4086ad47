package state

import (
	"sort"

	"github.com/google/uuid"
)

// ConnectionRegistry maps live connection ids to their profile. It is the
// source of truth for who is online. It is not safe for concurrent use; the
// owning manager serializes access.
type ConnectionRegistry struct {
	conns map[uuid.UUID]*Connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uuid.UUID]*Connection)}
}

func (r *ConnectionRegistry) Register(conn *Connection) error {
	if _, exists := r.conns[conn.ID]; exists {
		return ErrConnectionExists
	}
	r.conns[conn.ID] = conn
	return nil
}

// SetUsername overwrites any previous name. Names are not unique.
func (r *ConnectionRegistry) SetUsername(id uuid.UUID, username string) (*Connection, error) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	conn.Username = username
	return conn, nil
}

func (r *ConnectionRegistry) Lookup(id uuid.UUID) (*Connection, bool) {
	conn, ok := r.conns[id]
	return conn, ok
}

// Remove is idempotent.
func (r *ConnectionRegistry) Remove(id uuid.UUID) {
	delete(r.conns, id)
}

func (r *ConnectionRegistry) Len() int {
	return len(r.conns)
}

// ordered returns connections by connect time, oldest first.
func (r *ConnectionRegistry) ordered() []*Connection {
	list := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// AllUsers lists identified connections, oldest first.
func (r *ConnectionRegistry) AllUsers() []User {
	users := make([]User, 0, len(r.conns))
	for _, c := range r.ordered() {
		if c.Username == "" {
			continue
		}
		users = append(users, User{ID: c.ID, Username: c.Username})
	}
	return users
}

// All returns every live connection, oldest first.
func (r *ConnectionRegistry) All() []*Connection {
	return r.ordered()
}

// FindByUsername returns the oldest connection using username and how many
// connections share it.
func (r *ConnectionRegistry) FindByUsername(username string) (*Connection, int) {
	var first *Connection
	matches := 0
	for _, c := range r.ordered() {
		if c.Username != username {
			continue
		}
		if first == nil {
			first = c
		}
		matches++
	}
	return first, matches
}

func (r *ConnectionRegistry) CountByIP(ip string) int {
	n := 0
	for _, c := range r.conns {
		if c.IPAddress == ip {
			n++
		}
	}
	return n
}

func (r *ConnectionRegistry) OldestByIP(ip string) (*Connection, bool) {
	for _, c := range r.ordered() {
		if c.IPAddress == ip {
			return c, true
		}
	}
	return nil, false
}
