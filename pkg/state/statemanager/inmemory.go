package statemanager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
)

const DefaultRoom = "global"

// InMemoryManager owns every relay store behind a single lock. All state is
// lost when the process exits.
type InMemoryManager struct {
	mu sync.RWMutex

	conns    *state.ConnectionRegistry
	rooms    *state.RoomDirectory
	messages *state.MessageStore
	typing   *state.TypingAggregator
	receipts *state.DeliveryTracker

	defaultRoom  string
	historyLimit int
	now          func() time.Time

	logger *slog.Logger
}

// Option configures an InMemoryManager.
type Option func(*InMemoryManager)

// WithHistoryLimit bounds every room log to n messages.
func WithHistoryLimit(n int) Option {
	return func(m *InMemoryManager) {
		m.historyLimit = n
	}
}

// WithDefaultRoom names the room used when an event carries none.
func WithDefaultRoom(room string) Option {
	return func(m *InMemoryManager) {
		if room != "" {
			m.defaultRoom = room
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *InMemoryManager) {
		m.now = now
	}
}

func NewInMemoryManager(logger *slog.Logger, opts ...Option) *InMemoryManager {
	m := &InMemoryManager{
		conns:        state.NewConnectionRegistry(),
		rooms:        state.NewRoomDirectory(),
		typing:       state.NewTypingAggregator(),
		receipts:     state.NewDeliveryTracker(),
		defaultRoom:  DefaultRoom,
		historyLimit: state.DefaultHistoryLimit,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "state_manager_inmemory")),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.messages = state.NewMessageStore(m.historyLimit, m.now)
	return m
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

// --- Connection Lifecycle ---

func (m *InMemoryManager) RegisterConnection(peer state.Peer, ipAddr string) (state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := &state.Connection{
		ID:        peer.ID(),
		IPAddress: ipAddr,
		Peer:      peer,
		CreatedAt: m.now(),
	}
	if err := m.conns.Register(conn); err != nil {
		return state.Connection{}, err
	}
	m.logger.Debug("Connection registered", slog.String("connID", conn.ID.String()))
	return *conn, nil
}

func (m *InMemoryManager) RemoveConnection(connID uuid.UUID) (*state.Departure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		// connection is already deregistered
		return nil, state.ErrConnectionNotFound
	}

	dep := &state.Departure{
		User:       state.User{ID: conn.ID, Username: conn.Username},
		Identified: conn.Username != "",
	}

	typedIn := make(map[string]bool)
	for _, room := range m.typing.RemoveAll(connID) {
		typedIn[room] = true
	}

	for _, room := range m.rooms.LeaveAll(connID) {
		change := m.afterLeave(conn, room, typedIn[room])
		delete(typedIn, room)
		dep.Rooms = append(dep.Rooms, change)
	}
	for room := range typedIn {
		if !m.rooms.Exists(room) {
			continue
		}
		dep.Typing = append(dep.Typing, m.typingUpdate(room, true))
	}

	m.conns.Remove(connID)
	dep.Users = m.conns.AllUsers()
	dep.Everyone = m.allPeers()

	m.logger.Debug("Connection deregistered",
		slog.String("connID", connID.String()),
		slog.Int("rooms_vacated", len(dep.Rooms)),
	)
	return dep, nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return state.Connection{}, false
	}
	return *conn, true
}

func (m *InMemoryManager) CountConnectionsByIP(ip string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns.CountByIP(ip)
}

func (m *InMemoryManager) OldestConnectionByIP(ip string) (state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns.OldestByIP(ip)
	if !ok {
		return state.Connection{}, false
	}
	return *conn, true
}

func (m *InMemoryManager) Peers() []state.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allPeers()
}

// --- Identity ---

func (m *InMemoryManager) Identify(connID uuid.UUID, username string) (*state.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.conns.SetUsername(connID, username)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Connection identified", slog.String("connID", connID.String()), slog.String("username", username))
	return &state.Identity{
		User:     state.User{ID: conn.ID, Username: conn.Username},
		Users:    m.conns.AllUsers(),
		Everyone: m.allPeers(),
	}, nil
}

func (m *InMemoryManager) Users() []state.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns.AllUsers()
}

// --- Room Membership ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, room string) (*state.RoomChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return nil, state.ErrConnectionNotFound
	}
	room = m.roomOrDefault(room)

	change := &state.RoomChange{
		Room:   room,
		ConnID: connID,
		Self:   conn.Peer,
	}

	// typing belongs to the room being looked at; moving away clears it.
	prev := m.currentRoom(conn)
	if prev != room && m.typing.Remove(prev, connID) && m.rooms.Exists(prev) {
		update := m.typingUpdate(prev, true)
		change.Typing = &update
	}

	if m.rooms.IsMember(room, connID) {
		// re-joining only moves focus back; nothing is announced.
		change.AlreadyMember = true
		conn.CurrentRoom = room
		return change, nil
	}

	change.Created = m.rooms.Join(room, connID)
	conn.CurrentRoom = room

	notice := m.appendSystem(room, fmt.Sprintf("%s joined %s", conn.DisplayName(), room))
	change.Notice = &notice
	change.Members = m.memberList(room)
	change.Recipients = m.roomPeers(room)

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("room", room))
	return change, nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID, room string) (*state.RoomChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return nil, state.ErrConnectionNotFound
	}
	room = m.roomOrDefault(room)
	if !m.rooms.Exists(room) {
		return nil, fmt.Errorf("leave '%s': %w", room, state.ErrRoomNotFound)
	}
	if !m.rooms.IsMember(room, connID) {
		return nil, fmt.Errorf("leave '%s': %w", room, state.ErrNotMember)
	}

	wasTyping := m.typing.Remove(room, connID)
	m.rooms.Leave(connID, room)
	change := m.afterLeave(conn, room, wasTyping)

	if conn.CurrentRoom == room {
		conn.CurrentRoom, _ = m.rooms.LatestRoomOf(connID)
	}
	m.logger.Debug("Connection left room", slog.String("connID", connID.String()), slog.String("room", room))
	return &change, nil
}

func (m *InMemoryManager) RoomMembers(room string) ([]state.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.rooms.Exists(room) {
		return nil, state.ErrRoomNotFound
	}
	return m.memberList(room), nil
}

// afterLeave builds the notification for conn having left room, or evicts the
// room when nobody is left. The membership must already be removed.
func (m *InMemoryManager) afterLeave(conn *state.Connection, room string, wasTyping bool) state.RoomChange {
	change := state.RoomChange{
		Room:   room,
		ConnID: conn.ID,
		Self:   conn.Peer,
	}
	if m.rooms.IsEmpty(room) {
		m.evictRoom(room)
		change.Evicted = true
		return change
	}

	notice := m.appendSystem(room, fmt.Sprintf("%s left %s", conn.DisplayName(), room))
	change.Notice = &notice
	change.Members = m.memberList(room)
	change.Recipients = m.roomPeers(room)
	if wasTyping {
		update := m.typingUpdate(room, true)
		change.Typing = &update
	}
	return change
}

// evictRoom discards everything kept for room. History does not outlive the
// last member.
func (m *InMemoryManager) evictRoom(room string) {
	dropped := m.messages.DropRoom(room)
	m.receipts.Forget(dropped...)
	m.typing.DropRoom(room)
	m.logger.Debug("Removed empty room", slog.String("room", room), slog.Int("messages_dropped", len(dropped)))
}

// --- Messaging ---

func (m *InMemoryManager) SendMessage(connID uuid.UUID, room, body string) (*state.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return nil, state.ErrConnectionNotFound
	}
	if conn.Username == "" {
		return nil, state.ErrNotIdentified
	}
	return m.post(conn, m.roomOrDefault(room), &state.Message{Body: body}), nil
}

func (m *InMemoryManager) SendFile(connID uuid.UUID, room, fileURL string) (*state.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return nil, state.ErrConnectionNotFound
	}
	return m.post(conn, m.roomOrDefault(room), &state.Message{FileURL: fileURL}), nil
}

func (m *InMemoryManager) post(conn *state.Connection, room string, msg *state.Message) *state.Post {
	msg.Sender = conn.DisplayName()
	msg.SenderID = conn.ID

	stored, evicted := m.messages.Append(room, msg)
	m.receipts.Forget(evicted...)
	m.receipts.Track(stored.ID, conn.ID)

	members := m.rooms.Members(room)
	for _, id := range members {
		if id != conn.ID {
			m.receipts.MarkDelivered(stored.ID, id)
		}
	}

	p := &state.Post{
		Message:    stored.View(m.resolveName, nil),
		Sender:     conn.Peer,
		Recipients: m.peersOf(members),
	}
	// a room nobody is in keeps no history.
	if len(members) == 0 {
		m.evictRoom(room)
	}
	return p
}

func (m *InMemoryManager) SendPrivate(connID uuid.UUID, toUsername, body, fileURL string) (*state.DirectPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return nil, state.ErrConnectionNotFound
	}
	recipient, matches := m.conns.FindByUsername(toUsername)
	if recipient == nil {
		return nil, fmt.Errorf("private message to '%s': %w", toUsername, state.ErrRecipientNotFound)
	}
	if matches > 1 {
		m.logger.Warn("Private message recipient name is ambiguous; using oldest connection",
			slog.String("username", toUsername),
			slog.Int("matches", matches),
			slog.String("recipientID", recipient.ID.String()),
		)
	}

	stored, evicted := m.messages.AppendDirect(&state.Message{
		Sender:      conn.DisplayName(),
		SenderID:    conn.ID,
		Body:        body,
		FileURL:     fileURL,
		Recipient:   recipient.Username,
		RecipientID: recipient.ID,
	})
	m.receipts.Forget(evicted...)
	m.receipts.Track(stored.ID, conn.ID)
	m.receipts.MarkDelivered(stored.ID, recipient.ID)

	return &state.DirectPost{
		Message:   stored.View(m.resolveName, nil),
		Sender:    conn.Peer,
		Recipient: recipient.Peer,
	}, nil
}

func (m *InMemoryManager) SetTyping(connID uuid.UUID, isTyping bool) (*state.TypingUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns.Lookup(connID)
	if !ok {
		return nil, state.ErrConnectionNotFound
	}
	if conn.Username == "" {
		return nil, state.ErrNotIdentified
	}
	room := m.currentRoom(conn)
	changed := m.typing.SetTyping(room, connID, conn.Username, isTyping)
	update := m.typingUpdate(room, changed)
	return &update, nil
}

func (m *InMemoryManager) MarkRead(connID uuid.UUID, messageID int64) (*state.ReadReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns.Lookup(connID); !ok {
		return nil, state.ErrConnectionNotFound
	}
	msg, ok := m.messages.FindByID(messageID)
	if !ok {
		return nil, fmt.Errorf("read %d: %w", messageID, state.ErrMessageNotFound)
	}
	changed, self := m.receipts.MarkRead(messageID, connID)

	receipt := &state.ReadReceipt{
		MessageID:   messageID,
		ReaderID:    connID,
		Changed:     changed,
		AlreadySelf: self,
	}
	for _, p := range m.audience(&msg) {
		if p.ID() != connID {
			receipt.Recipients = append(receipt.Recipients, p)
		}
	}
	return receipt, nil
}

func (m *InMemoryManager) React(connID uuid.UUID, messageID int64, reaction string) (*state.ReactionUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns.Lookup(connID); !ok {
		return nil, state.ErrConnectionNotFound
	}
	msg, err := m.messages.AddReaction(messageID, connID, reaction)
	if err != nil {
		return nil, fmt.Errorf("react to %d: %w", messageID, err)
	}
	return &state.ReactionUpdate{
		MessageID:  messageID,
		ReactorID:  connID,
		Reaction:   reaction,
		Recipients: m.audience(&msg),
	}, nil
}

func (m *InMemoryManager) History(room string, page, limit int) []state.MessageView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages.Page(m.roomOrDefault(room), page, limit)
	views := make([]state.MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, msgs[i].View(m.resolveName, m.receipts.ReadSet(msgs[i].ID)))
	}
	return views
}

// --- helpers; callers hold m.mu ---

func (m *InMemoryManager) roomOrDefault(room string) string {
	if room == "" {
		return m.defaultRoom
	}
	return room
}

func (m *InMemoryManager) currentRoom(conn *state.Connection) string {
	return m.roomOrDefault(conn.CurrentRoom)
}

func (m *InMemoryManager) appendSystem(room, text string) state.MessageView {
	stored, evicted := m.messages.Append(room, &state.Message{System: true, Body: text})
	m.receipts.Forget(evicted...)
	return stored.View(m.resolveName, nil)
}

func (m *InMemoryManager) typingUpdate(room string, changed bool) state.TypingUpdate {
	return state.TypingUpdate{
		Room:       room,
		Typists:    m.typing.Typists(room),
		Changed:    changed,
		Recipients: m.roomPeers(room),
	}
}

// audience is who hears about changes to msg: its room, or both ends of a
// private message.
func (m *InMemoryManager) audience(msg *state.Message) []state.Peer {
	if !msg.Private {
		return m.roomPeers(msg.Room)
	}
	ids := []uuid.UUID{msg.SenderID}
	if msg.RecipientID != msg.SenderID {
		ids = append(ids, msg.RecipientID)
	}
	return m.peersOf(ids)
}

func (m *InMemoryManager) memberList(room string) []state.User {
	ids := m.rooms.Members(room)
	users := make([]state.User, 0, len(ids))
	for _, id := range ids {
		name := state.AnonymousName
		if conn, ok := m.conns.Lookup(id); ok {
			name = conn.DisplayName()
		}
		users = append(users, state.User{ID: id, Username: name})
	}
	return users
}

func (m *InMemoryManager) roomPeers(room string) []state.Peer {
	return m.peersOf(m.rooms.Members(room))
}

func (m *InMemoryManager) peersOf(ids []uuid.UUID) []state.Peer {
	peers := make([]state.Peer, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.conns.Lookup(id); ok && conn.Peer != nil {
			peers = append(peers, conn.Peer)
		}
	}
	return peers
}

func (m *InMemoryManager) allPeers() []state.Peer {
	all := m.conns.All()
	peers := make([]state.Peer, 0, len(all))
	for _, c := range all {
		if c.Peer != nil {
			peers = append(peers, c.Peer)
		}
	}
	return peers
}

func (m *InMemoryManager) resolveName(id uuid.UUID) (string, bool) {
	conn, ok := m.conns.Lookup(id)
	if !ok {
		return "", false
	}
	return conn.DisplayName(), true
}
