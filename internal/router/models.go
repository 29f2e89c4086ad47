package router

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ClientMessage is the envelope for every frame in both directions.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound events.
const (
	EventUserJoin       = "user_join"
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventMessageRead    = "message_read"
	EventReactMessage   = "react_message"
	EventSendFile       = "send_file"
)

// Outbound events. join_room, leave_room, private_message and message_read
// reuse the inbound names.
const (
	EventUserList         = "user_list"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventReceiveMessage   = "receive_message"
	EventRoomUsers        = "room_users"
	EventTypingUsers      = "typing_users"
	EventMessageDelivered = "message_delivered"
	EventMessageReaction  = "message_reaction"
	EventMessageRejected  = "message_rejected"
)

// --- inbound payloads ---

type identifyPayload struct {
	Username string `json:"username" validate:"required,max=32"`
}

type roomPayload struct {
	Room string `json:"room" validate:"required,max=64"`
}

type sendMessagePayload struct {
	Room    string `json:"room" validate:"max=64"`
	Message string `json:"message"`
}

type privateMessagePayload struct {
	To      string `json:"to" validate:"required,max=32"`
	Message string `json:"message" validate:"required_without=FileURL,excluded_with=FileURL"`
	FileURL string `json:"fileUrl" validate:"max=2048"`
}

type messageReadPayload struct {
	MessageID int64  `json:"messageId" validate:"required,gt=0"`
	Room      string `json:"room" validate:"max=64"`
}

type reactPayload struct {
	MessageID int64  `json:"messageId" validate:"required,gt=0"`
	Reaction  string `json:"reaction" validate:"required,max=32"`
	Room      string `json:"room" validate:"max=64"`
}

type sendFilePayload struct {
	FileURL string `json:"fileUrl" validate:"required,max=2048"`
	Room    string `json:"room" validate:"max=64"`
}

// --- outbound payloads ---

type userNotice struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type deliveredNotice struct {
	MessageID int64 `json:"messageId"`
}

type typingNotice struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type readNotice struct {
	MessageID int64     `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
}

type reactionNotice struct {
	MessageID int64     `json:"messageId"`
	Reaction  string    `json:"reaction"`
	UserID    uuid.UUID `json:"userId"`
}

type rejection struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}
