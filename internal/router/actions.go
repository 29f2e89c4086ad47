package router

import (
	"log/slog"
	"strings"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
)

func (r *EventRouter) onIdentify(ec *eventContext) error {
	username, err := scalarOrField(ec.payload, "username")
	if err != nil {
		return err
	}
	if err := r.decoder.check(identifyPayload{Username: username}); err != nil {
		return err
	}

	identity, err := r.manager.Identify(ec.conn.ID, username)
	if err != nil {
		return err
	}
	r.emit(identity.Everyone, EventUserList, identity.Users)
	r.emit(identity.Everyone, EventUserJoined, userNotice{ID: identity.User.ID, Username: identity.User.Username})
	ec.logger.Info("User joined the chat", slog.String("username", username))
	return nil
}

func (r *EventRouter) onJoinRoom(ec *eventContext) error {
	room, err := scalarOrField(ec.payload, "room")
	if err != nil {
		return err
	}
	if err := r.decoder.check(roomPayload{Room: room}); err != nil {
		return err
	}

	change, err := r.manager.JoinRoom(ec.conn.ID, room)
	if err != nil {
		return err
	}
	r.emitTyping(change.Typing)
	r.emitRoomChange(change)
	r.emitTo(change.Self, EventJoinRoom, change.Room)
	return nil
}

func (r *EventRouter) onLeaveRoom(ec *eventContext) error {
	room, err := scalarOrField(ec.payload, "room")
	if err != nil {
		return err
	}
	if err := r.decoder.check(roomPayload{Room: room}); err != nil {
		return err
	}

	change, err := r.manager.LeaveRoom(ec.conn.ID, room)
	if err != nil {
		return err
	}
	r.emitRoomChange(change)
	r.emitTyping(change.Typing)
	r.emitTo(change.Self, EventLeaveRoom, change.Room)
	return nil
}

func (r *EventRouter) onSendMessage(ec *eventContext) error {
	var p sendMessagePayload
	if err := r.decoder.decode(ec.payload, &p, func() {
		p.Room = strings.TrimSpace(p.Room)
	}); err != nil {
		return err
	}
	if err := r.decoder.body(p.Message, r.opts.MaxMessageLength); err != nil {
		return err
	}

	post, err := r.manager.SendMessage(ec.conn.ID, p.Room, p.Message)
	if err != nil {
		return err
	}
	r.emit(post.Recipients, EventReceiveMessage, post.Message)
	r.emitTo(post.Sender, EventMessageDelivered, deliveredNotice{MessageID: post.Message.ID})
	return nil
}

func (r *EventRouter) onSendFile(ec *eventContext) error {
	var p sendFilePayload
	if err := r.decoder.decode(ec.payload, &p, func() {
		p.Room = strings.TrimSpace(p.Room)
		p.FileURL = strings.TrimSpace(p.FileURL)
	}); err != nil {
		return err
	}

	post, err := r.manager.SendFile(ec.conn.ID, p.Room, p.FileURL)
	if err != nil {
		return err
	}
	r.emit(post.Recipients, EventReceiveMessage, post.Message)
	return nil
}

func (r *EventRouter) onPrivateMessage(ec *eventContext) error {
	var p privateMessagePayload
	if err := r.decoder.decode(ec.payload, &p, func() {
		p.To = strings.TrimSpace(p.To)
		p.FileURL = strings.TrimSpace(p.FileURL)
		if strings.TrimSpace(p.Message) == "" {
			p.Message = ""
		}
	}); err != nil {
		return err
	}
	if p.FileURL == "" {
		if err := r.decoder.body(p.Message, r.opts.MaxMessageLength); err != nil {
			return err
		}
	}

	dm, err := r.manager.SendPrivate(ec.conn.ID, p.To, p.Message, p.FileURL)
	if err != nil {
		return err
	}
	peers := []state.Peer{dm.Recipient}
	if dm.Sender.ID() != dm.Recipient.ID() {
		peers = append(peers, dm.Sender)
	}
	r.emit(peers, EventPrivateMessage, dm.Message)
	return nil
}

func (r *EventRouter) onTyping(ec *eventContext) error {
	isTyping, err := boolOrField(ec.payload, "isTyping")
	if err != nil {
		return err
	}
	update, err := r.manager.SetTyping(ec.conn.ID, isTyping)
	if err != nil {
		return err
	}
	if !update.Changed {
		return nil
	}
	r.emitTyping(update)
	return nil
}

func (r *EventRouter) onMessageRead(ec *eventContext) error {
	var p messageReadPayload
	if err := r.decoder.decode(ec.payload, &p, nil); err != nil {
		return err
	}

	receipt, err := r.manager.MarkRead(ec.conn.ID, p.MessageID)
	if err != nil {
		return err
	}
	if !receipt.Changed || receipt.AlreadySelf {
		ec.logger.Debug("Read receipt not broadcast",
			slog.Int64("messageId", p.MessageID),
			slog.Bool("changed", receipt.Changed),
			slog.Bool("self", receipt.AlreadySelf),
		)
		return nil
	}
	r.emit(receipt.Recipients, EventMessageRead, readNotice{MessageID: receipt.MessageID, UserID: receipt.ReaderID})
	return nil
}

func (r *EventRouter) onReact(ec *eventContext) error {
	var p reactPayload
	if err := r.decoder.decode(ec.payload, &p, func() {
		p.Reaction = strings.TrimSpace(p.Reaction)
	}); err != nil {
		return err
	}

	update, err := r.manager.React(ec.conn.ID, p.MessageID, p.Reaction)
	if err != nil {
		return err
	}
	r.emit(update.Recipients, EventMessageReaction, reactionNotice{
		MessageID: update.MessageID,
		Reaction:  update.Reaction,
		UserID:    update.ReactorID,
	})
	return nil
}

func (r *EventRouter) onDisconnect(connID uuid.UUID) {
	if r.limiter != nil {
		r.limiter.Forget(connID)
	}
	dep, err := r.manager.RemoveConnection(connID)
	if err != nil {
		r.logger.Debug("Disconnect for unknown connection", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	for i := range dep.Rooms {
		r.emitRoomChange(&dep.Rooms[i])
		r.emitTyping(dep.Rooms[i].Typing)
	}
	for i := range dep.Typing {
		r.emitTyping(&dep.Typing[i])
	}
	if dep.Identified {
		r.emit(dep.Everyone, EventUserLeft, userNotice{ID: dep.User.ID, Username: dep.User.Username})
	}
	r.emit(dep.Everyone, EventUserList, dep.Users)
	r.logger.Info("Connection removed",
		slog.String("connID", connID.String()),
		slog.String("username", dep.User.Username),
		slog.Int("rooms_vacated", len(dep.Rooms)),
	)
}

// emitRoomChange announces a join or leave to the room: the system notice
// first, then the refreshed member list.
func (r *EventRouter) emitRoomChange(change *state.RoomChange) {
	if change == nil || change.Notice == nil {
		return
	}
	r.emit(change.Recipients, EventReceiveMessage, change.Notice)
	r.emit(change.Recipients, EventRoomUsers, change.Members)
}

func (r *EventRouter) emitTyping(update *state.TypingUpdate) {
	if update == nil {
		return
	}
	r.emit(update.Recipients, EventTypingUsers, typingNotice{Room: update.Room, Users: update.Typists})
}
