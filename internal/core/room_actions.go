package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomwire/internal/store"
)

// roomBinding attaches a session to a room. Public rooms add the user to the
// member set on connect and drop them on disconnect; the creator always stays.
// Private rooms change membership only through the creator.
type roomBinding struct {
	room *store.Room
	key  RoomKey
}

func (b *roomBinding) logContext(c zerolog.Context) zerolog.Context {
	return c.Str("room", b.room.Name).Int64("room_id", b.room.ID)
}

func (b *roomBinding) isCreator(userID int64) bool {
	return b.room.CreatedBy == userID
}

func (b *roomBinding) activate(ctx context.Context, s *Session) error {
	e := s.engine
	return e.rooms.Do(b.key, func(tx *Tx[RoomKey]) error {
		if !b.room.IsPrivate {
			err := e.exec.Do(ctx, func(ctx context.Context) error {
				return e.store.AddMember(ctx, b.room.ID, s.UserID())
			})
			if err != nil {
				return fmt.Errorf("add member: %w", err)
			}
		}
		tx.Join(s)
		if err := b.publishMembers(ctx, e, tx, MembershipJoined, s.Username()); err != nil {
			b.undoJoin(ctx, e, tx, s)
			return err
		}
		return nil
	})
}

// undoJoin reverts a join that could not be announced.
func (b *roomBinding) undoJoin(ctx context.Context, e *Engine, tx *Tx[RoomKey], s *Session) {
	tx.Leave(s)
	if b.room.IsPrivate || b.isCreator(s.UserID()) || tx.HasUser(s.UserID()) {
		return
	}
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		return e.store.RemoveMember(ctx, b.room.ID, s.UserID())
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to undo join")
	}
}

func (b *roomBinding) deactivate(ctx context.Context, s *Session) {
	e := s.engine
	_ = e.rooms.Do(b.key, func(tx *Tx[RoomKey]) error {
		// Sessions that left or were removed are already out of the set.
		if !tx.Leave(s) || tx.HasUser(s.UserID()) {
			return nil
		}
		if !b.room.IsPrivate && !b.isCreator(s.UserID()) {
			err := e.exec.Do(ctx, func(ctx context.Context) error {
				return e.store.RemoveMember(ctx, b.room.ID, s.UserID())
			})
			if err != nil {
				s.log.Error().Err(err).Msg("failed to remove member on disconnect")
				return nil
			}
		}
		if err := b.publishMembers(ctx, e, tx, MembershipLeft, s.Username()); err != nil {
			s.log.Error().Err(err).Msg("failed to publish members on disconnect")
		}
		return nil
	})
}

func (b *roomBinding) handle(ctx context.Context, s *Session, cmd Command) error {
	switch cmd.Kind {
	case CommandSendMessage:
		return b.sendMessage(ctx, s, cmd)
	case CommandDeleteMessage:
		return b.deleteMessage(ctx, s, cmd)
	case CommandAddMember:
		return b.addMember(ctx, s, cmd)
	case CommandRemoveMember:
		return b.removeMember(ctx, s, cmd)
	case CommandLeaveRoom:
		return b.leave(ctx, s)
	case CommandHideConversation:
		return b.hide(ctx, s)
	case CommandMarkRead:
		return b.markRead(ctx, s, cmd)
	default:
		return UnknownAction(cmd.Kind.String())
	}
}

// do runs fn under the room lock while s is still subscribed to the room.
// A session that left or was removed gets ErrSessionClosed.
func (b *roomBinding) do(s *Session, fn func(tx *Tx[RoomKey]) error) error {
	return s.engine.rooms.Do(b.key, func(tx *Tx[RoomKey]) error {
		if !tx.Has(s) {
			return ErrSessionClosed
		}
		return fn(tx)
	})
}

func (b *roomBinding) publishMembers(ctx context.Context, e *Engine, tx *Tx[RoomKey], change MembershipChange, username string) error {
	members, err := e.registry.MemberSnapshot(ctx, b.room)
	if err != nil {
		return err
	}
	tx.Broadcast(&Event{
		Kind:    EventMembersUpdate,
		Room:    b.room.Name,
		User:    username,
		Members: members,
		Change:  change,
	})
	return nil
}

// pushUnread sends each connected user other than except their fresh unread count.
func (b *roomBinding) pushUnread(ctx context.Context, e *Engine, tx *Tx[RoomKey], except int64) error {
	userIDs := lo.Uniq(lo.FilterMap(tx.Subscribers(), func(sub Subscriber, _ int) (int64, bool) {
		return sub.UserID(), sub.UserID() != except
	}))

	counts := make(map[int64]int, len(userIDs))
	for _, userID := range userIDs {
		n, err := e.registry.UnreadCount(ctx, b.room.ID, userID)
		if err != nil {
			return err
		}
		counts[userID] = n
	}

	tx.BroadcastFunc(func(sub Subscriber) *Event {
		n, ok := counts[sub.UserID()]
		if !ok {
			return nil
		}
		return &Event{Kind: EventUnreadUpdate, Room: b.room.Name, UnreadCount: n}
	})
	return nil
}

func (b *roomBinding) sendUnreadTo(ctx context.Context, e *Engine, tx *Tx[RoomKey], userID int64) error {
	n, err := e.registry.UnreadCount(ctx, b.room.ID, userID)
	if err != nil {
		return err
	}
	tx.SendToUser(userID, &Event{Kind: EventUnreadUpdate, Room: b.room.Name, UnreadCount: n})
	return nil
}

func messageContent(cmd Command) (string, store.Attachments, error) {
	text := strings.TrimSpace(cmd.Text)
	att := store.Attachments{
		ImageURL: strings.TrimSpace(cmd.ImageURL),
		FileURL:  strings.TrimSpace(cmd.FileURL),
	}
	if text == "" && att.Empty() {
		return "", att, InvalidInput("message must not be empty")
	}
	return text, att, nil
}

func (b *roomBinding) sendMessage(ctx context.Context, s *Session, cmd Command) error {
	text, att, err := messageContent(cmd)
	if err != nil {
		return err
	}

	e := s.engine
	return b.do(s, func(tx *Tx[RoomKey]) error {
		msg, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.Message, error) {
			return e.store.CreateMessage(ctx, b.room.ID, s.UserID(), text, att)
		})
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		e.registry.InvalidateRoom(ctx, b.room.ID)

		tx.Broadcast(&Event{
			Kind:    EventMessage,
			Room:    b.room.Name,
			User:    s.Username(),
			Message: roomMessage(b.room.Name, msg),
		})
		return b.pushUnread(ctx, e, tx, s.UserID())
	})
}

// loadMessage fetches a message and checks it belongs to this room.
func (b *roomBinding) loadMessage(ctx context.Context, e *Engine, id int64) (*store.Message, error) {
	if id <= 0 {
		return nil, InvalidInput("message_id is required")
	}
	msg, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.Message, error) {
		return e.store.GetMessage(ctx, id)
	})
	if errors.Is(err, store.ErrNotFound) || (err == nil && msg.RoomID != b.room.ID) {
		return nil, coreError(ErrCodeNotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (b *roomBinding) deleteMessage(ctx context.Context, s *Session, cmd Command) error {
	e := s.engine
	return b.do(s, func(tx *Tx[RoomKey]) error {
		msg, err := b.loadMessage(ctx, e, cmd.MessageID)
		if err != nil {
			return err
		}
		if msg.UserID != s.UserID() {
			return coreError(ErrCodeForbidden, "you can only delete your own messages")
		}

		err = e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.DeleteMessage(ctx, msg.ID, b.room.ID)
		})
		if errors.Is(err, store.ErrNotFound) {
			return coreError(ErrCodeNotFound, "message not found")
		}
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		e.registry.InvalidateRoom(ctx, b.room.ID)

		tx.Broadcast(&Event{Kind: EventMessageDeleted, Room: b.room.Name, MessageID: msg.ID})
		return b.pushUnread(ctx, e, tx, s.UserID())
	})
}

func (b *roomBinding) lookupTarget(ctx context.Context, e *Engine, username string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, InvalidInput("username is required")
	}
	user, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.User, error) {
		return e.store.GetUserByUsername(ctx, username)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, coreError(ErrCodeTargetNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (b *roomBinding) addMember(ctx context.Context, s *Session, cmd Command) error {
	if !b.isCreator(s.UserID()) {
		return coreError(ErrCodeForbidden, "permission denied: only the room creator can add members")
	}
	e := s.engine
	target, err := b.lookupTarget(ctx, e, cmd.Username)
	if err != nil {
		return err
	}

	return b.do(s, func(tx *Tx[RoomKey]) error {
		err := e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.AddMember(ctx, b.room.ID, target.ID)
		})
		if err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return b.publishMembers(ctx, e, tx, MembershipAdded, target.Username)
	})
}

func (b *roomBinding) removeMember(ctx context.Context, s *Session, cmd Command) error {
	if !b.isCreator(s.UserID()) {
		return coreError(ErrCodeForbidden, "permission denied: only the room creator can remove members")
	}
	e := s.engine
	target, err := b.lookupTarget(ctx, e, cmd.Username)
	if err != nil {
		return err
	}
	if target.ID == s.UserID() {
		return coreError(ErrCodeSelfRemoval, "you cannot remove yourself from your own room")
	}

	return b.do(s, func(tx *Tx[RoomKey]) error {
		member, err := Exec(ctx, e.exec, func(ctx context.Context) (bool, error) {
			return e.store.IsMember(ctx, b.room.ID, target.ID)
		})
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !member {
			return coreError(ErrCodeTargetNotInRoom, target.Username+" is not a member of this room")
		}

		err = e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.RemoveMember(ctx, b.room.ID, target.ID)
		})
		if err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		if err := b.publishMembers(ctx, e, tx, MembershipRemoved, target.Username); err != nil {
			return err
		}
		b.evict(e, tx, target.ID)
		return nil
	})
}

// evict detaches every session of userID from the room, telling it where to go.
func (b *roomBinding) evict(e *Engine, tx *Tx[RoomKey], userID int64) {
	left := &Event{Kind: EventGroupLeftYou, Room: b.room.Name, Redirect: e.leaveRedirect}
	for _, sub := range tx.Subscribers() {
		if sub.UserID() != userID {
			continue
		}
		tx.Leave(sub)
		_ = sub.Deliver(left)
		if k, ok := sub.(interface{ kick(error) }); ok {
			k.kick(ErrRemoved)
		}
	}
}

func (b *roomBinding) leave(ctx context.Context, s *Session) error {
	if b.isCreator(s.UserID()) {
		return coreError(ErrCodeCreatorCannotLeave, "the room creator cannot leave the room")
	}

	e := s.engine
	return b.do(s, func(tx *Tx[RoomKey]) error {
		err := e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.RemoveMember(ctx, b.room.ID, s.UserID())
		})
		if err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		b.evict(e, tx, s.UserID())
		return b.publishMembers(ctx, e, tx, MembershipLeft, s.Username())
	})
}

func (b *roomBinding) hide(ctx context.Context, s *Session) error {
	e := s.engine
	return b.do(s, func(tx *Tx[RoomKey]) error {
		err := e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.UpsertHiddenConversation(ctx, s.UserID(), b.room.ID, e.now())
		})
		if err != nil {
			return fmt.Errorf("hide conversation: %w", err)
		}
		e.registry.InvalidateRoomUser(ctx, b.room.ID, s.UserID())

		tx.SendToUser(s.UserID(), &Event{Kind: EventConversationHidden, Room: b.room.Name})
		return b.sendUnreadTo(ctx, e, tx, s.UserID())
	})
}

func (b *roomBinding) markRead(ctx context.Context, s *Session, cmd Command) error {
	e := s.engine
	return b.do(s, func(tx *Tx[RoomKey]) error {
		msg, err := b.loadMessage(ctx, e, cmd.MessageID)
		if err != nil {
			return err
		}
		err = e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.UpsertMessageRead(ctx, msg.ID, s.UserID())
		})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("mark read: %w", err)
		}
		e.registry.InvalidateRoomUser(ctx, b.room.ID, s.UserID())
		return b.sendUnreadTo(ctx, e, tx, s.UserID())
	})
}
