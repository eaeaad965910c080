package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
)

// conversationBinding attaches a session to a private conversation with peer.
type conversationBinding struct {
	peer *store.User
	key  ConversationKey
}

func (b *conversationBinding) logContext(c zerolog.Context) zerolog.Context {
	return c.Str("conversation", b.key.String()).Str("peer", b.peer.Username)
}

func (b *conversationBinding) activate(ctx context.Context, s *Session) error {
	e := s.engine
	err := e.convs.Do(b.key, func(tx *Tx[ConversationKey]) error {
		tx.Join(s)
		st, err := b.status(ctx, e, s)
		if err != nil {
			return err
		}
		b.publishStatus(tx, s, st)
		return nil
	})
	if err != nil {
		return err
	}
	// Opening a conversation reads everything the peer sent.
	return b.markRead(ctx, s)
}

func (b *conversationBinding) deactivate(_ context.Context, s *Session) {
	s.engine.convs.Leave(b.key, s)
}

func (b *conversationBinding) handle(ctx context.Context, s *Session, cmd Command) error {
	switch cmd.Kind {
	case CommandSendMessage:
		return b.sendMessage(ctx, s, cmd)
	case CommandDeleteMessage:
		return b.deleteMessage(ctx, s, cmd)
	case CommandBlock:
		return b.setBlock(ctx, s, true)
	case CommandUnblock:
		return b.setBlock(ctx, s, false)
	case CommandReport:
		return b.report(ctx, s, cmd)
	case CommandMarkRead:
		return b.markRead(ctx, s)
	default:
		return UnknownAction(cmd.Kind.String())
	}
}

func (b *conversationBinding) status(ctx context.Context, e *Engine, s *Session) (moderation.Status, error) {
	st, err := Exec(ctx, e.exec, func(ctx context.Context) (moderation.Status, error) {
		return e.policy.Status(ctx, s.UserID(), b.peer.ID)
	})
	if err != nil {
		return moderation.Status{}, fmt.Errorf("block status: %w", err)
	}
	return st, nil
}

// publishStatus sends every subscriber the block relation from its own side.
// st is seen from s.
func (b *conversationBinding) publishStatus(tx *Tx[ConversationKey], s *Session, st moderation.Status) {
	mine := blockStatusEvent(b.peer.Username, st)
	theirs := blockStatusEvent(s.Username(), mirror(st))
	tx.BroadcastFunc(func(sub Subscriber) *Event {
		if sub.UserID() == s.UserID() {
			return mine
		}
		return theirs
	})
}

func (b *conversationBinding) sendMessage(ctx context.Context, s *Session, cmd Command) error {
	text, att, err := messageContent(cmd)
	if err != nil {
		return err
	}

	e := s.engine
	return e.convs.Do(b.key, func(tx *Tx[ConversationKey]) error {
		st, err := b.status(ctx, e, s)
		if err != nil {
			return err
		}
		switch {
		case st.IsBlocking:
			return coreError(ErrCodeBlocked, "you have blocked this user")
		case st.IsBlockedBy:
			return coreError(ErrCodeBlocked, "this user has blocked you")
		}

		pm, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.PrivateMessage, error) {
			return e.store.CreatePrivateMessage(ctx, s.UserID(), b.peer.ID, text, att)
		})
		if err != nil {
			return fmt.Errorf("create private message: %w", err)
		}
		e.registry.InvalidatePrivate(ctx, b.peer.ID, s.UserID())

		tx.Broadcast(&Event{
			Kind:    EventMessage,
			Peer:    b.peer.Username,
			User:    s.Username(),
			Message: privateMessage(b.peer.Username, pm),
		})
		return b.pushPeerUnread(ctx, e, s)
	})
}

// pushPeerUnread tells every session of the peer how many of s's messages are unread.
func (b *conversationBinding) pushPeerUnread(ctx context.Context, e *Engine, s *Session) error {
	n, err := e.registry.PrivateUnreadCount(ctx, b.peer.ID, s.UserID())
	if err != nil {
		return err
	}
	e.notifyUser(b.peer.ID, &Event{Kind: EventUnreadUpdate, Peer: s.Username(), UnreadCount: n})
	return nil
}

func (b *conversationBinding) deleteMessage(ctx context.Context, s *Session, cmd Command) error {
	if cmd.MessageID <= 0 {
		return InvalidInput("message_id is required")
	}

	e := s.engine
	return e.convs.Do(b.key, func(tx *Tx[ConversationKey]) error {
		pm, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.PrivateMessage, error) {
			return e.store.GetPrivateMessage(ctx, cmd.MessageID)
		})
		if errors.Is(err, store.ErrNotFound) || (err == nil && NewConversationKey(pm.SenderID, pm.ReceiverID) != b.key) {
			return coreError(ErrCodeNotFound, "message not found")
		}
		if err != nil {
			return fmt.Errorf("get private message: %w", err)
		}
		if pm.SenderID != s.UserID() {
			return coreError(ErrCodeForbidden, "you can only delete your own messages")
		}

		err = e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.DeletePrivateMessage(ctx, pm.ID)
		})
		if errors.Is(err, store.ErrNotFound) {
			return coreError(ErrCodeNotFound, "message not found")
		}
		if err != nil {
			return fmt.Errorf("delete private message: %w", err)
		}
		e.registry.InvalidatePrivate(ctx, b.peer.ID, s.UserID())

		tx.Broadcast(&Event{Kind: EventMessageDeleted, MessageID: pm.ID})
		return b.pushPeerUnread(ctx, e, s)
	})
}

// setBlock persists a block or unblock, tells the peer, and refreshes both sides' status.
func (b *conversationBinding) setBlock(ctx context.Context, s *Session, block bool) error {
	e := s.engine
	return e.convs.Do(b.key, func(tx *Tx[ConversationKey]) error {
		st, err := Exec(ctx, e.exec, func(ctx context.Context) (moderation.Status, error) {
			if block {
				return e.policy.Block(ctx, s.UserID(), b.peer.ID)
			}
			return e.policy.Unblock(ctx, s.UserID(), b.peer.ID)
		})
		if err != nil {
			return moderationError(err)
		}

		kind := EventUnblocked
		if block {
			kind = EventBlocked
		}
		tx.SendExceptUser(s.UserID(), &Event{Kind: kind, User: s.Username()})
		b.publishStatus(tx, s, st)
		return nil
	})
}

func (b *conversationBinding) report(ctx context.Context, s *Session, cmd Command) error {
	e := s.engine
	var hide bool
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		_, hide, err = e.policy.Report(ctx, s.UserID(), b.peer.ID, strings.TrimSpace(cmd.Reason), strings.TrimSpace(cmd.Description))
		return err
	})
	if err != nil {
		return moderationError(err)
	}
	if hide {
		e.notifyUser(s.UserID(), &Event{Kind: EventConversationHidden, Peer: b.peer.Username})
	}
	return nil
}

// markRead flags everything the peer sent as read and pushes the new count to the reader.
func (b *conversationBinding) markRead(ctx context.Context, s *Session) error {
	e := s.engine
	n, err := Exec(ctx, e.exec, func(ctx context.Context) (int64, error) {
		return e.store.MarkConversationRead(ctx, s.UserID(), b.peer.ID)
	})
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if n > 0 {
		e.registry.InvalidatePrivate(ctx, s.UserID(), b.peer.ID)
	}

	count, err := e.registry.PrivateUnreadCount(ctx, s.UserID(), b.peer.ID)
	if err != nil {
		return err
	}
	e.notifyUser(s.UserID(), &Event{Kind: EventUnreadUpdate, Peer: b.peer.Username, UnreadCount: count})
	return nil
}
