package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/store"
)

// Identity is an authenticated user as seen by the core.
type Identity struct {
	UserID   int64
	Username string
}

// SessionState is a step of the connection lifecycle.
type SessionState int

const (
	// StateConnecting: identity known, nothing resolved yet.
	StateConnecting SessionState = iota
	// StateBound: the target room or conversation has been resolved.
	StateBound
	// StateActive: registered in a hub and accepting actions.
	StateActive
	// StateClosed: torn down. Terminal.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// binding is what a session is attached to: a room or a private conversation.
type binding interface {
	activate(ctx context.Context, s *Session) error
	deactivate(ctx context.Context, s *Session)
	handle(ctx context.Context, s *Session, cmd Command) error
	logContext(c zerolog.Context) zerolog.Context
}

// Session is one connection. The transport reads Events until Done is closed,
// feeds inbound actions to Handle, and calls Close when the socket ends.
type Session struct {
	id     string
	user   Identity
	engine *Engine

	events   chan *Event
	done     chan struct{}
	doneOnce sync.Once
	reason   error

	// opMu serializes lifecycle transitions and action handling.
	opMu      sync.Mutex
	closeOnce sync.Once

	mu    sync.Mutex
	state SessionState
	bind  binding
	log   zerolog.Logger
}

func newSession(e *Engine, id string, user Identity) *Session {
	return &Session{
		id:     id,
		user:   user,
		engine: e,
		events: make(chan *Event, e.bufferSize),
		done:   make(chan struct{}),
		state:  StateConnecting,
		log: e.log.With().
			Str("session_id", id).
			Str("user", user.Username).
			Logger(),
	}
}

// SessionID implements Subscriber.
func (s *Session) SessionID() string { return s.id }

// UserID implements Subscriber.
func (s *Session) UserID() int64 { return s.user.UserID }

// Username returns the session's user name.
func (s *Session) Username() string { return s.user.Username }

// Events is the outbound queue. It is never closed; stop reading when Done is closed.
func (s *Session) Events() <-chan *Event { return s.events }

// Done is closed when the session must stop writing: on Close, on removal
// from its room, or when it fell too far behind.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why Done was closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deliver implements Subscriber. It never blocks: a full queue disconnects the session.
func (s *Session) Deliver(ev *Event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	default:
		s.kick(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// kick signals the writer to stop. Teardown happens in Close.
func (s *Session) kick(reason error) {
	s.doneOnce.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// Reject reports err to this session only.
func (s *Session) Reject(err *CoreError) {
	if deliverErr := s.Deliver(errorEvent(err)); deliverErr != nil {
		s.log.Debug().Err(deliverErr).Str("code", err.Code).Msg("error event not delivered")
	}
}

// BindRoom resolves a room by name: Connecting -> Bound.
// Private rooms require existing membership. On failure the session is closed.
func (s *Session) BindRoom(ctx context.Context, name string) error {
	err := s.bindWith(ctx, func(ctx context.Context) (binding, error) {
		name = NormalizeRoomName(name)
		if name == "" {
			return nil, InvalidInput("room name is required")
		}
		e := s.engine
		room, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.Room, error) {
			return e.store.GetRoomByName(ctx, name)
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeNotFound, "room not found")
		}
		if err != nil {
			return nil, fmt.Errorf("get room: %w", err)
		}
		if room.IsPrivate {
			member, err := Exec(ctx, e.exec, func(ctx context.Context) (bool, error) {
				return e.store.IsMember(ctx, room.ID, s.user.UserID)
			})
			if err != nil {
				return nil, fmt.Errorf("check membership: %w", err)
			}
			if !member {
				return nil, coreError(ErrCodeForbidden, "you are not a member of this room")
			}
		}
		return &roomBinding{room: room, key: RoomKey(room.ID)}, nil
	})
	return err
}

// BindConversation resolves the peer of a private conversation: Connecting -> Bound.
// On failure the session is closed.
func (s *Session) BindConversation(ctx context.Context, peerUsername string) error {
	return s.bindWith(ctx, func(ctx context.Context) (binding, error) {
		peerUsername = strings.TrimSpace(peerUsername)
		if peerUsername == "" {
			return nil, InvalidInput("username is required")
		}
		e := s.engine
		peer, err := Exec(ctx, e.exec, func(ctx context.Context) (*store.User, error) {
			return e.store.GetUserByUsername(ctx, peerUsername)
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeNotFound, "user not found")
		}
		if err != nil {
			return nil, fmt.Errorf("get peer: %w", err)
		}
		if peer.ID == s.user.UserID {
			return nil, InvalidInput("cannot open a conversation with yourself")
		}
		return &conversationBinding{peer: peer, key: NewConversationKey(s.user.UserID, peer.ID)}, nil
	})
}

func (s *Session) bindWith(ctx context.Context, resolve func(context.Context) (binding, error)) error {
	s.opMu.Lock()
	if s.State() != StateConnecting {
		s.opMu.Unlock()
		return errBadState
	}
	if s.user.UserID == 0 {
		s.opMu.Unlock()
		s.Close()
		return coreError(ErrCodeUnauthorized, "authentication required")
	}

	b, err := resolve(ctx)
	if err != nil {
		s.opMu.Unlock()
		s.Close()
		return err
	}

	s.mu.Lock()
	s.state = StateBound
	s.bind = b
	s.log = b.logContext(s.log.With()).Logger()
	s.mu.Unlock()
	s.opMu.Unlock()
	return nil
}

// Activate registers the session in its hub and publishes the join: Bound -> Active.
// If it fails the caller must Close the session, which undoes any partial registration.
func (s *Session) Activate(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateBound {
		s.mu.Unlock()
		return errBadState
	}
	s.state = StateActive
	b := s.bind
	s.mu.Unlock()

	if err := s.engine.goOnline(ctx, s); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	if err := b.activate(ctx, s); err != nil {
		return err
	}
	s.log.Debug().Msg("session active")
	return nil
}

// Handle runs one inbound action. Domain errors are reported to this session
// as error events and nil is returned. A non-nil return means storage failed:
// an internal error has been sent and the caller must Close the session.
func (s *Session) Handle(ctx context.Context, cmd Command) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state, b := s.state, s.bind
	s.mu.Unlock()
	// Kicked sessions stay Active until the transport closes them.
	if state != StateActive || s.Err() != nil {
		return ErrSessionClosed
	}

	s.log.Debug().Str("action", cmd.Kind.String()).Msg("handle action")
	err := b.handle(ctx, s, cmd)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionClosed) {
		return err
	}
	if ce, ok := AsCoreError(err); ok {
		s.Reject(ce)
		return nil
	}

	s.log.Error().Err(err).Str("action", cmd.Kind.String()).Msg("action failed")
	s.Reject(coreError(ErrCodeInternal, "internal error"))
	return err
}

// Close tears the session down exactly once, whatever triggered it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.kick(ErrSessionClosed)

		s.opMu.Lock()
		defer s.opMu.Unlock()

		s.mu.Lock()
		prev, b := s.state, s.bind
		s.state = StateClosed
		s.mu.Unlock()

		if prev == StateActive {
			ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			// Offline first so the leave snapshot shows it.
			s.engine.goOffline(ctx, s)
			b.deactivate(ctx, s)
			cancel()
		}
		s.engine.forget(s)
		s.log.Debug().Str("from", prev.String()).Msg("session closed")
	})
}
