package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
)

const (
	defaultSessionBuffer = 64
	defaultLeaveRedirect = "/"
	teardownTimeout      = 5 * time.Second
)

// Policy decides who may message whom. Every call reads current state.
type Policy interface {
	Status(ctx context.Context, viewerID, otherID int64) (moderation.Status, error)
	Block(ctx context.Context, userID, targetID int64) (moderation.Status, error)
	Unblock(ctx context.Context, userID, targetID int64) (moderation.Status, error)
	Report(ctx context.Context, userID, targetID int64, reason, description string) (*store.Report, bool, error)
}

// Options tunes an Engine.
type Options struct {
	// SessionBuffer is the outbound queue length of each session.
	SessionBuffer int
	// LeaveRedirect is sent in group_left_you.
	LeaveRedirect string
	// Now overrides the clock used for presence and hidden markers.
	Now func() time.Time
}

// Engine owns the hubs and creates sessions bound to rooms or conversations.
type Engine struct {
	store    store.Store
	policy   Policy
	registry *Registry
	exec     *Executor
	log      *zerolog.Logger

	rooms *Hub[RoomKey]
	convs *Hub[ConversationKey]
	users *Hub[UserKey]

	bufferSize    int
	leaveRedirect string
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewEngine creates the messaging core.
func NewEngine(st store.Store, policy Policy, registry *Registry, exec *Executor, opts Options, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.SessionBuffer <= 0 {
		opts.SessionBuffer = defaultSessionBuffer
	}
	if opts.LeaveRedirect == "" {
		opts.LeaveRedirect = defaultLeaveRedirect
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:         st,
		policy:        policy,
		registry:      registry,
		exec:          exec,
		log:           logger,
		rooms:         NewHub[RoomKey](logger),
		convs:         NewHub[ConversationKey](logger),
		users:         NewHub[UserKey](logger),
		bufferSize:    opts.SessionBuffer,
		leaveRedirect: opts.LeaveRedirect,
		now:           opts.Now,
		sessions:      make(map[string]*Session),
	}
}

// Registry exposes the membership and unread registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// NewSession creates a session in the Connecting state.
func (e *Engine) NewSession(id string, user Identity) *Session {
	s := newSession(e, id, user)

	e.mu.Lock()
	closed := e.closed
	if !closed {
		e.sessions[id] = s
	}
	e.mu.Unlock()

	if closed {
		s.Close()
	}
	return s
}

func (e *Engine) forget(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s.id)
	e.mu.Unlock()
}

// SessionCount returns the number of sessions that have not been closed.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Shutdown closes every live session and refuses new ones.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	e.log.Info().Int("sessions", len(sessions)).Msg("engine stopped")
}

// goOnline registers s in the user's live set and marks the user online on their first session.
func (e *Engine) goOnline(ctx context.Context, s *Session) error {
	return e.users.Do(UserKey(s.user.UserID), func(tx *Tx[UserKey]) error {
		if !tx.Join(s) || tx.Len() > 1 {
			return nil
		}
		return e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.SetOnline(ctx, s.user.UserID, true, e.now())
		})
	})
}

// goOffline marks the user offline when their last session leaves.
func (e *Engine) goOffline(ctx context.Context, s *Session) {
	_ = e.users.Do(UserKey(s.user.UserID), func(tx *Tx[UserKey]) error {
		if !tx.Leave(s) || tx.Len() > 0 {
			return nil
		}
		err := e.exec.Do(ctx, func(ctx context.Context) error {
			return e.store.SetOnline(ctx, s.user.UserID, false, e.now())
		})
		if err != nil {
			s.log.Error().Err(err).Msg("failed to mark user offline")
		}
		return nil
	})
}

// notifyUser delivers ev to every live session of userID.
func (e *Engine) notifyUser(userID int64, ev *Event) {
	e.users.Broadcast(UserKey(userID), ev)
}

func blockStatusEvent(other string, st moderation.Status) *Event {
	return &Event{
		Kind: EventBlockStatus,
		Peer: other,
		Block: &BlockStatus{
			IsBlocking:  st.IsBlocking,
			IsBlockedBy: st.IsBlockedBy,
			CanSend:     st.CanSend(),
		},
	}
}

// mirror returns st as seen from the other side.
func mirror(st moderation.Status) moderation.Status {
	return moderation.Status{IsBlocking: st.IsBlockedBy, IsBlockedBy: st.IsBlocking}
}

func moderationError(err error) error {
	switch {
	case errors.Is(err, moderation.ErrUserNotFound):
		return coreError(ErrCodeTargetNotFound, "user not found")
	case errors.Is(err, moderation.ErrCannotTargetSelf):
		return InvalidInput(err.Error())
	}
	return err
}
