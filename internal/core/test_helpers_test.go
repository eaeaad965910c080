package core

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomwire/internal/cache"
	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

// mustEvent returns the next event of the given kind, skipping others.
func mustEvent(t *testing.T, s *Session, kind EventKind) *Event {
	t.Helper()
	return mustMatch(t, s, kind, func(*Event) bool { return true })
}

// mustMatch returns the next event of the given kind accepted by pred, skipping others.
func mustMatch(t *testing.T, s *Session, kind EventKind, pred func(*Event) bool) *Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev != nil && ev.Kind == kind && pred(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("expected event kind %v not received by %s", kind, s.Username())
			return nil
		}
	}
}

// drain discards every queued event.
func drain(s *Session) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}

// noEvent fails if an event of the given kind is queued.
func noEvent(t *testing.T, s *Session, kind EventKind) {
	t.Helper()
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				t.Fatalf("unexpected %v event for %s: %+v", kind, s.Username(), ev)
			}
		default:
			return
		}
	}
}

func memberNames(ev *Event) []string {
	names := make([]string, 0, len(ev.Members))
	for _, m := range ev.Members {
		names = append(names, m.Username)
	}
	return names
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.SQLiteStore
	engine *Engine
	ids    atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, Options{SessionBuffer: 1024})
}

func newFixtureWith(t *testing.T, opts Options) *fixture {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)

	logger := zerolog.Nop()
	exec := NewExecutor(4)
	registry := NewRegistry(st, cache.Nop{}, exec, &logger)
	engine := NewEngine(st, moderation.New(st), registry, exec, opts, &logger)

	t.Cleanup(func() {
		engine.Shutdown()
		_ = st.Close()
	})

	return &fixture{t: t, ctx: context.Background(), store: st, engine: engine}
}

func (f *fixture) user(name string) Identity {
	f.t.Helper()
	u, err := f.store.CreateUser(f.ctx, name, "hash")
	require.NoError(f.t, err)
	return Identity{UserID: u.ID, Username: u.Username}
}

func (f *fixture) room(name string, creator Identity, private bool) *store.Room {
	f.t.Helper()
	r, err := f.store.CreateRoom(f.ctx, name, "", creator.UserID, private)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) session(user Identity) *Session {
	id := "s" + strconv.FormatInt(f.ids.Add(1), 10)
	return f.engine.NewSession(id, user)
}

func (f *fixture) connectRoom(user Identity, room string) *Session {
	f.t.Helper()
	s := f.session(user)
	require.NoError(f.t, s.BindRoom(f.ctx, room))
	require.NoError(f.t, s.Activate(f.ctx))
	f.t.Cleanup(s.Close)
	return s
}

func (f *fixture) connectPrivate(user Identity, peer string) *Session {
	f.t.Helper()
	s := f.session(user)
	require.NoError(f.t, s.BindConversation(f.ctx, peer))
	require.NoError(f.t, s.Activate(f.ctx))
	f.t.Cleanup(s.Close)
	return s
}

func (f *fixture) handle(s *Session, cmd Command) {
	f.t.Helper()
	require.NoError(f.t, s.Handle(f.ctx, cmd))
}

func (f *fixture) isMember(room *store.Room, user Identity) bool {
	f.t.Helper()
	ok, err := f.store.IsMember(f.ctx, room.ID, user.UserID)
	require.NoError(f.t, err)
	return ok
}

// fakeSub records deliveries; it fails every delivery when failing is set.
type fakeSub struct {
	id      string
	user    int64
	failing bool

	mu  sync.Mutex
	got []*Event
}

func (f *fakeSub) SessionID() string { return f.id }
func (f *fakeSub) UserID() int64     { return f.user }

func (f *fakeSub) Deliver(ev *Event) error {
	if f.failing {
		return ErrSlowConsumer
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev)
	return nil
}

func (f *fakeSub) events() []*Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Event(nil), f.got...)
}
