package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomwire/internal/cache"
	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

func expectError(t *testing.T, s *Session, code string) *CoreError {
	t.Helper()
	ev := mustEvent(t, s, EventError)
	require.NotNil(t, ev.Error)
	require.Equal(t, code, ev.Error.Code, ev.Error.Message)
	return ev.Error
}

func TestRoomConversation(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	alice := f.user("alice")
	bob := f.user("bob")
	room := f.room("General", carol, false)

	as := f.connectRoom(alice, "General")
	joined := mustEvent(t, as, EventMembersUpdate)
	require.Equal(t, MembershipJoined, joined.Change)
	require.ElementsMatch(t, []string{"carol", "alice"}, memberNames(joined))

	bs := f.connectRoom(bob, "general")
	mustMatch(t, as, EventMembersUpdate, func(ev *Event) bool { return ev.User == "bob" })
	require.True(t, f.isMember(room, bob))

	f.handle(as, Command{Kind: CommandSendMessage, Text: "  hi  "})
	got := mustEvent(t, bs, EventMessage)
	require.Equal(t, "alice", got.User)
	require.Equal(t, "General", got.Room)
	require.Equal(t, "hi", got.Message.Text)
	require.Equal(t, "alice", got.Message.From)
	unread := mustEvent(t, bs, EventUnreadUpdate)
	require.Equal(t, 1, unread.UnreadCount)

	bs.Close()
	left := mustMatch(t, as, EventMembersUpdate, func(ev *Event) bool { return ev.Change == MembershipLeft })
	require.Equal(t, "bob", left.User)
	require.NotContains(t, memberNames(left), "bob")
	require.False(t, f.isMember(room, bob))

	f.handle(as, Command{Kind: CommandRemoveMember, Username: "carol"})
	ce := expectError(t, as, ErrCodeForbidden)
	require.Contains(t, ce.Message, "permission")
	require.True(t, f.isMember(room, carol))
}

func TestCreatorStaysMemberAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	room := f.room("general", carol, false)

	s := f.connectRoom(carol, "general")
	s.Close()
	require.True(t, f.isMember(room, carol))
}

func TestSecondSessionKeepsMembership(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	alice := f.user("alice")
	room := f.room("general", carol, false)

	watcher := f.connectRoom(carol, "general")
	a1 := f.connectRoom(alice, "general")
	f.connectRoom(alice, "general")
	drain(watcher)

	a1.Close()
	require.True(t, f.isMember(room, alice))
	noEvent(t, watcher, EventMembersUpdate)
}

func TestRoomMessageValidation(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	f.room("general", carol, false)
	s := f.connectRoom(carol, "general")

	f.handle(s, Command{Kind: CommandSendMessage, Text: "   "})
	expectError(t, s, ErrCodeInvalidInput)

	f.handle(s, Command{Kind: CommandSendMessage, ImageURL: "/uploads/cat.png"})
	ev := mustEvent(t, s, EventMessage)
	require.Empty(t, ev.Message.Text)
	require.Equal(t, "/uploads/cat.png", ev.Message.ImageURL)

	f.handle(s, Command{Kind: CommandBlock})
	ce := expectError(t, s, ErrCodeUnknownAction)
	require.Contains(t, ce.Message, "block")
	require.Equal(t, StateActive, s.State(), "domain errors keep the session open")
}

func TestConcurrentSendersShareOneOrder(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	room := f.room("general", carol, false)

	const senders, perSender = 4, 15
	sessions := make([]*Session, senders)
	for i := range sessions {
		u := carol
		if i > 0 {
			u = f.user("user" + string(rune('a'+i)))
		}
		sessions[i] = f.connectRoom(u, "general")
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for range perSender {
				if err := s.Handle(f.ctx, Command{Kind: CommandSendMessage, Text: "x"}); err != nil {
					t.Error(err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	stored, err := f.store.ListMessages(f.ctx, room.ID, nil, 1000)
	require.NoError(t, err)
	require.Len(t, stored, senders*perSender)

	want := make([]int64, 0, len(stored))
	for _, m := range stored {
		want = append(want, m.ID)
	}
	for _, s := range sessions {
		got := make([]int64, 0, len(want))
		for len(got) < len(want) {
			got = append(got, mustEvent(t, s, EventMessage).Message.ID)
		}
		require.Equal(t, want, got, "order seen by %s", s.Username())
	}
}

func TestUnreadCountsFollowReads(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	bob := f.user("bob")
	room := f.room("general", carol, false)

	cs := f.connectRoom(carol, "general")
	bs := f.connectRoom(bob, "general")

	var ids []int64
	for i := 1; i <= 3; i++ {
		f.handle(cs, Command{Kind: CommandSendMessage, Text: "m"})
		ids = append(ids, mustEvent(t, bs, EventMessage).Message.ID)
		require.Equal(t, i, mustEvent(t, bs, EventUnreadUpdate).UnreadCount)
	}
	noEvent(t, cs, EventUnreadUpdate)

	for i, id := range ids {
		f.handle(bs, Command{Kind: CommandMarkRead, MessageID: id})
		require.Equal(t, len(ids)-i-1, mustEvent(t, bs, EventUnreadUpdate).UnreadCount)
	}
	// Reading twice is harmless.
	f.handle(bs, Command{Kind: CommandMarkRead, MessageID: ids[0]})
	require.Zero(t, mustEvent(t, bs, EventUnreadUpdate).UnreadCount)

	n, err := f.engine.Registry().UnreadCount(f.ctx, room.ID, bob.UserID)
	require.NoError(t, err)
	require.Zero(t, n)

	f.handle(cs, Command{Kind: CommandSendMessage, Text: "one more"})
	require.Equal(t, 1, mustEvent(t, bs, EventUnreadUpdate).UnreadCount)

	f.handle(bs, Command{Kind: CommandMarkRead, MessageID: 9999})
	expectError(t, bs, ErrCodeNotFound)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	alice := f.user("alice")
	f.room("general", carol, false)

	cs := f.connectRoom(carol, "general")
	as := f.connectRoom(alice, "general")

	f.handle(as, Command{Kind: CommandSendMessage, Text: "oops"})
	id := mustEvent(t, cs, EventMessage).Message.ID
	require.Equal(t, 1, mustEvent(t, cs, EventUnreadUpdate).UnreadCount)

	f.handle(cs, Command{Kind: CommandDeleteMessage, MessageID: id})
	expectError(t, cs, ErrCodeForbidden)

	f.handle(as, Command{Kind: CommandDeleteMessage})
	expectError(t, as, ErrCodeInvalidInput)

	f.handle(as, Command{Kind: CommandDeleteMessage, MessageID: id})
	for _, s := range []*Session{as, cs} {
		require.Equal(t, id, mustEvent(t, s, EventMessageDeleted).MessageID)
	}
	require.Zero(t, mustEvent(t, cs, EventUnreadUpdate).UnreadCount)

	_, err := f.store.GetMessage(f.ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)

	f.handle(as, Command{Kind: CommandDeleteMessage, MessageID: id})
	expectError(t, as, ErrCodeNotFound)
}

func TestDeleteMessageFromOtherRoom(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	f.room("general", carol, false)
	f.room("random", carol, false)

	gs := f.connectRoom(carol, "general")
	rs := f.connectRoom(carol, "random")

	f.handle(gs, Command{Kind: CommandSendMessage, Text: "here"})
	id := mustEvent(t, gs, EventMessage).Message.ID

	f.handle(rs, Command{Kind: CommandDeleteMessage, MessageID: id})
	expectError(t, rs, ErrCodeNotFound)
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	alice := f.user("alice")
	room := f.room("general", carol, false)

	cs := f.connectRoom(carol, "general")
	as := f.connectRoom(alice, "general")
	other := f.connectRoom(alice, "general")

	f.handle(cs, Command{Kind: CommandLeaveRoom})
	expectError(t, cs, ErrCodeCreatorCannotLeave)

	f.handle(as, Command{Kind: CommandLeaveRoom})
	for _, s := range []*Session{as, other} {
		ev := mustEvent(t, s, EventGroupLeftYou)
		require.Equal(t, "general", ev.Room)
		require.Equal(t, "/", ev.Redirect)
		<-s.Done()
		require.ErrorIs(t, s.Err(), ErrRemoved)
	}

	left := mustMatch(t, cs, EventMembersUpdate, func(ev *Event) bool { return ev.Change == MembershipLeft })
	require.Equal(t, "alice", left.User)
	require.Equal(t, []string{"carol"}, memberNames(left))
	require.False(t, f.isMember(room, alice))

	// The transport closes kicked sessions; that must not publish a second leave.
	as.Close()
	other.Close()
	noEvent(t, cs, EventMembersUpdate)
}

func TestCreatorManagesPrivateRoom(t *testing.T) {
	f := newFixtureWith(t, Options{SessionBuffer: 1024, LeaveRedirect: "/rooms"})
	carol := f.user("carol")
	alice := f.user("alice")
	f.user("bob")
	room := f.room("team", carol, true)

	cs := f.connectRoom(carol, "team")

	f.handle(cs, Command{Kind: CommandAddMember, Username: "ghost"})
	expectError(t, cs, ErrCodeTargetNotFound)

	f.handle(cs, Command{Kind: CommandAddMember, Username: "alice"})
	added := mustMatch(t, cs, EventMembersUpdate, func(ev *Event) bool { return ev.Change == MembershipAdded })
	require.Equal(t, "alice", added.User)
	require.ElementsMatch(t, []string{"carol", "alice"}, memberNames(added))
	require.True(t, f.isMember(room, alice))

	as := f.connectRoom(alice, "team")

	f.handle(as, Command{Kind: CommandAddMember, Username: "bob"})
	ce := expectError(t, as, ErrCodeForbidden)
	require.Contains(t, ce.Message, "permission")

	f.handle(cs, Command{Kind: CommandRemoveMember, Username: "carol"})
	expectError(t, cs, ErrCodeSelfRemoval)

	f.handle(cs, Command{Kind: CommandRemoveMember, Username: "bob"})
	expectError(t, cs, ErrCodeTargetNotInRoom)

	f.handle(cs, Command{Kind: CommandRemoveMember, Username: "alice"})
	removed := mustMatch(t, cs, EventMembersUpdate, func(ev *Event) bool { return ev.Change == MembershipRemoved })
	require.Equal(t, "alice", removed.User)
	require.Equal(t, []string{"carol"}, memberNames(removed))

	ev := mustEvent(t, as, EventGroupLeftYou)
	require.Equal(t, "/rooms", ev.Redirect)
	<-as.Done()
	require.ErrorIs(t, as.Err(), ErrRemoved)
	require.False(t, f.isMember(room, alice))

	// Once removed, a private room can no longer be joined.
	again := f.session(alice)
	err := again.BindRoom(f.ctx, "team")
	ce, ok := AsCoreError(err)
	require.True(t, ok)
	require.Equal(t, ErrCodeForbidden, ce.Code)
}

func TestRemovedMemberCannotPost(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	bob := f.user("bob")
	room := f.room("team", carol, true)

	cs := f.connectRoom(carol, "team")
	f.handle(cs, Command{Kind: CommandAddMember, Username: "bob"})
	bs := f.connectRoom(bob, "team")
	drain(cs)

	f.handle(cs, Command{Kind: CommandRemoveMember, Username: "bob"})
	<-bs.Done()
	// Not closed by the transport yet.
	require.Equal(t, StateActive, bs.State())

	require.ErrorIs(t, bs.Handle(f.ctx, Command{Kind: CommandSendMessage, Text: "still here"}), ErrSessionClosed)
	noEvent(t, cs, EventMessage)

	msgs, err := f.store.ListMessages(f.ctx, room.ID, nil, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestActionsRequireRoomSubscription(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	room := f.room("general", carol, false)
	cs := f.connectRoom(carol, "general")
	drain(cs)

	// Detached from the room but not kicked yet, as during a concurrent removal.
	require.True(t, f.engine.rooms.Leave(RoomKey(room.ID), cs))
	require.ErrorIs(t, cs.Handle(f.ctx, Command{Kind: CommandSendMessage, Text: "late"}), ErrSessionClosed)
	noEvent(t, cs, EventError)

	msgs, err := f.store.ListMessages(f.ctx, room.ID, nil, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func memberOnline(ev *Event, name string) bool {
	for _, m := range ev.Members {
		if m.Username == name {
			return m.IsOnline
		}
	}
	return false
}

func TestLeaveSnapshotShowsUserOffline(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	bob := f.user("bob")
	f.room("team", carol, true)

	cs := f.connectRoom(carol, "team")
	f.handle(cs, Command{Kind: CommandAddMember, Username: "bob"})
	bs := f.connectRoom(bob, "team")
	joined := mustMatch(t, cs, EventMembersUpdate, func(ev *Event) bool {
		return ev.Change == MembershipJoined && ev.User == "bob"
	})
	require.True(t, memberOnline(joined, "bob"))

	bs.Close()
	left := mustMatch(t, cs, EventMembersUpdate, func(ev *Event) bool { return ev.Change == MembershipLeft })
	require.Equal(t, "bob", left.User)
	require.ElementsMatch(t, []string{"carol", "bob"}, memberNames(left))
	require.False(t, memberOnline(left, "bob"))
	require.True(t, memberOnline(left, "carol"))
}

// flakyMembers fails member listing while fail is set.
type flakyMembers struct {
	*sqlite.SQLiteStore
	fail atomic.Bool
}

func (s *flakyMembers) ListMembers(ctx context.Context, roomID int64) ([]store.Member, error) {
	if s.fail.Load() {
		return nil, errors.New("members unavailable")
	}
	return s.SQLiteStore.ListMembers(ctx, roomID)
}

func TestFailedJoinIsUndone(t *testing.T) {
	f := newFixture(t)
	members := &flakyMembers{SQLiteStore: f.store}
	logger := zerolog.Nop()
	exec := NewExecutor(2)
	registry := NewRegistry(members, cache.Nop{}, exec, &logger)
	f.engine = NewEngine(f.store, moderation.New(f.store), registry, exec, Options{SessionBuffer: 64}, &logger)
	t.Cleanup(f.engine.Shutdown)

	carol := f.user("carol")
	alice := f.user("alice")
	room := f.room("general", carol, false)
	cs := f.connectRoom(carol, "general")
	drain(cs)

	members.fail.Store(true)
	as := f.session(alice)
	require.NoError(t, as.BindRoom(f.ctx, "general"))
	require.Error(t, as.Activate(f.ctx))

	require.False(t, f.isMember(room, alice))
	require.Len(t, f.engine.rooms.Members(RoomKey(room.ID)), 1)

	members.fail.Store(false)
	as.Close()
	noEvent(t, cs, EventMembersUpdate)
	require.False(t, f.isMember(room, alice))
}

func TestHideConversation(t *testing.T) {
	f := newFixture(t)
	carol := f.user("carol")
	alice := f.user("alice")
	f.room("general", carol, false)

	cs := f.connectRoom(carol, "general")
	as := f.connectRoom(alice, "general")

	for range 2 {
		f.handle(cs, Command{Kind: CommandSendMessage, Text: "old"})
	}
	require.Equal(t, 2, mustMatch(t, as, EventUnreadUpdate, func(ev *Event) bool { return ev.UnreadCount == 2 }).UnreadCount)

	f.handle(as, Command{Kind: CommandHideConversation})
	hidden := mustEvent(t, as, EventConversationHidden)
	require.Equal(t, "general", hidden.Room)
	require.Zero(t, mustEvent(t, as, EventUnreadUpdate).UnreadCount)
	noEvent(t, cs, EventConversationHidden)

	f.handle(cs, Command{Kind: CommandSendMessage, Text: "new"})
	require.Equal(t, 1, mustEvent(t, as, EventUnreadUpdate).UnreadCount)
}
