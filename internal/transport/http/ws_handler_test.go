package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

func TestWebSocketRejectsAnonymous(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	status, _ := s.do(stdhttp.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "general"})
	require.Equal(t, stdhttp.StatusCreated, status)

	conn := s.dial("/ws/chat/room/general", "")
	f := readFrame(t, conn, "error")
	require.Equal(t, "unauthorized", f.str("code"))
	require.Equal(t, websocket.StatusPolicyViolation, readClose(t, conn))

	conn = s.dial("/ws/chat/room/general", "forged")
	require.Equal(t, "unauthorized", readFrame(t, conn, "error").str("code"))
}

func TestWebSocketUnknownRoom(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")

	conn := s.dial("/ws/chat/room/nowhere", alice)
	require.Equal(t, "not_found", readFrame(t, conn, "error").str("code"))
	require.Equal(t, websocket.StatusPolicyViolation, readClose(t, conn))
}

func TestWebSocketRoomChat(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	status, _ := s.do(stdhttp.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "general"})
	require.Equal(t, stdhttp.StatusCreated, status)

	a := s.dial("/ws/chat/room/General", alice)
	readFrame(t, a, "members_update")

	b := s.dial("/ws/chat/room/general", bob)
	joined := readMatch(t, a, "members_update", func(f frame) bool { return f.str("username") == "bob" })
	require.Equal(t, "joined", joined.str("event"))
	require.Len(t, joined["members_data"], 2)

	send(t, b, map[string]any{"action": "message", "message": "hi alice"})
	msg := readFrame(t, a, "message")
	require.Equal(t, "bob", msg.str("username"))
	require.Equal(t, "hi alice", msg.str("message"))
	require.Equal(t, "general", msg.str("room"))
	require.NotEmpty(t, msg.str("timestamp"))
	require.Equal(t, "hi alice", readFrame(t, b, "message").str("message"))

	unread := readMatch(t, a, "unread_update", func(f frame) bool { return f["unread_count"] == float64(1) })
	require.Equal(t, "general", unread.str("room"))

	status, body := s.do(stdhttp.MethodGet, "/api/rooms/general/messages", alice, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	require.Equal(t, "bob", history[0]["username"])
	require.Equal(t, msg["id"], history[0]["id"])
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	status, _ := s.do(stdhttp.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "general"})
	require.Equal(t, stdhttp.StatusCreated, status)

	conn := s.dial("/ws/chat/room/general", alice)

	send(t, conn, "not an object")
	require.Equal(t, "invalid_input", readFrame(t, conn, "error").str("code"))

	send(t, conn, map[string]any{"message": "no action"})
	f := readFrame(t, conn, "error")
	require.Equal(t, "invalid_input", f.str("code"))
	require.Equal(t, "action is required", f.str("message"))

	send(t, conn, map[string]any{"action": "fly"})
	require.Equal(t, "unknown_action", readFrame(t, conn, "error").str("code"))

	send(t, conn, map[string]any{"action": "block"})
	require.Equal(t, "unknown_action", readFrame(t, conn, "error").str("code"))

	// The session survives rejected frames.
	send(t, conn, map[string]any{"type": "message", "message": "still here"})
	require.Equal(t, "still here", readFrame(t, conn, "message").str("message"))
}

func TestWebSocketPrivateBlock(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	a := s.dial("/ws/chat/private/bob", alice)
	require.True(t, readFrame(t, a, "block_status")["can_send"].(bool))
	b := s.dial("/ws/chat/private/alice", bob)
	readFrame(t, b, "block_status")

	send(t, a, map[string]any{"action": "message", "message": "hello bob"})
	msg := readFrame(t, b, "message")
	require.Equal(t, "alice", msg.str("username"))
	require.Equal(t, "bob", msg.str("receiver"))

	send(t, a, map[string]any{"action": "block"})
	require.Equal(t, "alice", readFrame(t, b, "blocked").str("username"))
	status := readMatch(t, a, "block_status", func(f frame) bool { return f["is_blocking"] == true })
	require.False(t, status["can_send"].(bool))

	send(t, b, map[string]any{"action": "message", "message": "why?"})
	require.Equal(t, "blocked", readFrame(t, b, "error").str("code"))

	code, body := s.do(stdhttp.MethodGet, "/api/users/alice/status", bob, nil)
	require.Equal(t, stdhttp.StatusOK, code)
	var st BlockStatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	require.True(t, st.IsBlockedBy)
	require.False(t, st.CanSend)

	send(t, a, map[string]any{"action": "unblock"})
	require.Equal(t, "alice", readFrame(t, b, "unblocked").str("username"))
}

func TestWebSocketPrivateHistoryMarksRead(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")

	a := s.dial("/ws/chat/private/bob", alice)
	readFrame(t, a, "block_status")
	send(t, a, map[string]any{"action": "message", "message": "one"})
	readFrame(t, a, "message")
	send(t, a, map[string]any{"action": "message", "message": "two"})
	readMatch(t, a, "message", func(f frame) bool { return f.str("message") == "two" })

	code, body := s.do(stdhttp.MethodGet, "/api/conversations", bob, nil)
	require.Equal(t, stdhttp.StatusOK, code)
	var convs []ConversationResponse
	require.NoError(t, json.Unmarshal(body, &convs))
	require.Len(t, convs, 1)
	require.Equal(t, "alice", convs[0].Username)
	require.Equal(t, 2, convs[0].UnreadCount)

	code, body = s.do(stdhttp.MethodGet, "/api/private/alice/messages", bob, nil)
	require.Equal(t, stdhttp.StatusOK, code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 2)
	require.Equal(t, "one", history[0]["message"])
	require.Equal(t, "bob", history[0]["receiver"])

	_, body = s.do(stdhttp.MethodGet, "/api/conversations", bob, nil)
	require.NoError(t, json.Unmarshal(body, &convs))
	require.Zero(t, convs[0].UnreadCount)
}

func TestWebSocketRemovedMemberIsDisconnected(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	status, _ := s.do(stdhttp.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "team", IsPrivate: true})
	require.Equal(t, stdhttp.StatusCreated, status)

	a := s.dial("/ws/chat/room/team", alice)
	readFrame(t, a, "members_update")
	send(t, a, map[string]any{"action": "add_member", "username": "bob"})
	added := readMatch(t, a, "members_update", func(f frame) bool { return f.str("event") == "added" })
	require.Equal(t, "bob", added.str("username"))

	b := s.dial("/ws/chat/room/team", bob)
	readFrame(t, b, "members_update")

	send(t, a, map[string]any{"action": "remove_member", "username": "bob"})
	left := readFrame(t, b, "group_left_you")
	require.Equal(t, "team", left.str("room"))
	require.Equal(t, "/rooms", left.str("redirect"))
	require.Equal(t, websocket.StatusNormalClosure, readClose(t, b))

	b = s.dial("/ws/chat/room/team", bob)
	require.Equal(t, "forbidden", readFrame(t, b, "error").str("code"))
}

func TestWebSocketRemovedMemberKeepsSending(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice")
	bob := s.register("bob")
	status, _ := s.do(stdhttp.MethodPost, "/api/rooms", alice, CreateRoomRequest{Name: "team", IsPrivate: true})
	require.Equal(t, stdhttp.StatusCreated, status)

	a := s.dial("/ws/chat/room/team", alice)
	readFrame(t, a, "members_update")
	send(t, a, map[string]any{"action": "add_member", "username": "bob"})
	readMatch(t, a, "members_update", func(f frame) bool { return f.str("event") == "added" })

	b := s.dial("/ws/chat/room/team", bob)
	readFrame(t, b, "members_update")

	send(t, a, map[string]any{"action": "remove_member", "username": "bob"})
	readMatch(t, a, "members_update", func(f frame) bool { return f.str("event") == "removed" })
	// The server may already be closing; the write only has to not be persisted.
	_ = wsjson.Write(context.Background(), b, map[string]any{"action": "message", "message": "still here"})

	readFrame(t, b, "group_left_you")
	require.Equal(t, websocket.StatusNormalClosure, readClose(t, b))

	status, body := s.do(stdhttp.MethodGet, "/api/rooms/team/messages", alice, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	require.NotContains(t, string(body), "still here")
}
