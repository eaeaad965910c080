package core

import (
	"strconv"
	"strings"
)

// RoomKey addresses a room's live set. It is derived from the persisted room ID,
// so every spelling of a room name resolves to the same key once looked up.
type RoomKey int64

func (k RoomKey) String() string {
	return "room:" + strconv.FormatInt(int64(k), 10)
}

// ConversationKey addresses a private conversation. Low <= High always holds,
// so both participants compute the same key.
type ConversationKey struct {
	Low  int64
	High int64
}

// NewConversationKey builds the canonical key for two user IDs in any order.
func NewConversationKey(a, b int64) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey{Low: a, High: b}
}

func (k ConversationKey) String() string {
	return "dm:" + strconv.FormatInt(k.Low, 10) + ":" + strconv.FormatInt(k.High, 10)
}

// Peer returns the participant that is not userID.
func (k ConversationKey) Peer(userID int64) int64 {
	if k.Low == userID {
		return k.High
	}
	return k.Low
}

// UserKey addresses all live sessions of one user.
type UserKey int64

func (k UserKey) String() string {
	return "user:" + strconv.FormatInt(int64(k), 10)
}

// NormalizeRoomName trims a room name taken from a URL or payload.
// Case folding is left to the store, which compares names case-insensitively.
func NormalizeRoomName(name string) string {
	return strings.TrimSpace(name)
}
