package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage carries a new room or private message.
	EventMessage EventKind = iota
	// EventMembersUpdate carries a room's member snapshot after a change.
	EventMembersUpdate
	// EventMessageDeleted tells clients to drop a message.
	EventMessageDeleted
	// EventUnreadUpdate carries a fresh unread count for the receiving user.
	EventUnreadUpdate
	// EventBlockStatus carries the block relation seen from the receiving user.
	EventBlockStatus
	// EventBlocked tells a user that their peer blocked them.
	EventBlocked
	// EventUnblocked tells a user that their peer unblocked them.
	EventUnblocked
	// EventError reports a rejected action to its sender.
	EventError
	// EventGroupLeftYou tells a user they are no longer in the room.
	EventGroupLeftYou
	// EventConversationHidden tells a user a conversation left their list.
	EventConversationHidden

	eventKindCount
)

var eventKindNames = [eventKindCount]string{
	EventMessage:            "message",
	EventMembersUpdate:      "members_update",
	EventMessageDeleted:     "delete_message",
	EventUnreadUpdate:       "unread_update",
	EventBlockStatus:        "block_status",
	EventBlocked:            "blocked",
	EventUnblocked:          "unblocked",
	EventError:              "error",
	EventGroupLeftYou:       "group_left_you",
	EventConversationHidden: "conversation_hidden",
}

// String returns the wire type name.
func (k EventKind) String() string {
	if k < 0 || k >= eventKindCount {
		return "unknown"
	}
	return eventKindNames[k]
}

// EventKinds lists every kind, in declaration order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, 0, eventKindCount)
	for k := EventKind(0); k < eventKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// MembershipChange annotates a members_update.
type MembershipChange string

const (
	MembershipJoined  MembershipChange = "joined"
	MembershipLeft    MembershipChange = "left"
	MembershipAdded   MembershipChange = "added"
	MembershipRemoved MembershipChange = "removed"
)

// MemberInfo is one entry of a member snapshot.
type MemberInfo struct {
	Username  string
	Avatar    string
	IsOnline  bool
	IsCreator bool
}

// BlockStatus is the block relation seen from the receiver of the event.
type BlockStatus struct {
	IsBlocking  bool
	IsBlockedBy bool
	CanSend     bool
}

// Event is sent to clients to describe what happened in the system.
// Events are shared between subscribers and must not be modified after publishing.
type Event struct {
	Kind EventKind
	// Room is set for room-scoped events.
	Room string
	// Peer is the counterpart username for private-scoped events.
	Peer string
	// User is the acting or affected username.
	User string

	Message     *Message
	MessageID   int64
	Members     []MemberInfo
	Change      MembershipChange
	UnreadCount int
	Block       *BlockStatus
	Redirect    string
	Error       *CoreError
}

func errorEvent(err *CoreError) *Event {
	return &Event{Kind: EventError, Error: err}
}
