package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage posts a message to the bound room or conversation.
	CommandSendMessage CommandKind = iota
	// CommandDeleteMessage deletes one of the caller's messages.
	CommandDeleteMessage
	// CommandAddMember adds a user to the room (creator only).
	CommandAddMember
	// CommandRemoveMember removes a user from the room (creator only).
	CommandRemoveMember
	// CommandLeaveRoom removes the caller from the room.
	CommandLeaveRoom
	// CommandHideConversation clears the room history from the caller's view.
	CommandHideConversation
	// CommandMarkRead marks a message (room) or the whole conversation (private) read.
	CommandMarkRead
	// CommandBlock blocks the peer of a private conversation.
	CommandBlock
	// CommandUnblock lifts a block on the peer.
	CommandUnblock
	// CommandReport reports the peer.
	CommandReport
)

var commandKindNames = map[CommandKind]string{
	CommandSendMessage:      "message",
	CommandDeleteMessage:    "delete_message",
	CommandAddMember:        "add_member",
	CommandRemoveMember:     "remove_member",
	CommandLeaveRoom:        "leave_room",
	CommandHideConversation: "hide_conversation",
	CommandMarkRead:         "mark_read",
	CommandBlock:            "block",
	CommandUnblock:          "unblock",
	CommandReport:           "report",
}

func (k CommandKind) String() string {
	if name, ok := commandKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandKind resolves a wire action name.
func ParseCommandKind(action string) (CommandKind, bool) {
	for kind, name := range commandKindNames {
		if name == action {
			return kind, true
		}
	}
	// Accepted alias used by older clients.
	if action == "delete" {
		return CommandDeleteMessage, true
	}
	return 0, false
}

// Command represents an action requested by a client.
type Command struct {
	Kind        CommandKind
	Text        string
	ImageURL    string
	FileURL     string
	MessageID   int64
	Username    string
	Reason      string
	Description string
}
