// Package proto defines the JSON frames exchanged over the chat websockets.
package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Outbound frame types.
const (
	TypeMessage            = "message"
	TypeMembersUpdate      = "members_update"
	TypeDeleteMessage      = "delete_message"
	TypeUnreadUpdate       = "unread_update"
	TypeBlockStatus        = "block_status"
	TypeBlocked            = "blocked"
	TypeUnblocked          = "unblocked"
	TypeError              = "error"
	TypeGroupLeftYou       = "group_left_you"
	TypeConversationHidden = "conversation_hidden"
)

// ErrMalformed is returned by Decode for frames that are not a JSON object.
var ErrMalformed = errors.New("malformed frame")

// MessageID accepts both numbers and numeric strings.
type MessageID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("message_id: %w", err)
	}
	*id = MessageID(n)
	return nil
}

// Inbound is one client action. The discriminator may be sent as "action" or "type".
type Inbound struct {
	Action      string    `json:"action" validate:"required_without=Type,max=32"`
	Type        string    `json:"type" validate:"required_without=Action,max=32"`
	Message     string    `json:"message" validate:"max=4000"`
	MessageID   MessageID `json:"message_id" validate:"gte=0"`
	Username    string    `json:"username" validate:"max=64"`
	ImageURL    string    `json:"image_url" validate:"omitempty,max=1024"`
	FileURL     string    `json:"file_url" validate:"omitempty,max=1024"`
	Reason      string    `json:"reason" validate:"max=64"`
	Description string    `json:"description" validate:"max=2000"`
}

// Name returns the action discriminator.
func (in *Inbound) Name() string {
	if in.Action != "" {
		return in.Action
	}
	return in.Type
}

var validate = validator.New()

// Decode parses and validates one inbound frame.
// Errors are safe to show to the client.
func Decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	in.Action = strings.TrimSpace(in.Action)
	in.Type = strings.TrimSpace(in.Type)
	if err := validate.Struct(&in); err != nil {
		return nil, describe(err)
	}
	return &in, nil
}

func describe(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required_without":
		return errors.New("action is required")
	case "max":
		return fmt.Errorf("%s is too long", jsonName(fe.Field()))
	default:
		return fmt.Errorf("%s is invalid", jsonName(fe.Field()))
	}
}

var jsonNames = map[string]string{
	"Action":      "action",
	"Type":        "type",
	"Message":     "message",
	"MessageID":   "message_id",
	"Username":    "username",
	"ImageURL":    "image_url",
	"FileURL":     "file_url",
	"Reason":      "reason",
	"Description": "description",
}

func jsonName(field string) string {
	if name, ok := jsonNames[field]; ok {
		return name
	}
	return field
}

// Message is a new room or private message.
type Message struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	Room      string `json:"room,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	ImageURL  string `json:"image_url,omitempty"`
	FileURL   string `json:"file_url,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Member is one entry of members_data.
type Member struct {
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	IsOnline  bool   `json:"is_online"`
	IsCreator bool   `json:"is_creator"`
}

// MembersUpdate carries the room's member snapshot after a change.
type MembersUpdate struct {
	Type        string   `json:"type"`
	Room        string   `json:"room"`
	MembersData []Member `json:"members_data"`
	Event       string   `json:"event"`
	Username    string   `json:"username"`
}

// DeleteMessage tells clients to drop a message.
type DeleteMessage struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// UnreadUpdate carries the receiver's unread count for a room or a peer.
type UnreadUpdate struct {
	Type        string `json:"type"`
	Room        string `json:"room,omitempty"`
	Username    string `json:"username,omitempty"`
	UnreadCount int    `json:"unread_count"`
}

// BlockStatus is the block relation with username, seen from the receiver.
type BlockStatus struct {
	Type        string `json:"type"`
	Username    string `json:"username"`
	IsBlocking  bool   `json:"is_blocking"`
	IsBlockedBy bool   `json:"is_blocked_by"`
	CanSend     bool   `json:"can_send"`
}

// BlockChange is sent as blocked or unblocked; Username is the actor.
type BlockChange struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// Error describes a rejected action.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GroupLeftYou tells a client it is no longer in the room.
type GroupLeftYou struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	Redirect string `json:"redirect"`
}

// ConversationHidden removes a room or peer from the client's list.
type ConversationHidden struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
}

// NewError builds an error frame.
func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}
