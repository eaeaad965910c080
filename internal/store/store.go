package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects an insert.
	ErrConflict = errors.New("conflict")
)

// User represents an account in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// UserProfile holds presence and avatar data for a user.
type UserProfile struct {
	UserID   int64
	Avatar   string
	Bio      string
	IsOnline bool
	LastSeen time.Time
}

// Room represents a named chat room.
type Room struct {
	ID          int64
	Name        string
	Description string
	CreatedBy   int64
	IsPrivate   bool
	CreatedAt   time.Time
}

// Member is a room member joined with its profile.
type Member struct {
	User    User
	Profile UserProfile
}

// Attachments references an uploaded image or file.
type Attachments struct {
	ImageURL string
	FileURL  string
}

// Empty reports whether no attachment is referenced.
func (a Attachments) Empty() bool {
	return a.ImageURL == "" && a.FileURL == ""
}

// Message represents a persisted room message.
type Message struct {
	ID          int64
	RoomID      int64
	UserID      int64
	Username    string
	Content     string
	Attachments Attachments
	CreatedAt   time.Time
}

// PrivateMessage represents a direct message between two users.
type PrivateMessage struct {
	ID          int64
	SenderID    int64
	ReceiverID  int64
	Sender      string
	Content     string
	Attachments Attachments
	IsRead      bool
	CreatedAt   time.Time
}

// HiddenConversation marks room history before HiddenAt as cleared for a user.
type HiddenConversation struct {
	UserID   int64
	RoomID   int64
	HiddenAt time.Time
}

// Report is a complaint filed by one user against another.
type Report struct {
	ID          int64
	ReporterID  int64
	ReportedID  int64
	Reason      string
	Description string
	IsResolved  bool
	CreatedAt   time.Time
}

// ConversationPartner summarizes a private conversation from one user's side.
type ConversationPartner struct {
	User          User
	LastMessageID int64
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user and an empty profile.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by exact username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetProfile retrieves the profile of a user.
	GetProfile(ctx context.Context, userID int64) (*UserProfile, error)

	// SetOnline updates presence flags; last_seen is set to at.
	SetOnline(ctx context.Context, userID int64, online bool, at time.Time) error

	// SetAvatar updates the avatar reference of a user.
	SetAvatar(ctx context.Context, userID int64, avatar string) error

	// SearchUsers searches for users by username substring.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)
}

// RoomStore handles rooms and their member sets.
type RoomStore interface {
	// CreateRoom creates a room and adds the creator as a member in one transaction.
	CreateRoom(ctx context.Context, name, description string, creatorID int64, isPrivate bool) (*Room, error)

	// GetRoomByID retrieves a room by ID.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// GetRoomByName retrieves a room by name, ignoring case.
	GetRoomByName(ctx context.Context, name string) (*Room, error)

	// ListRooms lists all rooms, newest first.
	ListRooms(ctx context.Context) ([]*Room, error)

	// ListUserRooms lists rooms the user is a member of.
	ListUserRooms(ctx context.Context, userID int64) ([]*Room, error)

	// AddMember adds a user to a room. Adding an existing member is a no-op.
	AddMember(ctx context.Context, roomID, userID int64) error

	// RemoveMember removes a user from a room. Removing a non-member is a no-op.
	RemoveMember(ctx context.Context, roomID, userID int64) error

	// IsMember checks if user is a member of the room.
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)

	// ListMembers lists members of a room with their profiles, in join order.
	ListMembers(ctx context.Context, roomID int64) ([]Member, error)
}

// MessageStore handles room messages.
type MessageStore interface {
	// CreateMessage persists a message with a server-assigned timestamp.
	CreateMessage(ctx context.Context, roomID, authorID int64, content string, att Attachments) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// DeleteMessage deletes a message scoped to a room.
	DeleteMessage(ctx context.Context, id, roomID int64) error

	// ListMessages returns up to limit most recent messages in chronological order.
	// When after is set, only messages created after it are returned.
	ListMessages(ctx context.Context, roomID int64, after *time.Time, limit int) ([]*Message, error)
}

// PrivateMessageStore handles direct messages.
type PrivateMessageStore interface {
	// CreatePrivateMessage persists a direct message.
	CreatePrivateMessage(ctx context.Context, senderID, receiverID int64, content string, att Attachments) (*PrivateMessage, error)

	// GetPrivateMessage retrieves a direct message by ID.
	GetPrivateMessage(ctx context.Context, id int64) (*PrivateMessage, error)

	// DeletePrivateMessage deletes a direct message.
	DeletePrivateMessage(ctx context.Context, id int64) error

	// ListPrivateMessages returns the most recent messages exchanged by two users, oldest first.
	ListPrivateMessages(ctx context.Context, userA, userB int64, limit int) ([]*PrivateMessage, error)

	// MarkConversationRead flags every unread message from sender to receiver as read.
	MarkConversationRead(ctx context.Context, receiverID, senderID int64) (int64, error)

	// CountUnreadPrivate counts unread messages from sender to receiver.
	CountUnreadPrivate(ctx context.Context, receiverID, senderID int64) (int, error)

	// ListConversationPartners lists users the given user exchanged direct messages with.
	ListConversationPartners(ctx context.Context, userID int64) ([]ConversationPartner, error)
}

// ReadStore tracks read receipts and hidden history markers.
type ReadStore interface {
	// UpsertMessageRead records that a user has seen a message.
	UpsertMessageRead(ctx context.Context, messageID, userID int64) error

	// UpsertHiddenConversation sets the hidden_at marker for a user in a room.
	UpsertHiddenConversation(ctx context.Context, userID, roomID int64, at time.Time) error

	// GetHiddenConversation returns the marker or ErrNotFound.
	GetHiddenConversation(ctx context.Context, userID, roomID int64) (*HiddenConversation, error)

	// CountUnread counts room messages by other users that the user has not read,
	// restricted to messages after the user's hidden marker.
	CountUnread(ctx context.Context, roomID, userID int64) (int, error)
}

// ModerationStore handles blocks and reports.
type ModerationStore interface {
	// CreateBlock records blocker -> blocked. Existing edges are left untouched.
	CreateBlock(ctx context.Context, blockerID, blockedID int64) error

	// DeleteBlock removes blocker -> blocked.
	DeleteBlock(ctx context.Context, blockerID, blockedID int64) error

	// IsBlocking reports whether blocker blocks blocked.
	IsBlocking(ctx context.Context, blockerID, blockedID int64) (bool, error)

	// CreateReport records a report. A second report for the same pair returns the first.
	CreateReport(ctx context.Context, reporterID, reportedID int64, reason, description string) (*Report, error)

	// HasReported reports whether reporter has reported reported.
	HasReported(ctx context.Context, reporterID, reportedID int64) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore
	PrivateMessageStore
	ReadStore
	ModerationStore

	// Close closes the underlying database connection.
	Close() error
}
