package core

import (
	"time"

	"github.com/vovakirdan/roomwire/internal/store"
)

// Message is the domain model for a delivered chat message.
// Exactly one of Room and Receiver is set.
type Message struct {
	ID        int64
	Room      string
	Receiver  string
	From      string
	Text      string
	ImageURL  string
	FileURL   string
	CreatedAt time.Time
}

func roomMessage(room string, m *store.Message) *Message {
	return &Message{
		ID:        m.ID,
		Room:      room,
		From:      m.Username,
		Text:      m.Content,
		ImageURL:  m.Attachments.ImageURL,
		FileURL:   m.Attachments.FileURL,
		CreatedAt: m.CreatedAt,
	}
}

func privateMessage(receiver string, m *store.PrivateMessage) *Message {
	return &Message{
		ID:        m.ID,
		Receiver:  receiver,
		From:      m.Sender,
		Text:      m.Content,
		ImageURL:  m.Attachments.ImageURL,
		FileURL:   m.Attachments.FileURL,
		CreatedAt: m.CreatedAt,
	}
}
