package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
)

// ConversationHandlers serves private conversation lists and history.
type ConversationHandlers struct {
	store        store.Store
	registry     *core.Registry
	moderation   *moderation.Service
	historyLimit int
	log          *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(st store.Store, registry *core.Registry, mod *moderation.Service, historyLimit int, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		store:        st,
		registry:     registry,
		moderation:   mod,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// ConversationResponse summarizes one private conversation.
type ConversationResponse struct {
	Username      string `json:"username"`
	UnreadCount   int    `json:"unread_count"`
	LastMessageID int64  `json:"last_message_id"`
}

// ListConversations lists the caller's private conversations, newest first.
// Conversations the caller blocked and reported are left out.
// GET /api/conversations
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	partners, err := h.store.ListConversationPartners(ctx, uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ConversationResponse, 0, len(partners))
	for _, p := range partners {
		hide, err := h.moderation.ShouldHide(ctx, uid, p.User.ID)
		if err != nil {
			h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to check hidden conversation")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		if hide {
			continue
		}
		n, err := h.registry.PrivateUnreadCount(ctx, uid, p.User.ID)
		if err != nil {
			h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to count unread")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		response = append(response, ConversationResponse{
			Username:      p.User.Username,
			UnreadCount:   n,
			LastMessageID: p.LastMessageID,
		})
	}

	c.JSON(http.StatusOK, response)
}

// PrivateMessages returns the latest messages with a user and marks them read.
// GET /api/private/:username/messages
func (h *ConversationHandlers) PrivateMessages(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	peer, err := h.store.GetUserByUsername(ctx, c.Param("username"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if peer.ID == uid {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot open a conversation with yourself"})
		return
	}

	messages, err := h.store.ListPrivateMessages(ctx, uid, peer.ID, parseLimit(c, h.historyLimit))
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list private messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	n, err := h.store.MarkConversationRead(ctx, uid, peer.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to mark conversation read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if n > 0 {
		h.registry.InvalidatePrivate(ctx, uid, peer.ID)
	}

	c.JSON(http.StatusOK, lo.Map(messages, func(m *store.PrivateMessage, _ int) proto.Message {
		receiver := peer.Username
		if m.SenderID == peer.ID {
			receiver = c.GetString(ContextKeyUsername)
		}
		return proto.Message{
			Type:      proto.TypeMessage,
			ID:        m.ID,
			Receiver:  receiver,
			Username:  m.Sender,
			Message:   m.Content,
			ImageURL:  m.Attachments.ImageURL,
			FileURL:   m.Attachments.FileURL,
			Timestamp: formatTime(m.CreatedAt),
		}
	}))
}
