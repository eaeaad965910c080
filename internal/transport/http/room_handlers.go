package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/store"
)

const maxHistoryLimit = 500

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	store        store.Store
	registry     *core.Registry
	historyLimit int
	log          *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, registry *core.Registry, historyLimit int, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store:        st,
		registry:     registry,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Description string `json:"description" binding:"max=512"`
	IsPrivate   bool   `json:"is_private"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	CreatedBy   int64  `json:"created_by"`
	IsMember    bool   `json:"is_member"`
	UnreadCount int    `json:"unread_count"`
	CreatedAt   string `json:"created_at"`
}

func roomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   formatTime(room.CreatedAt),
	}
}

func historyMessage(room string, m *store.Message) proto.Message {
	return proto.Message{
		Type:      proto.TypeMessage,
		ID:        m.ID,
		Room:      room,
		Username:  m.Username,
		Message:   m.Content,
		ImageURL:  m.Attachments.ImageURL,
		FileURL:   m.Attachments.FileURL,
		Timestamp: formatTime(m.CreatedAt),
	}
}

// parseLimit reads ?limit= bounded to [1, maxHistoryLimit].
func parseLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxHistoryLimit)
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	name := core.NormalizeRoomName(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name is required"})
		return
	}

	room, err := h.store.CreateRoom(c.Request.Context(), name, req.Description, uid, req.IsPrivate)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room with this name already exists"})
			return
		}
		h.log.Error().Err(err).Str("room", name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room", room.Name).Int64("room_id", room.ID).Int64("user_id", uid).Msg("room created successfully")
	resp := roomResponse(room)
	resp.IsMember = true
	c.JSON(http.StatusCreated, resp)
}

// ListRooms lists public rooms and the private rooms the caller belongs to,
// with unread counts for rooms the caller is a member of.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rooms, err := h.store.ListRooms(ctx)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	mine, err := h.store.ListUserRooms(ctx, uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list user rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	member := lo.SliceToMap(mine, func(r *store.Room) (int64, bool) { return r.ID, true })

	visible := lo.Filter(rooms, func(r *store.Room, _ int) bool { return !r.IsPrivate || member[r.ID] })
	response := make([]RoomResponse, 0, len(visible))
	for _, room := range visible {
		resp := roomResponse(room)
		if member[room.ID] {
			resp.IsMember = true
			if resp.UnreadCount, err = h.registry.UnreadCount(ctx, room.ID, uid); err != nil {
				h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to count unread")
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
				return
			}
		}
		response = append(response, resp)
	}

	h.log.Debug().Int64("user_id", uid).Int("room_count", len(response)).Msg("rooms listed successfully")
	c.JSON(http.StatusOK, response)
}

// loadRoom resolves :name and checks the caller may read it.
func (h *RoomHandlers) loadRoom(c *gin.Context, uid int64) (*store.Room, bool) {
	ctx := c.Request.Context()
	room, err := h.store.GetRoomByName(ctx, core.NormalizeRoomName(c.Param("name")))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}
	if !room.IsPrivate {
		return room, true
	}
	member, err := h.store.IsMember(ctx, room.ID, uid)
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to check membership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "you are not a member of this room"})
		return nil, false
	}
	return room, true
}

// JoinRoom adds the caller to a public room.
// POST /api/rooms/:name/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	room, ok := h.loadRoom(c, uid)
	if !ok {
		return
	}
	if room.IsPrivate {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "private rooms are joined by invitation"})
		return
	}

	if err := h.store.AddMember(c.Request.Context(), room.ID, uid); err != nil {
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to join room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	resp := roomResponse(room)
	resp.IsMember = true
	c.JSON(http.StatusOK, resp)
}

// RoomMessages returns the latest messages, skipping what the caller hid.
// GET /api/rooms/:name/messages
func (h *RoomHandlers) RoomMessages(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	room, ok := h.loadRoom(c, uid)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var after *time.Time
	hidden, err := h.store.GetHiddenConversation(ctx, uid, room.ID)
	switch {
	case err == nil:
		after = &hidden.HiddenAt
	case !errors.Is(err, store.ErrNotFound):
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to get hidden marker")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	messages, err := h.store.ListMessages(ctx, room.ID, after, parseLimit(c, h.historyLimit))
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, lo.Map(messages, func(m *store.Message, _ int) proto.Message {
		return historyMessage(room.Name, m)
	}))
}

// RoomMembers returns the member snapshot sent in members_update.
// GET /api/rooms/:name/members
func (h *RoomHandlers) RoomMembers(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	room, ok := h.loadRoom(c, uid)
	if !ok {
		return
	}

	members, err := h.registry.MemberSnapshot(c.Request.Context(), room)
	if err != nil {
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to list members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, lo.Map(members, func(m core.MemberInfo, _ int) proto.Member {
		return memberFrame(m)
	}))
}
