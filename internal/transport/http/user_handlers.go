package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
)

const searchLimit = 20

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store      store.Store
	moderation *moderation.Service
	log        *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.Store, mod *moderation.Service, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store:      st,
		moderation: mod,
		log:        logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// BlockStatusResponse is the block relation with a user, seen from the caller.
type BlockStatusResponse struct {
	Username    string `json:"username"`
	IsBlocking  bool   `json:"is_blocking"`
	IsBlockedBy bool   `json:"is_blocked_by"`
	CanSend     bool   `json:"can_send"`
}

// SearchUsers handles searching for users.
// GET /api/users/search?q=query
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	trimmed := strings.TrimSpace(c.Query("q"))
	if len(trimmed) < 3 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query must be at least 3 characters"})
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), trimmed, searchLimit+1)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	others := lo.Filter(users, func(u *store.User, _ int) bool { return u.ID != uid })
	c.JSON(http.StatusOK, lo.Map(lo.Slice(others, 0, searchLimit), func(u *store.User, _ int) UserResponse {
		return UserResponse{ID: u.ID, Username: u.Username}
	}))
}

// BlockStatus returns the block relation with a user.
// GET /api/users/:username/status
func (h *UserHandlers) BlockStatus(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	other, err := h.store.GetUserByUsername(ctx, c.Param("username"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	st, err := h.moderation.Status(ctx, uid, other.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("other_id", other.ID).Msg("failed to load block status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, BlockStatusResponse{
		Username:    other.Username,
		IsBlocking:  st.IsBlocking,
		IsBlockedBy: st.IsBlockedBy,
		CanSend:     st.CanSend(),
	})
}

// ProfileResponse is the caller's own profile.
type ProfileResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen"`
}

// SetAvatarRequest represents the avatar update body.
type SetAvatarRequest struct {
	Avatar string `json:"avatar" binding:"omitempty,max=1024"`
}

// Me returns the caller's profile.
// GET /api/users/me
func (h *UserHandlers) Me(c *gin.Context) {
	uid, username, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	profile, err := h.store.GetProfile(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to get profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{
		ID:       uid,
		Username: username,
		Avatar:   profile.Avatar,
		IsOnline: profile.IsOnline,
		LastSeen: formatTime(profile.LastSeen),
	})
}

// SetAvatar updates the avatar shown in member lists.
// PUT /api/users/me/avatar
func (h *UserHandlers) SetAvatar(c *gin.Context) {
	uid, _, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	var req SetAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.store.SetAvatar(c.Request.Context(), uid, strings.TrimSpace(req.Avatar)); err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to set avatar")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}
