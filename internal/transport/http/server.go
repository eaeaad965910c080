package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
)

// NewServer builds the HTTP server with REST and websocket routes.
// limiter may be nil, in which case each connection is limited on its own.
func NewServer(engine *core.Engine, authService *auth.Service, st store.Store, mod *moderation.Service, limiter SharedLimiter, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(st, engine.Registry(), cfg.HistoryLimit, logger)
	convHandlers := NewConversationHandlers(st, engine.Registry(), mod, cfg.HistoryLimit, logger)
	userHandlers := NewUserHandlers(st, mod, logger)
	wsHandler := NewWSHandler(engine, authService, cfg.MaxMessageBytes, cfg.RateLimitPerMinute, limiter, logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)

		authorized := api.Group("")
		authorized.Use(AuthMiddleware(authService, logger))
		{
			authorized.POST("/rooms", roomHandlers.CreateRoom)
			authorized.GET("/rooms", roomHandlers.ListRooms)
			authorized.POST("/rooms/:name/join", roomHandlers.JoinRoom)
			authorized.GET("/rooms/:name/messages", roomHandlers.RoomMessages)
			authorized.GET("/rooms/:name/members", roomHandlers.RoomMembers)

			authorized.GET("/conversations", convHandlers.ListConversations)
			authorized.GET("/private/:username/messages", convHandlers.PrivateMessages)

			authorized.GET("/users/me", userHandlers.Me)
			authorized.PUT("/users/me/avatar", userHandlers.SetAvatar)
			authorized.GET("/users/search", userHandlers.SearchUsers)
			authorized.GET("/users/:username/status", userHandlers.BlockStatus)
		}
	}

	// Websockets authenticate themselves so that failures are reported in-band.
	ws := router.Group("/ws/chat")
	{
		ws.GET("/room/:room_name", wsHandler.Room)
		ws.GET("/private/:username", wsHandler.Private)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
