package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/utils"
)

const (
	writeTimeout = 10 * time.Second
	flushTimeout = time.Second

	errCodeRateLimited = "rate_limited"
)

var errSessionEnded = errors.New("session ended")

// WSHandler upgrades HTTP connections and bridges them to core sessions.
type WSHandler struct {
	engine          *core.Engine
	auth            *auth.Service
	log             *zerolog.Logger
	maxMessageBytes int64
	rateLimit       int
	limiter         SharedLimiter
}

// NewWSHandler builds a new WebSocket handler. limiter may be nil.
func NewWSHandler(engine *core.Engine, authService *auth.Service, maxMessageBytes int64, rateLimit int, limiter SharedLimiter, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		engine:          engine,
		auth:            authService,
		log:             logger,
		maxMessageBytes: maxMessageBytes,
		rateLimit:       rateLimit,
		limiter:         limiter,
	}
}

// Room serves a room chat socket.
// GET /ws/chat/room/:room_name
func (h *WSHandler) Room(c *gin.Context) {
	name := c.Param("room_name")
	h.serve(c, func(ctx context.Context, s *core.Session) error {
		return s.BindRoom(ctx, name)
	})
}

// Private serves a private conversation socket.
// GET /ws/chat/private/:username
func (h *WSHandler) Private(c *gin.Context) {
	peer := c.Param("username")
	h.serve(c, func(ctx context.Context, s *core.Session) error {
		return s.BindConversation(ctx, peer)
	})
}

// identify returns the zero Identity for anonymous or invalid credentials;
// the session rejects it when binding.
func (h *WSHandler) identify(r *stdhttp.Request) core.Identity {
	token, ok := tokenFromRequest(r)
	if !ok {
		return core.Identity{}
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		return core.Identity{}
	}
	return core.Identity{UserID: claims.UserID, Username: claims.Username}
}

func (h *WSHandler) serve(c *gin.Context, bind func(context.Context, *core.Session) error) {
	r := c.Request
	id := h.identify(r)

	conn, err := websocket.Accept(c.Writer, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := h.engine.NewSession(utils.NewID(), id)
	defer sess.Close()
	log := h.log.With().Str("session_id", sess.SessionID()).Str("user", id.Username).Logger()

	if err := bind(ctx, sess); err != nil {
		h.rejectBind(ctx, conn, &log, err)
		return
	}
	if err := sess.Activate(ctx); err != nil {
		log.Error().Err(err).Msg("activate session")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	log.Info().Msg("ws session started")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	status, reason := closeStatus(sess, err)
	if status == websocket.StatusInternalError {
		log.Warn().Err(err).Msg("ws connection closed with error")
	} else {
		log.Info().Str("reason", reason).Msg("ws session ended")
	}
	// Close before cancel so the close frame is sent on a live context.
	_ = conn.Close(status, reason)
	cancel()
	<-errCh
}

func (h *WSHandler) rejectBind(ctx context.Context, conn *websocket.Conn, log *zerolog.Logger, err error) {
	ce, ok := core.AsCoreError(err)
	if !ok {
		log.Error().Err(err).Msg("bind session")
		ce = &core.CoreError{Code: core.ErrCodeInternal, Message: "internal error"}
	}
	log.Debug().Str("code", ce.Code).Msg("ws session rejected")

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if werr := wsjson.Write(writeCtx, conn, proto.NewError(ce.Code, ce.Message)); werr != nil {
		log.Debug().Err(werr).Msg("write bind error")
	}

	status := websocket.StatusPolicyViolation
	if ce.Code == core.ErrCodeInternal {
		status = websocket.StatusInternalError
	}
	_ = conn.Close(status, ce.Code)
}

func closeStatus(sess *core.Session, err error) (websocket.StatusCode, string) {
	if reason := sess.Err(); reason != nil {
		switch {
		case errors.Is(reason, core.ErrRemoved):
			return websocket.StatusNormalClosure, "removed from room"
		case errors.Is(reason, core.ErrSlowConsumer):
			return websocket.StatusPolicyViolation, "slow consumer"
		default:
			return websocket.StatusGoingAway, "server shutting down"
		}
	}

	switch s := websocket.CloseStatus(err); {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return websocket.StatusNormalClosure, "closing"
	case s == websocket.StatusNormalClosure, s == websocket.StatusGoingAway:
		return websocket.StatusNormalClosure, "closing"
	default:
		return websocket.StatusInternalError, "internal error"
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session, log *zerolog.Logger) error {
	limiter := newRateLimiter(h.rateLimit)
	if h.limiter != nil {
		limiter.withShared(h.limiter, "ws:"+strconv.FormatInt(sess.UserID(), 10), log)
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		in, err := proto.Decode(data)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, proto.ErrMalformed) {
				msg = proto.ErrMalformed.Error()
			}
			sess.Reject(core.InvalidInput(msg))
			continue
		}
		if !limiter.allow(ctx) {
			sess.Reject(&core.CoreError{Code: errCodeRateLimited, Message: "too many messages, slow down"})
			continue
		}

		cmd, ce := inboundToCommand(in)
		if ce != nil {
			sess.Reject(ce)
			continue
		}
		if err := sess.Handle(ctx, cmd); err != nil {
			if errors.Is(err, core.ErrSessionClosed) {
				// Kicked: the write loop flushes and ends the connection.
				<-ctx.Done()
				return ctx.Err()
			}
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session) error {
	for {
		select {
		case ev := <-sess.Events():
			if err := h.write(ctx, conn, ev); err != nil {
				return err
			}
		case <-sess.Done():
			h.flush(ctx, conn, sess)
			return errSessionEnded
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush writes what is still queued, for example the group_left_you sent
// right before a removal.
func (h *WSHandler) flush(ctx context.Context, conn *websocket.Conn, sess *core.Session) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-sess.Events():
			if err := h.write(ctx, conn, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, ev *core.Event) error {
	frame, ok := outboundFromEvent(ev)
	if !ok {
		h.log.Warn().Str("kind", ev.Kind.String()).Msg("event has no wire form")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
