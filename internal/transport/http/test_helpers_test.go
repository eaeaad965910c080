package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/cache"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

type testServer struct {
	t      *testing.T
	ts     *httptest.Server
	auth   *auth.Service
	store  *sqlite.SQLiteStore
	engine *core.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.RateLimitPerMinute = 0

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})
	mod := moderation.New(st)
	exec := core.NewExecutor(4)
	registry := core.NewRegistry(st, cache.Nop{}, exec, &logger)
	engine := core.NewEngine(st, mod, registry, exec, core.Options{SessionBuffer: 256, LeaveRedirect: "/rooms"}, &logger)

	server := NewServer(engine, authService, st, mod, nil, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		engine.Shutdown()
		ts.Close()
		_ = st.Close()
	})

	return &testServer{t: t, ts: ts, auth: authService, store: st, engine: engine}
}

// register creates a user and returns its token.
func (s *testServer) register(name string) string {
	s.t.Helper()
	token, err := s.auth.Register(context.Background(), name, "password123")
	require.NoError(s.t, err)
	return token
}

// do sends a JSON request and returns the status and raw body.
func (s *testServer) do(method, path, token string, body any) (int, []byte) {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := stdhttp.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.ts.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp.StatusCode, data
}

func (s *testServer) dial(path, token string) *websocket.Conn {
	s.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(s.ts.URL, "http", "ws", 1) + path
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = stdhttp.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

type frame map[string]any

func (f frame) str(key string) string {
	v, _ := f[key].(string)
	return v
}

// readFrame returns the next frame of the given type, skipping others.
func readFrame(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	return readMatch(t, conn, typ, func(frame) bool { return true })
}

// readMatch returns the next frame of the given type accepted by pred, skipping others.
func readMatch(t *testing.T, conn *websocket.Conn, typ string, pred func(frame) bool) frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f), "waiting for %s", typ)
		if f.str("type") == typ && pred(f) {
			return f
		}
	}
}

// readClose reads until the server closes the socket and returns the close status.
func readClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}
