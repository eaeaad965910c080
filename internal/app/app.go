package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/cache"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/service/moderation"
	"github.com/vovakirdan/roomwire/internal/store"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomwire/internal/transport/http"
)

const dialTimeout = 5 * time.Second

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	engine          *core.Engine
	store           store.Store
	redis           *cache.Redis
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var (
		counters cache.Counters = cache.Nop{}
		limiter  transporthttp.SharedLimiter
		redis    *cache.Redis
	)
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		redis, err = cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.UnreadCacheTTL)
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init cache: %w", err)
		}
		counters = redis
		limiter = redis
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("unread cache and shared rate limit enabled")
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	mod := moderation.New(st)
	exec := core.NewExecutor(cfg.PersistenceWorkers)
	registry := core.NewRegistry(st, counters, exec, logger)
	engine := core.NewEngine(st, mod, registry, exec, core.Options{
		SessionBuffer: cfg.SessionBuffer,
		LeaveRedirect: cfg.LeaveRedirect,
	}, logger)

	server := transporthttp.NewServer(engine, authService, st, mod, limiter, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		engine:          engine,
		store:           st,
		redis:           redis,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked websocket connections are not tracked by Shutdown; close their sessions first.
		a.engine.Shutdown()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		stats := a.redis.Snapshot()
		a.log.Info().
			Uint64("hits", stats.Hits).
			Uint64("misses", stats.Misses).
			Uint64("errors", stats.Errors).
			Msg("unread cache stats")
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close cache")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
