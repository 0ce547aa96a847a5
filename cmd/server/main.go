package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/chatrelay/internal/api"
	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/config"
	"github.com/eldtechnologies/chatrelay/internal/conversation"
	"github.com/eldtechnologies/chatrelay/internal/dispatch"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/reply"
	"github.com/eldtechnologies/chatrelay/internal/room"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/waiter"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs rate limiting and, optionally, the archive.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	archive, closeArchive, err := openArchive(ctx, cfg, redisStore, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	convs := conversation.NewStore()
	rooms := room.NewRegistry(logger)
	waiters := waiter.NewRegistry()

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(logger)}
	var archiver *dispatch.Archiver
	if archive != nil {
		archiver = dispatch.NewArchiver(archive, 0, logger)
		dispatchOpts = append(dispatchOpts, dispatch.WithArchiver(archiver))
	}
	dispatcher := dispatch.New(rooms, waiters, dispatchOpts...)

	var responder reply.Responder
	if cfg.OpenAIAPIKey != "" {
		llm, err := reply.NewLLM(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return err
		}
		responder = llm
		logger.Info().Str("model", cfg.OpenAIModel).Msg("using LLM responder")
	}
	replies := reply.New(dispatcher, responder,
		reply.WithDelay(cfg.ReplyMinDelay, cfg.ReplyMaxDelay),
		reply.WithLogger(logger),
	)

	h := handlers.NewHandler(handlers.Deps{
		Conversations: convs,
		Dispatcher:    dispatcher,
		Replies:       replies,
		Rooms:         rooms,
		Waiters:       waiters,
		Archive:       archive,
		Redis:         redisStore,
		Logger:        logger,
	}, handlers.Options{
		PollTimeout:      cfg.PollTimeout,
		HistorySize:      cfg.HistorySize,
		MaxMessageBytes:  cfg.MaxMessageBytes,
		SocketSendBuffer: cfg.SocketSendBuffer,
		AllowedOrigins:   cfg.AllowedOrigins,
	})

	router := api.NewRouter(logger, h, redisStore, api.Options{
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		StaticDir:      cfg.StaticDir,
	})

	// Long-poll responses are written after up to PollTimeout of waiting.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.PollTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// The archiver outlives the server so the last replies are still written.
	archiveCtx, cancelArchive := context.WithCancel(context.Background())
	defer cancelArchive()

	var eg errgroup.Group

	if archiver != nil {
		eg.Go(func() error { return archiver.Run(archiveCtx) })
	}

	eg.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("poll_timeout", cfg.PollTimeout).
			Msg("starting chatrelay server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		defer cancelArchive()
		<-ctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		// Hijacked websockets are not tracked by Shutdown.
		rooms.CloseAll()
		replies.Stop()
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return eg.Wait()
}

// openArchive connects the configured transcript archive. It returns a nil
// Archive when archiving is disabled.
func openArchive(ctx context.Context, cfg *config.Config, redisStore *store.RedisStore, logger zerolog.Logger) (store.Archive, func(), error) {
	noop := func() {}

	switch backend := cfg.ResolveArchive(); backend {
	case config.ArchivePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres connection failed: %w", err)
		}
		logger.Info().Msg("running database migrations...")
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, noop, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("archiving transcripts to PostgreSQL")
		return pg, pg.Close, nil

	case config.ArchiveSQLite:
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("sqlite open failed: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("archiving transcripts to SQLite")
		return lite, lite.Close, nil

	case config.ArchiveRedis:
		if redisStore == nil {
			return nil, noop, errors.New("redis archive requires REDIS_URL")
		}
		logger.Info().Msg("archiving transcripts to Redis")
		// Closed with the shared client.
		return redisStore, noop, nil

	default:
		logger.Info().Msg("transcript archive disabled")
		return nil, noop, nil
	}
}
