// chatrelay - real-time chat relay server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatrelay/internal/api"
	"github.com/ashureev/chatrelay/internal/chat"
	"github.com/ashureev/chatrelay/internal/config"
	"github.com/ashureev/chatrelay/internal/diagnostics"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/health"
	"github.com/ashureev/chatrelay/internal/middleware"
	"github.com/ashureev/chatrelay/internal/pipeline"
	"github.com/ashureev/chatrelay/internal/ratelimit"
	"github.com/ashureev/chatrelay/internal/responder"
	"github.com/ashureev/chatrelay/internal/session"
	"github.com/ashureev/chatrelay/internal/store"
	"github.com/ashureev/chatrelay/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	registry := session.NewRegistry(logger)
	limiter := ratelimit.New(ratelimit.Config{
		Messages: cfg.RateLimit.Messages,
		Window:   cfg.RateLimit.Window,
		Cooldown: cfg.RateLimit.Cooldown,
		MaxIdle:  cfg.RateLimit.MaxIdle,
	})

	pipeCfg := pipeline.Config{
		ConversationID: domain.DefaultConversationID,
		MaxPending:     cfg.MaxPendingEvents,
	}
	var pipeOpts []pipeline.Option
	var prefix string
	var reserved []string
	if cfg.Responder.Enabled {
		bot, err := repo.GetOrCreateUser(ctx, cfg.Responder.Name)
		if err != nil {
			slog.Error("Failed to initialize responder user", "error", err)
			os.Exit(1)
		}
		r, err := responder.New(responder.WithDelay(cfg.Responder.Delay))
		if err != nil {
			slog.Error("Failed to initialize responder", "error", err)
			os.Exit(1)
		}
		pipeCfg.BotUserID = bot.UserID
		pipeCfg.BotName = bot.DisplayName
		pipeOpts = append(pipeOpts, pipeline.WithResponder(r))
		prefix = cfg.Responder.Prefix
		reserved = append(reserved, bot.DisplayName)
		slog.Info("Responder enabled", "prefix", prefix, "name", bot.DisplayName)
	} else {
		slog.Info("Responder disabled (RESPONDER_ENABLED=false)")
	}

	pipe := pipeline.New(repo, registry, pipeCfg, logger, pipeOpts...)
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		if err := pipe.Run(ctx); err != nil {
			slog.Error("Event pipeline failed", "error", err)
		}
	}()

	collector := &diagnostics.Collector{
		Sessions:         registry,
		Queue:            pipe,
		Limiter:          limiter,
		Conversations:    repo,
		ConversationID:   domain.DefaultConversationID,
		ResponderEnabled: pipe.ResponderEnabled(),
	}
	if cfg.Diagnostics.Schedule != "" {
		reporter, err := diagnostics.NewReporter(collector, cfg.Diagnostics.Schedule, logger)
		if err != nil {
			slog.Error("Failed to schedule diagnostics", "error", err)
			os.Exit(1)
		}
		reporter.Start()
		defer reporter.Stop()
	}

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err, "addr", cfg.GRPCHealthAddr)
			os.Exit(1)
		}
		hs := health.NewServer(repo, 10*time.Second, logger)
		go func() {
			if err := hs.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health service failed", "error", err)
			}
		}()
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, limiter, collector)
	wsHandler := chat.NewWebSocketHandler(repo, registry, limiter, pipe, chat.Config{
		ConversationID:   domain.DefaultConversationID,
		HistoryLimit:     cfg.HistoryLimit,
		MaxMessageLength: cfg.MaxMessageLength,
		WriteTimeout:     cfg.WriteTimeout,
		OriginPatterns:   cfg.OriginPatterns(),
		AllowAnyOrigin:   cfg.IsDevelopment(),
		ResponderPrefix:  prefix,
		ReservedNames:    reserved,
	}, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Logger)
		r.Use(middleware.CORS(cfg.OriginPatterns()))
		apiHandler.RegisterRoutes(r)
		r.Handle("/*", web.Handler())
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// Sessions end with the process, not with Shutdown's drain.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	<-pipeDone

	slog.Info("Server stopped successfully", "dropped_events", pipe.Len())
}
