package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/digitagro/internal/api"
	"github.com/lalithlochan/digitagro/internal/auth"
	"github.com/lalithlochan/digitagro/internal/channels"
	"github.com/lalithlochan/digitagro/internal/circuitbreaker"
	"github.com/lalithlochan/digitagro/internal/config"
	"github.com/lalithlochan/digitagro/internal/db"
	"github.com/lalithlochan/digitagro/internal/fanout"
	"github.com/lalithlochan/digitagro/internal/metrics"
	"github.com/lalithlochan/digitagro/internal/notify"
	"github.com/lalithlochan/digitagro/internal/observ"
	"github.com/lalithlochan/digitagro/internal/redis"
	"github.com/lalithlochan/digitagro/internal/session"
	"github.com/lalithlochan/digitagro/internal/sns"
	"github.com/lalithlochan/digitagro/internal/sqs"
)

const version = "v0.4.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger("gateway", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting digitagro notification gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("channel_backend", cfg.ChannelBackend),
		zap.String("version", version),
	)

	// Background work (channel bridge, pool stats) stops with this context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: cfg.DBMaxConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	go reportPoolStats(ctx, database)

	// Redis backs idempotency and rate limiting, and the channel layer when selected
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		if cfg.ChannelBackend == config.BackendRedis {
			return fmt.Errorf("redis channel backend unavailable: %w", err)
		}
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var idempotency api.IdempotencyStore
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()
		idempotency = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: 1 * time.Minute,
		})
	}

	layer, err := newChannelLayer(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}

	publisher := circuitbreaker.NewProtectedPublisher(layer,
		circuitbreaker.New(circuitbreaker.DefaultConfig("channel-layer"), logger), logger)

	// Services
	dispatcher := fanout.NewDispatcher(publisher, logger, 0)
	notifications := notify.NewService(repo, dispatcher, logger)
	factory := notify.NewFactory(notifications)
	authProvider := auth.NewProvider(cfg.JWTSecret, repo, logger)

	wsHandler := session.NewHandler(authProvider, notifications, layer, session.Config{
		BacklogSize:    cfg.BacklogSize,
		WriteTimeout:   cfg.WSWriteTimeout,
		PingInterval:   cfg.WSPingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	handler := api.NewHandler(logger, notifications, factory, idempotency)

	if cfg.ServiceToken == "" {
		logger.Warn("SERVICE_TOKEN not set, internal producer routes will reject every call")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// Real-time sessions. No request timeout: the handler lives as long as the socket.
	r.With(api.RateLimitMiddleware(rateLimiter, logger, "ws", api.IPKeyFunc)).
		Handle("/ws/notifications", wsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/notifications", func(r chi.Router) {
			r.Use(api.AuthMiddleware(authProvider, logger))
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, "inbox", api.UserKeyFunc))
			handler.InboxRoutes(r)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(api.ServiceTokenMiddleware(cfg.ServiceToken))
			handler.InternalRoutes(r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		dbStatus := "ok"
		if err := database.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        http.StatusText(status),
			"database":      dbStatus,
			"channel_layer": publisher.Breaker().Stats(),
			"version":       version,
		})
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests and sessions 10 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		// Hijacked websocket connections are invisible to srv.Shutdown, so
		// sessions are closed first.
		if err := wsHandler.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sessions did not close in time", zap.Error(err))
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// newChannelLayer builds the publish/subscribe backend selected by CHANNEL_BACKEND.
func newChannelLayer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (channels.Layer, error) {
	switch cfg.ChannelBackend {
	case config.BackendRedis:
		logger.Info("channel layer: redis pub/sub")
		return redis.NewPubSub(redisClient, logger), nil

	case config.BackendAWS:
		hub := channels.NewHub(0, logger)

		publisher, err := sns.NewPublisher(ctx, sns.Config{
			Region:   cfg.AWSRegion,
			TopicARN: cfg.SNSTopicARN,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sns publisher: %w", err)
		}

		bridge, err := sqs.NewBridge(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: cfg.AWSEndpoint,
		}, hub, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqs bridge: %w", err)
		}
		go bridge.Run(ctx)

		logger.Info("channel layer: sns fan-out with sqs bridge",
			zap.String("topic_arn", cfg.SNSTopicARN),
			zap.String("queue_url", cfg.SQSQueueURL),
		)
		return channels.NewRelay(publisher, hub), nil

	default:
		logger.Info("channel layer: in-process hub")
		return channels.NewHub(0, logger), nil
	}
}

func reportPoolStats(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(int(database.Pool().Stat().TotalConns()))
		}
	}
}
