package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quizrace/internal/config"
	"github.com/quizrace/internal/fraud"
	"github.com/quizrace/internal/handler"
	"github.com/quizrace/internal/kafka"
	"github.com/quizrace/internal/postgres"
	"github.com/quizrace/internal/question"
	"github.com/quizrace/internal/redis"
	"github.com/quizrace/internal/round"
	"github.com/quizrace/internal/service"
	"github.com/quizrace/internal/session"
	"github.com/quizrace/internal/timing"
	"github.com/quizrace/internal/websocket"
	"github.com/quizrace/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisStore, err := redis.NewStore(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub for the live round feed
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize Kafka event producer
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka producer", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without event log", "error", err)
			producer = nil
		}
	}

	// Kafka.Producer is consumed through interfaces; a typed nil must
	// not reach them
	var eventSink session.EventSink
	if producer != nil {
		eventSink = producer
	}
	var serviceSink service.EventSink
	if producer != nil {
		serviceSink = producer
	}

	// Initialize domain components
	guard := session.NewGuard(
		redisStore,
		postgresRepo,
		eventSink,
		cfg.Session.Timeout,
		cfg.Session.CrossDeviceLookback,
		logger,
	)
	selector := question.NewSelector(postgresRepo, rand.New(rand.NewSource(time.Now().UnixNano())), logger)
	enforcer := timing.NewEnforcer(redisStore, logger)
	scorer := fraud.NewScorer(fraud.DefaultRules(), logger)
	coordinator := round.NewCoordinator(postgresRepo, redisStore, logger)

	gameService := service.NewGameService(service.Deps{
		Games:        postgresRepo,
		Participants: postgresRepo,
		Rounds:       postgresRepo,
		Questions:    postgresRepo,
		Guard:        guard,
		Selector:     selector,
		Enforcer:     enforcer,
		Scorer:       scorer,
		Flags:        postgresRepo,
		Coordinator:  coordinator,
		Payments:     service.StatusPaymentChecker{},
		Standings:    redisStore,
		Events:       serviceSink,
		Hub:          wsHub,
		Limits: service.Limits{
			RoundMaxPlayers:       cfg.Game.RoundMaxPlayers,
			StandingsDefaultLimit: cfg.Standings.DefaultLimit,
			StandingsMaxLimit:     cfg.Standings.MaxLimit,
		},
		Logger: logger,
	})

	// Initialize standings sync worker
	syncWorker := worker.NewStandingsSyncWorker(
		redisStore,
		postgresRepo,
		&cfg.Sync,
		logger,
	)

	// Rebuild the standings mirrors on startup (recovery)
	logger.Info("rebuilding standings mirrors from database")
	syncWorker.RunOnce(ctx)

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for the out-of-band audit
	var auditConsumer *kafka.AuditConsumer
	if cfg.Kafka.Enabled && cfg.Kafka.AuditEnabled {
		logger.Info("initializing audit consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		auditConsumer, err = kafka.NewAuditConsumer(&cfg.Kafka, gameService, logger)
		if err != nil {
			logger.Warn("failed to create audit consumer, continuing without audit", "error", err)
		} else {
			if err := auditConsumer.Start(); err != nil {
				logger.Warn("failed to start audit consumer, continuing without audit", "error", err)
				auditConsumer = nil
			} else {
				logger.Info("audit consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(gameService, wsHub, cfg.Session.CookieName, cfg.Session.Timeout, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop audit consumer
	if auditConsumer != nil {
		if err := auditConsumer.Stop(); err != nil {
			logger.Error("failed to stop audit consumer", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Flush pending events
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
