package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quizrace/internal/config"
	"github.com/redis/go-redis/v9"
)

// Store provides Redis-based hot state: session security markers,
// per-participant timing slots and round standings mirrors
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// NewStore creates a new Redis store
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// markersKey returns the Redis key for a session's security markers
func (s *Store) markersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:markers", sessionID)
}

// slotKey returns the Redis key for a participant's timing slot
func (s *Store) slotKey(participantID string) string {
	return fmt.Sprintf("participant:%s:slot", participantID)
}

// standingsKey returns the Redis key for a round's standings sorted set
func (s *Store) standingsKey(roundID string) string {
	return fmt.Sprintf("round:%s:standings", roundID)
}
