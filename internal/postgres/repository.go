package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizrace/internal/config"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			question_count INT NOT NULL,
			free_questions INT NOT NULL DEFAULT 3,
			answer_timeout_ms BIGINT NOT NULL DEFAULT 10000,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			option_a TEXT NOT NULL,
			option_b TEXT NOT NULL,
			option_c TEXT NOT NULL,
			correct_answer INT NOT NULL,
			difficulty VARCHAR(20) DEFAULT '',
			category VARCHAR(64) DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			times_served BIGINT NOT NULL DEFAULT 0,
			times_correct BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id),
			max_players INT NOT NULL,
			paid_participant_count INT NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL DEFAULT 'open',
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			winner_participant_id VARCHAR(64) DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id VARCHAR(64) PRIMARY KEY,
			user_email VARCHAR(255) NOT NULL,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id),
			round_id VARCHAR(64) NOT NULL REFERENCES rounds(id),
			session_id VARCHAR(64) NOT NULL,
			device_fingerprint VARCHAR(64) NOT NULL,
			payment_status VARCHAR(16) NOT NULL DEFAULT 'pending',
			current_question INT NOT NULL DEFAULT 0,
			correct_answers INT NOT NULL DEFAULT 0,
			total_time NUMERIC(12,6) NOT NULL DEFAULT 0,
			pre_payment_time NUMERIC(12,6) NOT NULL DEFAULT 0,
			post_payment_time NUMERIC(12,6) NOT NULL DEFAULT 0,
			game_completed BOOLEAN NOT NULL DEFAULT FALSE,
			state VARCHAR(20) NOT NULL DEFAULT 'in_progress',
			fraud_flagged BOOLEAN NOT NULL DEFAULT FALSE,
			fraud_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			rank BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			id BIGSERIAL PRIMARY KEY,
			participant_id VARCHAR(64) NOT NULL REFERENCES participants(id),
			question_id VARCHAR(64) NOT NULL,
			question_number INT NOT NULL,
			choice INT NOT NULL,
			correct BOOLEAN NOT NULL,
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			elapsed_seconds NUMERIC(12,6) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS question_history (
			user_email VARCHAR(255) NOT NULL,
			game_id VARCHAR(64) NOT NULL,
			question_id VARCHAR(64) NOT NULL,
			seen_at TIMESTAMP NOT NULL,
			UNIQUE(user_email, game_id, question_id)
		)`,
		`CREATE TABLE IF NOT EXISTS security_events (
			id VARCHAR(64) PRIMARY KEY,
			type VARCHAR(32) NOT NULL,
			user_email VARCHAR(255) DEFAULT '',
			participant_id VARCHAR(64) DEFAULT '',
			session_id VARCHAR(64) DEFAULT '',
			fingerprint VARCHAR(64) DEFAULT '',
			stored_value TEXT DEFAULT '',
			current_value TEXT DEFAULT '',
			ip VARCHAR(64) DEFAULT '',
			user_agent TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_game ON questions(game_id) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_participants_round ON participants(round_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user_game ON participants(user_email, game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_participant ON answers(participant_id, question_number)`,
		`CREATE INDEX IF NOT EXISTS idx_security_events_user ON security_events(user_email, type, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_game_status ON rounds(game_id, status)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}
