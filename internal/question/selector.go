package question

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/quizrace/internal/domain"
)

// Store provides the question bank and per-user history access
type Store interface {
	ActiveQuestions(ctx context.Context, gameID string) ([]domain.Question, error)
	SeenQuestionIDs(ctx context.Context, userEmail, gameID string) (map[string]bool, error)
	// TouchHistory upserts the (user, game, question) row: insert if
	// absent, refresh seen_at otherwise. Must be race-tolerant under
	// duplicate calls from multiple tabs.
	TouchHistory(ctx context.Context, userEmail, gameID, questionID string, at time.Time) error
}

// Selector picks the next question for a participant, never repeating
// a question until the user has seen the whole active pool
type Selector struct {
	store  Store
	rng    *rand.Rand
	clock  func() time.Time
	logger *slog.Logger
}

// NewSelector creates a selector. A nil rng falls back to a
// time-seeded source; tests pass a seeded one for determinism.
func NewSelector(store Store, rng *rand.Rand, logger *slog.Logger) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		store:  store,
		rng:    rng,
		clock:  time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source, for tests
func (s *Selector) SetClock(clock func() time.Time) {
	s.clock = clock
}

// SelectNext returns a uniformly random question the user has not seen
// in this game. Once the unseen pool is exhausted the cycle resets and
// repeats become permitted. The selected question is upserted into the
// history before it is returned.
func (s *Selector) SelectNext(ctx context.Context, gameID, userEmail string) (*domain.Question, error) {
	active, err := s.store.ActiveQuestions(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading active questions: %w", err)
	}
	if len(active) == 0 {
		return nil, domain.ErrQuestionNotFound
	}

	seen, err := s.store.SeenQuestionIDs(ctx, userEmail, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading question history: %w", err)
	}

	unseen := make([]domain.Question, 0, len(active))
	for _, q := range active {
		if !seen[q.ID] {
			unseen = append(unseen, q)
		}
	}

	pool := unseen
	if len(pool) == 0 {
		// User has seen every active question; reset the cycle
		pool = active
		s.logger.Debug("question cycle reset",
			"game_id", gameID,
			"user_email", userEmail,
			"pool_size", len(active),
		)
	}

	picked := pool[s.rng.Intn(len(pool))]

	if err := s.store.TouchHistory(ctx, userEmail, gameID, picked.ID, s.clock()); err != nil {
		return nil, fmt.Errorf("recording question history: %w", err)
	}

	return &picked, nil
}
