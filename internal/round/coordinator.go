package round

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizrace/internal/domain"
)

// Store is the persistence surface the coordinator drives. RecordAnswer
// and CompleteGame must be transactional: a failed write here would
// corrupt the total-time invariant used for ranking, so errors abort
// the whole operation.
type Store interface {
	// RecordAnswer inserts the answer row and, in the same
	// transaction, folds the elapsed time into the participant's
	// totals and advances the current-question pointer.
	RecordAnswer(ctx context.Context, rec domain.AnswerRecord, prePayment bool) error
	// CompleteGame marks the participant completed and computes the
	// completion rank against already-persisted paid completions in
	// the same round, inside one transaction.
	CompleteGame(ctx context.Context, participantID string, completedAt time.Time) (int64, error)
	// FillRound atomically increments the round's paid-completed
	// counter and flips the round to full exactly once.
	FillRound(ctx context.Context, roundID string) (*domain.RoundFill, error)
}

// Standings mirrors completion results into the hot standings store.
// Best effort: the ranking of record lives in Postgres.
type Standings interface {
	AddCompletion(ctx context.Context, roundID, participantID string, totalTime float64) error
}

// Coordinator aggregates per-question times into totals, computes
// completion rank and detects round fill
type Coordinator struct {
	store     Store
	standings Standings
	clock     func() time.Time
	logger    *slog.Logger
}

// NewCoordinator creates a round coordinator. A nil standings mirror
// disables the hot-store update.
func NewCoordinator(store Store, standings Standings, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		standings: standings,
		clock:     time.Now,
		logger:    logger,
	}
}

// SetClock overrides the time source, for tests
func (c *Coordinator) SetClock(clock func() time.Time) {
	c.clock = clock
}

// RecordProgress persists the answer and updates the participant's
// running totals. Questions inside the free tier accrue to the
// pre-payment total, the rest to the post-payment total. The in-memory
// participant is advanced to match what was persisted.
func (c *Coordinator) RecordProgress(ctx context.Context, p *domain.Participant, rec domain.AnswerRecord, freeQuestions int) error {
	prePayment := rec.QuestionNumber <= freeQuestions

	if err := c.store.RecordAnswer(ctx, rec, prePayment); err != nil {
		return fmt.Errorf("recording answer: %w", err)
	}

	p.CurrentQuestion = rec.QuestionNumber
	p.TotalTime += rec.ElapsedSeconds
	if prePayment {
		p.PrePaymentTime += rec.ElapsedSeconds
	} else {
		p.PostPaymentTime += rec.ElapsedSeconds
	}
	if rec.Correct {
		p.CorrectAnswers++
	}
	return nil
}

// CompleteGame marks the participant's game completed and returns the
// completion rank: one more than the number of paid, completed
// participants in the same round whose total time is at or below this
// one. Only already-persisted completions count, so the first of two
// equal totals to persist takes the lower rank.
func (c *Coordinator) CompleteGame(ctx context.Context, p *domain.Participant) (int64, error) {
	now := c.clock()
	rank, err := c.store.CompleteGame(ctx, p.ID, now)
	if err != nil {
		return 0, fmt.Errorf("completing game: %w", err)
	}

	p.GameCompleted = true
	p.State = domain.StateCompleted
	p.CompletedAt = &now
	p.Rank = rank

	if c.standings != nil && p.Paid() {
		if err := c.standings.AddCompletion(ctx, p.RoundID, p.ID, p.TotalTime); err != nil {
			c.logger.Warn("failed to mirror completion to standings",
				"round_id", p.RoundID,
				"participant_id", p.ID,
				"error", err,
			)
		}
	}

	c.logger.Info("game completed",
		"participant_id", p.ID,
		"round_id", p.RoundID,
		"total_time", p.TotalTime,
		"rank", rank,
	)
	return rank, nil
}

// CheckRoundFill increments the round's paid-completed counter through
// the store's conditional update. JustFilled is reported exactly once
// even under simultaneous final-question submissions, and the counter
// never exceeds the round's maximum.
func (c *Coordinator) CheckRoundFill(ctx context.Context, roundID string) (*domain.RoundFill, error) {
	fill, err := c.store.FillRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("updating round fill: %w", err)
	}

	if fill.JustFilled {
		c.logger.Info("round filled",
			"round_id", roundID,
			"paid_completed", fill.Count,
			"max_players", fill.MaxPlayers,
		)
	}
	return fill, nil
}
