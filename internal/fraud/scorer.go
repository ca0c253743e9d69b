package fraud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quizrace/internal/domain"
)

// Thresholds at which a score triggers flagging. The in-game path uses
// the lower one; the out-of-band audit consumer the higher one.
const (
	InGameThreshold = 0.7
	AuditThreshold  = 0.8
)

// scoreTolerance absorbs float error in the additive rule weights: the
// default set sums to a nominal 0.8 but lands a hair below it in
// float64, which would otherwise keep the audit threshold unreachable.
const scoreTolerance = 1e-9

// Rule is one independent scoring signal. Rules contribute partial
// scores; contributions are additive and the total is clamped to 1.
type Rule interface {
	Name() string
	Score(p *domain.Participant, elapsedSeconds float64, correct bool) float64
}

// SpeedRule contributes Weight when the answer arrived faster than
// Threshold seconds, implausibly fast for a genuine reader
type SpeedRule struct {
	Threshold float64
	Weight    float64
}

func (r SpeedRule) Name() string { return "implausible_speed" }

func (r SpeedRule) Score(_ *domain.Participant, elapsedSeconds float64, _ bool) float64 {
	if elapsedSeconds < r.Threshold {
		return r.Weight
	}
	return 0
}

// PerfectStreakRule contributes Weight once a participant has answered
// MinAnswers questions with no mistakes while the current answer is
// also correct. Accuracy alone is not suspicious; combined with the
// speed rules it pushes bots over the threshold sooner.
type PerfectStreakRule struct {
	MinAnswers int
	Weight     float64
}

func (r PerfectStreakRule) Name() string { return "perfect_streak" }

func (r PerfectStreakRule) Score(p *domain.Participant, _ float64, correct bool) float64 {
	if p == nil || !correct {
		return 0
	}
	if p.CorrectAnswers >= r.MinAnswers && p.CorrectAnswers == p.CurrentQuestion {
		return r.Weight
	}
	return 0
}

// DefaultRules returns the ordered baseline rule set
func DefaultRules() []Rule {
	return []Rule{
		SpeedRule{Threshold: 0.5, Weight: 0.3},
		SpeedRule{Threshold: 0.1, Weight: 0.4},
		PerfectStreakRule{MinAnswers: 5, Weight: 0.1},
	}
}

// FlagStore persists the fraud flag and forces the participant's game
// into the terminal fraud state
type FlagStore interface {
	FlagFraud(ctx context.Context, participantID string, score float64) error
}

// Scorer derives a suspicion score in [0,1] from an ordered list of
// independent rules
type Scorer struct {
	rules  []Rule
	logger *slog.Logger
}

// NewScorer creates a scorer; nil rules selects DefaultRules
func NewScorer(rules []Rule, logger *slog.Logger) *Scorer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Scorer{rules: rules, logger: logger}
}

// Score runs every rule and returns the clamped sum
func (s *Scorer) Score(p *domain.Participant, elapsedSeconds float64, correct bool) float64 {
	total := 0.0
	for _, rule := range s.rules {
		contribution := rule.Score(p, elapsedSeconds, correct)
		if contribution > 0 {
			s.logger.Debug("fraud rule fired",
				"rule", rule.Name(),
				"participant_id", p.ID,
				"elapsed_seconds", elapsedSeconds,
				"contribution", contribution,
			)
		}
		total += contribution
	}
	if total > 1.0 {
		total = 1.0
	}
	return total
}

// Evaluate scores a submission and flags the participant when the
// score reaches the threshold. Flagging is terminal: the game does not
// continue after it, so a persistence failure here fails the call.
func (s *Scorer) Evaluate(ctx context.Context, store FlagStore, p *domain.Participant, elapsedSeconds float64, correct bool, threshold float64) (float64, bool, error) {
	score := s.Score(p, elapsedSeconds, correct)
	if score+scoreTolerance < threshold {
		return score, false, nil
	}

	if err := store.FlagFraud(ctx, p.ID, score); err != nil {
		return score, false, fmt.Errorf("flagging participant: %w", err)
	}

	p.FraudFlagged = true
	p.FraudScore = score
	p.State = domain.StateFraud
	p.GameCompleted = true

	s.logger.Warn("participant flagged for fraud",
		"participant_id", p.ID,
		"user_email", p.UserEmail,
		"score", score,
		"threshold", threshold,
		"elapsed_seconds", elapsedSeconds,
	)
	return score, true, nil
}
