package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/quizrace/internal/domain"
	"github.com/quizrace/internal/fraud"
	"github.com/quizrace/internal/question"
	"github.com/quizrace/internal/round"
	"github.com/quizrace/internal/session"
	"github.com/quizrace/internal/timing"
)

// GameStore reads game configuration
type GameStore interface {
	Game(ctx context.Context, gameID string) (*domain.Game, error)
}

// ParticipantStore persists participant records
type ParticipantStore interface {
	CreateParticipant(ctx context.Context, p *domain.Participant) error
	Participant(ctx context.Context, participantID string) (*domain.Participant, error)
	InProgressParticipant(ctx context.Context, userEmail, gameID string) (*domain.Participant, error)
	RebindSession(ctx context.Context, participantID, sessionID string, at time.Time) error
	Terminate(ctx context.Context, participantID string, state domain.ParticipantState, at time.Time) error
}

// RoundStore assigns participants to rounds and serves the ranking of
// record
type RoundStore interface {
	JoinRound(ctx context.Context, gameID string, maxPlayers int) (*domain.Round, error)
	CompletedStandings(ctx context.Context, roundID string, limit int) ([]domain.StandingsEntry, error)
}

// QuestionReader reads questions and maintains their usage counters
type QuestionReader interface {
	Question(ctx context.Context, questionID string) (*domain.Question, error)
	IncrementQuestionUsage(ctx context.Context, questionID string, correct bool) error
}

// StandingsReader serves the hot standings mirror
type StandingsReader interface {
	Standings(ctx context.Context, roundID string, limit int) ([]domain.StandingsEntry, error)
}

// PaymentChecker is the read-only payment-status collaborator
type PaymentChecker interface {
	HasPaid(ctx context.Context, p *domain.Participant) (bool, error)
}

// EventSink receives fire-and-forget event emissions
type EventSink interface {
	Emit(ev domain.GameEvent)
}

// Broadcaster pushes round progress to live feed subscribers
type Broadcaster interface {
	BroadcastGameEvent(roundID string, ev domain.GameEvent)
}

// Limits carries gameplay and standings limits from configuration
type Limits struct {
	RoundMaxPlayers       int
	StandingsDefaultLimit int
	StandingsMaxLimit     int
}

// Deps wires the game service's collaborators
type Deps struct {
	Games        GameStore
	Participants ParticipantStore
	Rounds       RoundStore
	Questions    QuestionReader
	Guard        *session.Guard
	Selector     *question.Selector
	Enforcer     *timing.Enforcer
	Scorer       *fraud.Scorer
	Flags        fraud.FlagStore
	Coordinator  *round.Coordinator
	Payments     PaymentChecker
	Standings    StandingsReader
	Events       EventSink
	Hub          Broadcaster
	Limits       Limits
	Logger       *slog.Logger
}

// GameService drives the per-question control flow: continuity
// validation, payment gating, question selection and timing, fraud
// scoring, totals and round completion
type GameService struct {
	games        GameStore
	participants ParticipantStore
	rounds       RoundStore
	questions    QuestionReader
	guard        *session.Guard
	selector     *question.Selector
	enforcer     *timing.Enforcer
	scorer       *fraud.Scorer
	flags        fraud.FlagStore
	coordinator  *round.Coordinator
	payments     PaymentChecker
	standings    StandingsReader
	events       EventSink
	hub          Broadcaster
	limits       Limits
	clock        func() time.Time
	logger       *slog.Logger
}

// NewGameService creates the game service
func NewGameService(d Deps) *GameService {
	return &GameService{
		games:        d.Games,
		participants: d.Participants,
		rounds:       d.Rounds,
		questions:    d.Questions,
		guard:        d.Guard,
		selector:     d.Selector,
		enforcer:     d.Enforcer,
		scorer:       d.Scorer,
		flags:        d.Flags,
		coordinator:  d.Coordinator,
		payments:     d.Payments,
		standings:    d.Standings,
		events:       d.Events,
		hub:          d.Hub,
		limits:       d.Limits,
		clock:        time.Now,
		logger:       d.Logger,
	}
}

// SetClock overrides the time source, for tests
func (s *GameService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// JoinResult is returned when a participant starts or resumes a game
type JoinResult struct {
	Participant   *domain.Participant `json:"participant"`
	RoundID       string              `json:"round_id"`
	QuestionCount int                 `json:"question_count"`
	FreeQuestions int                 `json:"free_questions"`
	Resumed       bool                `json:"resumed"`
}

// QuestionPayload is the client-facing view of a served question.
// The correct answer never leaves the server.
type QuestionPayload struct {
	QuestionID     string    `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
	TotalQuestions int       `json:"total_questions"`
	Text           string    `json:"text"`
	Options        [3]string `json:"options"`
	TimeoutSeconds float64   `json:"timeout_seconds"`
	FreeTier       bool      `json:"free_tier"`
}

// AnswerSubmission is one answer handed in by the client.
// ClientTimestamp is the client's wall clock at submit time; timing
// decisions always use server clocks, the timestamp only feeds the
// clock-skew signal on the event log.
type AnswerSubmission struct {
	ParticipantID   string
	QuestionID      string
	Choice          int
	ClientTimestamp *time.Time
}

// SubmitResult is the outcome of a successful, in-time submission
type SubmitResult struct {
	Correct        bool    `json:"correct"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	FinalQuestion  bool    `json:"final_question"`
	GameCompleted  bool    `json:"game_completed"`
	CorrectAnswers int     `json:"correct_answers"`
	TotalTime      float64 `json:"total_time"`
	Rank           int64   `json:"rank,omitempty"`
}

// StatusResult reports the participant's timing state. Pending is set
// when a question is still open and unexpired.
type StatusResult struct {
	State            domain.ParticipantState `json:"state"`
	GameCompleted    bool                    `json:"game_completed"`
	QuestionPending  bool                    `json:"question_pending"`
	RemainingSeconds float64                 `json:"remaining_seconds,omitempty"`
	ElapsedSeconds   float64                 `json:"elapsed_seconds,omitempty"`
	Pending          *QuestionPayload        `json:"pending,omitempty"`
}

// terminalError maps a terminal participant state to its taxonomy error
func terminalError(p *domain.Participant) error {
	switch p.State {
	case domain.StateTimeout:
		return domain.ErrAnswerTimeout
	case domain.StateFraud:
		return domain.ErrFraudSuspected
	case domain.StateDeviceMismatch:
		return domain.ErrDeviceMismatch
	default:
		return domain.ErrGameOver
	}
}

// JoinGame starts (or resumes) a user's run through a game. The new
// session is fingerprinted and bound; cross-device joins against an
// in-progress run terminate it.
func (s *GameService) JoinGame(ctx context.Context, rc session.RequestContext, gameID, userEmail string) (*JoinResult, error) {
	if userEmail == "" {
		return nil, domain.ErrInvalidRequest
	}

	game, err := s.games.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.Active {
		return nil, domain.ErrGameNotFound
	}

	fingerprint, err := s.guard.Initialize(ctx, rc, userEmail)
	if err != nil {
		return nil, err
	}

	existing, err := s.participants.InProgressParticipant(ctx, userEmail, gameID)
	if err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
		return nil, err
	}

	if err := s.guard.DetectCrossDevice(ctx, rc, userEmail, fingerprint); err != nil {
		if errors.Is(err, domain.ErrCrossDevice) && existing != nil {
			s.terminate(ctx, existing, domain.StateDeviceMismatch)
		}
		return nil, err
	}

	now := s.clock()

	if existing != nil {
		if existing.DeviceFingerprint != fingerprint {
			// In-progress run bound to another device outside the
			// cross-device window; the run ends, the request fails
			s.terminate(ctx, existing, domain.StateDeviceMismatch)
			return nil, domain.ErrDeviceMismatch
		}
		// Same device, fresh session: rebind and resume
		if err := s.participants.RebindSession(ctx, existing.ID, rc.SessionID, now); err != nil {
			return nil, err
		}
		existing.SessionID = rc.SessionID
		return &JoinResult{
			Participant:   existing,
			RoundID:       existing.RoundID,
			QuestionCount: game.QuestionCount,
			FreeQuestions: game.FreeQuestions,
			Resumed:       true,
		}, nil
	}

	rd, err := s.rounds.JoinRound(ctx, gameID, s.limits.RoundMaxPlayers)
	if err != nil {
		return nil, err
	}

	p := &domain.Participant{
		ID:                uuid.New().String(),
		UserEmail:         userEmail,
		GameID:            gameID,
		RoundID:           rd.ID,
		SessionID:         rc.SessionID,
		DeviceFingerprint: fingerprint,
		PaymentStatus:     domain.PaymentPending,
		State:             domain.StateInProgress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.participants.CreateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("creating participant: %w", err)
	}

	s.publish(p, domain.GameEvent{
		Type:          domain.EventGameJoined,
		GameID:        gameID,
		RoundID:       rd.ID,
		ParticipantID: p.ID,
		UserEmail:     userEmail,
	})

	return &JoinResult{
		Participant:   p,
		RoundID:       rd.ID,
		QuestionCount: game.QuestionCount,
		FreeQuestions: game.FreeQuestions,
	}, nil
}

// NextQuestion validates continuity and the payment gate, selects the
// next question and opens the timing slot
func (s *GameService) NextQuestion(ctx context.Context, rc session.RequestContext, participantID string) (*QuestionPayload, error) {
	p, err := s.participants.Participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return nil, terminalError(p)
	}

	if err := s.guard.ValidateContinuity(ctx, rc, p); err != nil {
		return nil, err
	}

	game, err := s.games.Game(ctx, p.GameID)
	if err != nil {
		return nil, err
	}

	next := p.CurrentQuestion + 1
	if next > game.QuestionCount {
		return nil, domain.ErrGameOver
	}

	if next > game.FreeQuestions {
		paid, err := s.payments.HasPaid(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("checking payment status: %w", err)
		}
		if !paid {
			return nil, domain.ErrPaymentRequired
		}
	}

	q, err := s.selector.SelectNext(ctx, p.GameID, p.UserEmail)
	if err != nil {
		return nil, err
	}

	if err := s.enforcer.StartTiming(ctx, p.ID, q.ID, next); err != nil {
		return nil, err
	}

	s.publish(p, domain.GameEvent{
		Type:           domain.EventQuestionServed,
		GameID:         p.GameID,
		RoundID:        p.RoundID,
		ParticipantID:  p.ID,
		UserEmail:      p.UserEmail,
		QuestionID:     q.ID,
		QuestionNumber: next,
	})

	return &QuestionPayload{
		QuestionID:     q.ID,
		QuestionNumber: next,
		TotalQuestions: game.QuestionCount,
		Text:           q.Text,
		Options:        q.Options,
		TimeoutSeconds: timing.Seconds(game.AnswerTimeout),
		FreeTier:       next <= game.FreeQuestions,
	}, nil
}

// SubmitAnswer closes the timing slot, scores the submission and
// updates the participant's totals. On the final question it computes
// the completion rank and checks round fill.
func (s *GameService) SubmitAnswer(ctx context.Context, rc session.RequestContext, sub AnswerSubmission) (*SubmitResult, error) {
	if sub.QuestionID == "" || sub.Choice < 0 || sub.Choice > 2 {
		return nil, domain.ErrInvalidRequest
	}

	p, err := s.participants.Participant(ctx, sub.ParticipantID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return nil, terminalError(p)
	}

	if err := s.guard.ValidateContinuity(ctx, rc, p); err != nil {
		return nil, err
	}

	game, err := s.games.Game(ctx, p.GameID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.enforcer.CloseSubmission(ctx, p.ID, sub.QuestionID, game.AnswerTimeout)
	if err != nil {
		return nil, err
	}

	skew := s.clientSkew(p, sub.ClientTimestamp)

	if outcome.TimedOut {
		// Late submission: forced-incorrect regardless of the choice,
		// game terminates. Timing fraud protection takes precedence
		// over scoring.
		if err := s.resolveTimeout(ctx, p, game, outcome, sub.Choice); err != nil {
			return nil, err
		}
		return nil, domain.ErrAnswerTimeout
	}

	q, err := s.questions.Question(ctx, sub.QuestionID)
	if err != nil {
		return nil, err
	}
	if q.GameID != p.GameID {
		return nil, domain.ErrQuestionNotFound
	}
	correct := sub.Choice == q.CorrectAnswer

	score, flagged, err := s.scorer.Evaluate(ctx, s.flags, p, outcome.ElapsedSeconds, correct, fraud.InGameThreshold)
	if err != nil {
		return nil, err
	}
	if flagged {
		s.publish(p, domain.GameEvent{
			Type:          domain.EventFraudFlagged,
			GameID:        p.GameID,
			RoundID:       p.RoundID,
			ParticipantID: p.ID,
			UserEmail:     p.UserEmail,
			FraudScore:    score,
		})
		return nil, domain.ErrFraudSuspected
	}

	rec := domain.AnswerRecord{
		ParticipantID:  p.ID,
		QuestionID:     sub.QuestionID,
		QuestionNumber: outcome.Slot.QuestionNumber,
		Choice:         sub.Choice,
		Correct:        correct,
		ElapsedSeconds: outcome.ElapsedSeconds,
		CreatedAt:      s.clock(),
	}
	if err := s.coordinator.RecordProgress(ctx, p, rec, game.FreeQuestions); err != nil {
		return nil, err
	}

	s.publish(p, domain.GameEvent{
		Type:           domain.EventAnswerSubmitted,
		GameID:         p.GameID,
		RoundID:        p.RoundID,
		ParticipantID:  p.ID,
		UserEmail:      p.UserEmail,
		QuestionID:     sub.QuestionID,
		QuestionNumber: rec.QuestionNumber,
		Choice:         sub.Choice,
		Correct:        correct,
		ElapsedSeconds: outcome.ElapsedSeconds,
		ClientSkew:     skew,
		FraudScore:     score,
	})

	result := &SubmitResult{
		Correct:        correct,
		ElapsedSeconds: outcome.ElapsedSeconds,
		FinalQuestion:  p.CurrentQuestion >= game.QuestionCount,
		CorrectAnswers: p.CorrectAnswers,
		TotalTime:      p.TotalTime,
	}

	if result.FinalQuestion {
		rank, err := s.coordinator.CompleteGame(ctx, p)
		if err != nil {
			return nil, err
		}
		result.GameCompleted = true
		result.Rank = rank

		s.publish(p, domain.GameEvent{
			Type:           domain.EventGameCompleted,
			GameID:         p.GameID,
			RoundID:        p.RoundID,
			ParticipantID:  p.ID,
			UserEmail:      p.UserEmail,
			ElapsedSeconds: p.TotalTime,
			Rank:           rank,
		})

		if p.Paid() {
			fill, err := s.coordinator.CheckRoundFill(ctx, p.RoundID)
			if err != nil {
				return nil, err
			}
			if fill.JustFilled {
				// The round-full event is the signal to the external
				// winner-selection collaborator
				s.publish(p, domain.GameEvent{
					Type:    domain.EventRoundFull,
					GameID:  p.GameID,
					RoundID: p.RoundID,
				})
			}
		}
	}

	return result, nil
}

// Client clocks drifting past this from the server's are logged
const clientSkewWarnSeconds = 5.0

// clientSkew measures the client's reported wall clock against the
// server's at receipt. Returns 0 when the client sent no timestamp.
func (s *GameService) clientSkew(p *domain.Participant, ts *time.Time) float64 {
	if ts == nil {
		return 0
	}
	skew := timing.Seconds(s.clock().Sub(*ts))
	if skew > clientSkewWarnSeconds || skew < -clientSkewWarnSeconds {
		s.logger.Warn("client clock skew",
			"participant_id", p.ID,
			"skew_seconds", skew,
		)
	}
	return skew
}

// TimingStatus reports the remaining time for the pending question.
// Idempotent while the slot is unexpired; after expiry it triggers the
// same Timeout outcome as a late submission.
func (s *GameService) TimingStatus(ctx context.Context, rc session.RequestContext, participantID string) (*StatusResult, error) {
	return s.resolveSlot(ctx, rc, participantID, false)
}

// RecoverConnection is the reconnection path: same lazy timeout
// semantics as TimingStatus, but the still-pending question payload is
// re-issued so the client can redraw it.
func (s *GameService) RecoverConnection(ctx context.Context, rc session.RequestContext, participantID string) (*StatusResult, error) {
	return s.resolveSlot(ctx, rc, participantID, true)
}

func (s *GameService) resolveSlot(ctx context.Context, rc session.RequestContext, participantID string, includeQuestion bool) (*StatusResult, error) {
	p, err := s.participants.Participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return &StatusResult{State: p.State, GameCompleted: p.GameCompleted}, nil
	}

	if err := s.guard.ValidateContinuity(ctx, rc, p); err != nil {
		return nil, err
	}

	game, err := s.games.Game(ctx, p.GameID)
	if err != nil {
		return nil, err
	}

	status, err := s.enforcer.Status(ctx, p.ID, game.AnswerTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrNoOpenSlot) {
			// Between questions; nothing pending
			return &StatusResult{State: p.State}, nil
		}
		return nil, err
	}

	if status.Expired {
		outcome, err := s.enforcer.Expire(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if err := s.resolveTimeout(ctx, p, game, outcome, -1); err != nil {
			return nil, err
		}
		return &StatusResult{
			State:          domain.StateTimeout,
			GameCompleted:  true,
			ElapsedSeconds: outcome.ElapsedSeconds,
		}, nil
	}

	result := &StatusResult{
		State:            p.State,
		QuestionPending:  true,
		RemainingSeconds: status.RemainingSeconds,
		ElapsedSeconds:   status.ElapsedSeconds,
	}

	if includeQuestion {
		q, err := s.questions.Question(ctx, status.Slot.QuestionID)
		if err != nil {
			return nil, err
		}
		result.Pending = &QuestionPayload{
			QuestionID:     q.ID,
			QuestionNumber: status.Slot.QuestionNumber,
			TotalQuestions: game.QuestionCount,
			Text:           q.Text,
			Options:        q.Options,
			TimeoutSeconds: status.RemainingSeconds,
			FreeTier:       status.Slot.QuestionNumber <= game.FreeQuestions,
		}
	}
	return result, nil
}

// resolveTimeout records the forced-incorrect answer and terminates
// the participant's game. Shared by the late-submit and lazy-poll
// paths.
func (s *GameService) resolveTimeout(ctx context.Context, p *domain.Participant, game *domain.Game, outcome *timing.Outcome, choice int) error {
	if choice < 0 || choice > 2 {
		choice = 0
	}
	rec := domain.AnswerRecord{
		ParticipantID:  p.ID,
		QuestionID:     outcome.Slot.QuestionID,
		QuestionNumber: outcome.Slot.QuestionNumber,
		Choice:         choice,
		Correct:        false,
		Forced:         true,
		ElapsedSeconds: outcome.ElapsedSeconds,
		CreatedAt:      s.clock(),
	}
	if err := s.coordinator.RecordProgress(ctx, p, rec, game.FreeQuestions); err != nil {
		return err
	}
	if err := s.participants.Terminate(ctx, p.ID, domain.StateTimeout, s.clock()); err != nil {
		return fmt.Errorf("terminating timed-out game: %w", err)
	}
	p.State = domain.StateTimeout
	p.GameCompleted = true

	s.logger.Info("game terminated on timeout",
		"participant_id", p.ID,
		"question_number", outcome.Slot.QuestionNumber,
		"elapsed_seconds", outcome.ElapsedSeconds,
	)
	s.publish(p, domain.GameEvent{
		Type:           domain.EventGameTimeout,
		GameID:         p.GameID,
		RoundID:        p.RoundID,
		ParticipantID:  p.ID,
		UserEmail:      p.UserEmail,
		QuestionID:     outcome.Slot.QuestionID,
		QuestionNumber: outcome.Slot.QuestionNumber,
		ElapsedSeconds: outcome.ElapsedSeconds,
	})
	return nil
}

// terminate forces a terminal state and publishes the outcome;
// best-effort during violation handling
func (s *GameService) terminate(ctx context.Context, p *domain.Participant, state domain.ParticipantState) {
	if err := s.participants.Terminate(ctx, p.ID, state, s.clock()); err != nil {
		s.logger.Error("failed to terminate participant",
			"participant_id", p.ID,
			"state", string(state),
			"error", err,
		)
		return
	}
	p.State = state
	p.GameCompleted = true
}

// RoundStandings returns a round's completion ranking, preferring the
// Redis mirror and falling back to Postgres when the mirror is cold
func (s *GameService) RoundStandings(ctx context.Context, roundID string, limit int) ([]domain.StandingsEntry, error) {
	if limit <= 0 {
		limit = s.limits.StandingsDefaultLimit
	}
	if limit > s.limits.StandingsMaxLimit {
		limit = s.limits.StandingsMaxLimit
	}

	entries, err := s.standings.Standings(ctx, roundID, limit)
	if err != nil {
		s.logger.Warn("standings mirror unavailable, falling back", "round_id", roundID, "error", err)
	}
	if len(entries) > 0 {
		return entries, nil
	}
	return s.rounds.CompletedStandings(ctx, roundID, limit)
}

// ProcessAnswerEvent is the out-of-band audit path driven by the Kafka
// consumer: question usage accounting plus a second fraud pass at the
// stricter audit threshold.
func (s *GameService) ProcessAnswerEvent(ctx context.Context, ev domain.GameEvent) error {
	if err := s.questions.IncrementQuestionUsage(ctx, ev.QuestionID, ev.Correct); err != nil {
		s.logger.Warn("failed to update question usage",
			"question_id", ev.QuestionID,
			"error", err,
		)
	}

	p, err := s.participants.Participant(ctx, ev.ParticipantID)
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return nil
		}
		return err
	}
	if p.Terminal() {
		return nil
	}

	score, flagged, err := s.scorer.Evaluate(ctx, s.flags, p, ev.ElapsedSeconds, ev.Correct, fraud.AuditThreshold)
	if err != nil {
		return err
	}
	if flagged {
		s.publish(p, domain.GameEvent{
			Type:          domain.EventFraudFlagged,
			GameID:        p.GameID,
			RoundID:       p.RoundID,
			ParticipantID: p.ID,
			UserEmail:     p.UserEmail,
			FraudScore:    score,
		})
	}
	return nil
}

// publish emits to the event log and the live round feed. Both are
// fire-and-forget.
func (s *GameService) publish(p *domain.Participant, ev domain.GameEvent) {
	ev.Timestamp = s.clock()
	if s.events != nil {
		s.events.Emit(ev)
	}
	if s.hub != nil && p != nil {
		s.hub.BroadcastGameEvent(p.RoundID, ev)
	}
}
