package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quizrace/internal/domain"
)

const participantColumns = `
	id, user_email, game_id, round_id, session_id, device_fingerprint,
	payment_status, current_question, correct_answers,
	total_time, pre_payment_time, post_payment_time,
	game_completed, state, fraud_flagged, fraud_score, rank,
	created_at, updated_at, completed_at
`

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(
		&p.ID,
		&p.UserEmail,
		&p.GameID,
		&p.RoundID,
		&p.SessionID,
		&p.DeviceFingerprint,
		&p.PaymentStatus,
		&p.CurrentQuestion,
		&p.CorrectAnswers,
		&p.TotalTime,
		&p.PrePaymentTime,
		&p.PostPaymentTime,
		&p.GameCompleted,
		&p.State,
		&p.FraudFlagged,
		&p.FraudScore,
		&p.Rank,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("scanning participant: %w", err)
	}
	return &p, nil
}

// CreateParticipant inserts a new participant record
func (r *Repository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO participants (
			id, user_email, game_id, round_id, session_id, device_fingerprint,
			payment_status, state, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.UserEmail,
		p.GameID,
		p.RoundID,
		p.SessionID,
		p.DeviceFingerprint,
		string(p.PaymentStatus),
		string(p.State),
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating participant: %w", err)
	}
	return nil
}

// Participant retrieves a participant by ID
func (r *Repository) Participant(ctx context.Context, participantID string) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	return scanParticipant(r.pool.QueryRow(ctx, query, participantID))
}

// InProgressParticipant retrieves the user's in-progress run for a
// game, if any
func (r *Repository) InProgressParticipant(ctx context.Context, userEmail, gameID string) (*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE user_email = $1 AND game_id = $2 AND state = 'in_progress'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanParticipant(r.pool.QueryRow(ctx, query, userEmail, gameID))
}

// RebindSession points an in-progress participant at a fresh session
// id after a same-device resume
func (r *Repository) RebindSession(ctx context.Context, participantID, sessionID string, at time.Time) error {
	query := `
		UPDATE participants
		SET session_id = $2, updated_at = $3
		WHERE id = $1 AND state = 'in_progress'
	`
	result, err := r.pool.Exec(ctx, query, participantID, sessionID, at)
	if err != nil {
		return fmt.Errorf("rebinding session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

// Terminate forces an in-progress participant into a terminal state.
// The guard on state makes repeated termination attempts no-ops.
func (r *Repository) Terminate(ctx context.Context, participantID string, state domain.ParticipantState, at time.Time) error {
	query := `
		UPDATE participants
		SET game_completed = TRUE, state = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND state = 'in_progress'
	`
	_, err := r.pool.Exec(ctx, query, participantID, string(state), at)
	if err != nil {
		return fmt.Errorf("terminating participant: %w", err)
	}
	return nil
}

// FlagFraud persists the fraud flag and score and forces the game into
// the terminal fraud state
func (r *Repository) FlagFraud(ctx context.Context, participantID string, score float64) error {
	query := `
		UPDATE participants
		SET fraud_flagged = TRUE, fraud_score = $2, game_completed = TRUE,
		    state = 'fraud', completed_at = $3, updated_at = $3
		WHERE id = $1 AND state = 'in_progress'
	`
	_, err := r.pool.Exec(ctx, query, participantID, score, time.Now())
	if err != nil {
		return fmt.Errorf("flagging fraud: %w", err)
	}
	return nil
}

// RecordAnswer inserts the answer row and folds the elapsed time into
// the participant's totals in one transaction. A failure anywhere
// aborts both writes: a partial update would break the invariant that
// total_time equals the sum of recorded elapsed times.
func (r *Repository) RecordAnswer(ctx context.Context, rec domain.AnswerRecord, prePayment bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO answers (participant_id, question_id, question_number, choice, correct, forced, elapsed_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, insert,
		rec.ParticipantID,
		rec.QuestionID,
		rec.QuestionNumber,
		rec.Choice,
		rec.Correct,
		rec.Forced,
		rec.ElapsedSeconds,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting answer: %w", err)
	}

	update := `
		UPDATE participants
		SET current_question = $2,
		    total_time = total_time + $3,
		    pre_payment_time = pre_payment_time + CASE WHEN $4 THEN $3 ELSE 0 END,
		    post_payment_time = post_payment_time + CASE WHEN $4 THEN 0 ELSE $3 END,
		    correct_answers = correct_answers + CASE WHEN $5 THEN 1 ELSE 0 END,
		    updated_at = $6
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, update,
		rec.ParticipantID,
		rec.QuestionNumber,
		rec.ElapsedSeconds,
		prePayment,
		rec.Correct,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating participant totals: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing answer: %w", err)
	}
	return nil
}

// CompleteGame marks the participant completed and computes the
// completion rank inside one transaction. The round row is locked
// first so concurrent completions in the same round serialize and
// equal totals rank by persistence order.
func (r *Repository) CompleteGame(ctx context.Context, participantID string, completedAt time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var roundID string
	var totalTime float64
	err = tx.QueryRow(ctx,
		`SELECT round_id, total_time FROM participants WHERE id = $1 AND state = 'in_progress'`,
		participantID,
	).Scan(&roundID, &totalTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrGameOver
		}
		return 0, fmt.Errorf("loading participant for completion: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT 1 FROM rounds WHERE id = $1 FOR UPDATE`, roundID); err != nil {
		return 0, fmt.Errorf("locking round: %w", err)
	}

	var rank int64
	err = tx.QueryRow(ctx, `
		SELECT 1 + COUNT(*)
		FROM participants
		WHERE round_id = $1
		  AND id <> $2
		  AND payment_status = 'paid'
		  AND state = 'completed'
		  AND total_time <= $3
	`, roundID, participantID, totalTime).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("computing rank: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE participants
		SET game_completed = TRUE, state = 'completed', rank = $2,
		    completed_at = $3, updated_at = $3
		WHERE id = $1
	`, participantID, rank, completedAt)
	if err != nil {
		return 0, fmt.Errorf("marking game completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing completion: %w", err)
	}
	return rank, nil
}
