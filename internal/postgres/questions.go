package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quizrace/internal/domain"
)

// Game retrieves a game configuration by ID
func (r *Repository) Game(ctx context.Context, gameID string) (*domain.Game, error) {
	query := `
		SELECT id, name, question_count, free_questions, answer_timeout_ms, active, created_at
		FROM games
		WHERE id = $1
	`
	var g domain.Game
	var timeoutMs int64
	err := r.pool.QueryRow(ctx, query, gameID).Scan(
		&g.ID,
		&g.Name,
		&g.QuestionCount,
		&g.FreeQuestions,
		&timeoutMs,
		&g.Active,
		&g.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("getting game: %w", err)
	}
	g.AnswerTimeout = time.Duration(timeoutMs) * time.Millisecond
	return &g, nil
}

// Question retrieves a question by ID
func (r *Repository) Question(ctx context.Context, questionID string) (*domain.Question, error) {
	query := `
		SELECT id, game_id, text, option_a, option_b, option_c, correct_answer,
		       difficulty, category, active, times_served, times_correct
		FROM questions
		WHERE id = $1
	`
	var q domain.Question
	err := r.pool.QueryRow(ctx, query, questionID).Scan(
		&q.ID,
		&q.GameID,
		&q.Text,
		&q.Options[0],
		&q.Options[1],
		&q.Options[2],
		&q.CorrectAnswer,
		&q.Difficulty,
		&q.Category,
		&q.Active,
		&q.TimesServed,
		&q.TimesCorrect,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("getting question: %w", err)
	}
	return &q, nil
}

// ActiveQuestions retrieves the active question pool for a game
func (r *Repository) ActiveQuestions(ctx context.Context, gameID string) ([]domain.Question, error) {
	query := `
		SELECT id, game_id, text, option_a, option_b, option_c, correct_answer,
		       difficulty, category, active, times_served, times_correct
		FROM questions
		WHERE game_id = $1 AND active
	`
	rows, err := r.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing active questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		err := rows.Scan(
			&q.ID,
			&q.GameID,
			&q.Text,
			&q.Options[0],
			&q.Options[1],
			&q.Options[2],
			&q.CorrectAnswer,
			&q.Difficulty,
			&q.Category,
			&q.Active,
			&q.TimesServed,
			&q.TimesCorrect,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// SeenQuestionIDs returns the set of question IDs the user has been
// served in this game
func (r *Repository) SeenQuestionIDs(ctx context.Context, userEmail, gameID string) (map[string]bool, error) {
	query := `SELECT question_id FROM question_history WHERE user_email = $1 AND game_id = $2`
	rows, err := r.pool.Query(ctx, query, userEmail, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing question history: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		seen[id] = true
	}
	return seen, nil
}

// TouchHistory upserts a question-history row: insert if absent,
// refresh seen_at otherwise. Idempotent under concurrent duplicate
// calls from the same user.
func (r *Repository) TouchHistory(ctx context.Context, userEmail, gameID, questionID string, at time.Time) error {
	query := `
		INSERT INTO question_history (user_email, game_id, question_id, seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_email, game_id, question_id)
		DO UPDATE SET seen_at = $4
	`
	_, err := r.pool.Exec(ctx, query, userEmail, gameID, questionID, at)
	if err != nil {
		return fmt.Errorf("touching question history: %w", err)
	}
	return nil
}

// IncrementQuestionUsage bumps a question's usage and accuracy
// counters. Called from the async audit path, never inline with
// question selection.
func (r *Repository) IncrementQuestionUsage(ctx context.Context, questionID string, correct bool) error {
	query := `
		UPDATE questions
		SET times_served = times_served + 1,
		    times_correct = times_correct + CASE WHEN $2 THEN 1 ELSE 0 END
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, questionID, correct)
	if err != nil {
		return fmt.Errorf("incrementing question usage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}
