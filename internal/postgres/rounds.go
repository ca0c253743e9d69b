package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quizrace/internal/domain"
)

// Round retrieves a round by ID
func (r *Repository) Round(ctx context.Context, roundID string) (*domain.Round, error) {
	query := `
		SELECT id, game_id, max_players, paid_participant_count, status,
		       started_at, completed_at, winner_participant_id
		FROM rounds
		WHERE id = $1
	`
	var rd domain.Round
	err := r.pool.QueryRow(ctx, query, roundID).Scan(
		&rd.ID,
		&rd.GameID,
		&rd.MaxPlayers,
		&rd.PaidParticipantCount,
		&rd.Status,
		&rd.StartedAt,
		&rd.CompletedAt,
		&rd.WinnerParticipantID,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRoundNotFound
		}
		return nil, fmt.Errorf("getting round: %w", err)
	}
	return &rd, nil
}

// JoinRound returns the game's open round, creating one when none is
// accepting participants
func (r *Repository) JoinRound(ctx context.Context, gameID string, maxPlayers int) (*domain.Round, error) {
	query := `
		SELECT id, game_id, max_players, paid_participant_count, status,
		       started_at, completed_at, winner_participant_id
		FROM rounds
		WHERE game_id = $1 AND status = 'open'
		ORDER BY started_at ASC
		LIMIT 1
	`
	var rd domain.Round
	err := r.pool.QueryRow(ctx, query, gameID).Scan(
		&rd.ID,
		&rd.GameID,
		&rd.MaxPlayers,
		&rd.PaidParticipantCount,
		&rd.Status,
		&rd.StartedAt,
		&rd.CompletedAt,
		&rd.WinnerParticipantID,
	)
	if err == nil {
		return &rd, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("finding open round: %w", err)
	}

	rd = domain.Round{
		ID:         uuid.New().String(),
		GameID:     gameID,
		MaxPlayers: maxPlayers,
		Status:     domain.RoundOpen,
		StartedAt:  time.Now(),
	}
	insert := `
		INSERT INTO rounds (id, game_id, max_players, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, insert, rd.ID, rd.GameID, rd.MaxPlayers, string(rd.Status), rd.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("creating round: %w", err)
	}
	return &rd, nil
}

// FillRound atomically increments the round's paid-completed counter.
// The conditional update guarantees the counter never exceeds
// max_players and the flip to full happens exactly once, even under
// simultaneous final-question submissions.
func (r *Repository) FillRound(ctx context.Context, roundID string) (*domain.RoundFill, error) {
	query := `
		UPDATE rounds
		SET paid_participant_count = paid_participant_count + 1,
		    status = CASE WHEN paid_participant_count + 1 >= max_players THEN 'full' ELSE status END,
		    completed_at = CASE WHEN paid_participant_count + 1 >= max_players THEN $2 ELSE completed_at END
		WHERE id = $1 AND paid_participant_count < max_players
		RETURNING paid_participant_count, max_players
	`
	var count, maxPlayers int
	err := r.pool.QueryRow(ctx, query, roundID, time.Now()).Scan(&count, &maxPlayers)
	if err == nil {
		return &domain.RoundFill{
			RoundID:    roundID,
			Count:      count,
			MaxPlayers: maxPlayers,
			JustFilled: count >= maxPlayers,
		}, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("incrementing round fill: %w", err)
	}

	// Counter already at max; report current state without firing
	rd, err := r.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return &domain.RoundFill{
		RoundID:    roundID,
		Count:      rd.PaidParticipantCount,
		MaxPlayers: rd.MaxPlayers,
		JustFilled: false,
	}, nil
}

// ActiveRoundIDs lists rounds whose standings the sync worker keeps
// mirrored in Redis
func (r *Repository) ActiveRoundIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM rounds WHERE status IN ('open', 'full')`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing active rounds: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning round id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CompletedStandings returns the round's paid completions ordered by
// ascending total time. Source of truth for the Redis mirror and the
// fallback when the mirror is cold.
func (r *Repository) CompletedStandings(ctx context.Context, roundID string, limit int) ([]domain.StandingsEntry, error) {
	query := `
		SELECT id, total_time,
		       ROW_NUMBER() OVER (ORDER BY total_time ASC, completed_at ASC) as rank
		FROM participants
		WHERE round_id = $1 AND payment_status = 'paid' AND state = 'completed'
		ORDER BY total_time ASC, completed_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, roundID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting standings: %w", err)
	}
	defer rows.Close()

	var entries []domain.StandingsEntry
	for rows.Next() {
		var e domain.StandingsEntry
		if err := rows.Scan(&e.ParticipantID, &e.TotalTime, &e.Rank); err != nil {
			return nil, fmt.Errorf("scanning standings entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
