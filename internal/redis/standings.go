package redis

import (
	"context"
	"fmt"

	"github.com/quizrace/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AddCompletion records a paid completion in the round's standings
// sorted set, scored by total time (ascending is better)
func (s *Store) AddCompletion(ctx context.Context, roundID, participantID string, totalTime float64) error {
	key := s.standingsKey(roundID)
	err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  totalTime,
		Member: participantID,
	}).Err()
	if err != nil {
		return fmt.Errorf("adding completion: %w", err)
	}
	return nil
}

// Standings returns up to limit entries of a round's completion
// ranking, fastest first
func (s *Store) Standings(ctx context.Context, roundID string, limit int) ([]domain.StandingsEntry, error) {
	key := s.standingsKey(roundID)
	results, err := s.client.ZRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting standings: %w", err)
	}

	entries := make([]domain.StandingsEntry, len(results))
	for i, result := range results {
		entries[i] = domain.StandingsEntry{
			Rank:          int64(i + 1),
			ParticipantID: result.Member.(string),
			TotalTime:     result.Score,
		}
	}
	return entries, nil
}

// BatchSetStandings replaces a round's standings mirror in one
// pipeline, used by the sync worker for recovery
func (s *Store) BatchSetStandings(ctx context.Context, roundID string, entries []domain.StandingsEntry) error {
	key := s.standingsKey(roundID)

	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	for _, e := range entries {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  e.TotalTime,
			Member: e.ParticipantID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting standings: %w", err)
	}
	return nil
}

// StandingsCount returns the number of recorded completions for a round
func (s *Store) StandingsCount(ctx context.Context, roundID string) (int64, error) {
	count, err := s.client.ZCard(ctx, s.standingsKey(roundID)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting standings count: %w", err)
	}
	return count, nil
}
