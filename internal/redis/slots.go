package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quizrace/internal/domain"
)

// Slots live well past any sane answer timeout so that a participant
// who walks away still gets the lazy Timeout outcome on return.
const slotTTL = 24 * time.Hour

// OpenSlot stores a participant's timing slot, overwriting any
// prior open slot
func (s *Store) OpenSlot(ctx context.Context, slot domain.TimingSlot) error {
	key := s.slotKey(slot.ParticipantID)

	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"question_id", slot.QuestionID,
		"question_number", slot.QuestionNumber,
		"started_at", slot.StartedAt.UnixMicro(),
	)
	pipe.Expire(ctx, key, slotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("opening slot: %w", err)
	}
	return nil
}

// Slot retrieves a participant's open timing slot. Returns (nil, nil)
// when no slot is open.
func (s *Store) Slot(ctx context.Context, participantID string) (*domain.TimingSlot, error) {
	key := s.slotKey(participantID)
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getting slot: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	questionNumber, err := strconv.Atoi(result["question_number"])
	if err != nil {
		return nil, fmt.Errorf("parsing question number: %w", err)
	}
	startedAt, err := parseMicros(result["started_at"])
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}

	return &domain.TimingSlot{
		ParticipantID:  participantID,
		QuestionID:     result["question_id"],
		QuestionNumber: questionNumber,
		StartedAt:      startedAt,
	}, nil
}

// CloseSlot removes a participant's timing slot
func (s *Store) CloseSlot(ctx context.Context, participantID string) error {
	if err := s.client.Del(ctx, s.slotKey(participantID)).Err(); err != nil {
		return fmt.Errorf("closing slot: %w", err)
	}
	return nil
}

// parseMicros converts a stored unix-microsecond string to a time
func parseMicros(raw string) (time.Time, error) {
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(micros), nil
}
