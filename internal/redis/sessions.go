package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/quizrace/internal/domain"
)

// SaveMarkers stores a session's security markers with the session
// timeout as TTL
func (s *Store) SaveMarkers(ctx context.Context, m domain.SecurityMarkers, ttl time.Duration) error {
	key := s.markersKey(m.SessionID)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"session_id", m.SessionID,
		"user_email", m.UserEmail,
		"ip", m.IP,
		"user_agent", m.UserAgent,
		"fingerprint", m.Fingerprint,
		"created_at", m.CreatedAt.UnixMicro(),
		"last_activity", m.LastActivity.UnixMicro(),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving markers: %w", err)
	}
	return nil
}

// Markers retrieves a session's security markers. Returns (nil, nil)
// when the session is unknown or already expired.
func (s *Store) Markers(ctx context.Context, sessionID string) (*domain.SecurityMarkers, error) {
	key := s.markersKey(sessionID)
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getting markers: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, err := parseMicros(result["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	lastActivity, err := parseMicros(result["last_activity"])
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}

	return &domain.SecurityMarkers{
		SessionID:    result["session_id"],
		UserEmail:    result["user_email"],
		IP:           result["ip"],
		UserAgent:    result["user_agent"],
		Fingerprint:  result["fingerprint"],
		CreatedAt:    createdAt,
		LastActivity: lastActivity,
	}, nil
}

// TouchMarkers refreshes the session's last-activity time and TTL
func (s *Store) TouchMarkers(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	key := s.markersKey(sessionID)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_activity", at.UnixMicro())
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touching markers: %w", err)
	}
	return nil
}

// DestroyMarkers removes a session's markers
func (s *Store) DestroyMarkers(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.markersKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("destroying markers: %w", err)
	}
	return nil
}
