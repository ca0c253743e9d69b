package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/quizrace/internal/domain"
)

// RecordSecurityEvent appends one entry to the security log
func (r *Repository) RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, type, user_email, participant_id, session_id, fingerprint,
			stored_value, current_value, ip, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		ev.ID,
		ev.Type,
		ev.UserEmail,
		ev.ParticipantID,
		ev.SessionID,
		ev.Fingerprint,
		ev.StoredValue,
		ev.CurrentValue,
		ev.IP,
		ev.UserAgent,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording security event: %w", err)
	}
	return nil
}

// RecentInitFingerprints returns the distinct fingerprints recorded at
// session initialization for a user since the given time. Feeds the
// cross-device detection window.
func (r *Repository) RecentInitFingerprints(ctx context.Context, userEmail string, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT fingerprint
		FROM security_events
		WHERE user_email = $1 AND type = $2 AND created_at >= $3 AND fingerprint <> ''
	`
	rows, err := r.pool.Query(ctx, query, userEmail, domain.SecurityEventSessionInit, since)
	if err != nil {
		return nil, fmt.Errorf("listing recent fingerprints: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scanning fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	return fingerprints, nil
}
