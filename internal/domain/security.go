package domain

import "time"

// SecurityMarkers is the per-session snapshot the continuity checks
// compare against. Stored server-side, never exposed to the client.
type SecurityMarkers struct {
	SessionID    string    `json:"session_id"`
	UserEmail    string    `json:"user_email"`
	IP           string    `json:"ip"`
	UserAgent    string    `json:"user_agent"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Security event types
const (
	SecurityEventSessionInit         = "session_init"
	SecurityEventFingerprintMismatch = "fingerprint_mismatch"
	SecurityEventHijackSuspected     = "hijack_suspected"
	SecurityEventCrossDevice         = "cross_device"
	SecurityEventSessionExpired      = "session_expired"
)

// SecurityEvent is one entry in the persisted security log. Stored and
// current values are kept so violations can be investigated later;
// the client response never carries them.
type SecurityEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	UserEmail     string    `json:"user_email,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	StoredValue   string    `json:"stored_value,omitempty"`
	CurrentValue  string    `json:"current_value,omitempty"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
