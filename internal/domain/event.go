package domain

import "time"

// Game event types emitted to the event log
const (
	EventGameJoined        = "game_joined"
	EventQuestionServed    = "question_served"
	EventAnswerSubmitted   = "answer_submitted"
	EventGameCompleted     = "game_completed"
	EventGameTimeout       = "game_timeout"
	EventFraudFlagged      = "fraud_flagged"
	EventRoundFull         = "round_full"
	EventSecurityViolation = "security_violation"
)

// GameEvent is the fire-and-forget lifecycle event published to Kafka.
// The audit consumer re-scores answer_submitted events out of band.
type GameEvent struct {
	Type           string    `json:"type"`
	GameID         string    `json:"game_id,omitempty"`
	RoundID        string    `json:"round_id,omitempty"`
	ParticipantID  string    `json:"participant_id,omitempty"`
	UserEmail      string    `json:"user_email,omitempty"`
	QuestionID     string    `json:"question_id,omitempty"`
	QuestionNumber int       `json:"question_number,omitempty"`
	Choice         int       `json:"choice,omitempty"`
	Correct        bool      `json:"correct,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds,omitempty"`
	ClientSkew     float64   `json:"client_skew_seconds,omitempty"`
	FraudScore     float64   `json:"fraud_score,omitempty"`
	Rank           int64     `json:"rank,omitempty"`
	Violation      string    `json:"violation,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
