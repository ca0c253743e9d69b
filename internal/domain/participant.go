package domain

import "time"

// PaymentStatus represents a participant's payment state, maintained
// by the external payment collaborator
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// ParticipantState represents the per-round game state machine.
// Every state except StateInProgress is terminal.
type ParticipantState string

const (
	StateInProgress     ParticipantState = "in_progress"
	StateCompleted      ParticipantState = "completed"
	StateTimeout        ParticipantState = "timeout"
	StateFraud          ParticipantState = "fraud"
	StateDeviceMismatch ParticipantState = "device_mismatch"
)

// Participant represents one user's run through a game. Created on
// game start, never deleted; terminal outcomes only mark it.
type Participant struct {
	ID                string           `json:"id"`
	UserEmail         string           `json:"user_email"`
	GameID            string           `json:"game_id"`
	RoundID           string           `json:"round_id"`
	SessionID         string           `json:"-"`
	DeviceFingerprint string           `json:"-"`
	PaymentStatus     PaymentStatus    `json:"payment_status"`
	CurrentQuestion   int              `json:"current_question"`
	CorrectAnswers    int              `json:"correct_answers"`
	TotalTime         float64          `json:"total_time"`
	PrePaymentTime    float64          `json:"pre_payment_time"`
	PostPaymentTime   float64          `json:"post_payment_time"`
	GameCompleted     bool             `json:"game_completed"`
	State             ParticipantState `json:"state"`
	FraudFlagged      bool             `json:"-"`
	FraudScore        float64          `json:"-"`
	Rank              int64            `json:"rank,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// Terminal reports whether the participant's game can no longer advance
func (p *Participant) Terminal() bool {
	return p.State != StateInProgress
}

// Paid reports whether the participant has cleared the payment gate
func (p *Participant) Paid() bool {
	return p.PaymentStatus == PaymentPaid
}

// AnswerRecord is one row of the per-question answer log. Elapsed time
// is kept at microsecond precision; a timed-out submission is stored
// with Forced=true and Correct=false regardless of the choice sent.
type AnswerRecord struct {
	ID             int64     `json:"-"`
	ParticipantID  string    `json:"participant_id"`
	QuestionID     string    `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
	Choice         int       `json:"choice"`
	Correct        bool      `json:"correct"`
	Forced         bool      `json:"forced"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// TimingSlot is the ephemeral record of when a question was served to
// a participant. At most one slot exists per participant; starting a
// new question overwrites an abandoned one.
type TimingSlot struct {
	ParticipantID  string    `json:"participant_id"`
	QuestionID     string    `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
	StartedAt      time.Time `json:"started_at"`
}
