package domain

import "time"

// RoundStatus represents the lifecycle of a shared round
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundFull      RoundStatus = "full"
	RoundCompleted RoundStatus = "completed"
)

// Round groups participants racing through the same game. The
// paid-completed counter is the most contested field in the system;
// it only ever moves through the conditional update in the store.
type Round struct {
	ID                   string      `json:"id"`
	GameID               string      `json:"game_id"`
	MaxPlayers           int         `json:"max_players"`
	PaidParticipantCount int         `json:"paid_participant_count"`
	Status               RoundStatus `json:"status"`
	StartedAt            time.Time   `json:"started_at"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
	WinnerParticipantID  string      `json:"winner_participant_id,omitempty"`
}

// RoundFill is the outcome of one increment of the paid-completed
// counter. JustFilled is true exactly once per round.
type RoundFill struct {
	RoundID    string `json:"round_id"`
	Count      int    `json:"count"`
	MaxPlayers int    `json:"max_players"`
	JustFilled bool   `json:"just_filled"`
}

// StandingsEntry is one row of a round's completion ranking,
// ordered by ascending total time
type StandingsEntry struct {
	Rank          int64   `json:"rank"`
	ParticipantID string  `json:"participant_id"`
	TotalTime     float64 `json:"total_time"`
}
