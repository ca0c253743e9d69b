package domain

import "time"

// Game holds the per-game quiz configuration
type Game struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	QuestionCount int           `json:"question_count"`
	FreeQuestions int           `json:"free_questions"`
	AnswerTimeout time.Duration `json:"answer_timeout"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Question represents one multiple-choice question. Owned by the
// question bank; the engine reads it and only the async audit path
// touches the usage counters.
type Question struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	Text          string    `json:"text"`
	Options       [3]string `json:"options"`
	CorrectAnswer int       `json:"-"`
	Difficulty    string    `json:"difficulty,omitempty"`
	Category      string    `json:"category,omitempty"`
	Active        bool      `json:"-"`
	TimesServed   int64     `json:"-"`
	TimesCorrect  int64     `json:"-"`
}
