package model

import (
	"time"

	"github.com/google/uuid"
)

// Sentiment is the oracle's tone tag for a candidate answer.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentNegative Sentiment = "NEGATIVE"
)

// Interaction is one question/answer exchange inside an interview round.
// OrderIndex is 1-based and gapless; only the highest one may be unanswered.
type Interaction struct {
	ID              uuid.UUID  `json:"id"`
	RoundProgressID uuid.UUID  `json:"round_progress_id"`
	OrderIndex      int        `json:"order_index"`
	QuestionText    string     `json:"question_text"`
	AnswerText      *string    `json:"answer_text,omitempty"`
	TurnScore       *float64   `json:"turn_score,omitempty"`
	TurnFeedback    *string    `json:"turn_feedback,omitempty"`
	Sentiment       *Sentiment `json:"sentiment,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Pending reports whether the interaction still awaits an answer.
func (i *Interaction) Pending() bool {
	return i.AnswerText == nil
}

// Difficulty is the configured difficulty band of an interview.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
	DifficultyExpert Difficulty = "Expert"
)

// InterviewTurnRequest is the payload for one interview turn.
type InterviewTurnRequest struct {
	EnrollmentID  string  `json:"enrollment_id" binding:"required,uuid"`
	RoundID       string  `json:"round_id" binding:"required,uuid"`
	AnswerText    *string `json:"answer_text" binding:"omitempty,max=8000"`
	Difficulty    string  `json:"difficulty" binding:"omitempty,difficulty"`
	QuestionIndex *int    `json:"question_index" binding:"omitempty,min=1"`
}
