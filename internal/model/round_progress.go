package model

import (
	"time"

	"github.com/google/uuid"
)

// ProgressStatus enumerates the runtime state of one (enrollment, round) pair.
type ProgressStatus string

const (
	ProgressStatusPending    ProgressStatus = "PENDING"
	ProgressStatusInProgress ProgressStatus = "IN_PROGRESS"
	ProgressStatusCompleted  ProgressStatus = "COMPLETED"
	ProgressStatusFailed     ProgressStatus = "FAILED"
)

// IsTerminal reports whether the status is COMPLETED or FAILED.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressStatusCompleted || s == ProgressStatusFailed
}

// RoundProgress is the mutable state of one candidate's attempt at one round.
// At most one row exists per (EnrollmentID, RoundID).
type RoundProgress struct {
	ID                uuid.UUID      `json:"id"`
	EnrollmentID      uuid.UUID      `json:"enrollment_id"`
	RoundID           uuid.UUID      `json:"round_id"`
	Status            ProgressStatus `json:"status"`
	Score             *float64       `json:"score,omitempty"`
	AggregateFeedback *string        `json:"aggregate_feedback,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// SubmitRoundRequest is the payload for finishing a choice-test or coding round.
type SubmitRoundRequest struct {
	Correct int `json:"correct" binding:"min=0"`
	Total   int `json:"total" binding:"required,min=1,gtefield=Correct"`
}
