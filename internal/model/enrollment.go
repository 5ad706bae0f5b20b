package model

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus enumerates the overall state of a candidate's drive attempt.
type EnrollmentStatus string

const (
	EnrollmentStatusActive EnrollmentStatus = "ACTIVE"
	EnrollmentStatusPassed EnrollmentStatus = "PASSED"
	EnrollmentStatusFailed EnrollmentStatus = "FAILED"
)

// Enrollment is one candidate's attempt at one drive.
type Enrollment struct {
	ID                 uuid.UUID        `json:"id"`
	DriveID            uuid.UUID        `json:"drive_id"`
	UserID             int              `json:"user_id"`
	SubjectName        string           `json:"subject_name"`
	OverallStatus      EnrollmentStatus `json:"overall_status"`
	CurrentRoundNumber int              `json:"current_round_number"`
	OverallScore       float64          `json:"overall_score"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}
