package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Drive is one company's multi-round assessment drive.
type Drive struct {
	ID          uuid.UUID `json:"id"`
	CompanyName string    `json:"company_name"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoundKind enumerates the kinds of assessment round.
type RoundKind string

const (
	RoundKindChoiceTest    RoundKind = "CHOICE_TEST"
	RoundKindCoding        RoundKind = "CODING"
	RoundKindTechInterview RoundKind = "TECH_INTERVIEW"
	RoundKindHRInterview   RoundKind = "HR_INTERVIEW"
)

// IsInterview reports whether rounds of this kind are driven by the turn engine.
func (k RoundKind) IsInterview() bool {
	return k == RoundKindTechInterview || k == RoundKindHRInterview
}

// Round is an ordered, immutable stage of a drive.
type Round struct {
	ID              uuid.UUID       `json:"id"`
	DriveID         uuid.UUID       `json:"drive_id"`
	RoundNumber     int             `json:"round_number"`
	Kind            RoundKind       `json:"kind"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	Metadata        json.RawMessage `json:"metadata"`
}

// RoundMetadata is the typed view of Round.Metadata.
type RoundMetadata struct {
	Topics         string `json:"topics,omitempty"`
	CompanyContext string `json:"companyContext,omitempty"`
	MaxTurns       int    `json:"maxTurns,omitempty"`
	// MaxQuestions is the older name for MaxTurns.
	MaxQuestions int `json:"maxQuestions,omitempty"`
}

// ParseMetadata decodes the free-form metadata. Unknown or malformed
// metadata yields the zero value.
func (r *Round) ParseMetadata() RoundMetadata {
	var md RoundMetadata
	if len(r.Metadata) == 0 {
		return md
	}
	_ = json.Unmarshal(r.Metadata, &md)
	return md
}
