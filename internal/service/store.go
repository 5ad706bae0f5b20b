package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/repository"
)

// RoundStore reads drives and their immutable rounds.
type RoundStore interface {
	GetDrive(ctx context.Context, id uuid.UUID) (*model.Drive, error)
	ListRounds(ctx context.Context, driveID uuid.UUID) ([]model.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (*model.Round, error)
}

// EnrollmentStore persists enrollments.
type EnrollmentStore interface {
	GetOrCreate(ctx context.Context, userID int, drive *model.Drive) (*model.Enrollment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Enrollment, error)
	GetByUserAndDrive(ctx context.Context, userID int, driveID uuid.UUID) (*model.Enrollment, error)
}

// ProgressStore persists round progress. Transition must run fn under row
// locks on the enrollment and the (enrollment, round) progress row.
type ProgressStore interface {
	ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]model.RoundProgress, error)
	GetOrInit(ctx context.Context, enrollmentID, roundID uuid.UUID) (*model.RoundProgress, error)
	Transition(ctx context.Context, enrollmentID, roundID uuid.UUID, fn repository.TransitionFunc) error
}

// InteractionStore persists interview turns. Claim is a compare-and-set on
// the unanswered state.
type InteractionStore interface {
	List(ctx context.Context, progressID uuid.UUID) ([]model.Interaction, error)
	Create(ctx context.Context, it *model.Interaction) error
	Claim(ctx context.Context, id uuid.UUID, answer string) (bool, error)
	Score(ctx context.Context, id uuid.UUID, score float64, feedback string, sentiment model.Sentiment) error
}

var (
	_ RoundStore       = (*repository.DriveRepository)(nil)
	_ EnrollmentStore  = (*repository.EnrollmentRepository)(nil)
	_ ProgressStore    = (*repository.ProgressRepository)(nil)
	_ InteractionStore = (*repository.InteractionRepository)(nil)
)
