package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

const enrollmentColumns = `id, drive_id, user_id, subject_name, overall_status, current_round_number, overall_score, created_at, updated_at`

// EnrollmentRepository handles enrollment data access.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	e := &model.Enrollment{}
	err := row.Scan(&e.ID, &e.DriveID, &e.UserID, &e.SubjectName, &e.OverallStatus,
		&e.CurrentRoundNumber, &e.OverallScore, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetOrCreate returns the user's enrollment in drive, creating it on first use.
func (r *EnrollmentRepository) GetOrCreate(ctx context.Context, userID int, drive *model.Drive) (*model.Enrollment, error) {
	e, err := scanEnrollment(r.pool.QueryRow(ctx,
		`INSERT INTO enrollments (drive_id, user_id, subject_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, drive_id) DO NOTHING
		 RETURNING `+enrollmentColumns,
		drive.ID, userID, drive.CompanyName,
	))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Already enrolled (or a concurrent enroll won the insert).
	return r.GetByUserAndDrive(ctx, userID, drive.ID)
}

// GetByID retrieves an enrollment by ID.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Enrollment, error) {
	return scanEnrollment(r.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id))
}

// GetByUserAndDrive retrieves a user's enrollment in a drive.
func (r *EnrollmentRepository) GetByUserAndDrive(ctx context.Context, userID int, driveID uuid.UUID) (*model.Enrollment, error) {
	return scanEnrollment(r.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id = $1 AND drive_id = $2`, userID, driveID))
}
