package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

// ViolationRecord is one persisted proctoring violation.
type ViolationRecord struct {
	EnrollmentID uuid.UUID           `json:"enrollment_id"`
	RoundID      uuid.UUID           `json:"round_id"`
	Type         model.ViolationType `json:"type"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// ViolationRepository provides read access to the proctoring audit trail.
// Writes go through the violation worker.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CountsByEnrollment returns per-round, per-type violation counts.
func (r *ViolationRepository) CountsByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]model.ViolationCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT round_id::text, type, COUNT(*)
		 FROM proctoring_violations
		 WHERE enrollment_id = $1
		 GROUP BY round_id, type
		 ORDER BY round_id, type`,
		enrollmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []model.ViolationCount
	for rows.Next() {
		var c model.ViolationCount
		if err := rows.Scan(&c.RoundID, &c.Type, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ListByEnrollment returns the most recent violations of an enrollment.
func (r *ViolationRepository) ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID, limit int) ([]ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT enrollment_id, round_id, type, metadata, occurred_at
		 FROM proctoring_violations
		 WHERE enrollment_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		enrollmentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ViolationRecord
	for rows.Next() {
		var v ViolationRecord
		if err := rows.Scan(&v.EnrollmentID, &v.RoundID, &v.Type, &v.Metadata, &v.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
