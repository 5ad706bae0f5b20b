package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

const progressColumns = `id, enrollment_id, round_id, status, score, aggregate_feedback, started_at, completed_at`

// Transition is the locked view handed to a TransitionFunc. The function
// mutates Enrollment and Progress in place; both are written back when it
// returns nil.
type Transition struct {
	Enrollment *model.Enrollment
	Progress   *model.RoundProgress
	Rounds     []model.Round
	// Others holds the enrollment's other progress rows.
	Others []model.RoundProgress
	// ResetInteractions deletes the interview history of Progress.
	ResetInteractions bool
}

// TransitionFunc applies one state-machine step.
type TransitionFunc func(t *Transition) error

// ProgressRepository handles round progress data access.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

func scanProgress(row pgx.Row) (*model.RoundProgress, error) {
	p := &model.RoundProgress{}
	err := row.Scan(&p.ID, &p.EnrollmentID, &p.RoundID, &p.Status, &p.Score,
		&p.AggregateFeedback, &p.StartedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListByEnrollment returns every progress row of an enrollment.
func (r *ProgressRepository) ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]model.RoundProgress, error) {
	return listProgress(ctx, r.pool, enrollmentID)
}

// GetOrInit returns the progress row for (enrollment, round), creating a
// PENDING row if none exists. Safe under concurrent callers.
func (r *ProgressRepository) GetOrInit(ctx context.Context, enrollmentID, roundID uuid.UUID) (*model.RoundProgress, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO round_progress (enrollment_id, round_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (enrollment_id, round_id) DO NOTHING`,
		enrollmentID, roundID, model.ProgressStatusPending)
	if err != nil {
		return nil, fmt.Errorf("init progress: %w", err)
	}
	return scanProgress(r.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM round_progress WHERE enrollment_id = $1 AND round_id = $2`,
		enrollmentID, roundID))
}

// Transition runs fn inside one transaction holding row locks on the
// enrollment and the (enrollment, round) progress row.
func (r *ProgressRepository) Transition(ctx context.Context, enrollmentID, roundID uuid.UUID, fn TransitionFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock order is always enrollment first, then progress.
	e, err := scanEnrollment(tx.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentID))
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO round_progress (enrollment_id, round_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (enrollment_id, round_id) DO NOTHING`,
		enrollmentID, roundID, model.ProgressStatusPending); err != nil {
		return fmt.Errorf("init progress: %w", err)
	}
	p, err := scanProgress(tx.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM round_progress
		 WHERE enrollment_id = $1 AND round_id = $2 FOR UPDATE`, enrollmentID, roundID))
	if err != nil {
		return fmt.Errorf("lock progress: %w", err)
	}

	rounds, err := listRounds(ctx, tx, e.DriveID)
	if err != nil {
		return fmt.Errorf("list rounds: %w", err)
	}
	all, err := listProgress(ctx, tx, enrollmentID)
	if err != nil {
		return fmt.Errorf("list progress: %w", err)
	}
	others := make([]model.RoundProgress, 0, len(all))
	for _, o := range all {
		if o.ID != p.ID {
			others = append(others, o)
		}
	}

	t := &Transition{Enrollment: e, Progress: p, Rounds: rounds, Others: others}
	if err := fn(t); err != nil {
		return err
	}

	if t.ResetInteractions {
		if _, err := tx.Exec(ctx,
			`DELETE FROM interview_interactions WHERE round_progress_id = $1`, p.ID); err != nil {
			return fmt.Errorf("reset interactions: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE round_progress
		 SET status = $1, score = $2, aggregate_feedback = $3, started_at = $4, completed_at = $5
		 WHERE id = $6`,
		p.Status, p.Score, p.AggregateFeedback, p.StartedAt, p.CompletedAt, p.ID); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE enrollments
		 SET overall_status = $1, current_round_number = $2, overall_score = $3, updated_at = NOW()
		 WHERE id = $4`,
		e.OverallStatus, e.CurrentRoundNumber, e.OverallScore, e.ID); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}

	return tx.Commit(ctx)
}

func listProgress(ctx context.Context, q querier, enrollmentID uuid.UUID) ([]model.RoundProgress, error) {
	rows, err := q.Query(ctx,
		`SELECT `+progressColumns+` FROM round_progress WHERE enrollment_id = $1`, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RoundProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
