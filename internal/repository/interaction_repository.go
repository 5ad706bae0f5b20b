package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

// InteractionRepository handles interview interaction data access.
type InteractionRepository struct {
	pool *pgxpool.Pool
}

// NewInteractionRepository creates a new InteractionRepository.
func NewInteractionRepository(pool *pgxpool.Pool) *InteractionRepository {
	return &InteractionRepository{pool: pool}
}

// List returns a progress row's interactions ordered by order_index.
func (r *InteractionRepository) List(ctx context.Context, progressID uuid.UUID) ([]model.Interaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, round_progress_id, order_index, question_text, answer_text,
		        turn_score, turn_feedback, sentiment, created_at
		 FROM interview_interactions
		 WHERE round_progress_id = $1
		 ORDER BY order_index ASC`, progressID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Interaction
	for rows.Next() {
		var it model.Interaction
		if err := rows.Scan(&it.ID, &it.RoundProgressID, &it.OrderIndex, &it.QuestionText, &it.AnswerText,
			&it.TurnScore, &it.TurnFeedback, &it.Sentiment, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Create inserts a new pending interaction. It returns ErrDuplicate when
// the order index is taken or another interaction is still pending.
func (r *InteractionRepository) Create(ctx context.Context, it *model.Interaction) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO interview_interactions (round_progress_id, order_index, question_text)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		it.RoundProgressID, it.OrderIndex, it.QuestionText,
	).Scan(&it.ID, &it.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Claim records answer on a pending interaction. It returns false when the
// interaction was already answered by another request.
func (r *InteractionRepository) Claim(ctx context.Context, id uuid.UUID, answer string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE interview_interactions
		 SET answer_text = $1
		 WHERE id = $2 AND answer_text IS NULL`, answer, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Score stores the oracle's assessment on a claimed interaction.
func (r *InteractionRepository) Score(ctx context.Context, id uuid.UUID, score float64, feedback string, sentiment model.Sentiment) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE interview_interactions
		 SET turn_score = $1, turn_feedback = $2, sentiment = $3
		 WHERE id = $4`, score, feedback, sentiment, id)
	return err
}
