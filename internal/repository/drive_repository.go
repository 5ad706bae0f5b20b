package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

// roundCacheTTL bounds how long an edited round can stay stale in Redis.
const roundCacheTTL = 10 * time.Minute

// DriveRepository handles drive and round data access. Rounds are immutable
// while a drive is running, so they are read through a Redis cache.
type DriveRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewDriveRepository creates a new DriveRepository.
func NewDriveRepository(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *DriveRepository {
	return &DriveRepository{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "drive_repository").Logger(),
	}
}

// GetDrive retrieves a drive by ID.
func (r *DriveRepository) GetDrive(ctx context.Context, id uuid.UUID) (*model.Drive, error) {
	d := &model.Drive{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, company_name, title, created_at FROM drives WHERE id = $1`, id,
	).Scan(&d.ID, &d.CompanyName, &d.Title, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListRounds returns a drive's rounds ordered by round number.
func (r *DriveRepository) ListRounds(ctx context.Context, driveID uuid.UUID) ([]model.Round, error) {
	key := config.CacheKey.DriveRoundsKey(driveID.String())
	if data, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var rounds []model.Round
		if err := json.Unmarshal(data, &rounds); err == nil {
			return rounds, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn().Err(err).Str("drive_id", driveID.String()).Msg("Round cache read failed, falling back to database")
	}

	rounds, err := listRounds(ctx, r.pool, driveID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rounds); err == nil {
		if err := r.rdb.Set(ctx, key, data, roundCacheTTL).Err(); err != nil {
			r.log.Warn().Err(err).Msg("Failed to cache rounds")
		}
	}
	return rounds, nil
}

// GetRound retrieves one round, preferring the cache.
func (r *DriveRepository) GetRound(ctx context.Context, id uuid.UUID) (*model.Round, error) {
	key := config.CacheKey.RoundKey(id.String())
	if data, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var round model.Round
		if err := json.Unmarshal(data, &round); err == nil {
			return &round, nil
		}
	}

	round := &model.Round{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, drive_id, round_number, kind, title, duration_minutes, metadata
		 FROM rounds WHERE id = $1`, id,
	).Scan(&round.ID, &round.DriveID, &round.RoundNumber, &round.Kind, &round.Title, &round.DurationMinutes, &round.Metadata)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(round); err == nil {
		_ = r.rdb.Set(ctx, key, data, roundCacheTTL).Err()
	}
	return round, nil
}

// InvalidateRounds drops cached rounds for a drive.
func (r *DriveRepository) InvalidateRounds(ctx context.Context, driveID uuid.UUID, roundIDs ...uuid.UUID) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.DriveRoundsKey(driveID.String()))
	for _, id := range roundIDs {
		pipe.Del(ctx, config.CacheKey.RoundKey(id.String()))
	}
	_, err := pipe.Exec(ctx)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listRounds(ctx context.Context, q querier, driveID uuid.UUID) ([]model.Round, error) {
	rows, err := q.Query(ctx,
		`SELECT id, drive_id, round_number, kind, title, duration_minutes, metadata
		 FROM rounds
		 WHERE drive_id = $1
		 ORDER BY round_number ASC`, driveID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var rd model.Round
		if err := rows.Scan(&rd.ID, &rd.DriveID, &rd.RoundNumber, &rd.Kind, &rd.Title, &rd.DurationMinutes, &rd.Metadata); err != nil {
			return nil, err
		}
		rounds = append(rounds, rd)
	}
	return rounds, rows.Err()
}
