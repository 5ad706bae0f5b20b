package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

var violationColumns = []string{"enrollment_id", "round_id", "user_id", "type", "metadata", "occurred_at"}

// ViolationWorker drains the violation queue into proctoring_violations.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]*model.ViolationEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop returns immediately if data exists, otherwise after PollTimeout.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		ev, err := decodeViolation(result[1])
		if err != nil {
			// Malformed payloads can never succeed; drop them.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation")
			continue
		}
		buffer = append(buffer, ev)
	}
}

// decodeViolation parses and validates one queued payload.
func decodeViolation(raw string) (*model.ViolationEvent, error) {
	var ev model.ViolationEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(ev.EnrollmentID); err != nil {
		return nil, fmt.Errorf("enrollment_id: %w", err)
	}
	if _, err := uuid.Parse(ev.RoundID); err != nil {
		return nil, fmt.Errorf("round_id: %w", err)
	}
	if ev.Type == "" {
		return nil, errors.New("missing type")
	}
	return &ev, nil
}

// violationRow maps an event onto violationColumns.
func violationRow(ev *model.ViolationEvent) ([]any, error) {
	enrollmentID, err := uuid.Parse(ev.EnrollmentID)
	if err != nil {
		return nil, err
	}
	roundID, err := uuid.Parse(ev.RoundID)
	if err != nil {
		return nil, err
	}
	md := ev.Metadata
	if md == nil {
		md = map[string]any{}
	}
	occurred := time.UnixMilli(ev.Timestamp)
	if ev.Timestamp <= 0 {
		occurred = time.Now()
	}
	return []any{enrollmentID, roundID, ev.UserID, string(ev.Type), md, occurred}, nil
}

// flushSafe attempts a bulk copy, then row-by-row insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*model.ViolationEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*model.ViolationEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, ev := range batch {
		row, err := violationRow(ev)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"proctoring_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*model.ViolationEvent) {
	var requeue []*model.ViolationEvent

	for _, ev := range batch {
		row, err := violationRow(ev)
		if err != nil {
			w.log.Error().Str("enrollment_id", ev.EnrollmentID).Msg("Dropping violation with invalid ids")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO proctoring_violations (enrollment_id, round_id, user_id, type, metadata, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			row...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("enrollment_id", ev.EnrollmentID).Msg("Insert failed, requeueing")
			requeue = append(requeue, ev)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []*model.ViolationEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations")
	// Back off so a dead database is not hammered.
	time.Sleep(2 * time.Second)
}

func (w *ViolationWorker) shutdown(buffer []*model.ViolationEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
}
