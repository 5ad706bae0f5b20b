package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

// ProctorEventRepository pushes live proctoring events into Redis: the
// persistence queue drained by the violation worker and the drive monitor
// PubSub channel.
type ProctorEventRepository struct {
	rdb *redis.Client
}

// NewProctorEventRepository creates a new ProctorEventRepository.
func NewProctorEventRepository(rdb *redis.Client) *ProctorEventRepository {
	return &ProctorEventRepository{rdb: rdb}
}

// QueueViolation appends ev to the persistence queue.
func (r *ProctorEventRepository) QueueViolation(ctx context.Context, ev model.ViolationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}

// PublishMonitor broadcasts ev to everyone subscribed to the drive's monitor.
func (r *ProctorEventRepository) PublishMonitor(ctx context.Context, driveID uuid.UUID, ev model.MonitorEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.DriveMonitorChannel(driveID.String()), data).Err()
}

// MarkLive records that a proctoring stream is open for the pair. It
// returns false when another stream already holds the marker.
func (r *ProctorEventRepository) MarkLive(ctx context.Context, enrollmentID, roundID uuid.UUID, ttl time.Duration) (bool, error) {
	key := config.CacheKey.ProctorSessionKey(enrollmentID.String(), roundID.String())
	return r.rdb.SetNX(ctx, key, 1, ttl).Result()
}

// ClearLive removes the live-stream marker.
func (r *ProctorEventRepository) ClearLive(ctx context.Context, enrollmentID, roundID uuid.UUID) error {
	key := config.CacheKey.ProctorSessionKey(enrollmentID.String(), roundID.String())
	return r.rdb.Del(ctx, key).Err()
}

// SubscribeMonitor streams raw monitor payloads for a drive until ctx is
// done or the returned close func is called.
func (r *ProctorEventRepository) SubscribeMonitor(ctx context.Context, driveID uuid.UUID) (<-chan string, func() error, error) {
	pubsub := r.rdb.Subscribe(ctx, config.CacheKey.DriveMonitorChannel(driveID.String()))
	// Wait for the subscription confirmation so events published right
	// after this call are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe monitor: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close, nil
}

// QueueDepth reports how many violations await persistence.
func (r *ProctorEventRepository) QueueDepth(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, config.WorkerKey.PersistViolationsQueue).Result()
}
