package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/repository"
	"github.com/stemsi/mockdrive-backend/internal/response"
)

const keepAliveInterval = 30 * time.Second

// MonitorFeed streams a drive's live proctoring events.
type MonitorFeed interface {
	SubscribeMonitor(ctx context.Context, driveID uuid.UUID) (<-chan string, func() error, error)
}

var _ MonitorFeed = (*repository.ProctorEventRepository)(nil)

// MonitorHandler relays the drive monitor channel to proctors over SSE.
type MonitorHandler struct {
	feed      MonitorFeed
	keepAlive time.Duration
	log       zerolog.Logger
}

func NewMonitorHandler(feed MonitorFeed, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		feed:      feed,
		keepAlive: keepAliveInterval,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorDriveSSE godoc
// GET /api/v1/admin/drives/:drive_id/monitor
// Forwards every violation and termination in the drive as it happens.
func (h *MonitorHandler) MonitorDriveSSE(c *gin.Context) {
	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()
	events, closeFeed, err := h.feed.SubscribeMonitor(reqCtx, driveID)
	if err != nil {
		h.log.Error().Err(err).Str("drive_id", driveID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	defer closeFeed()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	pingPayload, _ := json.Marshal(map[string]string{"event": "ping"})

	h.log.Info().Str("drive_id", driveID.String()).Msg("Proctor attached to drive monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("drive_id", driveID.String()).Msg("Proctor detached from drive monitor")
			return

		case payload, ok := <-events:
			if !ok {
				return
			}
			// Payloads are already JSON; forward them untouched.
			writeSSE(c, []byte(payload))

		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

func writeSSE(c *gin.Context, data []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
