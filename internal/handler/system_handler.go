package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const healthTimeout = 3 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// QueueDepth reports the violation backlog.
type QueueDepth func(ctx context.Context) (int64, error)

// SystemHandler reports liveness of the server and its dependencies.
type SystemHandler struct {
	checks    map[string]HealthCheck
	queue     QueueDepth
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(checks map[string]HealthCheck, queue QueueDepth, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		queue:     queue,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	Checks         map[string]string `json:"checks"`
	QueueViolation int64             `json:"queue_violations"`
	Goroutines     int               `json:"goroutines"`
	GoVersion      string            `json:"go_version"`
}

// Health godoc
// GET /health
// Returns 200 when every dependency answers, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Checks:     make(map[string]string, len(h.checks)),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
				h.log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			}
			mu.Lock()
			report.Checks[name] = status
			if status != "ok" {
				report.Status = "degraded"
			}
			mu.Unlock()
		}(name, h.checks[name])
	}
	wg.Wait()

	if h.queue != nil {
		report.QueueViolation, _ = h.queue(ctx)
	}

	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
