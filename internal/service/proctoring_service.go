package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/proctoring"
	"github.com/stemsi/mockdrive-backend/internal/repository"
)

// ErrProctorStreamActive is returned when a second stream is opened for a
// round that already has one.
var ErrProctorStreamActive = errors.New("a proctoring stream is already open for this round")

// TerminationReason is written into the aggregate feedback of a round
// failed by the escalator.
const TerminationReason = "Terminated: maximum proctoring violations reached"

const (
	callbackTimeout = 5 * time.Second
	liveMarkerTTL   = 4 * time.Hour
	alertBuffer     = 8
)

// ProctorEventStore carries live events out of a session.
type ProctorEventStore interface {
	QueueViolation(ctx context.Context, ev model.ViolationEvent) error
	PublishMonitor(ctx context.Context, driveID uuid.UUID, ev model.MonitorEvent) error
	MarkLive(ctx context.Context, enrollmentID, roundID uuid.UUID, ttl time.Duration) (bool, error)
	ClearLive(ctx context.Context, enrollmentID, roundID uuid.UUID) error
}

// ViolationReader reads the persisted audit trail.
type ViolationReader interface {
	CountsByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]model.ViolationCount, error)
	ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID, limit int) ([]repository.ViolationRecord, error)
}

var (
	_ ProctorEventStore = (*repository.ProctorEventRepository)(nil)
	_ ViolationReader   = (*repository.ViolationRepository)(nil)
)

// ViolationReport is the admin view of an enrollment's violations.
type ViolationReport struct {
	Counts []model.ViolationCount        `json:"counts"`
	Recent []repository.ViolationRecord `json:"recent"`
}

// ProctoringService opens proctored sessions and routes their callbacks
// into persistence, live monitoring and the progression state machine.
type ProctoringService struct {
	progression *ProgressionService
	events      ProctorEventStore
	violations  ViolationReader
	cfg         proctoring.Config
	detector    proctoring.PresenceDetector
	log         zerolog.Logger
}

// NewProctoringService creates a new ProctoringService. A nil detector uses
// the skin-tone heuristic.
func NewProctoringService(
	progression *ProgressionService,
	events ProctorEventStore,
	violations ViolationReader,
	cfg proctoring.Config,
	detector proctoring.PresenceDetector,
	log zerolog.Logger,
) *ProctoringService {
	return &ProctoringService{
		progression: progression,
		events:      events,
		violations:  violations,
		cfg:         cfg,
		detector:    detector,
		log:         log.With().Str("component", "proctoring_service").Logger(),
	}
}

// ProctorSession is one live proctored attempt at a round.
type ProctorSession struct {
	*proctoring.Session
	Enrollment model.Enrollment
	Round      model.Round

	terminated chan []model.Violation
	alerts     chan model.Violation
	closeOnce  sync.Once
	release    func()
}

// Terminated delivers the violation log once the escalator has fired.
func (ps *ProctorSession) Terminated() <-chan []model.Violation {
	return ps.terminated
}

// Alerts delivers accepted violations as they happen. Delivery is best
// effort; a slow reader misses alerts but never blocks the escalator.
func (ps *ProctorSession) Alerts() <-chan model.Violation {
	return ps.alerts
}

// Close stops the monitors and releases the live marker. Safe to call twice.
func (ps *ProctorSession) Close() {
	ps.closeOnce.Do(func() {
		ps.Session.Stop()
		if ps.release != nil {
			ps.release()
		}
	})
}

// Open starts a session for a round the candidate is currently taking.
func (s *ProctoringService) Open(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID) (*ProctorSession, error) {
	ra, err := s.progression.CheckAccess(ctx, userID, enrollmentID, roundID)
	if err != nil {
		return nil, err
	}
	switch {
	case ra.Access == AccessLocked:
		return nil, ErrRoundLocked
	case ra.Access == AccessReadOnly:
		return nil, ErrRoundReadOnly
	case ra.Progress == nil || ra.Progress.Status != model.ProgressStatusInProgress:
		return nil, ErrRoundNotStarted
	}

	ok, err := s.events.MarkLive(ctx, enrollmentID, roundID, liveMarkerTTL)
	if err != nil {
		return nil, fmt.Errorf("mark proctor stream: %w", err)
	}
	if !ok {
		return nil, ErrProctorStreamActive
	}

	ps := &ProctorSession{
		Enrollment: *ra.Enrollment,
		Round:      *ra.Round,
		terminated: make(chan []model.Violation, 1),
		alerts:     make(chan model.Violation, alertBuffer),
	}
	ps.release = func() {
		cctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		if err := s.events.ClearLive(cctx, enrollmentID, roundID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to clear proctor stream marker")
		}
	}

	log := s.log.With().
		Int("user_id", ps.Enrollment.UserID).
		Str("enrollment_id", enrollmentID.String()).
		Str("round_id", roundID.String()).
		Logger()

	ps.Session = proctoring.NewSession(s.cfg, true, s.detector, proctoring.Callbacks{
		OnViolation: func(v model.Violation) {
			s.onViolation(ps, v, log)
		},
		OnMaxViolations: func(all []model.Violation) {
			s.onMaxViolations(ps, all, log)
		},
	})

	log.Info().Msg("Proctoring session opened")
	return ps, nil
}

func (s *ProctoringService) onViolation(ps *ProctorSession, v model.Violation, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	log.Warn().
		Str("type", string(v.Type)).
		Int("count", ps.Escalator.Count()).
		Msg("Proctoring violation")

	err := s.events.QueueViolation(ctx, model.ViolationEvent{
		EnrollmentID: ps.Enrollment.ID.String(),
		RoundID:      ps.Round.ID.String(),
		UserID:       ps.Enrollment.UserID,
		Type:         v.Type,
		Timestamp:    v.Timestamp,
		Metadata:     v.Metadata,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to queue violation")
	}

	vv := v
	s.publish(ctx, ps, model.MonitorEvent{
		Event:     model.MonitorEventViolation,
		Violation: &vv,
		Count:     ps.Escalator.Count(),
	}, log)

	select {
	case ps.alerts <- v:
	default:
	}
}

func (s *ProctoringService) onMaxViolations(ps *ProctorSession, all []model.Violation, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	feedback := mustJSON(map[string]any{
		"reason":     TerminationReason,
		"violations": all,
	})
	out, err := s.progression.Fail(ctx, ps.Enrollment.ID, ps.Round.ID, nil, &feedback)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fail round after max violations")
	} else {
		log.Warn().
			Int("violations", len(all)).
			Str("overall_status", string(out.Enrollment.OverallStatus)).
			Msg("Round terminated by proctoring")
	}

	s.publish(ctx, ps, model.MonitorEvent{
		Event: model.MonitorEventTerminated,
		Count: len(all),
	}, log)

	select {
	case ps.terminated <- all:
	default:
	}
}

func (s *ProctoringService) publish(ctx context.Context, ps *ProctorSession, ev model.MonitorEvent, log zerolog.Logger) {
	ev.EnrollmentID = ps.Enrollment.ID.String()
	ev.RoundID = ps.Round.ID.String()
	ev.UserID = ps.Enrollment.UserID
	ev.MaxWarnings = ps.Escalator.MaxWarnings()
	if err := s.events.PublishMonitor(ctx, ps.Round.DriveID, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Event)).Msg("Failed to publish monitor event")
	}
}

// Violations returns per-type counts and the most recent records.
func (s *ProctoringService) Violations(ctx context.Context, enrollmentID uuid.UUID, limit int) (*ViolationReport, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var (
		report          ViolationReport
		countErr, lsErr error
		wg              sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Counts, countErr = s.violations.CountsByEnrollment(ctx, enrollmentID)
	}()
	go func() {
		defer wg.Done()
		report.Recent, lsErr = s.violations.ListByEnrollment(ctx, enrollmentID, limit)
	}()
	wg.Wait()

	if countErr != nil {
		return nil, fmt.Errorf("count violations: %w", countErr)
	}
	if lsErr != nil {
		return nil, fmt.Errorf("list violations: %w", lsErr)
	}
	if report.Counts == nil {
		report.Counts = []model.ViolationCount{}
	}
	if report.Recent == nil {
		report.Recent = []repository.ViolationRecord{}
	}
	return &report, nil
}
