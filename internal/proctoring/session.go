package proctoring

import (
	"context"
	"image"

	"github.com/stemsi/mockdrive-backend/internal/model"
)

// Callbacks are invoked by a session's escalator.
type Callbacks struct {
	OnViolation     func(model.Violation)
	OnMaxViolations func([]model.Violation)
}

// Session wires both monitors into one escalator for a single proctored
// round attempt.
type Session struct {
	Escalator *Escalator
	Signals   *SignalMonitor
	Presence  *PresenceMonitor
	frames    *LatestFrame
}

// NewSession builds a session. Presence sampling is only created when
// face detection is enabled.
func NewSession(cfg Config, enabled bool, detector PresenceDetector, cb Callbacks) *Session {
	esc := NewEscalator(cfg.MaxWarnings, cb.OnViolation, cb.OnMaxViolations)
	s := &Session{
		Escalator: esc,
		Signals:   NewSignalMonitor(enabled, cfg, esc),
	}
	if enabled && cfg.FaceDetectionEnabled {
		if detector == nil {
			detector = SkinToneDetector{RatioFloor: cfg.SkinRatioFloor}
		}
		s.frames = &LatestFrame{}
		s.Presence = NewPresenceMonitor(s.frames, detector, cfg, esc)
	}
	return s
}

// PushFrame hands a decoded camera frame to the presence monitor.
func (s *Session) PushFrame(img image.Image) {
	if s.frames != nil {
		s.frames.Set(img)
	}
}

// Start launches background sampling.
func (s *Session) Start(ctx context.Context) {
	if s.Presence != nil {
		s.Presence.Start(ctx)
	}
}

// Stop tears down all timers owned by the session.
func (s *Session) Stop() {
	if s.Presence != nil {
		s.Presence.Stop()
	}
}
