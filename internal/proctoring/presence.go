package proctoring

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/stemsi/mockdrive-backend/internal/model"
)

// Sampling buffer size. Frames of any size are scaled to this before
// classification.
const (
	SampleWidth  = 320
	SampleHeight = 240
)

// PresenceDetector decides whether a candidate is likely in frame. Any
// stronger detector can replace SkinToneDetector without touching escalation.
type PresenceDetector interface {
	Present(frame image.Image) bool
}

// FrameSource yields the most recent camera frame and when it was captured.
type FrameSource interface {
	Frame() (image.Image, time.Time, bool)
}

// SkinToneDetector is a cheap chrominance heuristic: a frame is "present"
// when the share of skin-toned pixels exceeds RatioFloor.
type SkinToneDetector struct {
	RatioFloor float64
}

// Present implements PresenceDetector.
func (d SkinToneDetector) Present(frame image.Image) bool {
	return SkinRatio(frame) > d.RatioFloor
}

// SkinRatio scales frame into the sampling buffer and returns the fraction
// of pixels classified as skin.
func SkinRatio(frame image.Image) float64 {
	if frame == nil {
		return 0
	}
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return 0
	}

	skin := 0
	for y := 0; y < SampleHeight; y++ {
		sy := b.Min.Y + y*b.Dy()/SampleHeight
		for x := 0; x < SampleWidth; x++ {
			sx := b.Min.X + x*b.Dx()/SampleWidth
			r, g, bl, _ := frame.At(sx, sy).RGBA()
			if isSkin(float64(r>>8), float64(g>>8), float64(bl>>8)) {
				skin++
			}
		}
	}
	return float64(skin) / float64(SampleWidth*SampleHeight)
}

func isSkin(r, g, b float64) bool {
	cb := -0.169*r - 0.331*g + 0.500*b + 128
	cr := 0.500*r - 0.419*g - 0.081*b + 128
	if cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173 {
		return true
	}

	// RGB fallback for tones the chrominance window misses.
	hi := max(r, g, b)
	lo := min(r, g, b)
	diff := r - g
	if diff < 0 {
		diff = -diff
	}
	return r > 60 && g > 40 && b > 20 &&
		hi-lo > 10 &&
		diff > 10 &&
		r > g && r > b
}

// LatestFrame is a FrameSource holding the last frame pushed by the client.
type LatestFrame struct {
	mu    sync.RWMutex
	frame image.Image
	at    time.Time
	now   func() time.Time
}

// Set replaces the current frame, stamping it with the arrival time.
func (f *LatestFrame) Set(img image.Image) {
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	f.mu.Lock()
	f.frame = img
	f.at = now()
	f.mu.Unlock()
}

// Frame implements FrameSource.
func (f *LatestFrame) Frame() (image.Image, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frame, f.at, f.frame != nil
}

// clock abstracts time for the away timer.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) stopper
}

type stopper interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }

// PresenceMonitor samples a FrameSource at a fixed interval and emits one
// look_away violation per absence episode that lasts at least the threshold.
// A missing frame, or one older than two sample intervals, counts as absence.
type PresenceMonitor struct {
	source    FrameSource
	detector  PresenceDetector
	sink      Sink
	interval  time.Duration
	threshold time.Duration
	maxAge    time.Duration
	clock     clock

	mu       sync.Mutex
	lastSeen time.Time
	away     stopper
	gen      uint64
	fired    bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPresenceMonitor creates a monitor. It does nothing until Start.
func NewPresenceMonitor(source FrameSource, detector PresenceDetector, cfg Config, sink Sink) *PresenceMonitor {
	return &PresenceMonitor{
		source:    source,
		detector:  detector,
		sink:      sink,
		interval:  cfg.SampleInterval,
		threshold: cfg.FaceAwayThreshold,
		maxAge:    2 * cfg.SampleInterval,
		clock:     realClock{},
		lastSeen:  time.Now(),
	}
}

// Start begins periodic sampling until ctx is cancelled or Stop is called.
func (m *PresenceMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil || m.stopped {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastSeen = m.clock.Now()
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop cancels the sampler and any armed away timer. It is safe to call
// more than once.
func (m *PresenceMonitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.disarm()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Sample takes one frame and updates the absence state machine.
func (m *PresenceMonitor) Sample() {
	frame, at, ok := m.source.Frame()
	if !ok || m.clock.Now().Sub(at) > m.maxAge {
		m.observe(false)
		return
	}
	m.observe(m.detector.Present(frame))
}

func (m *PresenceMonitor) observe(present bool) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	if present {
		m.lastSeen = now
		m.disarm()
		m.fired = false
		return
	}

	if m.away != nil || m.fired {
		return
	}
	delay := m.threshold - now.Sub(m.lastSeen)
	if delay < 0 {
		delay = 0
	}
	m.gen++
	gen := m.gen
	m.away = m.clock.AfterFunc(delay, func() { m.fire(gen) })
}

func (m *PresenceMonitor) fire(gen uint64) {
	m.mu.Lock()
	if m.stopped || m.away == nil || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.away = nil
	m.fired = true
	awayFor := m.clock.Now().Sub(m.lastSeen)
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.Record(model.Violation{
			Type:      model.ViolationLookAway,
			Timestamp: m.clock.Now().UnixMilli(),
			Metadata: map[string]any{
				"duration":  awayFor.Seconds(),
				"threshold": m.threshold.Seconds(),
				"reason":    "Face not detected for " + m.threshold.String(),
			},
		})
	}
}

// disarm must be called with mu held.
func (m *PresenceMonitor) disarm() {
	if m.away != nil {
		m.away.Stop()
		m.away = nil
	}
	m.gen++
}
