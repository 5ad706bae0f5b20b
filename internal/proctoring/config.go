package proctoring

import "time"

// Config tunes one proctored session.
type Config struct {
	MaxWarnings           int
	FaceDetectionEnabled  bool
	FaceAwayThreshold     time.Duration
	DebounceFloor         time.Duration
	ClipboardDedupeWindow time.Duration
	SampleInterval        time.Duration
	SkinRatioFloor        float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxWarnings:           3,
		FaceDetectionEnabled:  true,
		FaceAwayThreshold:     5 * time.Second,
		DebounceFloor:         100 * time.Millisecond,
		ClipboardDedupeWindow: 500 * time.Millisecond,
		SampleInterval:        500 * time.Millisecond,
		SkinRatioFloor:        0.04,
	}
}
