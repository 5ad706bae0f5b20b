package model

// ViolationType enumerates normalized proctoring signals.
type ViolationType string

const (
	ViolationFullscreenExit   ViolationType = "fullscreen_exit"
	ViolationTabSwitch        ViolationType = "tab_switch"
	ViolationWindowBlur       ViolationType = "window_blur"
	ViolationLookAway         ViolationType = "look_away"
	ViolationCopyPaste        ViolationType = "copy_paste"
	ViolationRightClick       ViolationType = "right_click"
	ViolationKeyboardShortcut ViolationType = "keyboard_shortcut"
)

// Violation is one normalized proctoring signal. Timestamp is in
// milliseconds since the Unix epoch.
type Violation struct {
	Type      ViolationType  `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ViolationCount is an aggregated per-type count for one enrollment.
type ViolationCount struct {
	RoundID string        `json:"round_id"`
	Type    ViolationType `json:"type"`
	Count   int64         `json:"count"`
}

// ViolationEvent is the queued form of a violation, persisted by the
// violation worker.
type ViolationEvent struct {
	EnrollmentID string         `json:"enrollment_id"`
	RoundID      string         `json:"round_id"`
	UserID       int            `json:"user_id"`
	Type         ViolationType  `json:"type"`
	Timestamp    int64          `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MonitorEventKind enumerates messages published on a drive's monitor channel.
type MonitorEventKind string

const (
	MonitorEventViolation  MonitorEventKind = "violation"
	MonitorEventTerminated MonitorEventKind = "terminated"
)

// MonitorEvent is published to proctors watching a drive live.
type MonitorEvent struct {
	Event        MonitorEventKind `json:"event"`
	EnrollmentID string           `json:"enrollment_id"`
	RoundID      string           `json:"round_id"`
	UserID       int              `json:"user_id"`
	Violation    *Violation       `json:"violation,omitempty"`
	Count        int              `json:"count"`
	MaxWarnings  int              `json:"max_warnings"`
}
