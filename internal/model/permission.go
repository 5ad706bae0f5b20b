package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionViolationsRead allows viewing an enrollment's proctoring audit trail.
	PermissionViolationsRead Permission = "violations:read"

	// PermissionRoundsBypass allows forcing a round to COMPLETED outside the
	// normal progression rules. It is also gated by the bypass key.
	PermissionRoundsBypass Permission = "rounds:bypass"

	// PermissionDrivesMonitor allows watching a drive's live proctoring feed.
	PermissionDrivesMonitor Permission = "drives:monitor"
)

// BypassRequest optionally carries the bypass key in the body. The
// X-Bypass-Key header takes precedence.
type BypassRequest struct {
	Key string `json:"key" binding:"omitempty,max=256"`
}
