package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrPermissionDenied    ErrCode = "PERMISSION_DENIED"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrAdminAccessOnly     ErrCode = "ADMIN_ACCESS_ONLY"
	ErrBypassUnauthorized  ErrCode = "BYPASS_UNAUTHORIZED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Drive-specific ────────────────────────────────────────────────
	ErrRoundLocked        ErrCode = "ROUND_LOCKED"
	ErrRoundReadOnly      ErrCode = "ROUND_READ_ONLY"
	ErrRoundNotInDrive    ErrCode = "ROUND_NOT_IN_DRIVE"
	ErrWrongRoundKind     ErrCode = "WRONG_ROUND_KIND"
	ErrRoundNotStarted    ErrCode = "ROUND_NOT_STARTED"
	ErrInvalidTurnState   ErrCode = "INVALID_TURN_STATE"
	ErrEnrollmentInactive ErrCode = "ENROLLMENT_INACTIVE"
	ErrStreamActive       ErrCode = "PROCTOR_STREAM_ACTIVE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrPermissionDenied:
		return "Permission denied."
	case ErrCandidateAccessOnly:
		return "This resource is limited to candidates."
	case ErrAdminAccessOnly:
		return "This resource is limited to administrators."
	case ErrBypassUnauthorized:
		return "Round bypass was not authorized."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Drive-specific ────────────────────────────────────────────────
	case ErrRoundLocked:
		return "This round is locked until the previous round is completed."
	case ErrRoundReadOnly:
		return "This round has already been finished."
	case ErrRoundNotInDrive:
		return "This round does not belong to the enrollment's drive."
	case ErrWrongRoundKind:
		return "This action is not available for this round type."
	case ErrRoundNotStarted:
		return "This round has not been started."
	case ErrInvalidTurnState:
		return "The interview is not in a state that accepts this request."
	case ErrEnrollmentInactive:
		return "This enrollment is no longer active."
	case ErrStreamActive:
		return "A proctoring stream is already open for this round."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
