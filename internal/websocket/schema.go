package websocket

import (
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/proctoring"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionEvent Action = "event"
	ActionFrame Action = "frame"
	ActionPing  Action = "ping"
)

// RequestEnvelope carries every client message. Only the field matching
// Action is read.
type RequestEnvelope struct {
	Action Action               `json:"action"`
	Event  *proctoring.RawEvent `json:"event,omitempty"`
	// Frame is a base64 JPEG camera snapshot, optionally with a data URL prefix.
	Frame string `json:"frame,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady      Event = "ready"
	EventDecision   Event = "decision"
	EventViolation  Event = "violation"
	EventTerminated Event = "terminated"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// ReadyResponse is sent once the session is live.
type ReadyResponse struct {
	Event       Event `json:"event"`
	MaxWarnings int   `json:"max_warnings"`
	Count       int   `json:"count"`
}

// DecisionResponse answers an "event" action. Suppress asks the client to
// prevent the browser default.
type DecisionResponse struct {
	Event     Event            `json:"event"`
	Suppress  bool             `json:"suppress"`
	Violation *model.Violation `json:"violation,omitempty"`
	Count     int              `json:"count"`
}

// ViolationResponse is pushed for violations raised outside a client
// action, such as presence timeouts.
type ViolationResponse struct {
	Event     Event           `json:"event"`
	Violation model.Violation `json:"violation"`
	Count     int             `json:"count"`
}

// TerminatedResponse is the last message before the server closes the socket.
type TerminatedResponse struct {
	Event      Event             `json:"event"`
	Reason     string            `json:"reason"`
	Violations []model.Violation `json:"violations"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
