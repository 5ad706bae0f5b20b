package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/service"
	ws "github.com/stemsi/mockdrive-backend/internal/websocket"
)

// maxMessageBytes caps one client message. Camera frames dominate.
const maxMessageBytes = 2 << 20

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProctorOpener opens a proctoring session for a round in progress.
type ProctorOpener interface {
	Open(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID) (*service.ProctorSession, error)
}

var _ ProctorOpener = (*service.ProctoringService)(nil)

// WSHandler handles the proctoring WebSocket stream.
type WSHandler struct {
	proctoring ProctorOpener
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(proctoring ProctorOpener, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		proctoring: proctoring,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// ProctorStream godoc
// WS /ws/v1/candidate/enrollments/:enrollment_id/rounds/:round_id/proctor
// Receives browser events and camera frames for a round in progress and
// answers with decisions. The server closes the socket once the round is
// terminated for too many violations.
func (h *WSHandler) ProctorStream(c *gin.Context) {
	claims, enrollmentID, roundID, ok := roundParams(c)
	if !ok {
		return
	}

	// Open before upgrading so refusals still get a JSON status.
	sess, err := h.proctoring.Open(c.Request.Context(), claims.UserID, enrollmentID, roundID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	defer sess.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("enrollment_id", enrollmentID.String()).
		Str("round_id", roundID.String()).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)

	out := &wsWriter{conn: conn}
	if err := out.send(ws.ReadyResponse{
		Event:       ws.EventReady,
		MaxWarnings: sess.Escalator.MaxWarnings(),
		Count:       sess.Escalator.Count(),
	}); err != nil {
		return
	}

	wsLog.Info().Msg("Proctor stream connected")

	go h.pushLoop(ctx, cancel, sess, out, wsLog)

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if ctx.Err() != nil {
				wsLog.Debug().Msg("Connection closed after termination")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionEvent:
			if msg.Event == nil {
				out.fail("event is required")
				continue
			}
			d := sess.Signals.Observe(*msg.Event)
			out.send(ws.DecisionResponse{
				Event:     ws.EventDecision,
				Suppress:  d.Suppress,
				Violation: d.Violation,
				Count:     sess.Escalator.Count(),
			})
		case ws.ActionFrame:
			img, err := decodeFrame(msg.Frame)
			if err != nil {
				out.fail("invalid frame")
				continue
			}
			sess.PushFrame(img)
		case ws.ActionPing:
			out.send(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			out.fail("unknown action: " + string(msg.Action))
		}
	}
}

// pushLoop forwards presence violations and the termination notice. Signal
// violations are already answered inline by the decision reply.
func (h *WSHandler) pushLoop(ctx context.Context, cancel context.CancelFunc, sess *service.ProctorSession, out *wsWriter, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-sess.Alerts():
			if v.Type != model.ViolationLookAway {
				continue
			}
			out.send(ws.ViolationResponse{
				Event:     ws.EventViolation,
				Violation: v,
				Count:     sess.Escalator.Count(),
			})
		case all := <-sess.Terminated():
			out.send(ws.TerminatedResponse{
				Event:      ws.EventTerminated,
				Reason:     service.TerminationReason,
				Violations: all,
			})
			log.Warn().Int("violations", len(all)).Msg("Proctor stream terminated")
			cancel()
			out.close(websocket.ClosePolicyViolation, "terminated")
			return
		}
	}
}

// wsWriter serializes writes; gorilla allows one concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteTyped(w.conn, v)
}

func (w *wsWriter) fail(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws.WriteError(w.conn, msg)
}

func (w *wsWriter) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws.CloseWith(w.conn, code, reason)
	w.conn.Close()
}

var errEmptyFrame = errors.New("empty frame")

// decodeFrame accepts raw base64 or a data URL and decodes the JPEG.
func decodeFrame(s string) (image.Image, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, errEmptyFrame
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return img, nil
}
