package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/middleware"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/response"
	"github.com/stemsi/mockdrive-backend/internal/service"
	"github.com/stemsi/mockdrive-backend/internal/validator"
)

// Progression is the slice of the progression service the candidate
// endpoints need.
type Progression interface {
	Enroll(ctx context.Context, userID int, driveID uuid.UUID) (*model.Enrollment, error)
	DriveProgress(ctx context.Context, userID int, driveID uuid.UUID) (*service.DriveProgress, error)
	Begin(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID) (*model.RoundProgress, error)
	Submit(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID, correct, total int) (*service.Outcome, error)
}

var _ Progression = (*service.ProgressionService)(nil)

// DriveHandler handles candidate-facing drive endpoints.
type DriveHandler struct {
	progression Progression
	log         zerolog.Logger
}

// NewDriveHandler creates a new DriveHandler.
func NewDriveHandler(progression Progression, log zerolog.Logger) *DriveHandler {
	return &DriveHandler{
		progression: progression,
		log:         log.With().Str("component", "drive_handler").Logger(),
	}
}

// Enroll godoc
// POST /api/v1/candidate/drives/:drive_id/enroll
// Creates the candidate's enrollment or returns the existing one.
func (h *DriveHandler) Enroll(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	e, err := h.progression.Enroll(c.Request.Context(), claims.UserID, driveID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"enrollment": e})
}

// GetProgress godoc
// GET /api/v1/candidate/drives/:drive_id/progress
func (h *DriveHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	progress, err := h.progression.DriveProgress(c.Request.Context(), claims.UserID, driveID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, progress)
}

// BeginRound godoc
// POST /api/v1/candidate/enrollments/:enrollment_id/rounds/:round_id/begin
// Moves an unlocked round to IN_PROGRESS. Repeating the call is harmless.
func (h *DriveHandler) BeginRound(c *gin.Context) {
	claims, enrollmentID, roundID, ok := roundParams(c)
	if !ok {
		return
	}

	p, err := h.progression.Begin(c.Request.Context(), claims.UserID, enrollmentID, roundID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": p})
}

// SubmitRound godoc
// POST /api/v1/candidate/enrollments/:enrollment_id/rounds/:round_id/submit
// Finishes a choice-test or coding round with the candidate's tally.
func (h *DriveHandler) SubmitRound(c *gin.Context) {
	claims, enrollmentID, roundID, ok := roundParams(c)
	if !ok {
		return
	}

	var req model.SubmitRoundRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.progression.Submit(c.Request.Context(), claims.UserID, enrollmentID, roundID, req.Correct, req.Total)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}

// roundParams reads the claims and the enrollment and round path ids,
// writing the error response itself when any is missing.
func roundParams(c *gin.Context) (*service.Claims, uuid.UUID, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, uuid.Nil, false
	}
	enrollmentID, err := uuid.Parse(c.Param("enrollment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, uuid.Nil, false
	}
	roundID, err := uuid.Parse(c.Param("round_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, uuid.Nil, false
	}
	return claims, enrollmentID, roundID, true
}
