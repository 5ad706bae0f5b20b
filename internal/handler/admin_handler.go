package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/response"
	"github.com/stemsi/mockdrive-backend/internal/service"
	"github.com/stemsi/mockdrive-backend/internal/validator"
)

// BypassHeader carries the administrative bypass key.
const BypassHeader = "X-Bypass-Key"

// Bypasser force-completes rounds.
type Bypasser interface {
	Bypass(ctx context.Context, actor *service.Claims, key string, enrollmentID, roundID uuid.UUID) (*service.Outcome, error)
}

// ViolationAuditor reads an enrollment's proctoring audit trail.
type ViolationAuditor interface {
	Violations(ctx context.Context, enrollmentID uuid.UUID, limit int) (*service.ViolationReport, error)
}

var (
	_ Bypasser         = (*service.BypassService)(nil)
	_ ViolationAuditor = (*service.ProctoringService)(nil)
)

// AdminHandler handles administrator endpoints.
type AdminHandler struct {
	bypass  Bypasser
	auditor ViolationAuditor
	log     zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(bypass Bypasser, auditor ViolationAuditor, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		bypass:  bypass,
		auditor: auditor,
		log:     log.With().Str("component", "admin_handler").Logger(),
	}
}

// BypassRound godoc
// POST /api/v1/admin/enrollments/:enrollment_id/rounds/:round_id/bypass
// Marks the round COMPLETED with a perfect score. Needs the rounds:bypass
// permission and the bypass key.
func (h *AdminHandler) BypassRound(c *gin.Context) {
	claims, enrollmentID, roundID, ok := roundParams(c)
	if !ok {
		return
	}

	key := c.GetHeader(BypassHeader)
	if key == "" && c.Request.ContentLength != 0 {
		var req model.BypassRequest
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
		key = req.Key
	}

	out, err := h.bypass.Bypass(c.Request.Context(), claims, key, enrollmentID, roundID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}

// GetViolations godoc
// GET /api/v1/admin/enrollments/:enrollment_id/violations?limit=100
func (h *AdminHandler) GetViolations(c *gin.Context) {
	enrollmentID, err := uuid.Parse(c.Param("enrollment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	report, err := h.auditor.Violations(c.Request.Context(), enrollmentID, limit)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

