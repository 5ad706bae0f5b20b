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

// TurnEngine runs one interview turn.
type TurnEngine interface {
	Turn(ctx context.Context, req service.TurnRequest) (*service.TurnResult, error)
}

var _ TurnEngine = (*service.InterviewService)(nil)

// InterviewHandler serves the interview turn endpoint.
type InterviewHandler struct {
	engine TurnEngine
	log    zerolog.Logger
}

func NewInterviewHandler(engine TurnEngine, log zerolog.Logger) *InterviewHandler {
	return &InterviewHandler{
		engine: engine,
		log:    log.With().Str("component", "interview_handler").Logger(),
	}
}

// Turn godoc
// POST /api/v1/candidate/interview/turn
// Starts, answers or resumes an interview depending on persisted state.
func (h *InterviewHandler) Turn(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.InterviewTurnRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	// Both already passed the uuid tag.
	enrollmentID, _ := uuid.Parse(req.EnrollmentID)
	roundID, _ := uuid.Parse(req.RoundID)

	res, err := h.engine.Turn(c.Request.Context(), service.TurnRequest{
		UserID:        claims.UserID,
		EnrollmentID:  enrollmentID,
		RoundID:       roundID,
		AnswerText:    req.AnswerText,
		Difficulty:    model.Difficulty(req.Difficulty),
		QuestionIndex: req.QuestionIndex,
	})
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}
