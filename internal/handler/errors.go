package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/response"
	"github.com/stemsi/mockdrive-backend/internal/service"
)

type errMapping struct {
	err    error
	status int
	code   response.ErrCode
}

var serviceErrors = []errMapping{
	{service.ErrDriveNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrEnrollmentNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrRoundNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrEnrollmentForbidden, http.StatusForbidden, response.ErrForbidden},
	{service.ErrRoundNotInDrive, http.StatusBadRequest, response.ErrRoundNotInDrive},
	{service.ErrRoundReadOnly, http.StatusConflict, response.ErrRoundReadOnly},
	{service.ErrRoundNotStarted, http.StatusConflict, response.ErrRoundNotStarted},
	{service.ErrEnrollmentInactive, http.StatusConflict, response.ErrEnrollmentInactive},
	{service.ErrWrongRoundKind, http.StatusBadRequest, response.ErrWrongRoundKind},
	{service.ErrMissingIdentifiers, http.StatusBadRequest, response.ErrValidation},
	{service.ErrInvalidTurnState, http.StatusConflict, response.ErrInvalidTurnState},
	{service.ErrBypassUnauthorized, http.StatusForbidden, response.ErrBypassUnauthorized},
	{service.ErrProctorStreamActive, http.StatusConflict, response.ErrStreamActive},
}

// failService writes the envelope for a service error. Locked rounds carry
// their access state so clients can render the gate.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	if errors.Is(err, service.ErrRoundLocked) {
		response.FailWithData(c, http.StatusForbidden, response.ErrRoundLocked,
			gin.H{"access": service.AccessLocked})
		return
	}
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			response.Fail(c, m.status, m.code)
			return
		}
	}
	log.Error().Err(err).
		Str("path", c.FullPath()).
		Str("request_id", c.GetString(response.ContextKeyRequestID)).
		Msg("Unhandled service error")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
