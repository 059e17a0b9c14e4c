package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/apiclient"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
)

// classify maps a service or session error to an HTTP status and error code.
// message is non-empty when the backend supplied its own wording.
func classify(err error) (status int, code response.ErrCode, message string) {
	var apiErr *apiclient.APIError

	switch {
	case errors.Is(err, session.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions, ""
	case errors.Is(err, apiclient.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound, ""
	case errors.Is(err, session.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted, ""
	case errors.Is(err, session.ErrSubmitInFlight):
		return http.StatusConflict, response.ErrSubmitInFlight, ""
	case errors.Is(err, session.ErrNotInProgress):
		return http.StatusConflict, response.ErrSessionNotActive, ""
	case errors.Is(err, session.ErrDeadlinePassed):
		return http.StatusConflict, response.ErrTimeUp, ""
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion, ""
	case errors.Is(err, session.ErrInvalidOption):
		return http.StatusBadRequest, response.ErrInvalidOption, ""
	case errors.Is(err, session.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrIndexOutOfRange, ""
	case errors.Is(err, service.ErrSessionNotOpen):
		return http.StatusNotFound, response.ErrSessionNotOpen, ""
	case errors.Is(err, service.ErrResultNotFound):
		return http.StatusNotFound, response.ErrResultNotFound, ""
	case errors.As(err, &apiErr):
		// Backend validation messages are shown verbatim.
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode, response.ErrBackend, apiErr.UserMessage()
		}
		return http.StatusBadGateway, response.ErrBackend, apiErr.UserMessage()
	case errors.Is(err, session.ErrLoadFailed):
		return http.StatusBadGateway, response.ErrExamLoadFailed, ""
	case errors.Is(err, apiclient.ErrUnavailable):
		return http.StatusServiceUnavailable, response.ErrBackendUnavailable, ""
	default:
		return http.StatusInternalServerError, response.ErrInternal, ""
	}
}

// respondError writes the mapped error response and logs unexpected failures.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.FailWithMessage(c, status, code, message)
}
