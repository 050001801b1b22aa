package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"live-poll-service/internal/domain"
)

// ErrCode identifies an API error independent of its message.
type ErrCode string

const (
	ErrUnauthorized ErrCode = "UNAUTHORIZED"
	ErrNotFound     ErrCode = "NOT_FOUND"
	ErrInvalidInput ErrCode = "INVALID_INPUT"
	ErrInvalidState ErrCode = "INVALID_STATE"
	ErrEndOfSession ErrCode = "END_OF_SESSION"
	ErrInternal     ErrCode = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// classify maps a service error onto a status and code. Unknown errors are internal.
func classify(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, ErrUnauthorized
	case domain.IsNotFound(err):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, ErrInvalidInput
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, ErrInvalidState
	case errors.Is(err, domain.ErrEndOfSession):
		return http.StatusConflict, ErrEndOfSession
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}

// publicMessage hides internal failure detail from clients.
func publicMessage(code ErrCode, err error) string {
	if code == ErrInternal {
		return "internal server error"
	}
	return err.Error()
}

func fail(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if code == ErrInternal {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Code: code, Message: publicMessage(code, err)}})
}

func failWithFields(c *gin.Context, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: errorBody{
		Code:    ErrInvalidInput,
		Message: "validation failed",
		Fields:  fields,
	}})
}
