package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// retryAfterSeconds is suggested to clients that hit a held merge or
// aggregator lock.
const retryAfterSeconds = "1"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// handleError renders handler errors. Domain error kinds map to statuses here
// and nowhere else.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Path(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"error", err,
		)
	}
	if code == "locked" {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}

	body := ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", "error", err)
	}
}

func classify(err error) (status int, code, message string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, strings.ToLower(strings.ReplaceAll(http.StatusText(he.Code), " ", "_")), msg
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "invalid_request", ve.Error()
	}

	switch {
	case errors.Is(err, shared.ErrLocked):
		return http.StatusConflict, "locked", domainMessage(err)
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found", domainMessage(err)
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request", domainMessage(err)
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists", domainMessage(err)
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict", domainMessage(err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout", "request timed out"
	}
	return http.StatusInternalServerError, "internal_error", "an unexpected error occurred"
}

// domainMessage returns the message of the outermost domain error.
func domainMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
