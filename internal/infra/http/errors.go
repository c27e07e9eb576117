package http

import (
	"errors"
	"net/http"

	"grantdesk/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	message := err.Error()
	var details map[string]any

	var terr *domain.TransitionError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &terr):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
		details = map[string]any{
			"status":          terr.From,
			"allowed_actions": actionNames(terr.Allowed),
		}
	case errors.As(err, &verr):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
		details = map[string]any{"fields": verr.Fields}
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrNotEditable):
		status, code = http.StatusConflict, "NOT_EDITABLE"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrIntegrityMismatch):
		status, code = http.StatusConflict, "INTEGRITY_MISMATCH"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	}
	if status == http.StatusInternalServerError {
		// The cause is logged with the request, never returned.
		_ = c.Error(err)
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message, Details: details})
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func actionNames(actions []domain.Action) []string {
	out := make([]string, 0, len(actions))
	for _, action := range actions {
		out = append(out, string(action))
	}
	return out
}
