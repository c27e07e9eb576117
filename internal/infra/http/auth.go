package http

import (
	"net/http"
	"strings"
	"time"

	"grantdesk/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	headerSubject   = "X-Principal-Subject"
	headerRoles     = "X-Principal-Roles"
	headerRequestID = "X-Request-ID"

	principalContextKey = "principal"
	requestIDContextKey = "request_id"
)

// requestContext tags every request with an id and logs it once it is served.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(headerRequestID, requestID)

		start := time.Now()
		c.Next()

		entry := s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"route":      c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// requirePrincipal reads the identity forwarded by the gateway. Requests
// without a subject never reach a handler.
func (s *Server) requirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := strings.TrimSpace(c.GetHeader(headerSubject))
		if subject == "" {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal")
			c.Abort()
			return
		}
		c.Set(principalContextKey, domain.Principal{
			Subject: subject,
			Roles:   splitCSV(c.GetHeader(headerRoles)),
		})
		c.Next()
	}
}

func getPrincipal(c *gin.Context) domain.Principal {
	raw, ok := c.Get(principalContextKey)
	if !ok {
		return domain.Principal{}
	}
	principal, _ := raw.(domain.Principal)
	return principal
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
