package http

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"grantdesk/internal/domain"

	"github.com/gin-gonic/gin"
)

// limitWrites caps saves and transitions per principal in fixed windows.
// A failing limiter lets the write through.
func (s *Server) limitWrites() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil || s.writeLimit <= 0 {
			c.Next()
			return
		}
		principal := getPrincipal(c)
		sum := sha256.Sum256([]byte(principal.Subject))
		key := "writes:subject_hash:" + hex.EncodeToString(sum[:])

		decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.writeLimit, s.rateLimitWindow)
		if err != nil {
			s.log.WithError(err).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			writeError(c, domain.ErrRateLimited)
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
