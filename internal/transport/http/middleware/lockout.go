package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/arklim/transit-tracker/internal/core/port"
	appLogger "github.com/arklim/transit-tracker/internal/infra/logger"
)

const (
	lockoutProblemType  = "https://transit-tracker.example.com/errors/too-many-attempts"
	lockoutProblemTitle = "Too Many Attempts"

	failureSignalKey = "lockout_failure"
)

// ProblemDetails represents an RFC 9457 compatible error payload.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
	TraceID  string `json:"trace_id,omitempty"`
}

// LockoutGuard wraps sensitive endpoints: locked out callers are rejected before the
// handler runs, and a handler that calls SignalFailure counts against every identity
// key of the request.
type LockoutGuard struct {
	tracker port.LockoutTracker
	logger  *zap.Logger
}

// NewLockoutGuard builds the guard around a lockout tracker.
func NewLockoutGuard(tracker port.LockoutTracker, logger *zap.Logger) *LockoutGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockoutGuard{tracker: tracker, logger: logger}
}

// Handler returns the Gin middleware.
func (g *LockoutGuard) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g == nil || g.tracker == nil {
			c.Next()
			return
		}

		keys := IdentityKeys(c)
		if g.tracker.IsLockedOut(keys...) {
			g.logger.Warn("request rejected for locked out identity",
				zap.Strings("keys", appLogger.MaskKeys(keys)),
				zap.String("path", c.FullPath()),
				zap.String("trace_id", GetTraceID(c)),
			)
			respondLockedOut(c)
			return
		}

		c.Next()

		if c.GetBool(failureSignalKey) {
			g.tracker.RecordFailure(keys...)
		}
	}
}

// SignalFailure marks the current request as a failed attempt for the lockout guard.
func SignalFailure(c *gin.Context) {
	c.Set(failureSignalKey, true)
}

// IdentityKeys returns the lockout keys of a request: the client IP and, when the JSON
// body carries one, the email. The body is cached so handlers can bind it again with
// ShouldBindBodyWith.
func IdentityKeys(c *gin.Context) []string {
	keys := make([]string, 0, 2)
	if ip := c.ClientIP(); ip != "" {
		keys = append(keys, "ip:"+ip)
	}

	if c.Request.Body != nil && c.ContentType() == binding.MIMEJSON {
		var body struct {
			Email string `json:"email"`
		}
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
			if email := strings.ToLower(strings.TrimSpace(body.Email)); email != "" {
				keys = append(keys, "email:"+email)
			}
		}
	}
	return keys
}

// respondLockedOut never reveals when the lockout ends.
func respondLockedOut(c *gin.Context) {
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:     lockoutProblemType,
		Title:    lockoutProblemTitle,
		Status:   http.StatusTooManyRequests,
		Detail:   "Too many failed attempts. Try again later.",
		Instance: instance,
		TraceID:  GetTraceID(c),
	})
}
