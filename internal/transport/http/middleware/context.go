package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/infra/logger"
)

const (
	// RequestIDHeader carries the caller supplied correlation identifier
	RequestIDHeader = "X-Request-ID"
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the context key for trace ID
	TraceIDKey = "trace_id"
	// UserIDKey is the context key for authenticated user ID
	UserIDKey = "user_id"
	// ClaimsKey is the context key for verified access token claims
	ClaimsKey = "claims"

	requestContextKey = "request_context"

	maxRequestIDLength = 128
)

// RequestContext holds request-scoped information
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
}

// EnrichContext adds trace ID and request context to each request
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestContext retrieves the full request context
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}

// GetClaims returns the access token claims stored by RequireAuth.
func GetClaims(c *gin.Context) (domain.TokenClaims, bool) {
	value, exists := c.Get(ClaimsKey)
	if !exists {
		return domain.TokenClaims{}, false
	}
	claims, ok := value.(domain.TokenClaims)
	return claims, ok
}

// RequestID propagates X-Request-ID into the request context for logger.WithContext.
// Missing or oversized identifiers are replaced with a fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}

		c.Header(RequestIDHeader, reqID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID))

		c.Next()
	}
}
