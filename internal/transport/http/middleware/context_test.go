package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	appLogger "github.com/arklim/transit-tracker/internal/infra/logger"
)

func TestRequestIDPropagation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		seen = appLogger.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if seen != "abc-123" || rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected caller request id, got context=%q header=%q", seen, rr.Header().Get(RequestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if len(seen) != 36 || seen != rr.Header().Get(RequestIDHeader) {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}
