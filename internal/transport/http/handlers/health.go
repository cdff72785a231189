package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// HealthHandler exposes liveness and readiness information.
type HealthHandler struct {
	clock     clockwork.Clock
	startedAt time.Time
	checks    []namedCheck
}

// HealthOption configures a HealthHandler.
type HealthOption func(*HealthHandler)

// WithReadinessCheck adds a named dependency check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandler) {
		if check != nil {
			h.checks = append(h.checks, namedCheck{name: name, check: check})
		}
	}
}

// WithHealthClock overrides the clock used for timestamps.
func WithHealthClock(clk clockwork.Clock) HealthOption {
	return func(h *HealthHandler) {
		if clk != nil {
			h.clock = clk
		}
	}
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock.Now().UTC()
	return h
}

// Status godoc
// @Summary Service health check
// @Description Returns the status and start time of the service.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
		Timestamp: h.clock.Now().UTC(),
	})
}

// Readiness godoc
// @Summary Service readiness check
// @Description Runs every dependency check; any failure makes the service unready.
// @Tags Health
// @Produce json
// @Success 200 {object} ReadyResponse
// @Failure 503 {object} ReadyResponse
// @Router /readyz [get]
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	for _, nc := range h.checks {
		if err := nc.check(ctx); err != nil {
			resp.Checks[nc.name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[nc.name] = "ok"
	}
	resp.Timestamp = h.clock.Now().UTC()

	c.JSON(status, resp)
}

// DenylistState is the startup state exposed by the token denylist.
type DenylistState interface {
	Ready() <-chan struct{}
	LoadErr() error
}

var errDenylistLoading = errors.New("denylist still loading")

// DenylistReadiness fails until the denylist has finished its startup load,
// and keeps failing if that load failed.
func DenylistReadiness(state DenylistState) ReadinessCheck {
	return func(context.Context) error {
		select {
		case <-state.Ready():
		default:
			return errDenylistLoading
		}
		if err := state.LoadErr(); err != nil {
			return fmt.Errorf("denylist load failed: %w", err)
		}
		return nil
	}
}
