package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/transit-tracker/internal/transport/http/middleware"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
// Cases with SignalsFailure count the request against the lockout guard.
type ErrorCase struct {
	Err            error
	Status         int
	Message        string
	SignalsFailure bool
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			if cs.SignalsFailure {
				middleware.SignalFailure(c)
			}
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
