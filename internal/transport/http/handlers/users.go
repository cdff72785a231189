package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/transit-tracker/internal/transport/http/middleware"
)

// UserHandler exposes account management for the authenticated caller.
type UserHandler struct {
	auth AuthUseCase
}

// NewUserHandler constructs UserHandler.
func NewUserHandler(auth AuthUseCase) *UserHandler {
	return &UserHandler{auth: auth}
}

// RegisterRoutes binds user routes behind RequireAuth.
func (h *UserHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.DELETE("/me", middleware.RequireAuth(h.auth), h.deleteMe)
}

// DeleteMe godoc
// @Summary Delete the current account
// @Description Removes the account and denies the presented access token.
// @Tags Users
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/users/me [delete]
func (h *UserHandler) deleteMe(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if err := h.auth.DeleteAccount(c.Request.Context(), claims); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to delete account"))
		return
	}

	c.Status(http.StatusNoContent)
}
