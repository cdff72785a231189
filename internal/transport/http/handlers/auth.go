package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/jonboulle/clockwork"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/transport/http/middleware"
	"github.com/arklim/transit-tracker/internal/usecase"
)

// AuthUseCase is the slice of usecase.AuthService the HTTP layer drives.
type AuthUseCase interface {
	middleware.AccessTokenParser
	Register(ctx context.Context, email, password string) (domain.User, error)
	Authenticate(ctx context.Context, email, password string) (domain.TokenPair, domain.User, error)
	Refresh(ctx context.Context, raw string) (domain.TokenPair, error)
	Logout(ctx context.Context, access domain.TokenClaims, rawRefresh string) error
	Me(ctx context.Context, claims domain.TokenClaims) (domain.User, error)
	DeleteAccount(ctx context.Context, claims domain.TokenClaims) error
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth  AuthUseCase
	clock clockwork.Clock
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthUseCase, clk clockwork.Clock) *AuthHandler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &AuthHandler{auth: auth, clock: clk}
}

// RegisterRoutes binds authentication routes. The guard wraps register and login.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, guard *middleware.LockoutGuard) {
	guarded := guard.Handler()
	requireAuth := middleware.RequireAuth(h.auth)

	r.POST("/register", guarded, h.register)
	r.POST("/login", guarded, h.login)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", requireAuth, h.logout)
	r.GET("/me", requireAuth, h.me)
}

// Register godoc
// @Summary Register a new user account
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegistrationRequest true "Registration request payload"
// @Success 201 {object} RegistrationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidEmail, Status: http.StatusBadRequest, Message: "invalid email"},
			{Err: usecase.ErrWeakPassword, Status: http.StatusBadRequest, Message: "password does not meet requirements", SignalsFailure: true},
			{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered", SignalsFailure: true},
		}, http.StatusInternalServerError, "failed to register user")
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{User: newUserSummary(user)})
}

// Login godoc
// @Summary Authenticate a user with credentials
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body AuthLoginRequest true "Login request"
// @Success 200 {object} AuthLoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	pair, user, err := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials", SignalsFailure: true},
		}, http.StatusInternalServerError, "authentication failed")
		return
	}

	c.JSON(http.StatusOK, AuthLoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.AccessExpiresAt, h.clock.Now()),
		User:         newUserSummary(user),
	})
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body TokenRefreshRequest true "Refresh request"
// @Success 200 {object} TokenRefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
		}, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	c.JSON(http.StatusOK, TokenRefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn(pair.AccessExpiresAt, h.clock.Now()),
	})
}

// Logout godoc
// @Summary Logout the current token
// @Description Denies the presented access token and, when supplied, the matching refresh token.
// @Tags Authentication
// @Accept json
// @Success 204 {string} string ""
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	// The body is optional; without one only the access token is retired.
	var req LogoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
			return
		}
	}

	if err := h.auth.Logout(c.Request.Context(), claims, req.RefreshToken); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to logout"))
		return
	}

	c.Status(http.StatusNoContent)
}

// Me godoc
// @Summary Current account
// @Tags Authentication
// @Produce json
// @Success 200 {object} UserSummary
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	user, err := h.auth.Me(c.Request.Context(), claims)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidAccessToken, Status: http.StatusUnauthorized, Message: "invalid access token"},
		}, http.StatusInternalServerError, "failed to load account")
		return
	}

	c.JSON(http.StatusOK, newUserSummary(user))
}
