package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trailbook/internal/config"
	"trailbook/internal/logger"
	"trailbook/internal/middleware"
	"trailbook/internal/user/model"
	"trailbook/internal/user/service"
	appErrors "trailbook/pkg/errors"
	"trailbook/pkg/utils"
)

// The logout sentinel replaces the jwt cookie with a value that is never a
// valid token and expires almost immediately.
const (
	logoutSentinel     = "loggedout"
	logoutCookieMaxAge = 10 // seconds
)

type UserHandler struct {
	service *service.UserService
	config  *config.Config
}

func NewHandler(service *service.UserService, cfg *config.Config) *UserHandler {
	return &UserHandler{service: service, config: cfg}
}

func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	users := router.Group("/users")
	{
		users.POST("/signup", h.Signup)
		users.POST("/login", h.Login)
		users.GET("/logout", h.Logout)
		users.POST("/forgot-password", h.ForgotPassword)
		users.PATCH("/reset-password/:token", h.ResetPassword)
	}
}

func (h *UserHandler) Signup(c *gin.Context) {
	var request model.SignupRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	request.Email = utils.SanitizeEmail(request.Email)
	request.Name = utils.SanitizeString(request.Name)

	authResponse, err := h.service.SignUp(c.Request.Context(), &request)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.setTokenCookie(c, authResponse.Token)
	utils.SuccessResponse(c, http.StatusCreated, "User registered successfully", authResponse)
}

func (h *UserHandler) Login(c *gin.Context) {
	var request model.LoginRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	request.Email = utils.SanitizeEmail(request.Email)

	authResponse, err := h.service.Login(c.Request.Context(), &request)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.setTokenCookie(c, authResponse.Token)
	utils.SuccessResponse(c, http.StatusOK, "Login successful", authResponse)
}

func (h *UserHandler) Logout(c *gin.Context) {
	c.SetCookie(middleware.JWTCookieName, logoutSentinel, logoutCookieMaxAge, "/", "", h.secureCookies(), true)
	utils.SuccessResponse(c, http.StatusOK, "Logged out", nil)
}

func (h *UserHandler) ForgotPassword(c *gin.Context) {
	var request model.ForgotPasswordRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	request.Email = utils.SanitizeEmail(request.Email)

	if err := h.service.ForgotPassword(c.Request.Context(), &request); err != nil {
		respondWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Token sent to email", nil)
}

func (h *UserHandler) ResetPassword(c *gin.Context) {
	var request model.ResetPasswordRequest

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	authResponse, err := h.service.ResetPassword(c.Request.Context(), c.Param("token"), &request)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.setTokenCookie(c, authResponse.Token)
	utils.SuccessResponse(c, http.StatusOK, "Password reset successfully", authResponse)
}

func (h *UserHandler) setTokenCookie(c *gin.Context, token string) {
	maxAge := h.config.JWT.CookieExpiryDays * 24 * 60 * 60
	c.SetCookie(middleware.JWTCookieName, token, maxAge, "/", "", h.secureCookies(), true)
}

func (h *UserHandler) secureCookies() bool {
	return h.config.Server.Environment == "production"
}

func respondWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, appErrors.ErrUserAlreadyExists):
		utils.ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, appErrors.ErrInvalidCredentials),
		errors.Is(err, appErrors.ErrInvalidToken),
		errors.Is(err, appErrors.ErrUnauthorized):
		utils.ErrorResponse(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, appErrors.ErrInsufficientPermissions):
		utils.ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, appErrors.ErrUserNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, appErrors.ErrEmailDelivery):
		utils.ErrorResponse(c, http.StatusBadGateway, appErrors.ErrEmailDelivery.Error())
	default:
		var appErr *appErrors.AppError
		if errors.As(err, &appErr) {
			utils.ErrorResponse(c, http.StatusBadRequest, appErr.Message)
			return
		}

		requestID := middleware.GetRequestID(c)
		logger.Error("Internal server error",
			zap.String("request_id", requestID),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Error(err),
		)
		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
	}
}
