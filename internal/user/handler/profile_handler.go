package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trailbook/internal/middleware"
	"trailbook/internal/user/model"
	"trailbook/pkg/utils"
)

func (h *UserHandler) RegisterProfileRoutes(router *gin.RouterGroup) {
	me := router.Group("/me")
	{
		me.GET("", h.GetMe)
		me.PATCH("", h.UpdateMe)
		me.DELETE("", h.DeleteMe)
		me.POST("/password", h.ChangePassword)
	}
}

func (h *UserHandler) GetMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	profile, err := h.service.GetProfile(c.Request.Context(), user.ID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile retrieved successfully", profile)
}

func (h *UserHandler) UpdateMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var request model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if request.Name != nil {
		sanitized := utils.SanitizeString(*request.Name)
		request.Name = &sanitized
	}

	profile, err := h.service.UpdateProfile(c.Request.Context(), user.ID, &request)
	if err != nil {
		respondWithError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile updated successfully", profile)
}

// DeleteMe soft-deletes the account; the record is kept but the user drops out
// of every lookup.
func (h *UserHandler) DeleteMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	if err := h.service.Deactivate(c.Request.Context(), user.ID); err != nil {
		respondWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var request model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	authResponse, err := h.service.ChangePassword(c.Request.Context(), user.ID, &request)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.setTokenCookie(c, authResponse.Token)
	utils.SuccessResponse(c, http.StatusOK, "Password changed successfully", authResponse)
}
