package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trailbook/internal/config"
	"trailbook/internal/user/model"
	appErrors "trailbook/pkg/errors"
	"trailbook/pkg/utils"
)

const (
	// CurrentUserKey is the gin context key the resolved user is stored under.
	CurrentUserKey = "currentUser"

	// JWTCookieName is the cookie carrier for browser clients; API clients use
	// the Authorization header instead.
	JWTCookieName = "jwt"
)

// UserLoader is the slice of the user store the guard needs.
type UserLoader interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

// AuthMiddleware authenticates the request and attaches the resolved user to
// the context. A token is rejected when it is missing, unverifiable, refers to
// a user that no longer exists, or was issued before the user's last password
// change.
func AuthMiddleware(cfg *config.Config, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolveUser(c, cfg, users)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}

		c.Set(CurrentUserKey, user)
		c.Next()
	}
}

// OptionalAuthMiddleware runs the same chain but never rejects: on any failure
// the request proceeds anonymously, with no user in the context.
func OptionalAuthMiddleware(cfg *config.Config, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, err := resolveUser(c, cfg, users); err == nil {
			c.Set(CurrentUserKey, user)
		}
		c.Next()
	}
}

func resolveUser(c *gin.Context, cfg *config.Config, users UserLoader) (*model.User, error) {
	token := extractToken(c)
	if token == "" {
		return nil, appErrors.ErrUnauthorized
	}

	claims, err := utils.ValidateToken(token, cfg.JWT.Secret)
	if err != nil {
		return nil, appErrors.ErrInvalidToken
	}

	user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
	if err != nil {
		// The user may have been deleted after the token was issued.
		return nil, appErrors.ErrInvalidToken
	}

	if claims.IssuedAt == nil || user.ChangedPasswordAfter(claims.IssuedAt.Time) {
		return nil, appErrors.ErrInvalidToken
	}

	return user, nil
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	if cookie, err := c.Cookie(JWTCookieName); err == nil {
		return cookie
	}
	return ""
}

// CurrentUser returns the user the auth middleware attached, if any.
func CurrentUser(c *gin.Context) (*model.User, bool) {
	value, exists := c.Get(CurrentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*model.User)
	return user, ok
}
