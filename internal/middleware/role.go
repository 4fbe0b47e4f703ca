package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trailbook/internal/user/model"
	"trailbook/pkg/utils"
)

// RoleMiddleware gates a route on role membership. It assumes AuthMiddleware
// already ran and attached the user.
func RoleMiddleware(allowedRoles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			utils.ErrorResponse(c, http.StatusForbidden, "user not resolved")
			c.Abort()
			return
		}

		if !user.Role.IsAllowed(allowedRoles...) {
			utils.ErrorResponse(c, http.StatusForbidden, "you do not have permission to perform this action")
			c.Abort()
			return
		}

		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return RoleMiddleware(model.RoleAdmin)
}

func GuidesOnly() gin.HandlerFunc {
	return RoleMiddleware(model.RoleGuide, model.RoleLeadGuide, model.RoleAdmin)
}
