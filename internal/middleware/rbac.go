package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/response"
)

// RBAC enforces role-based access control for routes. The caller passes when
// any of their roles is allowed. "SELF" additionally admits the user whose id
// matches the :id path parameter.
func RBAC(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity(c)
		if identity == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowSelf := false
		allowedRoles := make(map[models.RoleName]struct{})
		for _, a := range allowed {
			if a == "SELF" {
				allowSelf = true
				continue
			}
			allowedRoles[models.RoleName(a)] = struct{}{}
		}

		for _, role := range identity.Roles {
			if _, ok := allowedRoles[role]; ok {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == identity.ID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.RoleName) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// RequirePrivileged admits only the privileged tier.
func RequirePrivileged() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin, models.RoleOfficeMember)
}
