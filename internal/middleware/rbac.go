package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bugreport-api/internal/models"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
	"github.com/noah-isme/bugreport-api/pkg/response"
)

// RequireRoles lets the request through only when the actor holds one of roles.
// Resource level rules such as "reporter only" live in the services.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
