package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Staff roles carried in the "role" claim.
const (
	RoleAdmin     = "ADMIN"
	RoleValidator = "VALIDATOR"
)

// RequireRole returns a middleware that enforces that the authenticated
// staff member has one of the specified roles.  It assumes JWTAuth ran
// first and stored the role in the context.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(CtxRole).(string)
			if !ok || !allowed[role] {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
