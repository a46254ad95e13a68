package middleware

// identity.go extracts the caller identity used to key rate limits.  Staff
// requests are keyed by the token subject; everyone else by "guest".

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func userID(c echo.Context) string {
	if id := StaffID(c); id != "" {
		return id
	}
	if tok, ok := c.Get("user").(*jwt.Token); ok {
		if sub, err := tok.Claims.GetSubject(); err == nil && sub != "" {
			return sub
		}
	}
	return "guest"
}
