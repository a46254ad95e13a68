package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/handler"
	"github.com/iliyamo/hotel-reservation/internal/middleware"
)

// RegisterGate registers the ticket validation endpoints used by scanners
// at the venue entrance.  With requireAuth every call needs a VALIDATOR or
// ADMIN token and the validator identity is the token subject; otherwise a
// token is optional and the body may name the validator.
func RegisterGate(e *echo.Echo, h *handler.TicketHandler, jwtSecret string, requireAuth bool, g Guards) {
	mws := g.limit()
	if requireAuth {
		mws = append(mws,
			middleware.JWTAuth(jwtSecret),
			middleware.RequireRole(middleware.RoleValidator, middleware.RoleAdmin),
		)
	} else {
		mws = append(mws, middleware.OptionalJWTAuth(jwtSecret))
	}
	gate := e.Group("/v1", mws...)
	gate.POST("/tickets/validate", h.Validate)
	gate.POST("/purchases/:id/validate-all", h.ValidateAll)
}
