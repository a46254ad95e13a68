package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/handler"
	"github.com/iliyamo/hotel-reservation/internal/middleware"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.  All
// routes require a valid JWT and the ADMIN role.  Only the live feed
// accepts the token in the query string.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, t *handler.TicketHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)

	// ---- Bookings ----
	g.GET("/bookings/:id", a.GetBooking)
	g.PATCH("/bookings/:id/status", a.UpdateBookingStatus)

	// ---- Validation audit ----
	g.GET("/tickets/:id/validations", t.History)
	e.GET("/v1/admin/validations/ws", a.ValidationFeed,
		middleware.WebsocketJWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)
}
