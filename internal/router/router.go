package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/handler"
	"github.com/iliyamo/hotel-reservation/internal/middleware"
)

// Guards holds the optional Redis-backed middlewares.  Either may be a
// pass-through when Redis is not configured.
type Guards struct {
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

func (g Guards) limit() []echo.MiddlewareFunc {
	if g.RateLimit == nil {
		return nil
	}
	return []echo.MiddlewareFunc{g.RateLimit}
}

func (g Guards) cached() []echo.MiddlewareFunc {
	if g.Cache == nil {
		return nil
	}
	return []echo.MiddlewareFunc{g.Cache}
}

// RegisterRoutes registers the health endpoints.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterPublic registers the unauthenticated guest endpoints: the booking
// form, availability lookups and the access link.  Availability responses
// are cached; the booking form is rate limited.
func RegisterPublic(e *echo.Echo, r *handler.ReservationHandler, t *handler.TicketHandler, g Guards) {
	e.POST("/v1/reservations", r.Create, g.limit()...)
	e.GET("/v1/rooms", r.SearchRooms, g.cached()...)
	e.GET("/v1/rooms/:id/availability", r.RoomAvailability, g.cached()...)
	e.GET("/v1/ticket-types/:id/availability", r.TicketAvailability, g.cached()...)
	e.GET("/t/:token", t.AccessLink, g.limit()...)
}

// RegisterPayments registers the payment gateway webhook.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler, webhookSecret string) {
	e.POST("/v1/payments/webhook", p.Webhook, middleware.WebhookSecret(webhookSecret))
}
