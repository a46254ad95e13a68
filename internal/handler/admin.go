package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/service"
	"github.com/iliyamo/hotel-reservation/internal/websocket"
)

// AdminHandler groups the staff-only endpoints: booking lifecycle and the
// live validation feed.  All routes run behind JWTAuth and RequireRole.
type AdminHandler struct {
	Bookings     *service.BookingAdmin
	Reservations *service.ReservationService
	Hub          *websocket.Hub
}

func NewAdminHandler(b *service.BookingAdmin, r *service.ReservationService, hub *websocket.Hub) *AdminHandler {
	if b == nil || r == nil || hub == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Bookings: b, Reservations: r, Hub: hub}
}

// GetBooking handles GET /v1/admin/bookings/:id.  Soft-deleted bookings
// are returned too, with deleted_at set.
func (h *AdminHandler) GetBooking(c echo.Context) error {
	b, err := h.Reservations.Booking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, newBookingView(b))
}

// UpdateBookingStatus handles PATCH /v1/admin/bookings/:id/status.
func (h *AdminHandler) UpdateBookingStatus(c echo.Context) error {
	var body struct {
		Status string `json:"status" validate:"required,oneof=pending confirmed cancelled checked-in completed deleted"`
	}
	if err := bindAndValidate(c, &body); err != nil {
		return badRequest(c, err.Error())
	}
	b, err := h.Bookings.UpdateStatus(c.Request().Context(), c.Param("id"), model.BookingStatus(body.Status))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, newBookingView(b))
}

// ValidationFeed handles GET /v1/admin/validations/ws?ticket_type=.  It
// upgrades to a websocket that streams every validation attempt, optionally
// restricted to one ticket type.
func (h *AdminHandler) ValidationFeed(c echo.Context) error {
	if err := h.Hub.ServeWS(c.Response(), c.Request(), c.QueryParam("ticket_type")); err != nil {
		log.Warn().Err(err).Msg("validation feed: upgrade failed")
	}
	return nil
}
