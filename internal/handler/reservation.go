package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/service"
)

// ReservationHandler serves the public booking form and the availability
// lookups behind it.
type ReservationHandler struct {
	Reservations *service.ReservationService
	Availability *service.AvailabilityChecker
}

func NewReservationHandler(res *service.ReservationService, avail *service.AvailabilityChecker) *ReservationHandler {
	if res == nil || avail == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Reservations: res, Availability: avail}
}

type reservationRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=room ticket"`
	ItemID     string `json:"item_id" validate:"required,max=64"`
	CheckIn    string `json:"check_in" validate:"required_if=Kind room,omitempty,datetime=2006-01-02"`
	CheckOut   string `json:"check_out" validate:"required_if=Kind room,omitempty,datetime=2006-01-02"`
	Quantity   int    `json:"quantity" validate:"required_if=Kind ticket,gte=0"`
	GuestName  string `json:"guest_name" validate:"required,max=128"`
	GuestEmail string `json:"guest_email" validate:"required,email,max=255"`
	GuestPhone string `json:"guest_phone" validate:"omitempty,max=32"`
}

type reservationResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Kind        string `json:"kind"`
	AccessToken string `json:"access_token,omitempty"`
}

// Create handles POST /v1/reservations.  A room request books a stay of
// [check_in, check_out); a ticket request holds quantity tickets until the
// payment webhook confirms them.
func (h *ReservationHandler) Create(c echo.Context) error {
	var body reservationRequest
	if err := bindAndValidate(c, &body); err != nil {
		return badRequest(c, err.Error())
	}
	req := service.ReservationRequest{
		Kind:     service.Kind(body.Kind),
		ItemID:   body.ItemID,
		Quantity: body.Quantity,
		Guest:    model.GuestInfo{Name: body.GuestName, Email: body.GuestEmail, Phone: body.GuestPhone},
	}
	if req.Kind == service.KindRoom {
		// datetime validation already accepted both values
		req.Start, _ = time.Parse(time.DateOnly, body.CheckIn)
		req.End, _ = time.Parse(time.DateOnly, body.CheckOut)
	}

	res, err := h.Reservations.Reserve(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	out := reservationResponse{ID: res.ID(), Status: res.Status(), Kind: string(res.Kind)}
	if res.Purchase != nil {
		out.AccessToken = res.Purchase.AccessToken
	}
	return c.JSON(http.StatusCreated, out)
}

// stayParams reads the ?start=&end= dates of a stay.
func stayParams(c echo.Context) (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, c.QueryParam("start"))
	if err != nil {
		return start, start, errors.New("start must be YYYY-MM-DD")
	}
	end, err := time.Parse(time.DateOnly, c.QueryParam("end"))
	if err != nil {
		return start, end, errors.New("end must be YYYY-MM-DD")
	}
	return start, end, nil
}

// SearchRooms handles GET /v1/rooms?start=&end=, listing every room type
// with its free capacity for the stay.
func (h *ReservationHandler) SearchRooms(c echo.Context) error {
	start, end, err := stayParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	rooms, err := h.Availability.Rooms(c.Request().Context(), start, end)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"start": start.Format(time.DateOnly),
		"end":   end.Format(time.DateOnly),
		"rooms": rooms,
	})
}

// RoomAvailability handles GET /v1/rooms/:id/availability?start=&end=.
func (h *ReservationHandler) RoomAvailability(c echo.Context) error {
	start, end, err := stayParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	a, err := h.Availability.Room(c.Request().Context(), c.Param("id"), start, end)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// TicketAvailability handles GET /v1/ticket-types/:id/availability?quantity=.
// The quantity defaults to one.
func (h *ReservationHandler) TicketAvailability(c echo.Context) error {
	qty := 1
	if q := c.QueryParam("quantity"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			return badRequest(c, "quantity must be a positive integer")
		}
		qty = n
	}
	a, err := h.Availability.Tickets(c.Request().Context(), c.Param("id"), qty)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}
