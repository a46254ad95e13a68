package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/repository"
	"github.com/iliyamo/hotel-reservation/internal/service"
)

// errorStatus maps a service error to its HTTP status and machine-readable
// error string.  Anything unrecognised is a 500.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, repository.ErrValueTooLong):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrAvailabilityConflict):
		return http.StatusConflict, "availability_conflict"
	case errors.Is(err, service.ErrInventoryExhausted):
		return http.StatusConflict, "inventory_exhausted"
	case errors.Is(err, service.ErrUnknownItem):
		return http.StatusNotFound, "unknown_item"
	case errors.Is(err, service.ErrUnknownPurchase):
		return http.StatusNotFound, "unknown_purchase"
	case errors.Is(err, service.ErrUnknownBooking):
		return http.StatusNotFound, "unknown_booking"
	case errors.Is(err, service.ErrUnknownTicket):
		return http.StatusNotFound, "unknown_ticket"
	case errors.Is(err, service.ErrPurchaseFailed):
		return http.StatusConflict, "purchase_failed"
	case errors.Is(err, service.ErrPurchaseCompleted):
		return http.StatusConflict, "purchase_completed"
	case errors.Is(err, service.ErrPurchaseNotCompleted):
		return http.StatusConflict, "purchase_not_completed"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, service.ErrTransientStore):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail writes the JSON error response for err.  The error text is only
// exposed for client errors.
func fail(c echo.Context, err error) error {
	status, code := errorStatus(err)
	body := echo.Map{"error": code}
	if status < 500 {
		body["message"] = err.Error()
	} else {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}
