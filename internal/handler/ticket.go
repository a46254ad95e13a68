package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/middleware"
	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/service"
)

// maxAccessWait bounds the ?wait= parameter of the access link.
const maxAccessWait = 30 * time.Second

// TicketHandler serves gate validation and the guest access link.
type TicketHandler struct {
	Validation *service.ValidationService
	Payments   *service.PaymentService
}

func NewTicketHandler(v *service.ValidationService, p *service.PaymentService) *TicketHandler {
	if v == nil || p == nil {
		panic("nil service passed to NewTicketHandler")
	}
	return &TicketHandler{Validation: v, Payments: p}
}

type validateRequest struct {
	Code              string `json:"code" validate:"required,max=64"`
	ValidatorIdentity string `json:"validator_identity" validate:"omitempty,max=128"`
}

type validateResponse struct {
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
	Ticket  *ticketView     `json:"ticket,omitempty"`
	Event   *ticketTypeView `json:"event,omitempty"`
}

// validatorIdentity resolves who is scanning: the token subject, or the body
// field when the route runs without authentication.
func validatorIdentity(c echo.Context, fallback string) string {
	if id := middleware.StaffID(c); id != "" {
		return id
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return "anonymous"
}

// Validate handles POST /v1/tickets/validate.  A rejected ticket is still
// a 200 with success=false and the rejection reason; only infrastructure
// failures produce error statuses.
func (h *TicketHandler) Validate(c echo.Context) error {
	var body validateRequest
	if err := bindAndValidate(c, &body); err != nil {
		return badRequest(c, err.Error())
	}
	res, err := h.Validation.Validate(c.Request().Context(), body.Code, validatorIdentity(c, body.ValidatorIdentity))
	if err == nil {
		tv := newTicketView(res.Ticket)
		return c.JSON(http.StatusOK, validateResponse{Success: true, Ticket: &tv, Event: newTicketTypeView(res.TicketType)})
	}

	outcome := service.OutcomeOf(err)
	if outcome == model.OutcomeError {
		return fail(c, err)
	}
	out := validateResponse{Reason: string(outcome)}
	// a duplicate shows the ticket as it was consumed, with used_at and used_by
	var dup *service.DuplicateValidationError
	if errors.As(err, &dup) && dup.Ticket != nil {
		tv := newTicketView(dup.Ticket)
		out.Ticket = &tv
	}
	return c.JSON(http.StatusOK, out)
}

// ValidateAll handles POST /v1/purchases/:id/validate-all.
func (h *TicketHandler) ValidateAll(c echo.Context) error {
	var body struct {
		ValidatorIdentity string `json:"validator_identity" validate:"omitempty,max=128"`
	}
	// the body is optional
	if c.Request().ContentLength > 0 {
		if err := bindAndValidate(c, &body); err != nil {
			return badRequest(c, err.Error())
		}
	}
	res, err := h.Validation.ValidateAll(c.Request().Context(), c.Param("id"), validatorIdentity(c, body.ValidatorIdentity))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// History handles GET /v1/admin/tickets/:id/validations.
func (h *TicketHandler) History(c echo.Context) error {
	recs, err := h.Validation.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket_id": c.Param("id"), "validations": newRecordViews(recs)})
}

// AccessLink handles GET /t/:token, the link mailed to the guest.  With
// ?wait=<duration> it waits for a pending payment to settle first, so the
// confirmation page can show the tickets as soon as they exist.
func (h *TicketHandler) AccessLink(c echo.Context) error {
	ctx := c.Request().Context()
	view, err := h.Payments.ByAccessToken(ctx, c.Param("token"))
	if err != nil {
		return fail(c, err)
	}
	if w := c.QueryParam("wait"); w != "" && view.Purchase.PaymentStatus == model.PaymentPending {
		d, err := time.ParseDuration(w)
		if err != nil || d <= 0 {
			return badRequest(c, "wait must be a positive duration such as 5s")
		}
		if d > maxAccessWait {
			d = maxAccessWait
		}
		if _, err := h.Payments.WaitForCompletion(ctx, view.Purchase.ID, d); err != nil {
			return fail(c, err)
		}
		if view, err = h.Payments.View(ctx, view.Purchase.ID); err != nil {
			return fail(c, err)
		}
	}
	return c.JSON(http.StatusOK, newPurchaseView(view))
}
