package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/service"
)

// PaymentHandler receives payment gateway callbacks.  The route is guarded
// by middleware.WebhookSecret.
type PaymentHandler struct {
	Payments *service.PaymentService
}

func NewPaymentHandler(p *service.PaymentService) *PaymentHandler {
	if p == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Payments: p}
}

type webhookRequest struct {
	PurchaseID string `json:"purchase_id" validate:"required,max=36"`
	Status     string `json:"status" validate:"required,oneof=completed failed"`
	Reference  string `json:"reference" validate:"omitempty,max=128"`
}

// Webhook handles POST /v1/payments/webhook.  Gateways retry deliveries, so
// both outcomes are idempotent: a repeated completion returns the tickets
// issued the first time.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	var body webhookRequest
	if err := bindAndValidate(c, &body); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()

	if body.Status == "failed" {
		p, err := h.Payments.Fail(ctx, body.PurchaseID, body.Reference)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"purchase_id": p.ID, "payment_status": p.PaymentStatus})
	}

	if _, _, err := h.Payments.Complete(ctx, body.PurchaseID, body.Reference); err != nil {
		return fail(c, err)
	}
	view, err := h.Payments.View(ctx, body.PurchaseID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, newPurchaseView(view))
}
