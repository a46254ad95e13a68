package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-reservation/internal/config"
	"github.com/iliyamo/hotel-reservation/internal/handler"
	"github.com/iliyamo/hotel-reservation/internal/middleware"
	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/repository"
	"github.com/iliyamo/hotel-reservation/internal/router"
	"github.com/iliyamo/hotel-reservation/internal/service"
	"github.com/iliyamo/hotel-reservation/internal/utils"
	"github.com/iliyamo/hotel-reservation/internal/websocket"
)

const (
	jwtSecret     = "jwt-secret"
	webhookSecret = "hook-secret"
)

type api struct {
	e *echo.Echo
	t *testing.T
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, repository.Seed(context.Background(), store,
		[]model.RoomType{{ID: "royal_suite", Name: "Royal Suite", TotalCapacity: 1}},
		[]model.TicketType{{ID: "gala", Name: "Gala", PriceCents: 5000, TotalQuantity: 10, AvailableQuantity: 10}},
	))

	cfg := config.ReservationConfig{
		HoldTTL:               15 * time.Minute,
		ValidationGrace:       6 * time.Hour,
		MaxTicketsPerPurchase: 20,
		CodeMaxAttempts:       5,
		RetryAttempts:         2,
		RetryBase:             time.Millisecond,
	}
	retry := service.RetryPolicy{Attempts: 2, Base: time.Millisecond}
	hub := websocket.NewHub()
	issuer := service.NewIssuer(store, service.NewCodeGenerator("code-secret"), cfg.CodeMaxAttempts)
	reservations := service.NewReservationService(store, cfg, nil)
	payments := service.NewPaymentService(store, issuer, retry, nil)
	validation := service.NewValidationService(store, cfg.ValidationGrace, retry, hub)

	rh := handler.NewReservationHandler(reservations, service.NewAvailabilityChecker(store))
	th := handler.NewTicketHandler(validation, payments)

	e := echo.New()
	e.Validator = handler.NewRequestValidator()
	router.RegisterRoutes(e, nil)
	router.RegisterPublic(e, rh, th, router.Guards{})
	router.RegisterPayments(e, handler.NewPaymentHandler(payments), webhookSecret)
	router.RegisterGate(e, th, jwtSecret, true, router.Guards{})
	router.RegisterAdmin(e, handler.NewAdminHandler(service.NewBookingAdmin(store, retry), reservations, hub), th, jwtSecret)
	return &api{e: e, t: t}
}

func (a *api) token(subject, role string) string {
	tok, err := utils.NewAccessToken(jwtSecret, subject, role, 5)
	require.NoError(a.t, err)
	return tok.Token
}

// do sends body as JSON and decodes the JSON response.
func (a *api) do(method, path string, body any, headers map[string]string) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get(echo.HeaderContentType) != echo.MIMETextPlainCharsetUTF8 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func bearer(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }

func roomBody(in, out string) map[string]any {
	return map[string]any{
		"kind": "room", "item_id": "royal_suite", "check_in": in, "check_out": out,
		"guest_name": "Ada Guest", "guest_email": "ada@example.com",
	}
}

func withField(body map[string]any, key string, value any) map[string]any {
	body[key] = value
	return body
}

// buyTickets reserves and pays for qty gala tickets and returns the access
// link payload.
func (a *api) buyTickets(qty int) map[string]any {
	a.t.Helper()
	code, res := a.do(http.MethodPost, "/v1/reservations", map[string]any{
		"kind": "ticket", "item_id": "gala", "quantity": qty,
		"guest_name": "Ada Guest", "guest_email": "ada@example.com",
	}, nil)
	require.Equal(a.t, http.StatusCreated, code)
	require.Equal(a.t, "pending", res["status"])

	code, _ = a.do(http.MethodPost, "/v1/payments/webhook",
		map[string]any{"purchase_id": res["id"], "status": "completed", "reference": "pay_1"},
		map[string]string{middleware.WebhookHeader: webhookSecret})
	require.Equal(a.t, http.StatusOK, code)

	code, view := a.do(http.MethodGet, "/t/"+res["access_token"].(string), nil, nil)
	require.Equal(a.t, http.StatusOK, code)
	return view
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRoomReservationConflict(t *testing.T) {
	a := newAPI(t)

	code, res := a.do(http.MethodPost, "/v1/reservations", roomBody("2025-06-01", "2025-06-03"), nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "room", res["kind"])
	assert.Equal(t, "pending", res["status"])
	assert.NotEmpty(t, res["id"])
	assert.NotContains(t, res, "access_token")

	code, res = a.do(http.MethodPost, "/v1/reservations", roomBody("2025-06-02", "2025-06-04"), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "availability_conflict", res["error"])

	// checkout day is free again
	code, _ = a.do(http.MethodPost, "/v1/reservations", roomBody("2025-06-03", "2025-06-04"), nil)
	assert.Equal(t, http.StatusCreated, code)
}

func TestReservationRejectsBadInput(t *testing.T) {
	a := newAPI(t)
	cases := map[string]map[string]any{
		"unknown kind":   {"kind": "spa", "item_id": "x", "guest_name": "A", "guest_email": "a@example.com"},
		"bad email":      {"kind": "room", "item_id": "royal_suite", "check_in": "2025-06-01", "check_out": "2025-06-02", "guest_name": "A", "guest_email": "nope"},
		"reversed stay":  roomBody("2025-06-05", "2025-06-01"),
		"missing dates":  {"kind": "room", "item_id": "royal_suite", "guest_name": "A", "guest_email": "a@example.com"},
		"zero quantity":  {"kind": "ticket", "item_id": "gala", "guest_name": "A", "guest_email": "a@example.com"},
		"too many":       {"kind": "ticket", "item_id": "gala", "quantity": 50, "guest_name": "A", "guest_email": "a@example.com"},
		"malformed date": roomBody("06/01/2025", "2025-06-02"),
		"name too long":  withField(roomBody("2025-06-01", "2025-06-02"), "guest_name", strings.Repeat("a", 200)),
		"phone too long": withField(roomBody("2025-06-01", "2025-06-02"), "guest_phone", strings.Repeat("5", 60)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, res := a.do(http.MethodPost, "/v1/reservations", body, nil)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "invalid_request", res["error"])
		})
	}

	code, res := a.do(http.MethodPost, "/v1/reservations", map[string]any{
		"kind": "room", "item_id": "penthouse", "check_in": "2025-06-01", "check_out": "2025-06-02",
		"guest_name": "A", "guest_email": "a@example.com",
	}, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_item", res["error"])
}

func TestTicketInventoryExhausted(t *testing.T) {
	a := newAPI(t)
	body := map[string]any{"kind": "ticket", "item_id": "gala", "quantity": 8, "guest_name": "A", "guest_email": "a@example.com"}
	code, _ := a.do(http.MethodPost, "/v1/reservations", body, nil)
	require.Equal(t, http.StatusCreated, code)

	body["quantity"] = 3
	code, res := a.do(http.MethodPost, "/v1/reservations", body, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "inventory_exhausted", res["error"])

	code, res = a.do(http.MethodGet, "/v1/ticket-types/gala/availability?quantity=2", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["available"])
	assert.EqualValues(t, 2, res["remaining"])
}

func TestWebhookRequiresSecret(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodPost, "/v1/payments/webhook",
		map[string]any{"purchase_id": "x", "status": "completed"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, res := a.do(http.MethodPost, "/v1/payments/webhook",
		map[string]any{"purchase_id": "missing", "status": "completed"},
		map[string]string{middleware.WebhookHeader: webhookSecret})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_purchase", res["error"])
}

func TestWebhookRejectsOversizedReference(t *testing.T) {
	a := newAPI(t)
	code, res := a.do(http.MethodPost, "/v1/reservations", map[string]any{
		"kind": "ticket", "item_id": "gala", "quantity": 1,
		"guest_name": "Ada Guest", "guest_email": "ada@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, code)
	hook := map[string]string{middleware.WebhookHeader: webhookSecret}

	code, body := a.do(http.MethodPost, "/v1/payments/webhook",
		map[string]any{"purchase_id": res["id"], "status": "completed", "reference": strings.Repeat("r", 200)}, hook)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	// a reference that fits the column still completes the purchase
	code, body = a.do(http.MethodPost, "/v1/payments/webhook",
		map[string]any{"purchase_id": res["id"], "status": "completed", "reference": strings.Repeat("r", 128)}, hook)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", body["payment_status"])
}

func TestSearchRooms(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodPost, "/v1/reservations", roomBody("2025-06-01", "2025-06-03"), nil)
	require.Equal(t, http.StatusCreated, code)

	code, res := a.do(http.MethodGet, "/v1/rooms?start=2025-06-02&end=2025-06-04", nil, nil)
	require.Equal(t, http.StatusOK, code)
	rooms := res["rooms"].([]any)
	require.Len(t, rooms, 1)
	room := rooms[0].(map[string]any)
	assert.Equal(t, "royal_suite", room["room_type_id"])
	assert.Equal(t, false, room["availability"].(map[string]any)["available"])

	code, _ = a.do(http.MethodGet, "/v1/rooms?start=2025-06-02", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAccessLinkListsIssuedTickets(t *testing.T) {
	a := newAPI(t)
	view := a.buyTickets(3)
	assert.Equal(t, "completed", view["payment_status"])
	tickets := view["tickets"].([]any)
	require.Len(t, tickets, 3)
	first := tickets[0].(map[string]any)
	assert.Regexp(t, `^TKT-[A-Z0-9]{8}$`, first["ticket_number"])
	assert.Regexp(t, `^QR-[A-Z0-9]{8}$`, first["qr_token"])
	assert.Equal(t, "unused", first["status"])

	code, res := a.do(http.MethodGet, "/t/not-a-token", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_purchase", res["error"])
}

func TestValidateTicketOnce(t *testing.T) {
	a := newAPI(t)
	view := a.buyTickets(1)
	ticket := view["tickets"].([]any)[0].(map[string]any)
	gate := bearer(a.token("gate-1", middleware.RoleValidator))

	code, res := a.do(http.MethodPost, "/v1/tickets/validate", map[string]any{"code": ticket["qr_token"]}, gate)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "used", res["ticket"].(map[string]any)["status"])
	assert.Equal(t, "gate-1", res["ticket"].(map[string]any)["used_by"])

	code, res = a.do(http.MethodPost, "/v1/tickets/validate", map[string]any{"code": ticket["ticket_number"]}, gate)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "duplicate_validation", res["reason"])
	assert.NotContains(t, res, "used_by")
	used := res["ticket"].(map[string]any)
	assert.Equal(t, ticket["id"], used["id"])
	assert.Equal(t, "used", used["status"])
	assert.Equal(t, "gate-1", used["used_by"])
	assert.NotEmpty(t, used["used_at"])

	code, res = a.do(http.MethodPost, "/v1/tickets/validate", map[string]any{"code": "QR-NOPE0000"}, gate)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "unknown_ticket", res["reason"])

	admin := bearer(a.token("root", middleware.RoleAdmin))
	code, res = a.do(http.MethodGet, "/v1/admin/tickets/"+ticket["id"].(string)+"/validations", nil, admin)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res["validations"], 2)
}

func TestValidateRequiresStaffToken(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodPost, "/v1/tickets/validate", map[string]any{"code": "QR-ABCDEFGH"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(http.MethodPost, "/v1/tickets/validate", map[string]any{"code": "QR-ABCDEFGH"},
		bearer(a.token("guest", "GUEST")))
	assert.Equal(t, http.StatusForbidden, code)
}

func TestValidateAll(t *testing.T) {
	a := newAPI(t)
	view := a.buyTickets(2)
	gate := bearer(a.token("gate-2", middleware.RoleValidator))

	code, res := a.do(http.MethodPost, "/v1/purchases/"+view["id"].(string)+"/validate-all", nil, gate)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["success"])
	assert.Len(t, res["results"], 2)

	code, res = a.do(http.MethodPost, "/v1/purchases/"+view["id"].(string)+"/validate-all", nil, gate)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, res["success"])
}

func TestAdminBookingLifecycle(t *testing.T) {
	a := newAPI(t)
	_, res := a.do(http.MethodPost, "/v1/reservations", roomBody("2025-07-01", "2025-07-02"), nil)
	id := res["id"].(string)
	admin := bearer(a.token("root", middleware.RoleAdmin))

	code, res := a.do(http.MethodPatch, "/v1/admin/bookings/"+id+"/status", map[string]any{"status": "confirmed"}, admin)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", res["status"])

	code, res = a.do(http.MethodPatch, "/v1/admin/bookings/"+id+"/status", map[string]any{"status": "pending"}, admin)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", res["error"])

	code, _ = a.do(http.MethodPatch, "/v1/admin/bookings/"+id+"/status", map[string]any{"status": "deleted"}, admin)
	require.Equal(t, http.StatusOK, code)
	code, res = a.do(http.MethodGet, "/v1/admin/bookings/"+id, nil, admin)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "deleted", res["status"])
	assert.NotEmpty(t, res["deleted_at"])

	// the deleted booking no longer holds the suite
	code, _ = a.do(http.MethodPost, "/v1/reservations", roomBody("2025-07-01", "2025-07-02"), nil)
	assert.Equal(t, http.StatusCreated, code)

	code, _ = a.do(http.MethodGet, "/v1/admin/bookings/"+id, nil, bearer(a.token("gate-1", middleware.RoleValidator)))
	assert.Equal(t, http.StatusForbidden, code)
}
