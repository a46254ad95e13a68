package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// WebhookHeader carries the shared secret of the payment gateway.
const WebhookHeader = "X-Webhook-Secret"

// WebhookSecret rejects requests whose X-Webhook-Secret header does not
// match secret.
func WebhookSecret(secret string) echo.MiddlewareFunc {
	want := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get(WebhookHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook secret"})
			}
			return next(c)
		}
	}
}
