package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// Context keys set by JWTAuth.
const (
	CtxStaffID = "staff_id"
	CtxRole    = "role"
)

// StaffTokenParam is the query parameter WebsocketJWTAuth reads the token
// from.  It is not accepted on any other route.
const StaffTokenParam = "staff_token"

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid token")
	errInvalidClaims = errors.New("invalid claims")
)

// JWTAuth returns an Echo middleware that validates a Bearer staff token and
// injects the token's subject and role claims into the request context.
// The secret must match the one cmd/issuetoken signs with.  Handlers read
// the authenticated staff member through StaffID.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return jwtAuth(secret, false)
}

// WebsocketJWTAuth is JWTAuth for websocket upgrades.  Browsers cannot set
// headers on the upgrade request, so the token may also come in the
// staff_token query parameter.
func WebsocketJWTAuth(secret string) echo.MiddlewareFunc {
	return jwtAuth(secret, true)
}

func jwtAuth(secret string, fromQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := authenticate(c, secret, fromQuery); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// OptionalJWTAuth authenticates the request when it carries an
// Authorization header and lets anonymous requests through.  A header that
// is present but invalid is still rejected.
func OptionalJWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" {
				return next(c)
			}
			if err := authenticate(c, secret, false); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

func authenticate(c echo.Context, secret string, fromQuery bool) error {
	// A valid header starts with "Bearer " followed by the JWT.
	var raw string
	if fromQuery {
		raw = c.QueryParam(StaffTokenParam)
	}
	if auth := c.Request().Header.Get("Authorization"); auth != "" {
		if !strings.HasPrefix(auth, "Bearer ") {
			return errMissingToken
		}
		raw = strings.TrimPrefix(auth, "Bearer ")
	}
	if raw == "" {
		return errMissingToken
	}

	// Only HMAC signatures are accepted; anything else is rejected before
	// the key is handed out.
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return errInvalidToken
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return errInvalidClaims
	}
	sub, _ := claims.GetSubject()
	if sub == "" || len(sub) > model.MaxStaffIDLen {
		return errInvalidClaims
	}
	c.Set("user", tok)
	c.Set(CtxStaffID, sub)
	c.Set(CtxRole, claims["role"])
	return nil
}

// StaffID returns the authenticated staff member, or "" when the request
// carried no valid token.
func StaffID(c echo.Context) string {
	s, _ := c.Get(CtxStaffID).(string)
	return s
}
