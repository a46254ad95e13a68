package utils // package utils provides helpers for staff token creation

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// AccessToken represents a signed JWT access token along with its expiry.
// Staff scanners and the admin console send it in the Authorization header.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT for a staff member.  The
// subject is the staff identifier recorded as validator on every ticket
// the holder scans.  The JWT includes sub, role, exp and iat.
func NewAccessToken(secret, subject, role string, ttlMin int) (AccessToken, error) {
	if secret == "" || subject == "" {
		return AccessToken{}, errors.New("secret and subject are required")
	}
	if len(subject) > model.MaxStaffIDLen {
		return AccessToken{}, fmt.Errorf("subject longer than %d bytes", model.MaxStaffIDLen)
	}
	now := time.Now().UTC()
	exp := now.Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
