package service

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Notifier receives domain events after their transaction committed.
// Implementations must not block the caller; delivery failures are theirs
// to log and never undo the committed change.
type Notifier interface {
	Notify(eventType string, payload any)
}

// NopNotifier drops every event.  Used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(string, any) {}

// Clock returns the current time.  Services take one so tests can pin it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// randomToken returns a hex encoded string of n random bytes.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// dateOnly truncates t to midnight UTC of its calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
