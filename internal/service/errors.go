package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// Errors returned by the services.  Handlers map them to HTTP responses in
// one place (handler/respond.go); callers compare with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAvailabilityConflict is returned when a room type has no capacity
	// left for the requested stay.
	ErrAvailabilityConflict = errors.New("availability conflict")
	// ErrInventoryExhausted is returned when the conditional ticket
	// decrement found fewer tickets than requested.
	ErrInventoryExhausted = errors.New("inventory exhausted")
	ErrUnknownItem        = errors.New("unknown room or ticket type")

	ErrUnknownPurchase      = errors.New("unknown purchase")
	ErrPurchaseFailed       = errors.New("purchase payment failed")
	ErrPurchaseCompleted    = errors.New("purchase already completed")
	ErrPurchaseNotCompleted = errors.New("purchase payment not completed")
	ErrCodeSpaceExhausted   = errors.New("could not allocate a unique ticket code")

	ErrUnknownTicket       = errors.New("unknown ticket")
	ErrDuplicateValidation = errors.New("ticket already validated")
	ErrExpiredTicket       = errors.New("ticket expired")
	ErrTicketTransferred   = errors.New("ticket transferred")

	ErrUnknownBooking    = errors.New("unknown booking")
	ErrInvalidTransition = errors.New("invalid booking status transition")

	// ErrTransientStore wraps the last store error once retries ran out.
	ErrTransientStore = errors.New("store temporarily unavailable")
)

// DuplicateValidationError carries who consumed the ticket and when, so the
// operator at the gate can tell a second scan from a forged code.
type DuplicateValidationError struct {
	TicketID string
	UsedAt   time.Time
	UsedBy   string
	Ticket   *model.IndividualTicket
}

func (e *DuplicateValidationError) Error() string {
	return fmt.Sprintf("ticket %s already validated at %s by %s",
		e.TicketID, e.UsedAt.UTC().Format(time.RFC3339), e.UsedBy)
}

func (e *DuplicateValidationError) Unwrap() error { return ErrDuplicateValidation }
