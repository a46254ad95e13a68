package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// bookingTransitions lists the administrative moves allowed from each
// status.  Any status except deleted may additionally move to deleted.
// Cancelled and deleted bookings have released their room; bringing one
// back would bypass the capacity check, so a new reservation is needed.
var bookingTransitions = map[model.BookingStatus][]model.BookingStatus{
	model.BookingPending:   {model.BookingConfirmed, model.BookingCancelled},
	model.BookingConfirmed: {model.BookingCheckedIn, model.BookingCancelled},
	model.BookingCheckedIn: {model.BookingCompleted},
}

// CanTransition reports whether an administrator may move a booking from
// one status to another.
func CanTransition(from, to model.BookingStatus) bool {
	if to == model.BookingDeleted {
		return from != model.BookingDeleted
	}
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BookingAdmin is the administrative status path for room bookings.
type BookingAdmin struct {
	store repository.Store
	retry RetryPolicy
	now   Clock
}

func NewBookingAdmin(store repository.Store, retry RetryPolicy) *BookingAdmin {
	return &BookingAdmin{store: store, retry: retry, now: utcNow}
}

// UpdateStatus moves a booking to status to.  Moving to deleted stamps
// DeletedAt; the row itself is kept.
func (a *BookingAdmin) UpdateStatus(ctx context.Context, id string, to model.BookingStatus) (*model.Booking, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}
	var (
		updated *model.Booking
		from    model.BookingStatus
	)
	err := a.retry.Do(ctx, "update booking status", func(ctx context.Context) error {
		return a.store.WithTx(ctx, func(tx repository.Tx) error {
			b, err := tx.GetBooking(ctx, id)
			if err != nil {
				return lookupErr(err, ErrUnknownBooking, id)
			}
			from = b.Status
			if !CanTransition(b.Status, to) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
			}
			ok, err := tx.UpdateBookingStatus(ctx, id, b.Status, to, a.now())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
			}
			updated, err = tx.GetBooking(ctx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("booking_id", id).Str("from", string(from)).Str("to", string(to)).Msg("booking status updated")
	return updated, nil
}
