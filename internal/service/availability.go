package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// Availability is the answer to "can this be booked right now".
type Availability struct {
	Available bool `json:"available"`
	Remaining int  `json:"remaining"`
	Capacity  int  `json:"capacity"`
}

// AvailabilityChecker answers availability questions outside a
// transaction.  Its answers are hints for the booking forms only: by the
// time a reservation is submitted they may be stale, which is why
// ReservationService re-runs the same predicate under a lock.
type AvailabilityChecker struct {
	store repository.Reader
}

func NewAvailabilityChecker(store repository.Reader) *AvailabilityChecker {
	return &AvailabilityChecker{store: store}
}

// Room reports how many rooms of the type are free for the whole stay
// [start, end).
func (a *AvailabilityChecker) Room(ctx context.Context, roomTypeID string, start, end time.Time) (Availability, error) {
	start, end, err := stayRange(start, end)
	if err != nil {
		return Availability{}, err
	}
	rt, err := a.store.GetRoomType(ctx, roomTypeID)
	if err != nil {
		return Availability{}, lookupErr(err, ErrUnknownItem, roomTypeID)
	}
	return roomAvailability(ctx, a.store, rt, start, end)
}

// RoomOption is one room type with its availability for a stay.
type RoomOption struct {
	RoomTypeID   string       `json:"room_type_id"`
	Name         string       `json:"name"`
	Availability Availability `json:"availability"`
}

// Rooms lists every room type with its availability for [start, end), for
// the search step of the booking form.
func (a *AvailabilityChecker) Rooms(ctx context.Context, start, end time.Time) ([]RoomOption, error) {
	start, end, err := stayRange(start, end)
	if err != nil {
		return nil, err
	}
	rts, err := a.store.ListRoomTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoomOption, 0, len(rts))
	for i := range rts {
		av, err := roomAvailability(ctx, a.store, &rts[i], start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomOption{RoomTypeID: rts[i].ID, Name: rts[i].Name, Availability: av})
	}
	return out, nil
}

// Tickets reports whether quantity tickets of the type can still be bought.
func (a *AvailabilityChecker) Tickets(ctx context.Context, ticketTypeID string, quantity int) (Availability, error) {
	if quantity < 1 {
		quantity = 1
	}
	tt, err := a.store.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return Availability{}, lookupErr(err, ErrUnknownItem, ticketTypeID)
	}
	return Availability{
		Available: tt.AvailableQuantity >= quantity,
		Remaining: tt.AvailableQuantity,
		Capacity:  tt.TotalQuantity,
	}, nil
}

// roomAvailability counts capacity-holding bookings overlapping [start,
// end).  Run inside a transaction after LockRoomType it is authoritative.
func roomAvailability(ctx context.Context, r repository.Reader, rt *model.RoomType, start, end time.Time) (Availability, error) {
	overlaps, err := r.CountOverlappingBookings(ctx, rt.ID, start, end)
	if err != nil {
		return Availability{}, err
	}
	remaining := rt.TotalCapacity - overlaps
	if remaining < 0 {
		remaining = 0
	}
	return Availability{Available: remaining >= 1, Remaining: remaining, Capacity: rt.TotalCapacity}, nil
}

// stayRange normalizes a stay to whole UTC days and rejects empty or
// inverted ranges.
func stayRange(start, end time.Time) (time.Time, time.Time, error) {
	if start.IsZero() || end.IsZero() {
		return start, end, fmt.Errorf("%w: start and end dates are required", ErrInvalidRequest)
	}
	start, end = dateOnly(start), dateOnly(end)
	if !end.After(start) {
		return start, end, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}
	return start, end, nil
}

// lookupErr turns repository.ErrNotFound into the service error kind.
func lookupErr(err, notFound error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return err
}
