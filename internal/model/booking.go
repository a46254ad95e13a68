package model

import "time"

// RoomType is a bookable category of room.  The set of room types and their
// capacity is static configuration seeded at startup.
//
// Fields:
//
//	ID            – slug identifier (e.g. "royal_suite").
//	Name          – display name.
//	TotalCapacity – number of physical rooms of this type.
type RoomType struct {
	ID            string // room_types.id
	Name          string // room_types.name
	TotalCapacity int    // room_types.total_capacity
}

// BookingStatus is the lifecycle state of a room booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCheckedIn BookingStatus = "checked-in"
	BookingCompleted BookingStatus = "completed"
	BookingDeleted   BookingStatus = "deleted"
)

// HoldsCapacity reports whether a booking in this status occupies a room.
// Cancelled and deleted bookings release their capacity immediately.
func (s BookingStatus) HoldsCapacity() bool {
	return s != BookingCancelled && s != BookingDeleted
}

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCheckedIn, BookingCompleted, BookingDeleted:
		return true
	}
	return false
}

// Widths of the free-text columns.  Longer values are rejected before they
// reach the store.
const (
	MaxGuestNameLen  = 128
	MaxGuestEmailLen = 255
	MaxGuestPhoneLen = 32
	MaxPaymentRefLen = 128
	MaxStaffIDLen    = 128 // validator identities and token subjects
)

// GuestInfo carries the contact details captured by the booking forms.
type GuestInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Booking reserves one room of a RoomType for the half-open stay
// [CheckIn, CheckOut).  The checkout day is free for the next guest.
// Bookings are never physically removed; DeletedAt is stamped when the
// status becomes deleted.
type Booking struct {
	ID         string        // bookings.id (uuid)
	RoomTypeID string        // bookings.room_type_id
	CheckIn    time.Time     // bookings.check_in (inclusive, UTC midnight)
	CheckOut   time.Time     // bookings.check_out (exclusive, UTC midnight)
	Status     BookingStatus // bookings.status
	Guest      GuestInfo     // bookings.guest_name / guest_email / guest_phone
	CreatedAt  time.Time     // bookings.created_at
	UpdatedAt  time.Time     // bookings.updated_at
	DeletedAt  *time.Time    // bookings.deleted_at (nullable)
}

// Overlaps reports whether the booking's stay intersects [start, end).
func (b Booking) Overlaps(start, end time.Time) bool {
	return b.CheckIn.Before(end) && b.CheckOut.After(start)
}
