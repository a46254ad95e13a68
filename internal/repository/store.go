package repository

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// Reader groups the plain lookups available both inside and outside a
// transaction.  Reads outside a transaction are advisory: by the time the
// caller acts on them the data may have changed.
type Reader interface {
	GetRoomType(ctx context.Context, id string) (*model.RoomType, error)
	ListRoomTypes(ctx context.Context) ([]model.RoomType, error)
	// CountOverlappingBookings counts capacity-holding bookings of the room
	// type whose stay intersects the half-open range [start, end).
	CountOverlappingBookings(ctx context.Context, roomTypeID string, start, end time.Time) (int, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)

	GetTicketType(ctx context.Context, id string) (*model.TicketType, error)
	GetPurchase(ctx context.Context, id string) (*model.TicketPurchase, error)
	GetPurchaseByAccessToken(ctx context.Context, token string) (*model.TicketPurchase, error)
	ListTicketsByPurchase(ctx context.Context, purchaseID string) ([]model.IndividualTicket, error)
	FindTicketByCode(ctx context.Context, code string) (*model.IndividualTicket, error)
	// TicketCodeExists reports whether code is already used as either a
	// ticket number or a QR token.
	TicketCodeExists(ctx context.Context, code string) (bool, error)
	ListValidationRecords(ctx context.Context, ticketID string) ([]model.ValidationRecord, error)
}

// Tx is a unit of work against the store.  Every mutation that guards
// inventory is either a row lock taken here or a conditional update whose
// boolean result tells the caller whether the guard held.
type Tx interface {
	Reader

	EnsureRoomType(ctx context.Context, rt model.RoomType) error
	// LockRoomType reads the room type and holds a write lock on it until
	// the transaction ends, serializing reservations of that type.
	LockRoomType(ctx context.Context, id string) (*model.RoomType, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	// UpdateBookingStatus moves a booking from one status to another.  It
	// returns false when the booking was not in the expected status.
	UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) (bool, error)

	EnsureTicketType(ctx context.Context, tt model.TicketType) error
	// DecrementTicketQuantity subtracts n from the available quantity only
	// if at least n remain.  It returns false when the guard failed.
	DecrementTicketQuantity(ctx context.Context, ticketTypeID string, n int) (bool, error)
	ReleaseTicketQuantity(ctx context.Context, ticketTypeID string, n int) error
	InsertPurchase(ctx context.Context, p *model.TicketPurchase) error
	// UpdatePaymentStatus compare-and-swaps the purchase's payment status.
	UpdatePaymentStatus(ctx context.Context, id string, from, to model.PaymentStatus, ref *string, at time.Time) (bool, error)
	// ListExpiredHolds returns pending purchases whose hold ended at or
	// before now, locked for update.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.TicketPurchase, error)

	InsertTickets(ctx context.Context, tickets []model.IndividualTicket) error
	// LockTicketByCode finds a ticket by ticket number or QR token and
	// locks it until the transaction ends.
	LockTicketByCode(ctx context.Context, code string) (*model.IndividualTicket, error)
	LockTicket(ctx context.Context, id string) (*model.IndividualTicket, error)
	// MarkTicketUsed flips an unused ticket to used.  It returns false if
	// the ticket was no longer unused.
	MarkTicketUsed(ctx context.Context, id string, at time.Time, by string) (bool, error)
	InsertValidationRecord(ctx context.Context, rec *model.ValidationRecord) error
}

// Store is the inventory store.  WithTx runs fn inside one atomic
// transaction: if fn returns an error nothing it did is kept.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// NormalizeCode canonicalizes a scanned or typed code.  Codes are stored
// upper case; scanners and humans are not always so careful.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
