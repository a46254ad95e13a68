package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/config"
	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/queue"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// Kind selects what a reservation request books.
type Kind string

const (
	KindRoom   Kind = "room"
	KindTicket Kind = "ticket"
)

// ReservationRequest is a booking form submission.  Rooms use Start/End,
// tickets use Quantity.
type ReservationRequest struct {
	Kind     Kind
	ItemID   string
	Start    time.Time
	End      time.Time
	Quantity int
	Guest    model.GuestInfo
}

// ReservationResult holds exactly one of Booking or Purchase.
type ReservationResult struct {
	Kind     Kind
	Booking  *model.Booking
	Purchase *model.TicketPurchase
}

// ID returns the identifier of the created record.
func (r *ReservationResult) ID() string {
	if r.Booking != nil {
		return r.Booking.ID
	}
	return r.Purchase.ID
}

// Status returns the booking status or the purchase payment status.
func (r *ReservationResult) Status() string {
	if r.Booking != nil {
		return string(r.Booking.Status)
	}
	return string(r.Purchase.PaymentStatus)
}

// ReservationService commits bookings and ticket purchases.  Each request
// runs its availability check and its write in a single transaction, so
// concurrent requests for the last unit cannot both succeed.
type ReservationService struct {
	store    repository.Store
	cfg      config.ReservationConfig
	retry    RetryPolicy
	notifier Notifier
	now      Clock
}

func NewReservationService(store repository.Store, cfg config.ReservationConfig, notifier Notifier) *ReservationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ReservationService{
		store:    store,
		cfg:      cfg,
		retry:    RetryPolicy{Attempts: cfg.RetryAttempts, Base: cfg.RetryBase, Max: time.Second},
		notifier: notifier,
		now:      utcNow,
	}
}

// Reserve validates req and commits it.  Capacity problems come back as
// ErrAvailabilityConflict (rooms) or ErrInventoryExhausted (tickets) and are
// never retried; transient store failures are retried with backoff.
func (s *ReservationService) Reserve(ctx context.Context, req ReservationRequest) (*ReservationResult, error) {
	if err := checkGuest(req.Guest); err != nil {
		return nil, err
	}
	switch req.Kind {
	case KindRoom:
		b, err := s.reserveRoom(ctx, req)
		if err != nil {
			return nil, err
		}
		return &ReservationResult{Kind: KindRoom, Booking: b}, nil
	case KindTicket:
		p, err := s.reserveTickets(ctx, req)
		if err != nil {
			return nil, err
		}
		return &ReservationResult{Kind: KindTicket, Purchase: p}, nil
	}
	return nil, fmt.Errorf("%w: unknown reservation type %q", ErrInvalidRequest, req.Kind)
}

func (s *ReservationService) reserveRoom(ctx context.Context, req ReservationRequest) (*model.Booking, error) {
	start, end, err := stayRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	var booking *model.Booking
	err = s.retry.Do(ctx, "reserve room", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			rt, err := tx.LockRoomType(ctx, req.ItemID)
			if err != nil {
				return lookupErr(err, ErrUnknownItem, req.ItemID)
			}
			avail, err := roomAvailability(ctx, tx, rt, start, end)
			if err != nil {
				return err
			}
			if !avail.Available {
				return fmt.Errorf("%w: %s is fully booked for %s to %s", ErrAvailabilityConflict,
					rt.ID, start.Format(time.DateOnly), end.Format(time.DateOnly))
			}
			now := s.now()
			b := &model.Booking{
				ID:         uuid.NewString(),
				RoomTypeID: rt.ID,
				CheckIn:    start,
				CheckOut:   end,
				Status:     model.BookingPending,
				Guest:      req.Guest,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("booking_id", booking.ID).Str("room_type", booking.RoomTypeID).
		Time("check_in", booking.CheckIn).Time("check_out", booking.CheckOut).Msg("room reserved")
	s.notifier.Notify(queue.EventReservationCreated, queue.ReservationCreatedEvent{
		Kind:       string(KindRoom),
		ID:         booking.ID,
		ItemID:     booking.RoomTypeID,
		Status:     string(booking.Status),
		GuestName:  booking.Guest.Name,
		GuestEmail: booking.Guest.Email,
		GuestPhone: booking.Guest.Phone,
		Start:      booking.CheckIn.Format(time.DateOnly),
		End:        booking.CheckOut.Format(time.DateOnly),
	})
	return booking, nil
}

func (s *ReservationService) reserveTickets(ctx context.Context, req ReservationRequest) (*model.TicketPurchase, error) {
	if req.Quantity < 1 || req.Quantity > s.cfg.MaxTicketsPerPurchase {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxTicketsPerPurchase)
	}
	var purchase *model.TicketPurchase
	err := s.retry.Do(ctx, "reserve tickets", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			tt, err := tx.GetTicketType(ctx, req.ItemID)
			if err != nil {
				return lookupErr(err, ErrUnknownItem, req.ItemID)
			}
			ok, err := tx.DecrementTicketQuantity(ctx, tt.ID, req.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: fewer than %d %s tickets left", ErrInventoryExhausted, req.Quantity, tt.ID)
			}
			token, err := randomToken(32)
			if err != nil {
				return fmt.Errorf("access token: %w", err)
			}
			now := s.now()
			p := &model.TicketPurchase{
				ID:               uuid.NewString(),
				TicketTypeID:     tt.ID,
				Quantity:         req.Quantity,
				TotalAmountCents: tt.PriceCents * int64(req.Quantity),
				PaymentStatus:    model.PaymentPending,
				AccessToken:      token,
				Guest:            req.Guest,
				HoldExpiresAt:    now.Add(s.cfg.HoldTTL),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.InsertPurchase(ctx, p); err != nil {
				if errors.Is(err, repository.ErrDuplicateKey) {
					// access token collision; let the retry loop draw a new one
					return fmt.Errorf("%w: %w", repository.ErrTransient, err)
				}
				return err
			}
			purchase = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("purchase_id", purchase.ID).Str("ticket_type", purchase.TicketTypeID).
		Int("quantity", purchase.Quantity).Time("hold_expires_at", purchase.HoldExpiresAt).Msg("tickets held")
	s.notifier.Notify(queue.EventReservationCreated, queue.ReservationCreatedEvent{
		Kind:        string(KindTicket),
		ID:          purchase.ID,
		ItemID:      purchase.TicketTypeID,
		Status:      string(purchase.PaymentStatus),
		GuestName:   purchase.Guest.Name,
		GuestEmail:  purchase.Guest.Email,
		GuestPhone:  purchase.Guest.Phone,
		Quantity:    purchase.Quantity,
		AmountCents: purchase.TotalAmountCents,
		AccessToken: purchase.AccessToken,
	})
	return purchase, nil
}

// Booking returns a booking by ID.
func (s *ReservationService) Booking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, lookupErr(err, ErrUnknownBooking, id)
	}
	return b, nil
}

// checkGuest rejects contact details that do not fit their columns.
func checkGuest(g model.GuestInfo) error {
	switch {
	case strings.TrimSpace(g.Name) == "":
		return fmt.Errorf("%w: guest name is required", ErrInvalidRequest)
	case utf8.RuneCountInString(g.Name) > model.MaxGuestNameLen:
		return fmt.Errorf("%w: guest name longer than %d characters", ErrInvalidRequest, model.MaxGuestNameLen)
	case utf8.RuneCountInString(g.Email) > model.MaxGuestEmailLen:
		return fmt.Errorf("%w: guest email longer than %d characters", ErrInvalidRequest, model.MaxGuestEmailLen)
	case utf8.RuneCountInString(g.Phone) > model.MaxGuestPhoneLen:
		return fmt.Errorf("%w: guest phone longer than %d characters", ErrInvalidRequest, model.MaxGuestPhoneLen)
	}
	return nil
}
