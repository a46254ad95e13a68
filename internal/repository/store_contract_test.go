package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// The contract below runs against every Store implementation.  Row ids are
// unique per test so a shared MySQL schema can be reused between runs.

type storeFactory func(t *testing.T) Store

func runStoreContract(t *testing.T, open storeFactory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"rolls back on error", contractRollback},
		{"last ticket goes to one buyer", contractLastTicketRace},
		{"room lock serializes check and insert", contractRoomLock},
		{"overlap is half open", contractOverlap},
		{"ticket is consumed once", contractMarkUsedOnce},
		{"release is guarded", contractRelease},
		{"expired holds", contractExpiredHolds},
		{"room types are listed", contractListRoomTypes},
		{"ticket codes are unique and normalized", contractTicketCodes},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, open(t)) })
	}
}

func uniqueID(prefix string) string { return prefix + "-" + uuid.NewString()[:8] }

func randomCode(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func accessToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// withRetry reruns fn on deadlocks and lock wait timeouts, as the services do.
func withRetry(ctx context.Context, s Store, fn func(tx Tx) error) error {
	var err error
	for i := 0; i < 20; i++ {
		if err = s.WithTx(ctx, fn); !IsTransient(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 5 * time.Millisecond)
	}
	return err
}

func seedTicketType(t *testing.T, s Store, qty int) string {
	t.Helper()
	id := uniqueID("gala")
	require.NoError(t, Seed(context.Background(), s, nil,
		[]model.TicketType{{ID: id, Name: "Gala", PriceCents: 1000, TotalQuantity: qty}}))
	return id
}

func seedRoomType(t *testing.T, s Store, capacity int) string {
	t.Helper()
	id := uniqueID("deluxe")
	require.NoError(t, Seed(context.Background(), s,
		[]model.RoomType{{ID: id, Name: "Deluxe", TotalCapacity: capacity}}, nil))
	return id
}

func newPurchase(ticketTypeID string, qty int, holdUntil time.Time) *model.TicketPurchase {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.TicketPurchase{
		ID:            uuid.NewString(),
		TicketTypeID:  ticketTypeID,
		Quantity:      qty,
		PaymentStatus: model.PaymentPending,
		AccessToken:   accessToken(),
		Guest:         model.GuestInfo{Name: "Ada Guest", Email: "ada@example.com"},
		HoldExpiresAt: holdUntil.UTC().Truncate(time.Microsecond),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newBooking(roomTypeID string, in, out time.Time, st model.BookingStatus) *model.Booking {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Booking{ID: uuid.NewString(), RoomTypeID: roomTypeID, CheckIn: in, CheckOut: out, Status: st,
		Guest: model.GuestInfo{Name: "Ada Guest", Email: "ada@example.com"}, CreatedAt: now, UpdatedAt: now}
}

// issuedTicket stores a paid purchase with one unused ticket.
func issuedTicket(t *testing.T, s Store) model.IndividualTicket {
	t.Helper()
	ctx := context.Background()
	ttID := seedTicketType(t, s, 5)
	p := newPurchase(ttID, 1, time.Now().Add(time.Hour))
	tk := model.IndividualTicket{ID: uuid.NewString(), PurchaseID: p.ID, TicketTypeID: ttID,
		TicketNumber: randomCode("TKT-"), QRToken: randomCode("QR-"), HolderName: "Ada Guest",
		Status: model.TicketUnused, CreatedAt: p.CreatedAt}
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertPurchase(ctx, p); err != nil {
			return err
		}
		return tx.InsertTickets(ctx, []model.IndividualTicket{tk})
	}))
	return tk
}

func contractRollback(t *testing.T, s Store) {
	ctx := context.Background()
	ttID := seedTicketType(t, s, 3)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DecrementTicketQuantity(ctx, ttID, 2)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	tt, err := s.GetTicketType(ctx, ttID)
	require.NoError(t, err)
	assert.Equal(t, 3, tt.AvailableQuantity)
}

func contractLastTicketRace(t *testing.T, s Store) {
	ctx := context.Background()
	ttID := seedTicketType(t, s, 1)

	const buyers = 16
	var (
		wg   sync.WaitGroup
		won  atomic.Int32
		errs = make([]error, buyers)
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			errs[i] = withRetry(ctx, s, func(tx Tx) error {
				var err error
				ok, err = tx.DecrementTicketQuantity(ctx, ttID, 1)
				return err
			})
			if ok {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, won.Load())
	tt, err := s.GetTicketType(ctx, ttID)
	require.NoError(t, err)
	assert.Zero(t, tt.AvailableQuantity)
}

func contractRoomLock(t *testing.T, s Store) {
	ctx := context.Background()
	rtID := seedRoomType(t, s, 1)
	in, out := day("2024-06-01"), day("2024-06-03")

	const guests = 8
	var (
		wg     sync.WaitGroup
		booked atomic.Int32
		errs   = make([]error, guests)
	)
	for i := 0; i < guests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var inserted bool
			errs[i] = withRetry(ctx, s, func(tx Tx) error {
				inserted = false
				rt, err := tx.LockRoomType(ctx, rtID)
				if err != nil {
					return err
				}
				n, err := tx.CountOverlappingBookings(ctx, rtID, in, out)
				if err != nil || n >= rt.TotalCapacity {
					return err
				}
				if err := tx.InsertBooking(ctx, newBooking(rtID, in, out, model.BookingPending)); err != nil {
					return err
				}
				inserted = true
				return nil
			})
			if inserted && errs[i] == nil {
				booked.Add(1)
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, booked.Load())
	n, err := s.CountOverlappingBookings(ctx, rtID, in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func contractOverlap(t *testing.T, s Store) {
	ctx := context.Background()
	rtID := seedRoomType(t, s, 2)
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for _, st := range []model.BookingStatus{model.BookingConfirmed, model.BookingCancelled} {
			if err := tx.InsertBooking(ctx, newBooking(rtID, day("2024-06-01"), day("2024-06-03"), st)); err != nil {
				return err
			}
		}
		return nil
	}))

	n, err := s.CountOverlappingBookings(ctx, rtID, day("2024-06-02"), day("2024-06-04"))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "cancelled bookings do not count")

	n, err = s.CountOverlappingBookings(ctx, rtID, day("2024-06-03"), day("2024-06-05"))
	require.NoError(t, err)
	assert.Zero(t, n, "checkout day is free")

	n, err = s.CountOverlappingBookings(ctx, rtID, day("2024-05-30"), day("2024-06-01"))
	require.NoError(t, err)
	assert.Zero(t, n, "a stay ending on check-in day does not overlap")
}

func contractMarkUsedOnce(t *testing.T, s Store) {
	ctx := context.Background()
	tk := issuedTicket(t, s)

	const scanners = 8
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		errs     = make([]error, scanners)
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			errs[i] = withRetry(ctx, s, func(tx Tx) error {
				locked, err := tx.LockTicketByCode(ctx, strings.ToLower(tk.QRToken))
				if err != nil {
					return err
				}
				ok, err = tx.MarkTicketUsed(ctx, locked.ID, time.Now(), "gate")
				return err
			})
			if ok {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, admitted.Load())

	got, err := s.FindTicketByCode(ctx, tk.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, model.TicketUsed, got.Status)
	require.NotNil(t, got.UsedBy)
	assert.Equal(t, "gate", *got.UsedBy)
}

func contractRelease(t *testing.T, s Store) {
	ctx := context.Background()
	ttID := seedTicketType(t, s, 3)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DecrementTicketQuantity(ctx, ttID, 2)
		require.True(t, ok)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error { return tx.ReleaseTicketQuantity(ctx, ttID, 2) }))

	err := s.WithTx(ctx, func(tx Tx) error { return tx.ReleaseTicketQuantity(ctx, ttID, 1) })
	assert.ErrorIs(t, err, ErrOverRelease)
	err = s.WithTx(ctx, func(tx Tx) error { return tx.ReleaseTicketQuantity(ctx, uniqueID("nope"), 1) })
	assert.ErrorIs(t, err, ErrNotFound)

	tt, err := s.GetTicketType(ctx, ttID)
	require.NoError(t, err)
	assert.Equal(t, 3, tt.AvailableQuantity)
}

func contractExpiredHolds(t *testing.T, s Store) {
	ctx := context.Background()
	ttID := seedTicketType(t, s, 5)
	now := time.Now().UTC()
	stale := newPurchase(ttID, 1, now.Add(-time.Minute))
	fresh := newPurchase(ttID, 1, now.Add(time.Hour))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertPurchase(ctx, stale); err != nil {
			return err
		}
		return tx.InsertPurchase(ctx, fresh)
	}))

	var ids []string
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		holds, err := tx.ListExpiredHolds(ctx, now, 1000)
		for _, p := range holds {
			if p.TicketTypeID == ttID {
				ids = append(ids, p.ID)
			}
		}
		return err
	}))
	assert.Equal(t, []string{stale.ID}, ids)

	ok := false
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		ok, err = tx.UpdatePaymentStatus(ctx, stale.ID, model.PaymentPending, model.PaymentFailed, nil, now)
		return err
	}))
	assert.True(t, ok)
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		ok, err = tx.UpdatePaymentStatus(ctx, stale.ID, model.PaymentPending, model.PaymentCompleted, nil, now)
		return err
	}))
	assert.False(t, ok, "a released hold cannot be completed")
}

func contractListRoomTypes(t *testing.T, s Store) {
	rtID := seedRoomType(t, s, 4)
	rts, err := s.ListRoomTypes(context.Background())
	require.NoError(t, err)
	assert.Contains(t, rts, model.RoomType{ID: rtID, Name: "Deluxe", TotalCapacity: 4})
}

func contractTicketCodes(t *testing.T, s Store) {
	ctx := context.Background()
	tk := issuedTicket(t, s)

	dup := tk
	dup.ID, dup.Index, dup.TicketNumber = uuid.NewString(), 1, randomCode("TKT-")
	err := s.WithTx(ctx, func(tx Tx) error { return tx.InsertTickets(ctx, []model.IndividualTicket{dup}) })
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := s.FindTicketByCode(ctx, "  "+strings.ToLower(tk.QRToken)+" ")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	exists, err := s.TicketCodeExists(ctx, tk.TicketNumber)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.TicketCodeExists(ctx, randomCode("TKT-"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}
