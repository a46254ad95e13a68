package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-reservation/internal/config"
	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

var testCfg = config.ReservationConfig{
	HoldTTL:               15 * time.Minute,
	ValidationGrace:       6 * time.Hour,
	MaxTicketsPerPurchase: 20,
	CodeMaxAttempts:       5,
	RetryAttempts:         3,
	RetryBase:             time.Millisecond,
}

var testRetry = RetryPolicy{Attempts: 3, Base: time.Millisecond}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(eventType string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type recordingFeed struct {
	mu     sync.Mutex
	events []ValidationEvent
}

func (f *recordingFeed) PublishValidation(ev ValidationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// flakyStore fails the first failures transactions with a transient error.
type flakyStore struct {
	*repository.MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return repository.ErrTransient
	}
	return f.MemoryStore.WithTx(ctx, fn)
}

type fixture struct {
	store      *repository.MemoryStore
	notifier   *recordingNotifier
	feed       *recordingFeed
	reserve    *ReservationService
	issuer     *Issuer
	payments   *PaymentService
	validation *ValidationService
	admin      *BookingAdmin
}

func newFixture(t *testing.T, rooms []model.RoomType, tickets []model.TicketType) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, repository.Seed(context.Background(), store, rooms, tickets))
	n := &recordingNotifier{}
	feed := &recordingFeed{}
	issuer := NewIssuer(store, NewCodeGenerator("test-secret"), testCfg.CodeMaxAttempts)
	return &fixture{
		store:      store,
		notifier:   n,
		feed:       feed,
		reserve:    NewReservationService(store, testCfg, n),
		issuer:     issuer,
		payments:   NewPaymentService(store, issuer, testRetry, n),
		validation: NewValidationService(store, testCfg.ValidationGrace, testRetry, feed),
		admin:      NewBookingAdmin(store, testRetry),
	}
}

// paidPurchase reserves qty tickets of ticketTypeID and completes payment.
func (f *fixture) paidPurchase(t *testing.T, ticketTypeID string, qty int) (*model.TicketPurchase, []model.IndividualTicket) {
	t.Helper()
	ctx := context.Background()
	res, err := f.reserve.Reserve(ctx, ReservationRequest{Kind: KindTicket, ItemID: ticketTypeID, Quantity: qty,
		Guest: model.GuestInfo{Name: "Ada Guest", Email: "ada@example.com"}})
	require.NoError(t, err)
	p, tickets, err := f.payments.Complete(ctx, res.Purchase.ID, "pay_123")
	require.NoError(t, err)
	return p, tickets
}

func guest() model.GuestInfo { return model.GuestInfo{Name: "Ada Guest", Email: "ada@example.com"} }
