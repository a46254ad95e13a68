package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// MemoryStore is a process-local Store.  Transactions are serialized by a
// single mutex and roll back by restoring a snapshot taken when they
// began, which gives the same all-or-nothing behaviour as the MySQL store.
// It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu sync.RWMutex
	st *memState
}

type memState struct {
	roomTypes   map[string]model.RoomType
	bookings    map[string]model.Booking
	ticketTypes map[string]model.TicketType
	purchases   map[string]model.TicketPurchase
	tickets     map[string]model.IndividualTicket
	records     []model.ValidationRecord
	// codes indexes ticket numbers and QR tokens to ticket IDs.
	codes map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		roomTypes:   map[string]model.RoomType{},
		bookings:    map[string]model.Booking{},
		ticketTypes: map[string]model.TicketType{},
		purchases:   map[string]model.TicketPurchase{},
		tickets:     map[string]model.IndividualTicket{},
		codes:       map[string]string{},
	}}
}

var _ Store = (*MemoryStore)(nil)

func (s *memState) clone() *memState {
	c := &memState{
		roomTypes:   make(map[string]model.RoomType, len(s.roomTypes)),
		bookings:    make(map[string]model.Booking, len(s.bookings)),
		ticketTypes: make(map[string]model.TicketType, len(s.ticketTypes)),
		purchases:   make(map[string]model.TicketPurchase, len(s.purchases)),
		tickets:     make(map[string]model.IndividualTicket, len(s.tickets)),
		records:     append([]model.ValidationRecord(nil), s.records...),
		codes:       make(map[string]string, len(s.codes)),
	}
	for k, v := range s.roomTypes {
		c.roomTypes[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.ticketTypes {
		c.ticketTypes[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	return c
}

// WithTx runs fn while holding the store's write lock.  On error the state
// captured before fn ran is restored.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(&memTx{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) read() *memTx {
	return &memTx{st: m.st}
}

func (m *MemoryStore) GetRoomType(ctx context.Context, id string) (*model.RoomType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetRoomType(ctx, id)
}

func (m *MemoryStore) ListRoomTypes(ctx context.Context) ([]model.RoomType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListRoomTypes(ctx)
}

func (m *MemoryStore) CountOverlappingBookings(ctx context.Context, roomTypeID string, start, end time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CountOverlappingBookings(ctx, roomTypeID, start, end)
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetBooking(ctx, id)
}

func (m *MemoryStore) GetTicketType(ctx context.Context, id string) (*model.TicketType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTicketType(ctx, id)
}

func (m *MemoryStore) GetPurchase(ctx context.Context, id string) (*model.TicketPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPurchase(ctx, id)
}

func (m *MemoryStore) GetPurchaseByAccessToken(ctx context.Context, token string) (*model.TicketPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPurchaseByAccessToken(ctx, token)
}

func (m *MemoryStore) ListTicketsByPurchase(ctx context.Context, purchaseID string) ([]model.IndividualTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListTicketsByPurchase(ctx, purchaseID)
}

func (m *MemoryStore) FindTicketByCode(ctx context.Context, code string) (*model.IndividualTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindTicketByCode(ctx, code)
}

func (m *MemoryStore) TicketCodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().TicketCodeExists(ctx, code)
}

func (m *MemoryStore) ListValidationRecords(ctx context.Context, ticketID string) ([]model.ValidationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListValidationRecords(ctx, ticketID)
}

// memTx operates on the state directly; the caller holds the lock.
type memTx struct {
	st *memState
}

func (t *memTx) GetRoomType(_ context.Context, id string) (*model.RoomType, error) {
	rt, ok := t.st.roomTypes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rt, nil
}

func (t *memTx) ListRoomTypes(_ context.Context) ([]model.RoomType, error) {
	out := make([]model.RoomType, 0, len(t.st.roomTypes))
	for _, rt := range t.st.roomTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) CountOverlappingBookings(_ context.Context, roomTypeID string, start, end time.Time) (int, error) {
	n := 0
	for _, b := range t.st.bookings {
		if b.RoomTypeID == roomTypeID && b.Status.HoldsCapacity() && b.Overlaps(start, end) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (t *memTx) GetTicketType(_ context.Context, id string) (*model.TicketType, error) {
	tt, ok := t.st.ticketTypes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tt, nil
}

func (t *memTx) GetPurchase(_ context.Context, id string) (*model.TicketPurchase, error) {
	p, ok := t.st.purchases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) GetPurchaseByAccessToken(_ context.Context, token string) (*model.TicketPurchase, error) {
	for _, p := range t.st.purchases {
		if p.AccessToken == token {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListTicketsByPurchase(_ context.Context, purchaseID string) ([]model.IndividualTicket, error) {
	var out []model.IndividualTicket
	for _, tk := range t.st.tickets {
		if tk.PurchaseID == purchaseID {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (t *memTx) FindTicketByCode(_ context.Context, code string) (*model.IndividualTicket, error) {
	id, ok := t.st.codes[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	tk := t.st.tickets[id]
	return &tk, nil
}

func (t *memTx) TicketCodeExists(_ context.Context, code string) (bool, error) {
	_, ok := t.st.codes[NormalizeCode(code)]
	return ok, nil
}

func (t *memTx) ListValidationRecords(_ context.Context, ticketID string) ([]model.ValidationRecord, error) {
	var out []model.ValidationRecord
	for _, r := range t.st.records {
		if r.TicketID != nil && *r.TicketID == ticketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) EnsureRoomType(_ context.Context, rt model.RoomType) error {
	if _, ok := t.st.roomTypes[rt.ID]; !ok {
		t.st.roomTypes[rt.ID] = rt
	}
	return nil
}

func (t *memTx) LockRoomType(ctx context.Context, id string) (*model.RoomType, error) {
	return t.GetRoomType(ctx, id)
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if _, ok := t.st.bookings[b.ID]; ok {
		return fmt.Errorf("%w: booking %s", ErrDuplicateKey, b.ID)
	}
	t.st.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBookingStatus(_ context.Context, id string, from, to model.BookingStatus, at time.Time) (bool, error) {
	b, ok := t.st.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	if to == model.BookingDeleted {
		ts := at
		b.DeletedAt = &ts
	}
	t.st.bookings[id] = b
	return true, nil
}

func (t *memTx) EnsureTicketType(_ context.Context, tt model.TicketType) error {
	if _, ok := t.st.ticketTypes[tt.ID]; !ok {
		tt.AvailableQuantity = tt.TotalQuantity
		t.st.ticketTypes[tt.ID] = tt
	}
	return nil
}

func (t *memTx) DecrementTicketQuantity(_ context.Context, ticketTypeID string, n int) (bool, error) {
	tt, ok := t.st.ticketTypes[ticketTypeID]
	if !ok || tt.AvailableQuantity < n {
		return false, nil
	}
	tt.AvailableQuantity -= n
	t.st.ticketTypes[ticketTypeID] = tt
	return true, nil
}

func (t *memTx) ReleaseTicketQuantity(_ context.Context, ticketTypeID string, n int) error {
	tt, ok := t.st.ticketTypes[ticketTypeID]
	if !ok {
		return fmt.Errorf("release of %d on %s: %w", n, ticketTypeID, ErrNotFound)
	}
	tt.AvailableQuantity += n
	if tt.AvailableQuantity > tt.TotalQuantity {
		return fmt.Errorf("release of %d on %s: %w", n, ticketTypeID, ErrOverRelease)
	}
	t.st.ticketTypes[ticketTypeID] = tt
	return nil
}

func (t *memTx) InsertPurchase(_ context.Context, p *model.TicketPurchase) error {
	if _, ok := t.st.purchases[p.ID]; ok {
		return fmt.Errorf("%w: purchase %s", ErrDuplicateKey, p.ID)
	}
	for _, other := range t.st.purchases {
		if other.AccessToken == p.AccessToken {
			return fmt.Errorf("%w: access token", ErrDuplicateKey)
		}
	}
	t.st.purchases[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePaymentStatus(_ context.Context, id string, from, to model.PaymentStatus, ref *string, at time.Time) (bool, error) {
	p, ok := t.st.purchases[id]
	if !ok || p.PaymentStatus != from {
		return false, nil
	}
	p.PaymentStatus = to
	if ref != nil {
		r := *ref
		p.PaymentRef = &r
	}
	p.UpdatedAt = at
	t.st.purchases[id] = p
	return true, nil
}

func (t *memTx) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.TicketPurchase, error) {
	var out []model.TicketPurchase
	for _, p := range t.st.purchases {
		if p.PaymentStatus == model.PaymentPending && !p.HoldExpiresAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldExpiresAt.Before(out[j].HoldExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) InsertTickets(_ context.Context, tickets []model.IndividualTicket) error {
	seen := map[string]bool{}
	for _, tk := range tickets {
		for _, c := range []string{tk.TicketNumber, tk.QRToken} {
			if _, ok := t.st.codes[c]; ok || seen[c] {
				return fmt.Errorf("%w: ticket code %s", ErrDuplicateKey, c)
			}
			seen[c] = true
		}
		if _, ok := t.st.tickets[tk.ID]; ok {
			return fmt.Errorf("%w: ticket %s", ErrDuplicateKey, tk.ID)
		}
	}
	for _, tk := range tickets {
		t.st.tickets[tk.ID] = tk
		t.st.codes[tk.TicketNumber] = tk.ID
		t.st.codes[tk.QRToken] = tk.ID
	}
	return nil
}

func (t *memTx) LockTicketByCode(ctx context.Context, code string) (*model.IndividualTicket, error) {
	return t.FindTicketByCode(ctx, code)
}

func (t *memTx) LockTicket(_ context.Context, id string) (*model.IndividualTicket, error) {
	tk, ok := t.st.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tk, nil
}

func (t *memTx) MarkTicketUsed(_ context.Context, id string, at time.Time, by string) (bool, error) {
	tk, ok := t.st.tickets[id]
	if !ok || tk.Status != model.TicketUnused {
		return false, nil
	}
	ts, who := at, by
	tk.Status = model.TicketUsed
	tk.UsedAt = &ts
	tk.UsedBy = &who
	t.st.tickets[id] = tk
	return true, nil
}

func (t *memTx) InsertValidationRecord(_ context.Context, rec *model.ValidationRecord) error {
	t.st.records = append(t.st.records, *rec)
	return nil
}
