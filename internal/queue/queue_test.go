package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
	mu   sync.Mutex
	seen []Envelope
}

func (m *mockSink) Publish(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	m.seen = append(m.seen, env)
	m.mu.Unlock()
	return m.Called(env.Type).Error(0)
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func TestDispatcherPublishesInBackground(t *testing.T) {
	sink := &mockSink{}
	sink.On("Publish", EventReservationCreated).Return(nil)
	sink.On("Publish", EventPaymentFailed).Return(errors.New("broker down"))

	d := NewDispatcher(sink, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	d.Notify(EventReservationCreated, ReservationCreatedEvent{ID: "b-1", Kind: "room"})
	d.Notify(EventPaymentFailed, PaymentFailedEvent{PurchaseID: "p-1"})

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	sink.AssertExpectations(t)

	var ev ReservationCreatedEvent
	require.NoError(t, json.Unmarshal(sink.seen[0].Data, &ev))
	assert.Equal(t, "b-1", ev.ID)
}

func TestDispatcherDropsWhenFullAndFlushesOnStop(t *testing.T) {
	sink := &mockSink{}
	sink.On("Publish", EventTicketsIssued).Return(nil)

	d := NewDispatcher(sink, 2)
	for i := 0; i < 5; i++ {
		d.Notify(EventTicketsIssued, TicketsIssuedEvent{PurchaseID: "p"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
	assert.Equal(t, 2, sink.count())
}

func TestOutboxLoggerHandlesEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutboxLogger(zerolog.New(&buf), "https://hotel.example/t/")

	issued, _ := json.Marshal(TicketsIssuedEvent{
		PurchaseID: "p-1", GuestEmail: "ada@example.com", AccessToken: "abc",
		Tickets: []IssuedTicket{{TicketNumber: "TKT-AAAA1111"}, {TicketNumber: "TKT-BBBB2222"}},
	})
	require.NoError(t, out.Handle(context.Background(), Envelope{Type: EventTicketsIssued, Data: issued}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ada@example.com", line["to"])
	assert.Equal(t, "TKT-AAAA1111,TKT-BBBB2222", line["tickets"])
	assert.Equal(t, "https://hotel.example/t/abc", line["link"])

	room, _ := json.Marshal(ReservationCreatedEvent{Kind: "room", ID: "b-1", Start: "2024-06-01", End: "2024-06-03"})
	assert.NoError(t, out.Handle(context.Background(), Envelope{Type: EventReservationCreated, Data: room}))

	assert.Error(t, out.Handle(context.Background(), Envelope{Type: "booking.mystery", Data: []byte(`{}`)}))
	assert.Error(t, dispatch(context.Background(), out, []byte("not json")))
}
