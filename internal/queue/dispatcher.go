package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink delivers one envelope.  *Publisher is the production sink.
type Sink interface {
	Publish(ctx context.Context, env Envelope) error
}

// Dispatcher decouples request handling from the broker: Notify only
// enqueues, and Run publishes in the background.  When the buffer is full
// the event is dropped and logged; a reservation never waits on, or fails
// because of, a notification.
type Dispatcher struct {
	sink    Sink
	events  chan Envelope
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher returns a dispatcher buffering up to buffer events.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		sink:    sink,
		events:  make(chan Envelope, buffer),
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Notify enqueues an event without blocking.
func (d *Dispatcher) Notify(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("notification dropped: marshal failed")
		return
	}
	env := Envelope{Type: eventType, OccurredAt: d.now(), Data: data}
	select {
	case d.events <- env:
	default:
		log.Warn().Str("event", eventType).Msg("notification dropped: buffer full")
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// still buffered.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case env := <-d.events:
			d.publish(ctx, env)
		case <-ctx.Done():
			d.flush()
			return
		}
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case env := <-d.events:
			d.publish(ctx, env)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sink.Publish(ctx, env); err != nil {
		log.Warn().Err(err).Str("event", env.Type).Msg("notification not delivered")
	}
}
