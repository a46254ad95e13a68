package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler processes one decoded envelope.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// StartConsumer connects to RabbitMQ, declares the notification queue and
// hands every message to h.  It reconnects with a doubling backoff and only
// returns once ctx is cancelled.  Messages h rejects are dropped, not
// requeued, to avoid tight redelivery loops.
func StartConsumer(ctx context.Context, url string, h Handler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("notification-consumer: dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, h)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("notification-consumer: consume loop ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, h Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn().Err(err).Msg("notification-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(NotificationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(NotificationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := dispatch(ctx, h, d.Body); err != nil {
				log.Error().Err(err).Msg("notification-consumer: handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func dispatch(ctx context.Context, h Handler, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	return h.Handle(ctx, env)
}

// OutboxLogger stands in for the email/SMS channel: it writes one
// structured line per message that would be sent.
type OutboxLogger struct {
	log      zerolog.Logger
	linkBase string
}

// NewOutboxLogger writes to logger.  linkBase is prefixed to access tokens
// to form the customer's ticket link, e.g. "https://hotel.example/t/".
func NewOutboxLogger(logger zerolog.Logger, linkBase string) *OutboxLogger {
	return &OutboxLogger{log: logger, linkBase: linkBase}
}

func (o *OutboxLogger) Handle(_ context.Context, env Envelope) error {
	switch env.Type {
	case EventReservationCreated:
		var ev ReservationCreatedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		e := o.log.Info().Str("event", env.Type).Str("to", ev.GuestEmail).Str("kind", ev.Kind).
			Str("id", ev.ID).Str("item", ev.ItemID).Str("status", ev.Status)
		if ev.Kind == "room" {
			e = e.Str("check_in", ev.Start).Str("check_out", ev.End)
		} else {
			e = e.Int("quantity", ev.Quantity).Int64("amount_cents", ev.AmountCents).Str("link", o.link(ev.AccessToken))
		}
		e.Msg("reservation received")
	case EventTicketsIssued:
		var ev TicketsIssuedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		numbers := make([]string, 0, len(ev.Tickets))
		for _, t := range ev.Tickets {
			numbers = append(numbers, t.TicketNumber)
		}
		o.log.Info().Str("event", env.Type).Str("to", ev.GuestEmail).Str("purchase_id", ev.PurchaseID).
			Str("tickets", strings.Join(numbers, ",")).Str("link", o.link(ev.AccessToken)).Msg("tickets delivered")
	case EventPaymentFailed:
		var ev PaymentFailedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		o.log.Info().Str("event", env.Type).Str("to", ev.GuestEmail).Str("purchase_id", ev.PurchaseID).
			Str("reason", ev.Reason).Msg("payment failure notice")
	default:
		return fmt.Errorf("unknown event type %q", env.Type)
	}
	return nil
}

func (o *OutboxLogger) link(token string) string {
	if token == "" {
		return ""
	}
	return o.linkBase + token
}
