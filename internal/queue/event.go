// Package queue carries post-commit notification events over RabbitMQ: a
// publisher used by the services and a consumer that hands events to the
// notification channel (email/SMS delivery lives outside this service; the
// consumer records what would be sent).
package queue

import (
	"encoding/json"
	"time"
)

// NotificationQueue is the durable queue every event is routed to.
const NotificationQueue = "hotel.notifications"

// Event types.
const (
	EventReservationCreated = "reservation.created"
	EventTicketsIssued      = "tickets.issued"
	EventPaymentFailed      = "payment.failed"
)

// Envelope is the message body on the wire.  Data holds one of the event
// structs below, selected by Type.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ReservationCreatedEvent is published once a booking or ticket purchase
// has been committed.  Start/End are set for rooms, Quantity and
// AccessToken for tickets.
type ReservationCreatedEvent struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	ItemID      string `json:"item_id"`
	Status      string `json:"status"`
	GuestName   string `json:"guest_name"`
	GuestEmail  string `json:"guest_email"`
	GuestPhone  string `json:"guest_phone,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// IssuedTicket is one ticket as delivered to the guest.
type IssuedTicket struct {
	TicketNumber string `json:"ticket_number"`
	QRToken      string `json:"qr_token"`
	HolderName   string `json:"holder_name"`
}

// TicketsIssuedEvent is published after payment completed and the
// individual tickets were minted.  Consumers build the access link from
// AccessToken.
type TicketsIssuedEvent struct {
	PurchaseID   string         `json:"purchase_id"`
	TicketTypeID string         `json:"ticket_type_id"`
	GuestName    string         `json:"guest_name"`
	GuestEmail   string         `json:"guest_email"`
	GuestPhone   string         `json:"guest_phone,omitempty"`
	AccessToken  string         `json:"access_token"`
	Tickets      []IssuedTicket `json:"tickets"`
}

// PaymentFailedEvent is published when a purchase failed or its hold
// expired and the quantity was released.
type PaymentFailedEvent struct {
	PurchaseID   string `json:"purchase_id"`
	TicketTypeID string `json:"ticket_type_id"`
	GuestEmail   string `json:"guest_email"`
	Reason       string `json:"reason"`
}
