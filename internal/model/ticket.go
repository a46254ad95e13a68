package model

import "time"

// TicketType is an event admission product with a fixed total quantity.
// AvailableQuantity is the cached remainder; it always equals
// TotalQuantity minus the quantity of purchases that are pending or
// completed.
type TicketType struct {
	ID                string     // ticket_types.id
	Name              string     // ticket_types.name
	PriceCents        int64      // ticket_types.price_cents
	TotalQuantity     int        // ticket_types.total_quantity
	AvailableQuantity int        // ticket_types.available_quantity
	EventDate         *time.Time // ticket_types.event_date (nullable, no expiry when nil)
}

// PaymentStatus tracks the external payment of a purchase.  Pending is the
// hold state: its quantity is already reserved.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// TicketPurchase is the aggregate root for the IndividualTickets minted
// after payment completes.  AccessToken grants the guest read access to
// the purchase through the /t/{token} link.
type TicketPurchase struct {
	ID               string        // ticket_purchases.id (uuid)
	TicketTypeID     string        // ticket_purchases.ticket_type_id
	Quantity         int           // ticket_purchases.quantity
	TotalAmountCents int64         // ticket_purchases.total_amount_cents
	PaymentStatus    PaymentStatus // ticket_purchases.payment_status
	PaymentRef       *string       // ticket_purchases.payment_ref (nullable)
	AccessToken      string        // ticket_purchases.access_token (unique)
	Guest            GuestInfo     // ticket_purchases.guest_*
	HoldExpiresAt    time.Time     // ticket_purchases.hold_expires_at
	CreatedAt        time.Time     // ticket_purchases.created_at
	UpdatedAt        time.Time     // ticket_purchases.updated_at
}

// TicketStatus is the admission state of a single ticket.
type TicketStatus string

const (
	TicketUnused      TicketStatus = "unused"
	TicketUsed        TicketStatus = "used"
	TicketExpired     TicketStatus = "expired"
	TicketTransferred TicketStatus = "transferred"
)

// IndividualTicket admits one person.  TicketNumber and QRToken are
// globally unique and never change once assigned.
type IndividualTicket struct {
	ID           string       // individual_tickets.id (uuid)
	PurchaseID   string       // individual_tickets.purchase_id
	TicketTypeID string       // individual_tickets.ticket_type_id
	Index        int          // individual_tickets.seq (0-based within the purchase)
	TicketNumber string       // individual_tickets.ticket_number
	QRToken      string       // individual_tickets.qr_token
	HolderName   string       // individual_tickets.holder_name
	Status       TicketStatus // individual_tickets.status
	UsedAt       *time.Time   // individual_tickets.used_at
	UsedBy       *string      // individual_tickets.used_by
	CreatedAt    time.Time    // individual_tickets.created_at
}

// ValidationOutcome is the recorded result of one validation attempt.
type ValidationOutcome string

const (
	OutcomeValidated   ValidationOutcome = "validated"
	OutcomeUnknown     ValidationOutcome = "unknown_ticket"
	OutcomeDuplicate   ValidationOutcome = "duplicate_validation"
	OutcomeExpired     ValidationOutcome = "expired_ticket"
	OutcomeTransferred ValidationOutcome = "ticket_transferred"
	OutcomeError       ValidationOutcome = "error"
)

// ValidationRecord is an append-only audit row written for every scan,
// successful or not.  TicketID is nil when the code matched nothing.
type ValidationRecord struct {
	ID        string            // validation_records.id (uuid)
	TicketID  *string           // validation_records.ticket_id (nullable)
	Code      string            // validation_records.code
	Validator string            // validation_records.validator
	Outcome   ValidationOutcome // validation_records.outcome
	CreatedAt time.Time         // validation_records.created_at
}
