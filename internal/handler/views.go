package handler

import (
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/service"
)

// JSON shapes returned by the API.  Models stay free of transport tags.

type bookingView struct {
	ID         string          `json:"id"`
	RoomTypeID string          `json:"room_type_id"`
	CheckIn    string          `json:"check_in"`
	CheckOut   string          `json:"check_out"`
	Status     string          `json:"status"`
	Guest      model.GuestInfo `json:"guest"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

func newBookingView(b *model.Booking) bookingView {
	return bookingView{
		ID:         b.ID,
		RoomTypeID: b.RoomTypeID,
		CheckIn:    b.CheckIn.Format(time.DateOnly),
		CheckOut:   b.CheckOut.Format(time.DateOnly),
		Status:     string(b.Status),
		Guest:      b.Guest,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
		DeletedAt:  b.DeletedAt,
	}
}

type ticketView struct {
	ID           string     `json:"id"`
	TicketNumber string     `json:"ticket_number"`
	QRToken      string     `json:"qr_token"`
	HolderName   string     `json:"holder_name,omitempty"`
	Status       string     `json:"status"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	UsedBy       *string    `json:"used_by,omitempty"`
}

func newTicketView(t *model.IndividualTicket) ticketView {
	return ticketView{
		ID:           t.ID,
		TicketNumber: t.TicketNumber,
		QRToken:      t.QRToken,
		HolderName:   t.HolderName,
		Status:       string(t.Status),
		UsedAt:       t.UsedAt,
		UsedBy:       t.UsedBy,
	}
}

type ticketTypeView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	EventDate *string `json:"event_date,omitempty"`
}

func newTicketTypeView(tt *model.TicketType) *ticketTypeView {
	if tt == nil {
		return nil
	}
	v := &ticketTypeView{ID: tt.ID, Name: tt.Name}
	if tt.EventDate != nil {
		d := tt.EventDate.Format(time.DateOnly)
		v.EventDate = &d
	}
	return v
}

type purchaseView struct {
	ID               string          `json:"id"`
	TicketType       *ticketTypeView `json:"ticket_type,omitempty"`
	Quantity         int             `json:"quantity"`
	TotalAmountCents int64           `json:"total_amount_cents"`
	PaymentStatus    string          `json:"payment_status"`
	HoldExpiresAt    *time.Time      `json:"hold_expires_at,omitempty"`
	Guest            model.GuestInfo `json:"guest"`
	Tickets          []ticketView    `json:"tickets"`
}

func newPurchaseView(v *service.PurchaseView) purchaseView {
	p := v.Purchase
	out := purchaseView{
		ID:               p.ID,
		TicketType:       newTicketTypeView(v.TicketType),
		Quantity:         p.Quantity,
		TotalAmountCents: p.TotalAmountCents,
		PaymentStatus:    string(p.PaymentStatus),
		Guest:            p.Guest,
		Tickets:          make([]ticketView, 0, len(v.Tickets)),
	}
	if p.PaymentStatus == model.PaymentPending {
		exp := p.HoldExpiresAt
		out.HoldExpiresAt = &exp
	}
	for i := range v.Tickets {
		out.Tickets = append(out.Tickets, newTicketView(&v.Tickets[i]))
	}
	return out
}

type recordView struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Validator string    `json:"validator"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

func newRecordViews(recs []model.ValidationRecord) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordView{
			ID:        r.ID,
			Code:      r.Code,
			Validator: r.Validator,
			Outcome:   string(r.Outcome),
			CreatedAt: r.CreatedAt,
		})
	}
	return out
}
