package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// Issuer mints the individual tickets of a paid purchase.  It never
// touches inventory: the quantity was taken when the purchase was
// reserved.
type Issuer struct {
	store       repository.Store
	codes       *CodeGenerator
	maxAttempts int
	now         Clock
}

func NewIssuer(store repository.Store, codes *CodeGenerator, maxAttempts int) *Issuer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Issuer{store: store, codes: codes, maxAttempts: maxAttempts, now: utcNow}
}

// Issue mints the tickets of a completed purchase in its own transaction.
func (is *Issuer) Issue(ctx context.Context, purchaseID string) ([]model.IndividualTicket, error) {
	var out []model.IndividualTicket
	err := is.store.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return lookupErr(err, ErrUnknownPurchase, purchaseID)
		}
		if p.PaymentStatus != model.PaymentCompleted {
			return fmt.Errorf("%w: %s is %s", ErrPurchaseNotCompleted, p.ID, p.PaymentStatus)
		}
		out, err = is.IssueTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IssueTx mints p.Quantity tickets inside the caller's transaction.  When
// the purchase already has tickets they are returned unchanged, so a
// repeated payment confirmation never mints a second set.
func (is *Issuer) IssueTx(ctx context.Context, tx repository.Tx, p *model.TicketPurchase) ([]model.IndividualTicket, error) {
	existing, err := tx.ListTicketsByPurchase(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	batch := make(map[string]bool, p.Quantity*2)
	now := is.now()
	tickets := make([]model.IndividualTicket, 0, p.Quantity)
	for i := 0; i < p.Quantity; i++ {
		idx := i
		number, err := is.uniqueCode(ctx, tx, batch,
			func(attempt int) (string, error) { return is.codes.TicketNumber(p.ID, idx, attempt), nil },
			func() string { return is.codes.Fallback(TicketNumberPrefix, idx) })
		if err != nil {
			return nil, fmt.Errorf("ticket %d of %s: %w", idx, p.ID, err)
		}
		qr, err := is.uniqueCode(ctx, tx, batch,
			func(int) (string, error) { return is.codes.QRToken() },
			func() string { return is.codes.Fallback(QRTokenPrefix, idx) })
		if err != nil {
			return nil, fmt.Errorf("ticket %d of %s: %w", idx, p.ID, err)
		}
		tickets = append(tickets, model.IndividualTicket{
			ID:           uuid.NewString(),
			PurchaseID:   p.ID,
			TicketTypeID: p.TicketTypeID,
			Index:        idx,
			TicketNumber: number,
			QRToken:      qr,
			HolderName:   p.Guest.Name,
			Status:       model.TicketUnused,
			CreatedAt:    now,
		})
	}
	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// uniqueCode draws candidates from gen until one is unused both in the
// store and in the batch being minted.  After maxAttempts collisions the
// fallback is tried once; if that collides too, ErrCodeSpaceExhausted.
func (is *Issuer) uniqueCode(ctx context.Context, r repository.Reader, batch map[string]bool,
	gen func(attempt int) (string, error), fallback func() string) (string, error) {
	try := func(code string) (bool, error) {
		if batch[code] {
			return false, nil
		}
		taken, err := r.TicketCodeExists(ctx, code)
		if err != nil || taken {
			return false, err
		}
		batch[code] = true
		return true, nil
	}
	for attempt := 0; attempt < is.maxAttempts; attempt++ {
		code, err := gen(attempt)
		if err != nil {
			return "", err
		}
		ok, err := try(code)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	code := fallback()
	ok, err := try(code)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCodeSpaceExhausted, code)
	}
	return code, nil
}

// ResolveTicketNumber returns the purchase a ticket number or QR token
// belongs to.
func (is *Issuer) ResolveTicketNumber(ctx context.Context, code string) (*model.TicketPurchase, error) {
	tk, err := is.store.FindTicketByCode(ctx, code)
	if err != nil {
		return nil, lookupErr(err, ErrUnknownTicket, code)
	}
	p, err := is.store.GetPurchase(ctx, tk.PurchaseID)
	if err != nil {
		return nil, lookupErr(err, ErrUnknownPurchase, tk.PurchaseID)
	}
	return p, nil
}
