package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/queue"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// PurchaseView is what the access link shows: the purchase, its ticket
// type and the tickets minted so far.
type PurchaseView struct {
	Purchase   *model.TicketPurchase
	TicketType *model.TicketType
	Tickets    []model.IndividualTicket
}

// PaymentService applies payment confirmations from the gateway webhook and
// releases holds that were never paid.
type PaymentService struct {
	store    repository.Store
	issuer   *Issuer
	retry    RetryPolicy
	notifier Notifier
	now      Clock
	// PollInterval is the delay between reads in WaitForCompletion.
	PollInterval time.Duration
}

func NewPaymentService(store repository.Store, issuer *Issuer, retry RetryPolicy, notifier Notifier) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PaymentService{
		store:        store,
		issuer:       issuer,
		retry:        retry,
		notifier:     notifier,
		now:          utcNow,
		PollInterval: 250 * time.Millisecond,
	}
}

// Complete marks a pending purchase paid and mints its tickets in the same
// transaction.  Repeating it for a completed purchase returns the tickets
// already issued.  A purchase whose hold was released cannot be completed.
func (s *PaymentService) Complete(ctx context.Context, purchaseID, ref string) (*model.TicketPurchase, []model.IndividualTicket, error) {
	if utf8.RuneCountInString(ref) > model.MaxPaymentRefLen {
		return nil, nil, fmt.Errorf("%w: payment reference longer than %d characters", ErrInvalidRequest, model.MaxPaymentRefLen)
	}
	var (
		purchase *model.TicketPurchase
		tickets  []model.IndividualTicket
		minted   bool
	)
	err := s.retry.Do(ctx, "complete payment", func(ctx context.Context) error {
		minted = false
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			p, err := tx.GetPurchase(ctx, purchaseID)
			if err != nil {
				return lookupErr(err, ErrUnknownPurchase, purchaseID)
			}
			if p.PaymentStatus == model.PaymentPending {
				now := s.now()
				ok, err := tx.UpdatePaymentStatus(ctx, p.ID, model.PaymentPending, model.PaymentCompleted, optional(ref), now)
				if err != nil {
					return err
				}
				if p, err = tx.GetPurchase(ctx, p.ID); err != nil {
					return err
				}
				minted = ok
			}
			switch p.PaymentStatus {
			case model.PaymentFailed:
				return fmt.Errorf("%w: %s", ErrPurchaseFailed, p.ID)
			case model.PaymentPending:
				return fmt.Errorf("%w: %s changed concurrently", repository.ErrTransient, p.ID)
			}
			tickets, err = s.issuer.IssueTx(ctx, tx, p)
			if err != nil {
				return err
			}
			purchase = p
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	if minted {
		log.Info().Str("purchase_id", purchase.ID).Int("tickets", len(tickets)).Msg("payment completed, tickets issued")
		s.notifier.Notify(queue.EventTicketsIssued, ticketsIssuedEvent(purchase, tickets))
	}
	return purchase, tickets, nil
}

// Fail marks a pending purchase failed and returns its quantity to the
// ticket type.  Failing an already failed purchase is a no-op.
func (s *PaymentService) Fail(ctx context.Context, purchaseID, reason string) (*model.TicketPurchase, error) {
	var (
		purchase *model.TicketPurchase
		released bool
	)
	err := s.retry.Do(ctx, "fail payment", func(ctx context.Context) error {
		released = false
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			p, err := tx.GetPurchase(ctx, purchaseID)
			if err != nil {
				return lookupErr(err, ErrUnknownPurchase, purchaseID)
			}
			switch p.PaymentStatus {
			case model.PaymentFailed:
				purchase = p
				return nil
			case model.PaymentCompleted:
				return fmt.Errorf("%w: %s", ErrPurchaseCompleted, p.ID)
			}
			if released, err = s.releaseTx(ctx, tx, p, optional(reason)); err != nil {
				return err
			}
			if !released {
				return fmt.Errorf("%w: %s changed concurrently", repository.ErrTransient, p.ID)
			}
			purchase, err = tx.GetPurchase(ctx, p.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if released {
		log.Info().Str("purchase_id", purchase.ID).Str("reason", reason).Msg("payment failed, hold released")
		s.notifier.Notify(queue.EventPaymentFailed, queue.PaymentFailedEvent{
			PurchaseID:   purchase.ID,
			TicketTypeID: purchase.TicketTypeID,
			GuestEmail:   purchase.Guest.Email,
			Reason:       reason,
		})
	}
	return purchase, nil
}

// ExpireStaleHolds fails every pending purchase whose hold has run out and
// releases its quantity.  It returns the number of holds released.
func (s *PaymentService) ExpireStaleHolds(ctx context.Context) (int, error) {
	var expired []model.TicketPurchase
	err := s.retry.Do(ctx, "expire holds", func(ctx context.Context) error {
		expired = expired[:0]
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			holds, err := tx.ListExpiredHolds(ctx, s.now(), 200)
			if err != nil {
				return err
			}
			for i := range holds {
				ok, err := s.releaseTx(ctx, tx, &holds[i], nil)
				if err != nil {
					return err
				}
				if ok {
					expired = append(expired, holds[i])
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		s.notifier.Notify(queue.EventPaymentFailed, queue.PaymentFailedEvent{
			PurchaseID:   p.ID,
			TicketTypeID: p.TicketTypeID,
			GuestEmail:   p.Guest.Email,
			Reason:       "hold expired",
		})
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired ticket holds released")
	}
	return len(expired), nil
}

// releaseTx flips a pending purchase to failed and gives its quantity back.
// It reports false when the purchase was no longer pending.
func (s *PaymentService) releaseTx(ctx context.Context, tx repository.Tx, p *model.TicketPurchase, ref *string) (bool, error) {
	ok, err := tx.UpdatePaymentStatus(ctx, p.ID, model.PaymentPending, model.PaymentFailed, ref, s.now())
	if err != nil || !ok {
		return false, err
	}
	if err := tx.ReleaseTicketQuantity(ctx, p.TicketTypeID, p.Quantity); err != nil {
		return false, fmt.Errorf("release %s: %w", p.ID, err)
	}
	return true, nil
}

// WaitForCompletion polls the purchase until its payment is no longer
// pending or timeout elapses, and returns the last state read.  A purchase
// still pending at the timeout is not an error.
func (s *PaymentService) WaitForCompletion(ctx context.Context, purchaseID string, timeout time.Duration) (*model.TicketPurchase, error) {
	var last *model.TicketPurchase
	err := Poll(ctx, s.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		p, err := s.store.GetPurchase(ctx, purchaseID)
		if err != nil {
			if repository.IsTransient(err) {
				return false, nil
			}
			return false, lookupErr(err, ErrUnknownPurchase, purchaseID)
		}
		last = p
		return p.PaymentStatus != model.PaymentPending, nil
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && last != nil {
		return last, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

// ByAccessToken resolves an access link token.
func (s *PaymentService) ByAccessToken(ctx context.Context, token string) (*PurchaseView, error) {
	p, err := s.store.GetPurchaseByAccessToken(ctx, token)
	if err != nil {
		return nil, lookupErr(err, ErrUnknownPurchase, "access token")
	}
	return s.view(ctx, p)
}

// View returns the purchase together with its ticket type and tickets.
func (s *PaymentService) View(ctx context.Context, purchaseID string) (*PurchaseView, error) {
	p, err := s.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, lookupErr(err, ErrUnknownPurchase, purchaseID)
	}
	return s.view(ctx, p)
}

func (s *PaymentService) view(ctx context.Context, p *model.TicketPurchase) (*PurchaseView, error) {
	tt, err := s.store.GetTicketType(ctx, p.TicketTypeID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTicketsByPurchase(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &PurchaseView{Purchase: p, TicketType: tt, Tickets: tickets}, nil
}

func ticketsIssuedEvent(p *model.TicketPurchase, tickets []model.IndividualTicket) queue.TicketsIssuedEvent {
	ev := queue.TicketsIssuedEvent{
		PurchaseID:   p.ID,
		TicketTypeID: p.TicketTypeID,
		GuestName:    p.Guest.Name,
		GuestEmail:   p.Guest.Email,
		GuestPhone:   p.Guest.Phone,
		AccessToken:  p.AccessToken,
	}
	for _, tk := range tickets {
		ev.Tickets = append(ev.Tickets, queue.IssuedTicket{TicketNumber: tk.TicketNumber, QRToken: tk.QRToken, HolderName: tk.HolderName})
	}
	return ev
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
