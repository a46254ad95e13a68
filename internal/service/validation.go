package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/model"
	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// ValidationEvent is one validation attempt as shown on the live feed.
type ValidationEvent struct {
	TicketTypeID string                  `json:"ticket_type_id,omitempty"`
	TicketID     string                  `json:"ticket_id,omitempty"`
	TicketNumber string                  `json:"ticket_number,omitempty"`
	Code         string                  `json:"code"`
	Outcome      model.ValidationOutcome `json:"outcome"`
	Validator    string                  `json:"validator"`
	At           time.Time               `json:"at"`
}

// ValidationFeed receives every validation attempt.  It must not block.
type ValidationFeed interface {
	PublishValidation(ev ValidationEvent)
}

// ValidationResult describes a successfully consumed ticket.
type ValidationResult struct {
	Ticket     *model.IndividualTicket
	TicketType *model.TicketType
}

// TicketOutcome is one entry of a bulk validation.
type TicketOutcome struct {
	TicketID     string                  `json:"ticket_id"`
	TicketNumber string                  `json:"ticket_number"`
	Outcome      model.ValidationOutcome `json:"outcome"`
}

// BulkValidationResult aggregates the validation of every ticket of a
// purchase.  Success is true only if every ticket validated.
type BulkValidationResult struct {
	PurchaseID string          `json:"purchase_id"`
	Success    bool            `json:"success"`
	Results    []TicketOutcome `json:"results"`
}

// ValidationService consumes tickets at the gate.  The lookup, the checks
// and the unused->used compare-and-swap run in one transaction with the
// ticket row locked, so two scanners racing on the same code cannot both
// admit it.
type ValidationService struct {
	store repository.Store
	grace time.Duration
	retry RetryPolicy
	feed  ValidationFeed
	now   Clock
}

func NewValidationService(store repository.Store, grace time.Duration, retry RetryPolicy, feed ValidationFeed) *ValidationService {
	return &ValidationService{store: store, grace: grace, retry: retry, feed: feed, now: utcNow}
}

// Validate consumes the ticket identified by a ticket number or QR token.
// Rejections are returned as ErrUnknownTicket, *DuplicateValidationError,
// ErrExpiredTicket or ErrTicketTransferred.  Every attempt, successful or
// not, leaves a ValidationRecord.
func (s *ValidationService) Validate(ctx context.Context, code, validator string) (*ValidationResult, error) {
	code = repository.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	if err := checkValidator(validator); err != nil {
		return nil, err
	}
	return s.validate(ctx, code, validator, func(ctx context.Context, tx repository.Tx) (*model.IndividualTicket, error) {
		return tx.LockTicketByCode(ctx, code)
	})
}

// ValidateAll validates every ticket of a purchase and reports each
// outcome.  One ticket failing does not stop the others.
func (s *ValidationService) ValidateAll(ctx context.Context, purchaseID, validator string) (*BulkValidationResult, error) {
	if err := checkValidator(validator); err != nil {
		return nil, err
	}
	p, err := s.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, lookupErr(err, ErrUnknownPurchase, purchaseID)
	}
	if p.PaymentStatus != model.PaymentCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrPurchaseNotCompleted, p.ID, p.PaymentStatus)
	}
	tickets, err := s.store.ListTicketsByPurchase(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	res := &BulkValidationResult{PurchaseID: p.ID, Success: len(tickets) > 0}
	for _, tk := range tickets {
		id := tk.ID
		_, err := s.validate(ctx, tk.TicketNumber, validator, func(ctx context.Context, tx repository.Tx) (*model.IndividualTicket, error) {
			return tx.LockTicket(ctx, id)
		})
		outcome := OutcomeOf(err)
		if outcome != model.OutcomeValidated {
			res.Success = false
		}
		res.Results = append(res.Results, TicketOutcome{TicketID: tk.ID, TicketNumber: tk.TicketNumber, Outcome: outcome})
	}
	return res, nil
}

// History returns the audit trail of a ticket.
func (s *ValidationService) History(ctx context.Context, ticketID string) ([]model.ValidationRecord, error) {
	return s.store.ListValidationRecords(ctx, ticketID)
}

type ticketLookup func(ctx context.Context, tx repository.Tx) (*model.IndividualTicket, error)

func (s *ValidationService) validate(ctx context.Context, code, validator string, lookup ticketLookup) (*ValidationResult, error) {
	var (
		res    *ValidationResult
		ticket *model.IndividualTicket
	)
	err := s.retry.Do(ctx, "validate ticket", func(ctx context.Context) error {
		res, ticket = nil, nil
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			tk, err := lookup(ctx, tx)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrUnknownTicket, code)
				}
				return err
			}
			ticket = tk
			tt, err := tx.GetTicketType(ctx, tk.TicketTypeID)
			if err != nil {
				return err
			}
			now := s.now()
			if err := s.check(tk, tt, now); err != nil {
				return err
			}

			ok, err := tx.MarkTicketUsed(ctx, tk.ID, now, validator)
			if err != nil {
				return err
			}
			if !ok {
				// lost the race to another scanner
				return s.duplicate(ctx, tx, tk.ID)
			}
			tk.Status = model.TicketUsed
			tk.UsedAt, tk.UsedBy = &now, &validator
			if err := tx.InsertValidationRecord(ctx, newRecord(tk.ID, code, validator, model.OutcomeValidated, now)); err != nil {
				return err
			}
			res = &ValidationResult{Ticket: tk, TicketType: tt}
			return nil
		})
	})

	outcome := OutcomeOf(err)
	var ticketID *string
	if ticket != nil {
		ticketID = &ticket.ID
	}
	if err != nil && outcome != model.OutcomeError {
		s.recordFailure(ctx, ticketID, code, validator, outcome)
	}
	s.publish(ticket, code, validator, outcome)

	ev := log.Info()
	if outcome == model.OutcomeError {
		ev = log.Error().Err(err)
	}
	ev.Str("code", code).Str("validator", validator).Str("outcome", string(outcome)).Msg("ticket validation")
	return res, err
}

// check applies the rejection rules to a locked ticket.
func (s *ValidationService) check(tk *model.IndividualTicket, tt *model.TicketType, now time.Time) error {
	switch tk.Status {
	case model.TicketUsed:
		return duplicateOf(tk)
	case model.TicketTransferred:
		return fmt.Errorf("%w: %s", ErrTicketTransferred, tk.TicketNumber)
	case model.TicketExpired:
		return fmt.Errorf("%w: %s", ErrExpiredTicket, tk.TicketNumber)
	}
	if tt.EventDate != nil {
		// the event date is a calendar day; the grace window starts when it ends
		cutoff := dateOnly(*tt.EventDate).AddDate(0, 0, 1).Add(s.grace)
		if now.After(cutoff) {
			return fmt.Errorf("%w: %s was valid until %s", ErrExpiredTicket, tk.TicketNumber, cutoff.Format(time.RFC3339))
		}
	}
	return nil
}

func checkValidator(validator string) error {
	if utf8.RuneCountInString(validator) > model.MaxStaffIDLen {
		return fmt.Errorf("%w: validator identity longer than %d characters", ErrInvalidRequest, model.MaxStaffIDLen)
	}
	return nil
}

func (s *ValidationService) duplicate(ctx context.Context, tx repository.Tx, ticketID string) error {
	tk, err := tx.LockTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	return duplicateOf(tk)
}

func duplicateOf(tk *model.IndividualTicket) error {
	e := &DuplicateValidationError{TicketID: tk.ID, Ticket: tk}
	if tk.UsedAt != nil {
		e.UsedAt = *tk.UsedAt
	}
	if tk.UsedBy != nil {
		e.UsedBy = *tk.UsedBy
	}
	return e
}

// recordFailure appends the audit record of a rejected attempt.  The
// rejection itself already happened; a failure here is only logged.
func (s *ValidationService) recordFailure(ctx context.Context, ticketID *string, code, validator string, outcome model.ValidationOutcome) {
	ctx = context.WithoutCancel(ctx)
	rec := newRecord("", code, validator, outcome, s.now())
	rec.TicketID = ticketID
	err := s.retry.Do(ctx, "record validation", func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.InsertValidationRecord(ctx, rec)
		})
	})
	if err != nil {
		log.Error().Err(err).Str("code", code).Str("outcome", string(outcome)).Msg("validation record lost")
	}
}

func (s *ValidationService) publish(tk *model.IndividualTicket, code, validator string, outcome model.ValidationOutcome) {
	if s.feed == nil {
		return
	}
	ev := ValidationEvent{Code: code, Outcome: outcome, Validator: validator, At: s.now()}
	if tk != nil {
		ev.TicketTypeID, ev.TicketID, ev.TicketNumber = tk.TicketTypeID, tk.ID, tk.TicketNumber
	}
	s.feed.PublishValidation(ev)
}

func newRecord(ticketID, code, validator string, outcome model.ValidationOutcome, at time.Time) *model.ValidationRecord {
	rec := &model.ValidationRecord{
		ID:        uuid.NewString(),
		Code:      code,
		Validator: validator,
		Outcome:   outcome,
		CreatedAt: at,
	}
	if ticketID != "" {
		rec.TicketID = &ticketID
	}
	return rec
}

// OutcomeOf maps a Validate error onto the recorded outcome.
func OutcomeOf(err error) model.ValidationOutcome {
	switch {
	case err == nil:
		return model.OutcomeValidated
	case errors.Is(err, ErrUnknownTicket):
		return model.OutcomeUnknown
	case errors.Is(err, ErrDuplicateValidation):
		return model.OutcomeDuplicate
	case errors.Is(err, ErrExpiredTicket):
		return model.OutcomeExpired
	case errors.Is(err, ErrTicketTransferred):
		return model.OutcomeTransferred
	}
	return model.OutcomeError
}
