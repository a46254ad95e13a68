package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

const (
	purchaseColumns = `id, ticket_type_id, quantity, total_amount_cents, payment_status, payment_ref, access_token,
	                   guest_name, guest_email, guest_phone, hold_expires_at, created_at, updated_at`
	ticketColumns = `id, purchase_id, ticket_type_id, seq, ticket_number, qr_token, holder_name, status, used_at, used_by, created_at`
)

type scanner interface{ Scan(...interface{}) error }

func scanPurchase(row scanner) (*model.TicketPurchase, error) {
	var (
		p      model.TicketPurchase
		status string
		ref    sql.NullString
	)
	if err := row.Scan(&p.ID, &p.TicketTypeID, &p.Quantity, &p.TotalAmountCents, &status, &ref, &p.AccessToken,
		&p.Guest.Name, &p.Guest.Email, &p.Guest.Phone, &p.HoldExpiresAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	p.PaymentStatus = model.PaymentStatus(status)
	p.PaymentRef = stringPtr(ref)
	p.HoldExpiresAt, p.CreatedAt, p.UpdatedAt = p.HoldExpiresAt.UTC(), p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func scanTicket(row scanner) (*model.IndividualTicket, error) {
	var (
		tk     model.IndividualTicket
		status string
		usedAt sql.NullTime
		usedBy sql.NullString
	)
	if err := row.Scan(&tk.ID, &tk.PurchaseID, &tk.TicketTypeID, &tk.Index, &tk.TicketNumber, &tk.QRToken,
		&tk.HolderName, &status, &usedAt, &usedBy, &tk.CreatedAt); err != nil {
		return nil, classify(err)
	}
	tk.Status = model.TicketStatus(status)
	tk.UsedAt = timePtr(usedAt)
	tk.UsedBy = stringPtr(usedBy)
	tk.CreatedAt = tk.CreatedAt.UTC()
	return &tk, nil
}

func (r mysqlReader) GetTicketType(ctx context.Context, id string) (*model.TicketType, error) {
	var (
		tt    model.TicketType
		event sql.NullTime
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, price_cents, total_quantity, available_quantity, event_date FROM ticket_types WHERE id = ?`, id,
	).Scan(&tt.ID, &tt.Name, &tt.PriceCents, &tt.TotalQuantity, &tt.AvailableQuantity, &event)
	if err != nil {
		return nil, classify(err)
	}
	tt.EventDate = timePtr(event)
	return &tt, nil
}

func (r mysqlReader) GetPurchase(ctx context.Context, id string) (*model.TicketPurchase, error) {
	return scanPurchase(r.q.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM ticket_purchases WHERE id = ?`, id))
}

func (r mysqlReader) GetPurchaseByAccessToken(ctx context.Context, token string) (*model.TicketPurchase, error) {
	return scanPurchase(r.q.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM ticket_purchases WHERE access_token = ?`, token))
}

func (r mysqlReader) ListTicketsByPurchase(ctx context.Context, purchaseID string) ([]model.IndividualTicket, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM individual_tickets WHERE purchase_id = ? ORDER BY seq`, purchaseID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.IndividualTicket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tk)
	}
	return out, classify(rows.Err())
}

func (r mysqlReader) FindTicketByCode(ctx context.Context, code string) (*model.IndividualTicket, error) {
	c := NormalizeCode(code)
	return scanTicket(r.q.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM individual_tickets WHERE ticket_number = ? OR qr_token = ? LIMIT 1`, c, c))
}

func (r mysqlReader) TicketCodeExists(ctx context.Context, code string) (bool, error) {
	c := NormalizeCode(code)
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM individual_tickets WHERE ticket_number = ? OR qr_token = ?`, c, c).Scan(&n)
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (r mysqlReader) ListValidationRecords(ctx context.Context, ticketID string) ([]model.ValidationRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, ticket_id, code, validator, outcome, created_at FROM validation_records WHERE ticket_id = ? ORDER BY created_at`,
		ticketID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.ValidationRecord
	for rows.Next() {
		var (
			rec     model.ValidationRecord
			tid     sql.NullString
			outcome string
		)
		if err := rows.Scan(&rec.ID, &tid, &rec.Code, &rec.Validator, &outcome, &rec.CreatedAt); err != nil {
			return nil, classify(err)
		}
		rec.TicketID = stringPtr(tid)
		rec.Outcome = model.ValidationOutcome(outcome)
		out = append(out, rec)
	}
	return out, classify(rows.Err())
}

// EnsureTicketType inserts the ticket type with its full quantity
// available if it does not exist yet.
func (t *mysqlTx) EnsureTicketType(ctx context.Context, tt model.TicketType) error {
	var event interface{}
	if tt.EventDate != nil {
		event = tt.EventDate.UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT IGNORE INTO ticket_types (id, name, price_cents, total_quantity, available_quantity, event_date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tt.ID, tt.Name, tt.PriceCents, tt.TotalQuantity, tt.TotalQuantity, event)
	return classify(err)
}

// DecrementTicketQuantity is the single atomic statement guarding ticket
// inventory: the WHERE clause re-checks the remainder under the row lock
// the UPDATE takes.
func (t *mysqlTx) DecrementTicketQuantity(ctx context.Context, ticketTypeID string, n int) (bool, error) {
	return execCAS(ctx, t.tx,
		`UPDATE ticket_types SET available_quantity = available_quantity - ? WHERE id = ? AND available_quantity >= ?`,
		n, ticketTypeID, n)
}

func (t *mysqlTx) ReleaseTicketQuantity(ctx context.Context, ticketTypeID string, n int) error {
	ok, err := execCAS(ctx, t.tx,
		`UPDATE ticket_types SET available_quantity = available_quantity + ?
		 WHERE id = ? AND available_quantity + ? <= total_quantity`,
		n, ticketTypeID, n)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	var exists int
	err = t.tx.QueryRowContext(ctx, `SELECT 1 FROM ticket_types WHERE id = ?`, ticketTypeID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("release of %d on %s: %w", n, ticketTypeID, classify(err))
	}
	return fmt.Errorf("release of %d on %s: %w", n, ticketTypeID, ErrOverRelease)
}

func (t *mysqlTx) InsertPurchase(ctx context.Context, p *model.TicketPurchase) error {
	const q = `INSERT INTO ticket_purchases (id, ticket_type_id, quantity, total_amount_cents, payment_status, payment_ref,
	           access_token, guest_name, guest_email, guest_phone, hold_expires_at, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, q,
		p.ID, p.TicketTypeID, p.Quantity, p.TotalAmountCents, string(p.PaymentStatus), nullString(p.PaymentRef),
		p.AccessToken, p.Guest.Name, p.Guest.Email, p.Guest.Phone, p.HoldExpiresAt.UTC(), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert purchase: %w", classify(err))
	}
	return nil
}

func (t *mysqlTx) UpdatePaymentStatus(ctx context.Context, id string, from, to model.PaymentStatus, ref *string, at time.Time) (bool, error) {
	return execCAS(ctx, t.tx,
		`UPDATE ticket_purchases SET payment_status = ?, payment_ref = COALESCE(?, payment_ref), updated_at = ?
		 WHERE id = ? AND payment_status = ?`,
		string(to), nullString(ref), at.UTC(), id, string(from))
}

func (t *mysqlTx) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.TicketPurchase, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM ticket_purchases
		 WHERE payment_status = 'pending' AND hold_expires_at <= ?
		 ORDER BY hold_expires_at LIMIT ? FOR UPDATE SKIP LOCKED`, now.UTC(), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.TicketPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, classify(rows.Err())
}

// InsertTickets writes all tickets of a batch in one statement.  The unique
// keys on ticket_number and qr_token are the last line of defence against
// duplicates; a violation surfaces as ErrDuplicateKey.
func (t *mysqlTx) InsertTickets(ctx context.Context, tickets []model.IndividualTicket) error {
	if len(tickets) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO individual_tickets (id, purchase_id, ticket_type_id, seq, ticket_number, qr_token, holder_name, status, created_at) VALUES `)
	args := make([]interface{}, 0, len(tickets)*9)
	for i, tk := range tickets {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, tk.ID, tk.PurchaseID, tk.TicketTypeID, tk.Index, tk.TicketNumber, tk.QRToken,
			tk.HolderName, string(tk.Status), tk.CreatedAt.UTC())
	}
	if _, err := t.tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert tickets: %w", classify(err))
	}
	return nil
}

func (t *mysqlTx) LockTicketByCode(ctx context.Context, code string) (*model.IndividualTicket, error) {
	c := NormalizeCode(code)
	return scanTicket(t.tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM individual_tickets WHERE ticket_number = ? OR qr_token = ? LIMIT 1 FOR UPDATE`, c, c))
}

func (t *mysqlTx) LockTicket(ctx context.Context, id string) (*model.IndividualTicket, error) {
	return scanTicket(t.tx.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM individual_tickets WHERE id = ? FOR UPDATE`, id))
}

// MarkTicketUsed is the compare-and-swap that consumes a ticket.
func (t *mysqlTx) MarkTicketUsed(ctx context.Context, id string, at time.Time, by string) (bool, error) {
	return execCAS(ctx, t.tx,
		`UPDATE individual_tickets SET status = 'used', used_at = ?, used_by = ? WHERE id = ? AND status = 'unused'`,
		at.UTC(), by, id)
}

func (t *mysqlTx) InsertValidationRecord(ctx context.Context, rec *model.ValidationRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO validation_records (id, ticket_id, code, validator, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.TicketID), rec.Code, rec.Validator, string(rec.Outcome), rec.CreatedAt.UTC())
	return classify(err)
}
