package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

const bookingColumns = `id, room_type_id, check_in, check_out, status, guest_name, guest_email, guest_phone, created_at, updated_at, deleted_at`

func scanBooking(row scanner) (*model.Booking, error) {
	var (
		b       model.Booking
		status  string
		deleted sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.RoomTypeID, &b.CheckIn, &b.CheckOut, &status,
		&b.Guest.Name, &b.Guest.Email, &b.Guest.Phone, &b.CreatedAt, &b.UpdatedAt, &deleted); err != nil {
		return nil, classify(err)
	}
	b.Status = model.BookingStatus(status)
	b.CheckIn, b.CheckOut = b.CheckIn.UTC(), b.CheckOut.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	b.DeletedAt = timePtr(deleted)
	return &b, nil
}

func (r mysqlReader) GetRoomType(ctx context.Context, id string) (*model.RoomType, error) {
	var rt model.RoomType
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, total_capacity FROM room_types WHERE id = ?`, id,
	).Scan(&rt.ID, &rt.Name, &rt.TotalCapacity)
	if err != nil {
		return nil, classify(err)
	}
	return &rt, nil
}

func (r mysqlReader) ListRoomTypes(ctx context.Context) ([]model.RoomType, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, total_capacity FROM room_types ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.RoomType
	for rows.Next() {
		var rt model.RoomType
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.TotalCapacity); err != nil {
			return nil, classify(err)
		}
		out = append(out, rt)
	}
	return out, classify(rows.Err())
}

// CountOverlappingBookings uses the half-open overlap test
// existing.check_in < end AND existing.check_out > start, so a stay that
// ends on the day another begins does not count.
func (r mysqlReader) CountOverlappingBookings(ctx context.Context, roomTypeID string, start, end time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM bookings
	           WHERE room_type_id = ?
	             AND status NOT IN ('cancelled', 'deleted')
	             AND check_in < ? AND check_out > ?`
	var n int
	if err := r.q.QueryRowContext(ctx, q, roomTypeID, end.UTC(), start.UTC()).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (r mysqlReader) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return scanBooking(r.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
}

// EnsureRoomType inserts the room type if it does not exist yet.  Existing
// rows keep their configured capacity.
func (t *mysqlTx) EnsureRoomType(ctx context.Context, rt model.RoomType) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT IGNORE INTO room_types (id, name, total_capacity) VALUES (?, ?, ?)`,
		rt.ID, rt.Name, rt.TotalCapacity)
	return classify(err)
}

// LockRoomType takes an exclusive lock on the room type row.  Every
// reservation of the type goes through this row, so concurrent
// check-and-insert sequences for one type run one after another.
func (t *mysqlTx) LockRoomType(ctx context.Context, id string) (*model.RoomType, error) {
	var rt model.RoomType
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, total_capacity FROM room_types WHERE id = ? FOR UPDATE`, id,
	).Scan(&rt.ID, &rt.Name, &rt.TotalCapacity)
	if err != nil {
		return nil, classify(err)
	}
	return &rt, nil
}

func (t *mysqlTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings (id, room_type_id, check_in, check_out, status, guest_name, guest_email, guest_phone, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, q,
		b.ID, b.RoomTypeID, b.CheckIn.UTC(), b.CheckOut.UTC(), string(b.Status),
		b.Guest.Name, b.Guest.Email, b.Guest.Phone, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert booking: %w", classify(err))
	}
	return nil
}

func (t *mysqlTx) UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) (bool, error) {
	if to == model.BookingDeleted {
		return execCAS(ctx, t.tx,
			`UPDATE bookings SET status = ?, updated_at = ?, deleted_at = ? WHERE id = ? AND status = ?`,
			string(to), at.UTC(), at.UTC(), id, string(from))
	}
	return execCAS(ctx, t.tx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UTC(), id, string(from))
}
