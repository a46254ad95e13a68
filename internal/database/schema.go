package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent so
// the server can run it on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS room_types (
		id             VARCHAR(64)  NOT NULL PRIMARY KEY,
		name           VARCHAR(128) NOT NULL,
		total_capacity INT          NOT NULL CHECK (total_capacity >= 0)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id           CHAR(36)     NOT NULL PRIMARY KEY,
		room_type_id VARCHAR(64)  NOT NULL,
		check_in     DATE         NOT NULL,
		check_out    DATE         NOT NULL,
		status       VARCHAR(16)  NOT NULL,
		guest_name   VARCHAR(128) NOT NULL,
		guest_email  VARCHAR(255) NOT NULL,
		guest_phone  VARCHAR(32)  NOT NULL DEFAULT '',
		created_at   DATETIME(6)  NOT NULL,
		updated_at   DATETIME(6)  NOT NULL,
		deleted_at   DATETIME(6)  NULL,
		KEY idx_bookings_type_range (room_type_id, check_in, check_out),
		CONSTRAINT fk_bookings_room_type FOREIGN KEY (room_type_id) REFERENCES room_types (id),
		CHECK (check_out > check_in)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS ticket_types (
		id                 VARCHAR(64)  NOT NULL PRIMARY KEY,
		name               VARCHAR(128) NOT NULL,
		price_cents        BIGINT       NOT NULL,
		total_quantity     INT          NOT NULL,
		available_quantity INT          NOT NULL,
		event_date         DATETIME(6)  NULL,
		CHECK (available_quantity >= 0 AND available_quantity <= total_quantity)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS ticket_purchases (
		id                 CHAR(36)     NOT NULL PRIMARY KEY,
		ticket_type_id     VARCHAR(64)  NOT NULL,
		quantity           INT          NOT NULL,
		total_amount_cents BIGINT       NOT NULL,
		payment_status     VARCHAR(16)  NOT NULL,
		payment_ref        VARCHAR(128) NULL,
		access_token       CHAR(64)     NOT NULL,
		guest_name         VARCHAR(128) NOT NULL,
		guest_email        VARCHAR(255) NOT NULL,
		guest_phone        VARCHAR(32)  NOT NULL DEFAULT '',
		hold_expires_at    DATETIME(6)  NOT NULL,
		created_at         DATETIME(6)  NOT NULL,
		updated_at         DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_purchases_access_token (access_token),
		KEY idx_purchases_hold (payment_status, hold_expires_at),
		CONSTRAINT fk_purchases_ticket_type FOREIGN KEY (ticket_type_id) REFERENCES ticket_types (id)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS individual_tickets (
		id             CHAR(36)     NOT NULL PRIMARY KEY,
		purchase_id    CHAR(36)     NOT NULL,
		ticket_type_id VARCHAR(64)  NOT NULL,
		seq            INT          NOT NULL,
		ticket_number  VARCHAR(16)  NOT NULL,
		qr_token       VARCHAR(32)  NOT NULL,
		holder_name    VARCHAR(128) NOT NULL,
		status         VARCHAR(16)  NOT NULL,
		used_at        DATETIME(6)  NULL,
		used_by        VARCHAR(128) NULL,
		created_at     DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_tickets_number (ticket_number),
		UNIQUE KEY uq_tickets_qr (qr_token),
		UNIQUE KEY uq_tickets_purchase_seq (purchase_id, seq),
		CONSTRAINT fk_tickets_purchase FOREIGN KEY (purchase_id) REFERENCES ticket_purchases (id)
	) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS validation_records (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		ticket_id  CHAR(36)     NULL,
		code       VARCHAR(64)  NOT NULL,
		validator  VARCHAR(128) NOT NULL,
		outcome    VARCHAR(32)  NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		KEY idx_validation_ticket (ticket_id, created_at)
	) ENGINE=InnoDB`,
}

// Migrate creates the tables used by the MySQL store if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
