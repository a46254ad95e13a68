// Package repository defines the inventory store used by the reservation,
// issuance and validation services, together with its MySQL and in-memory
// implementations.  The sentinel values below let higher layers tell
// "the row is not there" apart from "the store is temporarily unhappy"
// without inspecting driver-specific errors.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a looked-up row does not exist.  Handlers
// translate it into a 404 unless a more specific domain error applies.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert violates a unique key, such
// as a ticket number or QR token that already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrOverRelease is returned when returning quantity to a ticket type would
// push it above its total.  It means the caller released a hold twice.
var ErrOverRelease = errors.New("release exceeds total quantity")

// ErrValueTooLong is returned when a value does not fit its column.  It is
// a caller error and is never retried.
var ErrValueTooLong = errors.New("value too long for column")

// ErrTransient marks failures worth retrying: deadlocks, lock wait
// timeouts, dropped or refused connections.  It is always wrapped around
// the original driver error.
var ErrTransient = errors.New("transient store error")

// MySQL server error numbers we care about.
const (
	mysqlDuplicateEntry   = 1062
	mysqlDataTooLong      = 1406
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	mysqlServerShutdown   = 1053
	mysqlTooManyConns     = 1040
	mysqlQueryInterrupted = 1317
)

// classify maps a driver error onto the package sentinels.  Errors that
// carry no special meaning are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		case mysqlDataTooLong:
			return fmt.Errorf("%w: %v", ErrValueTooLong, err)
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlServerShutdown, mysqlTooManyConns, mysqlQueryInterrupted:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
