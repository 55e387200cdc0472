package postgresql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/lib/pq"
)

// ConnectivityError is a network, authentication or server availability
// failure. It is retried by the client and becomes fatal once the retry
// budget is spent.
type ConnectivityError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("database unreachable during %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("database unreachable during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// QueryError is a statement rejected by the server: malformed SQL, a
// constraint violation, a statement timeout. It is never retried.
type QueryError struct {
	Op   string
	Code string // SQLSTATE
	Err  error
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("query failed during %s (sqlstate %s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("query failed during %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsConnectivity reports whether err is, or wraps, a ConnectivityError
func IsConnectivity(err error) bool {
	var connErr *ConnectivityError
	return errors.As(err, &connErr)
}

// IsQuery reports whether err is, or wraps, a QueryError
func IsQuery(err error) bool {
	var queryErr *QueryError
	return errors.As(err, &queryErr)
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// classify maps a raw driver error onto ConnectivityError or QueryError.
// Context errors, sql.ErrNoRows and errors that did not come from the
// driver are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectivityError
	var queryErr *QueryError
	if errors.As(err, &connErr) || errors.As(err, &queryErr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if isTransient(err) {
		return &ConnectivityError{Op: op, Attempts: 1, Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &QueryError{Op: op, Code: string(pqErr.Code), Err: err}
	}

	return err
}

// isTransient reports whether err signals a lost or refused connection
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection_exception
			return true
		case "28": // invalid_authorization_specification
			return true
		}
		switch pqErr.Code {
		case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
			return true
		case "53300": // too_many_connections
			return true
		}
		return false
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
