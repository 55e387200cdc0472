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
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	domainErr := errors.New("lead has no email")

	tests := []struct {
		name             string
		err              error
		wantConnectivity bool
		wantQuery        bool
		wantCode         string
		wantSame         bool
	}{
		{name: "nil", err: nil, wantSame: true},
		{name: "connection failure sqlstate", err: &pq.Error{Code: "08006"}, wantConnectivity: true},
		{name: "authentication failure", err: &pq.Error{Code: "28P01"}, wantConnectivity: true},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, wantConnectivity: true},
		{name: "too many connections", err: &pq.Error{Code: "53300"}, wantConnectivity: true},
		{name: "bad connection", err: driver.ErrBadConn, wantConnectivity: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, wantConnectivity: true},
		{name: "connection refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, wantConnectivity: true},
		{name: "wrapped reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), wantConnectivity: true},
		{name: "syntax error", err: &pq.Error{Code: "42601"}, wantQuery: true, wantCode: "42601"},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, wantQuery: true, wantCode: "23505"},
		{name: "statement timeout", err: &pq.Error{Code: "57014"}, wantQuery: true, wantCode: "57014"},
		{name: "no rows passes through", err: sql.ErrNoRows, wantSame: true},
		{name: "canceled passes through", err: context.Canceled, wantSame: true},
		{name: "domain error passes through", err: domainErr, wantSame: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("claim", tt.err)

			assert.Equal(t, tt.wantConnectivity, IsConnectivity(got))
			assert.Equal(t, tt.wantQuery, IsQuery(got))

			if tt.wantSame {
				assert.Equal(t, tt.err, got)
			}
			if tt.wantCode != "" {
				var queryErr *QueryError
				if assert.True(t, errors.As(got, &queryErr)) {
					assert.Equal(t, tt.wantCode, queryErr.Code)
					assert.Equal(t, "claim", queryErr.Op)
				}
			}
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}

func TestClassify_KeepsTypedErrors(t *testing.T) {
	connErr := &ConnectivityError{Op: "connect", Err: io.EOF}
	wrapped := fmt.Errorf("failed to claim work items: %w", connErr)

	assert.Same(t, connErr, classify("other", connErr))
	assert.Equal(t, wrapped, classify("other", wrapped))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestErrorMessages(t *testing.T) {
	connErr := &ConnectivityError{Op: "connect", Attempts: 3, Err: io.EOF}
	assert.Equal(t, "database unreachable during connect after 3 attempts: EOF", connErr.Error())

	single := &ConnectivityError{Op: "claim", Attempts: 1, Err: io.EOF}
	assert.Equal(t, "database unreachable during claim: EOF", single.Error())

	queryErr := &QueryError{Op: "complete", Code: "23505", Err: errors.New("duplicate key")}
	assert.Equal(t, "query failed during complete (sqlstate 23505): duplicate key", queryErr.Error())
}
