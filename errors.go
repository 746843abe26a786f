package pgcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an Error. Kind implements error so callers can match a
// category without inspecting messages:
//
//	if errors.Is(err, pgcore.KindNotFound) { ... }
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConnection: backend unreachable, authentication failure, or a
	// connection lost outside of a statement round-trip.
	KindConnection
	// KindTimeout: no pooled connection became available in time.
	KindTimeout
	// KindQuery: the backend rejected or failed a statement.
	KindQuery
	// KindBind: placeholder arity or parameter type mismatch.
	KindBind
	// KindNotFound: FetchOne saw zero rows.
	KindNotFound
	// KindTooMany: FetchOne saw more than one row.
	KindTooMany
	// KindCommit: the backend rejected COMMIT; the transaction is rolled back.
	KindCommit
	// KindMapping: a row could not be decoded into the target record.
	KindMapping
	// KindBusy: the connection has an open stream or transaction, or the
	// handle/transaction has already been closed.
	KindBusy
	// KindConfig: invalid Config or connection string.
	KindConfig
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindConnection: "connection",
	KindTimeout:    "timeout",
	KindQuery:      "query",
	KindBind:       "bind",
	KindNotFound:   "not found",
	KindTooMany:    "too many rows",
	KindCommit:     "commit",
	KindMapping:    "mapping",
	KindBusy:       "busy",
	KindConfig:     "config",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string { return "pgcore: " + k.String() }

// Error is returned by every operation in this package.
//
// Error() is safe for default production logging: it never contains the
// connection string. The wrapped cause may still contain sensitive detail.
type Error struct {
	Kind Kind
	// Op names the failing operation ("acquire", "execute", "commit", ...).
	Op    string
	msg   string
	cause error
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is e's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// SQLState returns the backend SQLSTATE code, or "" when the failure did not
// come from the backend.
func (e *Error) SQLState() string {
	var pgErr *pgconn.PgError
	if errors.As(e.cause, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// BackendMessage returns the backend's primary error message, or "".
func (e *Error) BackendMessage() string {
	var pgErr *pgconn.PgError
	if errors.As(e.cause, &pgErr) {
		return pgErr.Message
	}
	return ""
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, msg: "pgcore: " + op + ": " + msg, cause: cause}
}

// classify wraps a driver error from a statement round-trip. Backend errors
// keep their message and SQLSTATE in the outer text; everything else stays
// generic because pgx connect errors can echo connection parameters.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return newError(KindQuery, op, fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code), err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return newError(KindConnection, op, "connection failed", err)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return newError(KindQuery, op, "canceled", err)
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return newError(KindQuery, op, "deadline exceeded", err)
	}
	return newError(KindQuery, op, "statement failed", err)
}
