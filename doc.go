// Package pgcore is a connection-pooled query-execution layer for PostgreSQL
// built on pgx v5.
//
// A Pool hands out Handles, each exclusive access to one connection.
// Statements are built with NewStatement, which checks placeholder arity and
// declared casts before anything reaches the backend, and run with the
// executor functions (Execute, FetchAll, FetchOne, FetchOptional,
// FetchStream) against any Querier: the Pool itself, a Handle, a Tx, or a
// standalone *pgx.Conn. MapRow decodes a Row into a struct.
//
// Invariants:
//
//   - A connection has one holder at a time; Handle.Release is idempotent and
//     never fails.
//   - A Handle with an open Stream refuses other statements, and releasing it
//     drains the stream first.
//   - At most one Tx is active per Handle. A Tx that fails or is abandoned is
//     rolled back; nothing commits implicitly.
//   - Errors are *Error values classified by Kind and safe to log by default.
//
// Nothing is retried automatically.
package pgcore
