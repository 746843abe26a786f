package pgcore

import (
	"context"
	"iter"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier runs statements. It is implemented by *Pool, *Handle, *Tx and
// *pgx.Conn, so the executor functions work with pooled, standalone and
// transactional connections alike.
type Querier interface {
	// Exec executes a statement that does not return rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Query executes a statement that returns rows. The caller must close
	// the returned Rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgx.Conn)(nil)

// aborter is implemented by queriers that own a transaction which must be
// rolled back when a statement fails.
type aborter interface {
	abort(error)
}

// streamOwner is implemented by queriers bound to one connection, which must
// refuse other statements while a Stream is reading from it.
type streamOwner interface {
	attachStream(*Stream) error
	detachStream(*Stream)
}

// fail rolls back q's transaction, if any, and returns err. Busy errors
// leave the transaction alone: nothing was sent to the backend.
func fail(q Querier, err error) error {
	if KindOf(err) == KindBusy {
		return err
	}
	if a, ok := q.(aborter); ok {
		a.abort(err)
	}
	return err
}

func invalidStatement(op string) error {
	return newError(KindBind, op, "statement was not built with NewStatement", nil)
}

// Execute runs st and returns the number of rows it affected.
func Execute(ctx context.Context, q Querier, st Statement) (int64, error) {
	if !st.valid() {
		return 0, fail(q, invalidStatement("execute"))
	}
	tag, err := q.Exec(ctx, st.sql, st.args...)
	if err != nil {
		return 0, fail(q, classify("execute", err))
	}
	return tag.RowsAffected(), nil
}

// FetchAll runs st and buffers every row. No matching rows yields an empty,
// non-nil slice.
func FetchAll(ctx context.Context, q Querier, st Statement) ([]Row, error) {
	return fetch(ctx, q, st, "fetch_all", 0)
}

// FetchOne runs st and returns its only row. Zero rows fails with
// KindNotFound (which also matches pgx.ErrNoRows); more than one fails with
// KindTooMany.
func FetchOne(ctx context.Context, q Querier, st Statement) (Row, error) {
	rows, err := fetch(ctx, q, st, "fetch_one", 2)
	if err != nil {
		return Row{}, err
	}
	switch len(rows) {
	case 0:
		return Row{}, fail(q, newError(KindNotFound, "fetch_one", "no rows in result set", pgx.ErrNoRows))
	case 1:
		return rows[0], nil
	}
	return Row{}, fail(q, newError(KindTooMany, "fetch_one", "more than one row in result set", nil))
}

// FetchOptional is FetchOne where zero rows is not an error: ok reports
// whether a row was found. More than one row fails with KindTooMany.
func FetchOptional(ctx context.Context, q Querier, st Statement) (row Row, ok bool, err error) {
	rows, err := fetch(ctx, q, st, "fetch_optional", 2)
	if err != nil {
		return Row{}, false, err
	}
	switch len(rows) {
	case 0:
		return Row{}, false, nil
	case 1:
		return rows[0], true, nil
	}
	return Row{}, false, fail(q, newError(KindTooMany, "fetch_optional", "more than one row in result set", nil))
}

// fetch reads at most limit rows (all when limit <= 0). Rows are closed before
// any transaction rollback so the connection is idle for it.
func fetch(ctx context.Context, q Querier, st Statement, op string, limit int) ([]Row, error) {
	if !st.valid() {
		return nil, fail(q, invalidStatement(op))
	}
	rows, err := q.Query(ctx, st.sql, st.args...)
	if err != nil {
		return nil, fail(q, classify(op, err))
	}

	out := []Row{}
	for rows.Next() {
		var r Row
		r, err = rowFrom(rows)
		if err != nil {
			break
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	rows.Close()
	if err == nil {
		err = rows.Err()
	}
	if err != nil {
		return nil, fail(q, classify(op, err))
	}
	return out, nil
}

// FetchStream runs st and returns a Stream that decodes rows as they are
// read from the connection. When q is a Handle or Tx the connection refuses
// other statements until the Stream is drained or closed.
func FetchStream(ctx context.Context, q Querier, st Statement) (*Stream, error) {
	if !st.valid() {
		return nil, fail(q, invalidStatement("fetch_stream"))
	}
	rows, err := q.Query(ctx, st.sql, st.args...)
	if err != nil {
		return nil, fail(q, classify("fetch_stream", err))
	}

	s := &Stream{rows: rows, q: q}
	if o, ok := q.(streamOwner); ok {
		if err := o.attachStream(s); err != nil {
			rows.Close()
			return nil, err
		}
		s.owner = o
	}
	return s, nil
}

// Stream is a lazy, finite, non-restartable sequence of rows. It is not safe
// for concurrent use.
//
//	s, err := pgcore.FetchStream(ctx, h, st)
//	if err != nil { ... }
//	defer s.Close()
//	for s.Next() {
//		row := s.Row()
//		...
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	rows  pgx.Rows
	q     Querier
	owner streamOwner

	cur       Row
	err       error
	closeOnce sync.Once
	closed    bool
}

// Next advances to the next row. It returns false when the rows are
// exhausted, an error occurs, or the Stream was closed; the Stream is then
// closed and the connection free.
func (s *Stream) Next() bool {
	if s.closed {
		return false
	}
	if !s.rows.Next() {
		s.Close()
		return false
	}
	r, err := rowFrom(s.rows)
	if err != nil {
		s.err = err
		s.Close()
		return false
	}
	s.cur = r
	return true
}

// Row returns the current row.
func (s *Stream) Row() Row { return s.cur }

// Err returns the error, if any, that ended iteration.
func (s *Stream) Err() error { return s.err }

// Close cancels the stream. Remaining rows are discarded and the connection
// is left idle. Close is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed = true
		s.rows.Close()
		if s.err == nil {
			s.err = s.rows.Err()
		}
		if s.owner != nil {
			s.owner.detachStream(s)
		}
		if s.err != nil {
			s.err = fail(s.q, classify("fetch_stream", s.err))
		}
	})
}

// All returns an iterator over the remaining rows. A terminal error is
// yielded once with a zero Row. The Stream is closed when iteration stops.
func (s *Stream) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.cur, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}
