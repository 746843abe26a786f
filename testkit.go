package pgcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotMocked is returned when a TestConn method is called without a
// corresponding Func field set.
var ErrNotMocked = errors.New("pgcore.TestConn: method not mocked; set the corresponding Func field")

// TestConn is an in-memory connection for unit tests. Wrap it with
// NewTestHandle to exercise code that takes a *Handle.
type TestConn struct {
	ExecFunc    func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryFunc   func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTxFunc func(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	PingFunc    func(ctx context.Context) error
	// ReleaseFunc runs when the wrapping Handle is released.
	ReleaseFunc func()
}

var _ Querier = (*TestConn)(nil)

// NewTestHandle returns a Handle backed by c.
func NewTestHandle(c *TestConn) *Handle {
	return newHandle(c, func() {
		if c.ReleaseFunc != nil {
			c.ReleaseFunc()
		}
	}, nil, nil)
}

func (t *TestConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.ExecFunc != nil {
		return t.ExecFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, ErrNotMocked
}

func (t *TestConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.QueryFunc != nil {
		return t.QueryFunc(ctx, sql, args...)
	}
	return &ErrRows{ErrValue: ErrNotMocked}, ErrNotMocked
}

func (t *TestConn) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if t.BeginTxFunc != nil {
		return t.BeginTxFunc(ctx, txOptions)
	}
	return nil, ErrNotMocked
}

func (t *TestConn) Ping(ctx context.Context) error {
	if t.PingFunc != nil {
		return t.PingFunc(ctx)
	}
	return nil
}

// ErrRows implements pgx.Rows and always returns the configured error.
type ErrRows struct {
	// ErrValue is returned by Err(), Scan(), and Values().
	ErrValue error
}

func (r *ErrRows) Close()                                       {}
func (r *ErrRows) Err() error                                   { return r.ErrValue }
func (r *ErrRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *ErrRows) Conn() *pgx.Conn                              { return nil }
func (r *ErrRows) RawValues() [][]byte                          { return nil }
func (r *ErrRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *ErrRows) Next() bool                                   { return false }
func (r *ErrRows) Values() ([]any, error)                       { return nil, r.ErrValue }

func (r *ErrRows) Scan(dest ...any) error {
	if r.ErrValue != nil {
		return r.ErrValue
	}
	return fmt.Errorf("pgcore.ErrRows: Scan called with nil ErrValue")
}

// RowsBuilder builds pgx.Rows backed by in-memory rows.
type RowsBuilder struct {
	columns []string
	rows    [][]any
	err     error
}

// NewRows creates a new RowsBuilder.
func NewRows(columns []string) *RowsBuilder {
	return &RowsBuilder{columns: columns}
}

// AddRow appends a row. It panics on arity mismatch.
func (b *RowsBuilder) AddRow(values ...any) *RowsBuilder {
	if len(values) != len(b.columns) {
		panic("pgcore.RowsBuilder: column count mismatch")
	}
	b.rows = append(b.rows, values)
	return b
}

// FailWith makes the cursor stop after the added rows and report err, as a
// connection lost mid-result would.
func (b *RowsBuilder) FailWith(err error) *RowsBuilder {
	b.err = err
	return b
}

// Build returns a pgx.Rows cursor for the builder data.
func (b *RowsBuilder) Build() pgx.Rows {
	return &fakeRows{
		columns: b.columns,
		data:    b.rows,
		idx:     -1,
		readErr: b.err,
	}
}

type fakeRows struct {
	columns []string
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	readErr error
	// exhausted is set once Next has consumed every row.
	exhausted bool
}

func (r *fakeRows) Close() {
	r.closed = true
}

func (r *fakeRows) Err() error {
	if r.scanErr != nil {
		return r.scanErr
	}
	if r.exhausted {
		return r.readErr
	}
	return nil
}

func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.CommandTag{}
}

func (r *fakeRows) Conn() *pgx.Conn {
	return nil
}

func (r *fakeRows) RawValues() [][]byte {
	return nil
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.columns))
	for i, col := range r.columns {
		fields[i] = pgconn.FieldDescription{Name: col}
	}
	return fields
}

func (r *fakeRows) Next() bool {
	if r.closed {
		return false
	}

	r.idx++
	if r.idx >= len(r.data) {
		r.closed = true
		r.exhausted = true
		return false
	}
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return pgx.ErrNoRows
	}

	row := r.data[r.idx]
	if len(dest) != len(row) {
		err := fmt.Errorf("pgcore.fakeRows: scan dest count %d != column count %d", len(dest), len(row))
		r.scanErr = err
		return err
	}

	for i, val := range row {
		if err := assignScanValue("pgcore.fakeRows", i, dest[i], val); err != nil {
			r.scanErr = err
			return err
		}
	}

	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, pgx.ErrNoRows
	}
	return r.data[r.idx], nil
}

func assignScanValue(prefix string, idx int, dest any, val any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := val.(string)
		if !ok {
			return fmt.Errorf("%s: expected string at column %d, got %T", prefix, idx, val)
		}
		*d = v
	case *int:
		v, ok := val.(int)
		if !ok {
			return fmt.Errorf("%s: expected int at column %d, got %T", prefix, idx, val)
		}
		*d = v
	case *int64:
		v, ok := val.(int64)
		if !ok {
			return fmt.Errorf("%s: expected int64 at column %d, got %T", prefix, idx, val)
		}
		*d = v
	case *bool:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("%s: expected bool at column %d, got %T", prefix, idx, val)
		}
		*d = v
	case *float64:
		v, ok := val.(float64)
		if !ok {
			return fmt.Errorf("%s: expected float64 at column %d, got %T", prefix, idx, val)
		}
		*d = v
	case *any:
		*d = val
	default:
		return fmt.Errorf("%s: unsupported scan target type %T at column %d", prefix, dest, idx)
	}

	return nil
}
