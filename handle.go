package pgcore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// conn is the subset of *pgxpool.Conn and *pgx.Conn a Handle drives.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Handle is exclusive access to one connection, either borrowed from a Pool
// or opened by Dial. A Handle must not be used from more than one goroutine
// at a time, and must be released exactly once; extra Release calls are
// ignored.
type Handle struct {
	id         uuid.UUID
	acquiredAt time.Time
	conn       conn
	release    func()
	logger     *slog.Logger
	onForced   func(int64) int64

	mu       sync.Mutex
	released bool
	stream   *Stream
	tx       *Tx
}

var _ Querier = (*Handle)(nil)

func newHandle(c conn, release func(), logger *slog.Logger, onForced func(int64) int64) *Handle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handle{
		id:         uuid.New(),
		acquiredAt: time.Now(),
		conn:       c,
		release:    release,
		logger:     logger,
		onForced:   onForced,
	}
}

// ID identifies this checkout in logs.
func (h *Handle) ID() uuid.UUID { return h.id }

// AcquiredAt is when the connection was handed out.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// ready fails when the handle has been released or a stream still owns the
// connection.
func (h *Handle) ready(op string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.released:
		return newError(KindBusy, op, "handle already released", nil)
	case h.stream != nil:
		return newError(KindBusy, op, "connection has an open stream; drain or close it first", nil)
	}
	return nil
}

// Exec runs sql on this connection. Inside an active transaction the
// statement is part of it, and a failure rolls the transaction back.
func (h *Handle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := h.ready("execute"); err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := h.conn.Exec(ctx, sql, args...)
	if err != nil {
		h.abort(err)
	}
	return tag, err
}

// Query runs sql on this connection. The caller must close the returned rows
// before issuing another statement.
func (h *Handle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := h.ready("query"); err != nil {
		return nil, err
	}
	rows, err := h.conn.Query(ctx, sql, args...)
	if err != nil {
		h.abort(err)
	}
	return rows, err
}

// Ping verifies the connection is alive.
func (h *Handle) Ping(ctx context.Context) error {
	if err := h.ready("ping"); err != nil {
		return err
	}
	if err := h.conn.Ping(ctx); err != nil {
		return newError(KindConnection, "ping", "connection failed", err)
	}
	return nil
}

// Release returns the connection to its pool, or closes it for a Dial
// handle. An open stream is closed (which drains the result set) and an
// active transaction is rolled back first. Release never fails.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	stream, tx := h.stream, h.tx
	h.stream, h.tx = nil, nil
	h.mu.Unlock()

	if stream != nil {
		h.logger.Warn("pgcore: handle released with an open stream; closing it",
			"handle", h.id, "held", time.Since(h.acquiredAt))
		stream.Close()
		if h.onForced != nil {
			h.onForced(1)
		}
	}
	if tx != nil {
		h.logger.Warn("pgcore: handle released inside a transaction; rolling back",
			"handle", h.id, "tx", tx.id)
		tx.abort(nil)
	}
	h.release()
}

// abort rolls back the active transaction, if any.
func (h *Handle) abort(err error) {
	h.mu.Lock()
	tx := h.tx
	h.mu.Unlock()
	if tx != nil {
		tx.abort(err)
	}
}

func (h *Handle) attachStream(s *Stream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return newError(KindBusy, "fetch_stream", "handle already released", nil)
	}
	if h.stream != nil {
		return newError(KindBusy, "fetch_stream", "connection has an open stream; drain or close it first", nil)
	}
	h.stream = s
	return nil
}

func (h *Handle) detachStream(s *Stream) {
	h.mu.Lock()
	if h.stream == s {
		h.stream = nil
	}
	h.mu.Unlock()
}

// takeStream detaches and returns the open stream, if any.
func (h *Handle) takeStream() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stream
	h.stream = nil
	return s
}

func (h *Handle) attachTx(tx *Tx) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.released:
		return newError(KindBusy, "begin", "handle already released", nil)
	case h.tx != nil:
		return newError(KindBusy, "begin", "a transaction is already active on this connection", nil)
	case h.stream != nil:
		return newError(KindBusy, "begin", "connection has an open stream; drain or close it first", nil)
	}
	h.tx = tx
	return nil
}

func (h *Handle) detachTx(tx *Tx) {
	h.mu.Lock()
	if h.tx == tx {
		h.tx = nil
	}
	h.mu.Unlock()
}
