package pgcore

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool owns a bounded set of connections. It is safe for concurrent use.
// It intentionally wraps (does not embed) *pgxpool.Pool.
//
// Pool itself is a Querier: each statement runs on a connection borrowed for
// the duration of that statement. Use Acquire or WithConn when several
// statements must share a connection.
type Pool struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	logger         *slog.Logger

	acquireTimeouts    atomic.Int64
	forcedStreamCloses atomic.Int64
}

var _ Querier = (*Pool)(nil)

// Stats is a snapshot of pool statistics.
type Stats struct {
	MaxConns          int32
	TotalConns        int32
	IdleConns         int32
	AcquiredConns     int32
	ConstructingConns int32

	AcquireCount         int64
	AcquireDuration      time.Duration
	CanceledAcquireCount int64
	EmptyAcquireCount    int64
	NewConnsCount        int64
	MaxIdleDestroyCount  int64

	// AcquireTimeouts counts Acquire calls that failed with KindTimeout.
	AcquireTimeouts int64
	// ForcedStreamCloses counts handles released with a stream still open.
	ForcedStreamCloses int64
}

// Acquire borrows a connection, waiting at most Config.AcquireTimeout.
// The caller must Release the handle.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	return p.AcquireWithin(ctx, p.acquireTimeout)
}

// AcquireWithin borrows a connection, waiting at most timeout (no limit
// beyond ctx when timeout <= 0). On failure nothing is checked out.
func (p *Pool) AcquireWithin(ctx context.Context, timeout time.Duration) (*Handle, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pc, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, p.acquireError(err, timeout)
	}
	return newHandle(pc, pc.Release, p.logger, p.forcedStreamCloses.Add), nil
}

func (p *Pool) acquireError(err error, timeout time.Duration) error {
	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &connErr):
		return newError(KindConnection, "acquire", "connection failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		p.acquireTimeouts.Add(1)
		return newError(KindTimeout, "acquire", "no connection available within "+timeout.String(), err)
	case errors.Is(err, context.Canceled):
		return newError(KindTimeout, "acquire", "canceled while waiting for a connection", err)
	}
	return newError(KindConnection, "acquire", "connection unavailable", err)
}

// WithConn acquires a connection, runs fn with it and releases it on every
// exit path, including panics.
func (p *Pool) WithConn(ctx context.Context, fn func(*Handle) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// WithTx runs fn in a transaction on a freshly acquired connection. See
// WithTx for commit/rollback semantics.
func (p *Pool) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(*Tx) error) error {
	return p.WithConn(ctx, func(h *Handle) error {
		return WithTx(ctx, h, opts, fn)
	})
}

// Stat returns a snapshot of pool statistics.
func (p *Pool) Stat() Stats {
	s := p.pool.Stat()
	return Stats{
		MaxConns:             s.MaxConns(),
		TotalConns:           s.TotalConns(),
		IdleConns:            s.IdleConns(),
		AcquiredConns:        s.AcquiredConns(),
		ConstructingConns:    s.ConstructingConns(),
		AcquireCount:         s.AcquireCount(),
		AcquireDuration:      s.AcquireDuration(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
		EmptyAcquireCount:    s.EmptyAcquireCount(),
		NewConnsCount:        s.NewConnsCount(),
		MaxIdleDestroyCount:  s.MaxIdleDestroyCount(),
		AcquireTimeouts:      p.acquireTimeouts.Load(),
		ForcedStreamCloses:   p.forcedStreamCloses.Load(),
	}
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes all connections. Handles still checked out are closed when
// released. Call once during graceful shutdown.
func (p *Pool) Close() {
	p.pool.Close()
}
