package pgcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultRollbackTimeout = 5 * time.Second

// Tx is a unit of work on one Handle. Every statement run through the Tx
// (or through its Handle while the Tx is active) is part of it.
//
// Any failed statement, bind error or cardinality error returned by the
// executor functions rolls the transaction back before the error reaches the
// caller; afterwards the Tx only accepts Rollback, which is a no-op.
type Tx struct {
	id uuid.UUID
	h  *Handle
	tx pgx.Tx

	mu    sync.Mutex
	done  bool
	cause error
}

var _ Querier = (*Tx)(nil)

// Begin starts a transaction on h. It fails with KindBusy if h already has
// an active transaction or an open stream.
func Begin(ctx context.Context, h *Handle, opts pgx.TxOptions) (*Tx, error) {
	t := &Tx{id: uuid.New(), h: h}
	if err := h.attachTx(t); err != nil {
		return nil, err
	}

	ptx, err := h.conn.BeginTx(ctx, opts)
	if err != nil {
		h.detachTx(t)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, classify("begin", err)
		}
		return nil, newError(KindConnection, "begin", "begin tx failed", err)
	}
	t.tx = ptx
	h.logger.Debug("pgcore: transaction started", "handle", h.id, "tx", t.id)
	return t, nil
}

// ID identifies the transaction in logs.
func (t *Tx) ID() uuid.UUID { return t.id }

// Handle returns the connection the transaction runs on.
func (t *Tx) Handle() *Handle { return t.h }

func (t *Tx) ready(op string) error {
	t.mu.Lock()
	done, cause := t.done, t.cause
	t.mu.Unlock()
	if done {
		return newError(KindBusy, op, "transaction already closed", cause)
	}
	return t.h.ready(op)
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.ready("execute"); err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		t.abort(err)
	}
	return tag, err
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := t.ready("query"); err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		t.abort(err)
	}
	return rows, err
}

// Commit applies all writes made since Begin. If the backend rejects the
// commit the error has KindCommit and the transaction has been rolled back.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.ready("commit"); err != nil {
		return err
	}
	t.finish(nil)

	if err := t.tx.Commit(ctx); err != nil {
		t.rollback()
		msg := "commit rejected"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			msg = fmt.Sprintf("commit rejected: %s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
		} else if errors.Is(err, pgx.ErrTxCommitRollback) {
			msg = "commit rejected: transaction was aborted by an earlier error"
		}
		return newError(KindCommit, "commit", msg, err)
	}
	t.h.logger.Debug("pgcore: transaction committed", "handle", t.h.id, "tx", t.id)
	return nil
}

// Rollback discards all writes made since Begin. It is a no-op returning nil
// once the transaction has already been committed or rolled back, so it is
// safe to defer.
func (t *Tx) Rollback(ctx context.Context) error {
	if !t.finish(nil) {
		return nil
	}
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return newError(KindConnection, "rollback", "rollback failed", err)
	}
	return nil
}

// finish marks the transaction closed and frees its handle. A stream still
// reading from the connection is closed so ROLLBACK finds it idle. It
// reports false when the transaction was already closed.
func (t *Tx) finish(cause error) bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	t.cause = cause
	t.mu.Unlock()

	t.h.detachTx(t)
	if s := t.h.takeStream(); s != nil {
		t.h.logger.Debug("pgcore: closing open stream before rollback", "handle", t.h.id, "tx", t.id)
		s.Close()
	}
	return true
}

// abort rolls back with a context detached from the caller's, so a canceled
// request still releases its locks.
func (t *Tx) abort(cause error) {
	if !t.finish(cause) {
		return
	}
	t.h.logger.Debug("pgcore: transaction rolled back implicitly", "handle", t.h.id, "tx", t.id, "cause", cause)
	t.rollback()
}

func (t *Tx) rollback() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRollbackTimeout)
	defer cancel()
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		t.h.logger.Warn("pgcore: rollback failed", "handle", t.h.id, "tx", t.id, "error", err)
	}
}

func (t *Tx) attachStream(s *Stream) error { return t.h.attachStream(s) }
func (t *Tx) detachStream(s *Stream)       { t.h.detachStream(s) }

// WithTx executes fn within a transaction on h. If fn returns an error or
// panics, the transaction is rolled back. Otherwise, it is committed.
func WithTx(ctx context.Context, h *Handle, opts pgx.TxOptions, fn func(*Tx) error) (err error) {
	tx, err := Begin(ctx, h, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.abort(fmt.Errorf("panic: %v", p))
			panic(p)
		}
		if err != nil {
			tx.abort(err)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
