package pgcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
)

func ExampleHealthCheck() {
	status, err := HealthCheck(context.Background(), &TestConn{})
	if err != nil {
		fmt.Println("unexpected error")
		return
	}
	fmt.Println(status.Status, status.Database)
	// Output: ok postgres
}

func ExampleFetchOne() {
	h := NewTestHandle(&TestConn{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return NewRows([]string{"id", "name"}).AddRow("A", "Contoh").Build(), nil
		},
	})
	defer h.Release()

	st, err := NewStatement("SELECT id, name FROM categories WHERE id = $1", "A")
	if err != nil {
		fmt.Println("unexpected error")
		return
	}
	row, err := FetchOne(context.Background(), h, st)
	if err != nil {
		fmt.Println("unexpected error")
		return
	}
	fmt.Println(row)
	// Output: {id: A, name: Contoh}
}

func ExampleFetchOne_notFound() {
	h := NewTestHandle(&TestConn{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return NewRows([]string{"id"}).Build(), nil
		},
	})
	defer h.Release()

	st, _ := NewStatement("SELECT id FROM categories WHERE id = $1", "missing")
	_, err := FetchOne(context.Background(), h, st)
	fmt.Println(errors.Is(err, KindNotFound), errors.Is(err, pgx.ErrNoRows))
	// Output: true true
}

func ExampleMapRow() {
	type category struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}

	row, _ := NewRow([]string{"id", "name", "description"}, []any{"A", "Contoh", "Contoh"})
	c, err := MapRow[category](row)
	if err != nil {
		fmt.Println("unexpected error")
		return
	}
	fmt.Printf("%+v\n", c)
	// Output: {ID:A Name:Contoh}
}

func ExampleWithTx() {
	tx := &exampleTx{}
	h := NewTestHandle(&TestConn{
		BeginTxFunc: func(context.Context, pgx.TxOptions) (pgx.Tx, error) {
			return tx, nil
		},
	})
	defer h.Release()

	err := WithTx(context.Background(), h, pgx.TxOptions{}, func(tx *Tx) error {
		st, err := NewStatement("UPDATE categories SET name = $1 WHERE id = $2", "Demo", "A")
		if err != nil {
			return err
		}
		_, err = Execute(context.Background(), tx, st)
		return err
	})
	if err != nil {
		fmt.Println("unexpected error")
		return
	}

	fmt.Println(tx.committed, tx.rolledBack)
	// Output: true false
}

func ExampleWithPgxConfig_tracing() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// WithQueryTracing covers the common case; WithPgxConfig installs a
	// custom tracer instead.
	opt := WithPgxConfig(func(c *pgxpool.Config) {
		c.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger: tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
				safe := make(map[string]any, len(data))
				for k, v := range data {
					if k == "sql" || k == "args" {
						continue
					}
					safe[k] = v
				}
				logger.InfoContext(ctx, msg, "pgx_level", level.String(), "pgx", safe)
			}),
			LogLevel: tracelog.LogLevelInfo,
		}
	})

	_ = opt
	fmt.Println("tracing configured")
	// Output: tracing configured
}

type exampleTx struct {
	committed  bool
	rolledBack bool
}

func (t *exampleTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("exampleTx: nested transactions not supported")
}

func (t *exampleTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *exampleTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

func (t *exampleTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *exampleTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (t *exampleTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *exampleTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *exampleTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *exampleTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return NewRows([]string{"ok"}).AddRow(true).Build(), nil
}

func (t *exampleTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (t *exampleTx) Conn() *pgx.Conn {
	return nil
}
