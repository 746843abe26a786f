package pgcore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type typedCause struct{}

func (e *typedCause) Error() string { return "typed cause" }

func TestError_UnwrapSupportsErrorsIsAs(t *testing.T) {
	t.Parallel()

	sentinel := &typedCause{}
	err := newError(KindQuery, "execute", "statement failed", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match wrapped cause")
	}

	var got *typedCause
	if !errors.As(err, &got) {
		t.Fatal("expected errors.As to extract wrapped cause")
	}
}

func TestError_IsMatchesOnlyItsKind(t *testing.T) {
	t.Parallel()

	err := newError(KindNotFound, "fetch_one", "no rows in result set", nil)
	if !errors.Is(err, KindNotFound) {
		t.Fatal("expected errors.Is(err, KindNotFound)")
	}
	if errors.Is(err, KindTooMany) {
		t.Fatal("unexpected match for KindTooMany")
	}
	if got := KindOf(err); got != KindNotFound {
		t.Fatalf("KindOf=%s, want %s", got, KindNotFound)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(plain)=%s, want %s", got, KindUnknown)
	}
	if got, want := err.Error(), "pgcore: fetch_one: no rows in result set"; got != want {
		t.Fatalf("error=%q, want %q", got, want)
	}
}

func TestClassify_BackendErrorCarriesSQLState(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: "23505", Message: `duplicate key value violates unique constraint "categories_pkey"`}
	err := classify("execute", pgErr)
	assertKind(t, err, KindQuery)

	var e *Error
	errors.As(err, &e)
	if e.SQLState() != "23505" {
		t.Fatalf("SQLState=%q, want 23505", e.SQLState())
	}
	if e.BackendMessage() != pgErr.Message {
		t.Fatalf("BackendMessage=%q, want %q", e.BackendMessage(), pgErr.Message)
	}
	if e.Op != "execute" {
		t.Fatalf("Op=%q, want execute", e.Op)
	}
}

func TestClassify_NonBackendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"connect", &pgconn.ConnectError{Config: &pgconn.Config{}}, KindConnection},
		{"canceled", context.Canceled, KindQuery},
		{"deadline", context.DeadlineExceeded, KindQuery},
		{"other", errors.New("conn closed"), KindQuery},
		{"already classified", newError(KindBind, "bind", "x", nil), KindBind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("fetch_all", tt.err)
			assertKind(t, err, tt.want)
			if e := new(Error); errors.As(err, &e) && e.SQLState() != "" {
				t.Fatalf("SQLState=%q, want empty", e.SQLState())
			}
		})
	}

	if classify("execute", nil) != nil {
		t.Fatal("classify(nil) must be nil")
	}
}

func TestKind_StringAndError(t *testing.T) {
	t.Parallel()

	if got := KindCommit.String(); got != "commit" {
		t.Fatalf("String=%q, want commit", got)
	}
	if got := KindTimeout.Error(); got != "pgcore: timeout" {
		t.Fatalf("Error=%q, want %q", got, "pgcore: timeout")
	}
	if got := Kind(200).String(); got != "kind(200)" {
		t.Fatalf("String=%q, want kind(200)", got)
	}
}
