package pgcore

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

var dsnAuthorityPattern = regexp.MustCompile(`(?i)postgres(?:ql)?://[^\s]+@`)

func assertNoDSNLeak(t *testing.T, msg string) {
	t.Helper()

	lower := strings.ToLower(msg)
	for _, marker := range []string{"postgres://", "postgresql://", "password="} {
		if strings.Contains(lower, marker) {
			t.Fatalf("error leaked sensitive marker %q: %q", marker, msg)
		}
	}
	if dsnAuthorityPattern.MatchString(msg) {
		t.Fatalf("error leaked DSN authority info: %q", msg)
	}
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Kind != want {
		t.Fatalf("kind=%s, want %s (err=%v)", e.Kind, want, err)
	}
	if !errors.Is(err, want) {
		t.Fatalf("errors.Is(err, %s) = false", want)
	}
}

func assertErrorWraps(t *testing.T, err error, want error) {
	t.Helper()

	if !errors.Is(err, want) {
		t.Fatalf("expected errors.Is to match %v, got %v", want, err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error wrapper, got %T", err)
	}
}
