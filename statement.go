package pgcore

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Statement is parameterized SQL plus its bound arguments. Build one with
// NewStatement; the zero Statement is not valid.
type Statement struct {
	sql     string
	args    []any
	nparams int
}

// NewStatement binds args to the $N placeholders in sql. It fails with
// KindBind when the number of args differs from the number of placeholders,
// when placeholder numbers have gaps, or when a value cannot be sent for the
// placeholder's declared cast (e.g. a string for $1::int).
//
// Placeholders inside string literals, quoted identifiers, dollar-quoted
// bodies and comments are ignored.
func NewStatement(sql string, args ...any) (Statement, error) {
	if strings.TrimSpace(sql) == "" {
		return Statement{}, newError(KindQuery, "bind", "empty statement", nil)
	}

	params, err := scanPlaceholders(sql)
	if err != nil {
		return Statement{}, newError(KindBind, "bind", err.Error(), nil)
	}
	if len(args) != len(params) {
		return Statement{}, newError(KindBind, "bind",
			fmt.Sprintf("statement has %d placeholder(s), got %d argument(s)", len(params), len(args)), nil)
	}
	for i, arg := range args {
		if err := checkArg(arg, params[i]); err != nil {
			return Statement{}, newError(KindBind, "bind", fmt.Sprintf("argument $%d: %s", i+1, err), nil)
		}
	}

	return Statement{sql: sql, args: append([]any(nil), args...), nparams: len(params)}, nil
}

// SQL returns the statement text.
func (s Statement) SQL() string { return s.sql }

// Args returns a copy of the bound arguments.
func (s Statement) Args() []any { return append([]any(nil), s.args...) }

// NumParams returns the number of distinct placeholders.
func (s Statement) NumParams() int { return s.nparams }

func (s Statement) valid() bool { return s.sql != "" }

// param describes one placeholder. cast is the lower-cased type of an
// explicit "$N::type" cast, or "" when none was seen.
type param struct {
	seen bool
	cast string
}

func scanPlaceholders(sql string) ([]param, error) {
	var params []param
	n := len(sql)

	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == '\'':
			escapes := i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i == 1 || !isIdentByte(sql[i-2]))
			i = skipQuoted(sql, i, '\'', escapes)
		case c == '"':
			i = skipQuoted(sql, i, '"', false)
		case c == '-' && i+1 < n && sql[i+1] == '-':
			if j := strings.IndexByte(sql[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = n
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		case c == '$' && (i == 0 || !isIdentByte(sql[i-1])):
			j := i + 1
			for j < n && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			if j > i+1 {
				idx, err := strconv.Atoi(sql[i+1 : j])
				if err != nil || idx < 1 || idx > 65535 {
					return nil, fmt.Errorf("invalid placeholder %q", sql[i:j])
				}
				cast, end := readCast(sql, j)
				for len(params) < idx {
					params = append(params, param{})
				}
				p := &params[idx-1]
				p.seen = true
				if cast != "" {
					p.cast = cast
				}
				i = end
				continue
			}
			if tag, ok := dollarTag(sql, i); ok {
				if k := strings.Index(sql[i+len(tag):], tag); k >= 0 {
					i += len(tag) + k + len(tag)
				} else {
					i = n
				}
				continue
			}
			i++
		default:
			i++
		}
	}

	for i, p := range params {
		if !p.seen {
			return nil, fmt.Errorf("placeholder $%d is never used", i+1)
		}
	}
	return params, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// skipQuoted returns the index just past the closing quote. A doubled quote
// is an escaped quote; backslash escapes apply to E'...' strings only.
func skipQuoted(sql string, i int, q byte, backslash bool) int {
	for j := i + 1; j < len(sql); j++ {
		switch sql[j] {
		case '\\':
			if backslash {
				j++
			}
		case q:
			if j+1 < len(sql) && sql[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(sql)
}

func skipBlockComment(sql string, i int) int {
	depth := 0
	for j := i; j+1 < len(sql); j++ {
		switch {
		case sql[j] == '/' && sql[j+1] == '*':
			depth++
			j++
		case sql[j] == '*' && sql[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j + 1
			}
		}
	}
	return len(sql)
}

// dollarTag reports the opening "$tag$" (or "$$") at sql[i].
func dollarTag(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) && sql[j] != '$' {
		c := sql[j]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80 || (j > i+1 && c >= '0' && c <= '9')) {
			return "", false
		}
		j++
	}
	if j >= len(sql) {
		return "", false
	}
	return sql[i : j+1], true
}

func readCast(sql string, i int) (string, int) {
	j := i
	for j < len(sql) && sql[j] == ' ' {
		j++
	}
	if !strings.HasPrefix(sql[j:], "::") {
		return "", i
	}
	j += 2
	for j < len(sql) && sql[j] == ' ' {
		j++
	}
	start := j
	for j < len(sql) && (isIdentByte(sql[j]) || sql[j] == '.') && sql[j] != '$' {
		j++
	}
	if strings.HasPrefix(sql[j:], "[]") {
		j += 2
	}
	if j == start {
		return "", i
	}
	return strings.ToLower(sql[start:j]), j
}

var (
	valuerType = reflect.TypeFor[driver.Valuer]()
	timeType   = reflect.TypeFor[time.Time]()
)

func checkArg(arg any, p param) error {
	if arg == nil {
		return nil
	}
	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Pointer {
		if v.Type().Implements(valuerType) {
			return nil
		}
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	t := v.Type()

	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Errorf("%s values cannot be sent to the database", t)
	}
	if p.cast == "" || t.Implements(valuerType) {
		return nil
	}

	cast := strings.TrimPrefix(p.cast, "pg_catalog.")
	if strings.HasSuffix(cast, "[]") {
		if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
			return fmt.Errorf("%s is not compatible with %s", t, p.cast)
		}
		return nil
	}

	if castAccepts(cast, t) {
		return nil
	}
	return fmt.Errorf("%s is not compatible with %s", t, p.cast)
}

func castAccepts(cast string, t reflect.Type) bool {
	k := t.Kind()
	isInt := k >= reflect.Int && k <= reflect.Uint64
	isFloat := k == reflect.Float32 || k == reflect.Float64
	isBytes := k == reflect.Slice && t.Elem().Kind() == reflect.Uint8

	switch cast {
	case "int", "int2", "int4", "int8", "integer", "smallint", "bigint", "oid":
		return isInt
	case "float4", "float8", "real", "double", "numeric", "decimal":
		return isInt || isFloat || k == reflect.String
	case "text", "varchar", "char", "bpchar", "name", "citext", "character":
		return k == reflect.String || isBytes
	case "bool", "boolean":
		return k == reflect.Bool
	case "timestamp", "timestamptz", "date", "time", "timetz":
		return t == timeType || t.ConvertibleTo(timeType)
	case "bytea":
		return isBytes
	case "uuid":
		return k == reflect.String || isBytes || k == reflect.Array && t.Len() == 16 && t.Elem().Kind() == reflect.Uint8
	}
	// json, jsonb and anything unrecognized are left to the driver.
	return true
}
