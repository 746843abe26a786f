package pgcore

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// MapRow decodes row into a new T, which must be a struct type.
//
// Fields are matched to columns by name: the `db:"name"` tag when present,
// otherwise the snake_case field name (CreatedAt -> created_at). `db:"-"`
// skips a field and unexported fields are ignored. Columns with no matching
// field are ignored. A field whose column is missing, or whose value cannot
// be stored in the field's type, fails with KindMapping.
//
// NULL is accepted by pointer, slice, map, interface and sql.Scanner fields.
// Integer and float values convert between widths when the value fits.
func MapRow[T any](row Row) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	if rv.Kind() != reflect.Struct {
		return out, newError(KindMapping, "map_row", fmt.Sprintf("target %s is not a struct", rv.Type()), nil)
	}

	plan := planFor(rv.Type())
	for _, f := range plan {
		val, ok := row.Get(f.column)
		if !ok {
			return out, newError(KindMapping, "map_row",
				fmt.Sprintf("column %q missing for field %s.%s", f.column, rv.Type(), f.name), nil)
		}
		if err := assign(rv.FieldByIndex(f.index), val); err != nil {
			return out, newError(KindMapping, "map_row",
				fmt.Sprintf("column %q into field %s.%s: %s", f.column, rv.Type(), f.name, err), nil)
		}
	}
	return out, nil
}

// MapRows decodes each row with MapRow.
func MapRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := MapRow[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FetchOneAs is FetchOne followed by MapRow.
func FetchOneAs[T any](ctx context.Context, q Querier, st Statement) (T, error) {
	row, err := FetchOne(ctx, q, st)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := MapRow[T](row)
	if err != nil {
		return v, fail(q, err)
	}
	return v, nil
}

// FetchAllAs is FetchAll followed by MapRows.
func FetchAllAs[T any](ctx context.Context, q Querier, st Statement) ([]T, error) {
	rows, err := FetchAll(ctx, q, st)
	if err != nil {
		return nil, err
	}
	out, err := MapRows[T](rows)
	if err != nil {
		return nil, fail(q, err)
	}
	return out, nil
}

type fieldPlan struct {
	name   string
	column string
	index  []int
}

var plans sync.Map // reflect.Type -> []fieldPlan

func planFor(t reflect.Type) []fieldPlan {
	if p, ok := plans.Load(t); ok {
		return p.([]fieldPlan)
	}
	p, _ := plans.LoadOrStore(t, buildPlan(t, nil))
	return p.([]fieldPlan)
}

func buildPlan(t reflect.Type, parent []int) []fieldPlan {
	var out []fieldPlan
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, hasTag := f.Tag.Lookup("db")
		if tag == "-" {
			continue
		}
		index := append(append([]int(nil), parent...), i)

		if f.Anonymous && !hasTag && f.Type.Kind() == reflect.Struct {
			out = append(out, buildPlan(f.Type, index)...)
			continue
		}
		if !f.IsExported() {
			continue
		}

		col, _, _ := strings.Cut(tag, ",")
		if col == "" {
			col = snakeCase(f.Name)
		}
		out = append(out, fieldPlan{name: f.Name, column: col, index: index})
	}
	return out
}

func snakeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1]) ||
				(i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	uuidType    = reflect.TypeFor[uuid.UUID]()
)

func assign(dst reflect.Value, val any) error {
	// pgx decodes uuid columns as [16]byte, which uuid.UUID.Scan rejects.
	if b, ok := val.([16]byte); ok && dst.Type() == uuidType {
		dst.Set(reflect.ValueOf(uuid.UUID(b)))
		return nil
	}
	if reflect.PointerTo(dst.Type()).Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(val)
	}

	if val == nil {
		switch dst.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			dst.SetZero()
			return nil
		}
		return fmt.Errorf("NULL cannot be stored in %s", dst.Type())
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), val); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	v := reflect.ValueOf(val)
	if v.Type().AssignableTo(dst.Type()) {
		dst.Set(v)
		return nil
	}

	switch sk, dk := v.Kind(), dst.Kind(); {
	case isSigned(sk) && isSigned(dk):
		if dst.OverflowInt(v.Int()) {
			return fmt.Errorf("%d overflows %s", v.Int(), dst.Type())
		}
		dst.SetInt(v.Int())
		return nil
	case isSigned(sk) && isUnsigned(dk):
		if v.Int() < 0 || dst.OverflowUint(uint64(v.Int())) {
			return fmt.Errorf("%d overflows %s", v.Int(), dst.Type())
		}
		dst.SetUint(uint64(v.Int()))
		return nil
	case isUnsigned(sk) && isUnsigned(dk):
		if dst.OverflowUint(v.Uint()) {
			return fmt.Errorf("%d overflows %s", v.Uint(), dst.Type())
		}
		dst.SetUint(v.Uint())
		return nil
	case isUnsigned(sk) && isSigned(dk):
		if v.Uint() > 1<<63-1 || dst.OverflowInt(int64(v.Uint())) {
			return fmt.Errorf("%d overflows %s", v.Uint(), dst.Type())
		}
		dst.SetInt(int64(v.Uint()))
		return nil
	case isFloat(sk) && isFloat(dk):
		if dst.OverflowFloat(v.Float()) {
			return fmt.Errorf("%g overflows %s", v.Float(), dst.Type())
		}
		dst.SetFloat(v.Float())
		return nil
	case (isSigned(sk) || isUnsigned(sk)) && isFloat(dk):
		dst.Set(v.Convert(dst.Type()))
		return nil
	case sk == reflect.Array && v.Len() == 16 && v.Type().Elem().Kind() == reflect.Uint8 && dk == reflect.String:
		var id uuid.UUID
		reflect.Copy(reflect.ValueOf(id[:]), v)
		dst.SetString(id.String())
		return nil
	case sk == dk && v.Type().ConvertibleTo(dst.Type()):
		dst.Set(v.Convert(dst.Type()))
		return nil
	case sk == reflect.String && dk == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8,
		sk == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 && dk == reflect.String:
		dst.Set(v.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("%T is not compatible with %s", val, dst.Type())
}

func isSigned(k reflect.Kind) bool   { return k >= reflect.Int && k <= reflect.Int64 }
func isUnsigned(k reflect.Kind) bool { return k >= reflect.Uint && k <= reflect.Uintptr }
func isFloat(k reflect.Kind) bool    { return k == reflect.Float32 || k == reflect.Float64 }
