package db

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the semantic type of a field, independent of the database.
type FieldType int

const (
	FieldUnknown FieldType = iota // Type could not be determined, values are kept as is.
	FieldInt
	FieldFloat
	FieldDecimal
	FieldString
	FieldBool
	FieldDate
	FieldTime
	FieldDateTime
	FieldBytes
	FieldMemo
)

var fieldTypeNames = []string{"unknown", "int", "float", "decimal", "string", "bool", "date", "time", "datetime", "bytes", "memo"}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// FieldDesc describes a field of a table or query result.
type FieldDesc struct {
	Name          string
	Type          FieldType
	DBType        string // Type name as reported by the database, upper case.
	Nullable      bool
	Width         int // Maximum length for strings, 0 if unknown or unbounded.
	PK            bool
	AutoIncrement bool
	NonUpdatable  bool // Computed, timestamp or joined field, never written.
}

// TypeFromDBName maps a database type name to a semantic type.
func TypeFromDBName(name string) FieldType {
	s := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSuffix(s, " UNSIGNED")
	switch s {
	case "":
		return FieldUnknown
	case "BOOL", "BOOLEAN", "BIT":
		return FieldBool
	case "DATE":
		return FieldDate
	case "TIME", "TIMETZ", "TIME WITH TIME ZONE", "TIME WITHOUT TIME ZONE":
		return FieldTime
	case "TEXT", "CLOB", "MEMO", "NTEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "BLOB SUB_TYPE TEXT":
		return FieldMemo
	case "UUID":
		return FieldString
	}
	switch {
	case strings.Contains(s, "TIMESTAMP") || strings.Contains(s, "DATETIME"):
		return FieldDateTime
	case strings.Contains(s, "INT") || s == "SERIAL" || s == "BIGSERIAL":
		return FieldInt
	case strings.Contains(s, "CHAR") || strings.Contains(s, "STRING"):
		return FieldString
	case strings.Contains(s, "BLOB") || strings.Contains(s, "BINARY") || s == "BYTEA" || s == "IMAGE":
		return FieldBytes
	case strings.Contains(s, "DEC") || s == "NUMERIC" || strings.Contains(s, "MONEY"):
		return FieldDecimal
	case s == "REAL" || strings.Contains(s, "FLOAT") || strings.Contains(s, "DOUBLE"):
		return FieldFloat
	}
	return FieldUnknown
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04",
}

func parseTime(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q as time", ErrTypeMismatch, s)
}

func mismatch(t FieldType, v any) error {
	return fmt.Errorf("%w: %T for %s field", ErrTypeMismatch, v, t)
}

// Convert coerces v to the Go type used for values of type t: int64, float64,
// decimal.Decimal, string, bool, time.Time or []byte. Nil stays nil. Values of
// FieldUnknown are returned as is.
func (t FieldType) Convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}

	switch t {
	case FieldUnknown:
		return v, nil

	case FieldInt:
		switch x := v.(type) {
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case float32, float64:
			f := reflect.ValueOf(x).Float()
			// NaN fails the first comparison, infinities the range check.
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return nil, mismatch(t, v)
			}
			return int64(f), nil
		case decimal.Decimal:
			if !x.IsInteger() || !x.BigInt().IsInt64() {
				return nil, mismatch(t, v)
			}
			return x.IntPart(), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return i, nil
		case []byte:
			return t.Convert(string(x))
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := rv.Uint()
			if u > math.MaxInt64 {
				return nil, mismatch(t, v)
			}
			return int64(u), nil
		}

	case FieldFloat:
		switch x := v.(type) {
		case decimal.Decimal:
			f, _ := x.Float64()
			return f, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return f, nil
		case []byte:
			return t.Convert(string(x))
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(rv.Uint()), nil
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		}

	case FieldDecimal:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return d, nil
		case []byte:
			return t.Convert(string(x))
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return decimal.NewFromInt(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return decimal.RequireFromString(strconv.FormatUint(rv.Uint(), 10)), nil
		case reflect.Float32, reflect.Float64:
			return decimal.NewFromFloat(rv.Float()), nil
		}

	case FieldString, FieldMemo:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case time.Time:
			return nil, mismatch(t, v)
		case fmt.Stringer:
			return x.String(), nil
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.String:
			return rv.String(), nil
		case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return fmt.Sprint(v), nil
		}

	case FieldBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "1", "t", "true", "y", "yes":
				return true, nil
			case "0", "f", "false", "n", "no", "":
				return false, nil
			}
			return nil, mismatch(t, v)
		case []byte:
			return t.Convert(string(x))
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int() != 0, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return rv.Uint() != 0, nil
		}

	case FieldDate:
		switch x := v.(type) {
		case time.Time:
			y, m, d := x.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, x.Location()), nil
		case string:
			tm, err := parseTime(x, dateTimeLayouts)
			if err != nil {
				return nil, err
			}
			return t.Convert(tm)
		case []byte:
			return t.Convert(string(x))
		}

	case FieldTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			if tm, err := parseTime(x, timeLayouts); err == nil {
				return tm, nil
			}
			return parseTime(x, dateTimeLayouts)
		case []byte:
			return t.Convert(string(x))
		}

	case FieldDateTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return parseTime(x, dateTimeLayouts)
		case []byte:
			return t.Convert(string(x))
		}

	case FieldBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, mismatch(t, v)
}
