package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/maps"
)

var ErrType = errors.New("prefs: unsupported value type")

// Type tags as stored in the Type field of a Pref.
const (
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeLong     = "long"
	TypeStr      = "str"
	TypeUnicode  = "unicode"
	TypeBool     = "bool"
	TypeList     = "list"
	TypeTuple    = "tuple"
	TypeDict     = "dict"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeDecimal  = "decimal"
	TypeNone     = "none"
)

// Types lists all type tags.
var Types = []string{TypeInt, TypeFloat, TypeLong, TypeStr, TypeUnicode, TypeBool, TypeList, TypeTuple, TypeDict, TypeDate, TypeDatetime, TypeDecimal, TypeNone}

// Tuple is a list that is stored with the tuple tag.
type Tuple []any

// Date is a calendar date without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// DateOf returns the date of t in its location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{y, m, d}
}

const datetimeLayout = "2006-01-02T15:04:05.999999999Z07:00"

var datetimeLayouts = []string{
	datetimeLayout,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Encode returns the type tag and string form of v.
//
// Go values map to tags as follows: int is "int", other integer types are
// "long" (read back as int64), floats are "float" (float64), strings are
// "str", or "unicode" if they contain non-ASCII text, bool is "bool", Tuple
// is "tuple", other slices are "list" ([]any), maps with string keys are
// "dict" (map[string]any), Date is "date", time.Time is "datetime",
// decimal.Decimal is "decimal" and nil is "none". Elements of lists and dicts
// are stored with their own tags.
func Encode(v any) (typ, value string, err error) {
	switch x := v.(type) {
	case nil:
		return TypeNone, "", nil
	case int:
		return TypeInt, strconv.Itoa(x), nil
	case int8:
		return TypeLong, strconv.FormatInt(int64(x), 10), nil
	case int16:
		return TypeLong, strconv.FormatInt(int64(x), 10), nil
	case int32:
		return TypeLong, strconv.FormatInt(int64(x), 10), nil
	case int64:
		return TypeLong, strconv.FormatInt(x, 10), nil
	case uint8:
		return TypeLong, strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return TypeLong, strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return TypeLong, strconv.FormatUint(uint64(x), 10), nil
	case uint:
		return encodeUint(uint64(x))
	case uint64:
		return encodeUint(x)
	case float32:
		return TypeFloat, strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return TypeFloat, strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		if isASCII(x) {
			return TypeStr, x, nil
		}
		return TypeUnicode, x, nil
	case bool:
		if x {
			return TypeBool, "True", nil
		}
		return TypeBool, "False", nil
	case Date:
		return TypeDate, x.String(), nil
	case time.Time:
		return TypeDatetime, x.Format(datetimeLayout), nil
	case decimal.Decimal:
		if x.Exponent() < 0 {
			return TypeDecimal, x.StringFixed(-x.Exponent()), nil
		}
		return TypeDecimal, x.String(), nil
	case Tuple:
		s, err := encodeList(x)
		return TypeTuple, s, err
	case []any:
		s, err := encodeList(x)
		return TypeList, s, err
	case map[string]any:
		s, err := encodeDict(x)
		return TypeDict, s, err
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		l := make([]any, rv.Len())
		for i := range l {
			l[i] = rv.Index(i).Interface()
		}
		s, err := encodeList(l)
		return TypeList, s, err
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := map[string]any{}
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		s, err := encodeDict(m)
		return TypeDict, s, err
	}
	return "", "", fmt.Errorf("%w: %T", ErrType, v)
}

func encodeUint(v uint64) (string, string, error) {
	if v > math.MaxInt64 {
		return "", "", fmt.Errorf("%w: %d does not fit in a long", ErrType, v)
	}
	return TypeLong, strconv.FormatUint(v, 10), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Elements of a list or dict are stored as a JSON pair of type tag and
// encoded value.
func encodeElem(v any) ([2]string, error) {
	typ, s, err := Encode(v)
	return [2]string{typ, s}, err
}

func encodeList(l []any) (string, error) {
	elems := make([][2]string, len(l))
	for i, v := range l {
		e, err := encodeElem(v)
		if err != nil {
			return "", fmt.Errorf("element %d: %w", i, err)
		}
		elems[i] = e
	}
	buf, err := json.Marshal(elems)
	return string(buf), err
}

func encodeDict(m map[string]any) (string, error) {
	keys := maps.Keys(m)
	slices.Sort(keys)
	elems := make(map[string][2]string, len(m))
	for _, k := range keys {
		e, err := encodeElem(m[k])
		if err != nil {
			return "", fmt.Errorf("key %q: %w", k, err)
		}
		elems[k] = e
	}
	buf, err := json.Marshal(elems)
	return string(buf), err
}

// Decode parses value stored with type tag typ, the inverse of Encode.
func Decode(typ, value string) (any, error) {
	switch typ {
	case TypeNone:
		return nil, nil
	case TypeInt:
		return strconv.Atoi(trimLong(value))
	case TypeLong:
		return strconv.ParseInt(trimLong(value), 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(strings.TrimSpace(value), 64)
	case TypeStr, TypeUnicode:
		return value, nil
	case TypeBool:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		}
		return nil, fmt.Errorf("bad bool %q", value)
	case TypeDate:
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return nil, err
		}
		return DateOf(t), nil
	case TypeDatetime:
		var err error
		for _, layout := range datetimeLayouts {
			var t time.Time
			t, err = time.Parse(layout, value)
			if err == nil {
				return t, nil
			}
		}
		return nil, err
	case TypeDecimal:
		return decimal.NewFromString(value)
	case TypeList, TypeTuple:
		var elems [][2]string
		if err := json.Unmarshal([]byte(value), &elems); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", typ, err)
		}
		l := make([]any, len(elems))
		for i, e := range elems {
			v, err := Decode(e[0], e[1])
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			l[i] = v
		}
		if typ == TypeTuple {
			return Tuple(l), nil
		}
		return l, nil
	case TypeDict:
		var elems map[string][2]string
		if err := json.Unmarshal([]byte(value), &elems); err != nil {
			return nil, fmt.Errorf("parsing dict: %w", err)
		}
		m := make(map[string]any, len(elems))
		for k, e := range elems {
			v, err := Decode(e[0], e[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown type tag %q", ErrType, typ)
}

// trimLong removes the "L" suffix of long values written by older versions.
func trimLong(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), "L")
}
