package cursor

import (
	"bytes"
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

type sortSpec struct {
	field         string
	desc          bool
	caseSensitive bool
}

func (s sortSpec) key() string {
	if s.field == "" {
		return ""
	}
	return fmt.Sprintf("%s %v %v", s.field, s.desc, s.caseSensitive)
}

// FilterOp is a comparison for Filter.
type FilterOp string

const (
	OpEq         FilterOp = "eq"
	OpNe         FilterOp = "ne"
	OpLt         FilterOp = "lt"
	OpLe         FilterOp = "le"
	OpGt         FilterOp = "gt"
	OpGe         FilterOp = "ge"
	OpStartsWith FilterOp = "startswith"
	OpEndsWith   FilterOp = "endswith"
	OpContains   FilterOp = "contains"
)

// Filter hides rows whose field does not match value.
type Filter struct {
	Field         string
	Op            FilterOp
	Value         any
	CaseSensitive bool
}

func (f Filter) key() string {
	return fmt.Sprintf("%s %s %T %v %v", f.Field, f.Op, f.Value, f.Value, f.CaseSensitive)
}

func (c *Cursor) viewKey() string {
	l := []string{c.sort.key()}
	for _, f := range c.filters {
		l = append(l, f.key())
	}
	return strings.Join(l, "\n")
}

// fold returns s lower-cased for comparisons without case.
func fold(s string) string {
	return cases.Fold().String(s)
}

// compare orders values of a field. Nil is lower than any other value. Values
// of different types are compared by their text.
func compare(a, b any, caseSensitive bool) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y)
		}
	case string:
		if y, ok := b.(string); ok {
			if !caseSensitive {
				x, y = fold(x), fold(y)
			}
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	case TempKey:
		if y, ok := b.(TempKey); ok {
			return cmp.Compare(x, y)
		}
	}
	return compare(fmt.Sprint(a), fmt.Sprint(b), caseSensitive)
}

// Sort orders the visible rows on field, stable, with dir "ASC" or "DESC". An
// empty field removes the sort, returning to the natural order. The current
// row stays the same.
func (c *Cursor) Sort(field, dir string, caseSensitive bool) error {
	var s sortSpec
	if field != "" {
		fi, err := c.fieldPos(field)
		if err != nil {
			return err
		}
		s.field = c.fields[fi].Name
		s.caseSensitive = caseSensitive
		switch strings.ToUpper(dir) {
		case "", "ASC":
		case "DESC":
			s.desc = true
		default:
			return fmt.Errorf("cursor: unknown sort direction %q", dir)
		}
	}
	c.sort = s
	c.refreshView()
	return nil
}

// SortField returns the field and direction of the current sort, an empty
// field if rows are in natural order.
func (c *Cursor) SortField() (field, dir string) {
	if c.sort.field == "" {
		return "", ""
	}
	if c.sort.desc {
		return c.sort.field, "DESC"
	}
	return c.sort.field, "ASC"
}

// Filter hides the rows for which field op value does not hold. Filters
// combine. New rows stay visible. The current row becomes the first row if it
// was filtered out.
func (c *Cursor) Filter(field string, op FilterOp, value any, caseSensitive bool) error {
	fi, err := c.fieldPos(field)
	if err != nil {
		return err
	}
	f := Filter{Field: c.fields[fi].Name, Op: op, Value: value, CaseSensitive: caseSensitive}
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		cv, err := c.fields[fi].Type.Convert(value)
		if err != nil {
			return fmt.Errorf("filter on %q: %w", f.Field, err)
		}
		f.Value = cv
	case OpStartsWith, OpEndsWith, OpContains:
		f.Value = fmt.Sprint(value)
	default:
		return fmt.Errorf("cursor: unknown filter operator %q", op)
	}
	c.filters = append(c.filters, f)
	c.refreshView()
	return nil
}

// RemoveFilter removes the last filter.
func (c *Cursor) RemoveFilter() {
	if len(c.filters) == 0 {
		return
	}
	c.filters = c.filters[:len(c.filters)-1]
	c.refreshView()
}

// RemoveFilters removes all filters.
func (c *Cursor) RemoveFilters() {
	if len(c.filters) == 0 {
		return
	}
	c.filters = nil
	c.refreshView()
}

// Filters returns the active filters in order of application.
func (c *Cursor) Filters() []Filter {
	return slices.Clone(c.filters)
}

func (f Filter) match(v any) bool {
	if f.Op == OpStartsWith || f.Op == OpEndsWith || f.Op == OpContains {
		if v == nil {
			return false
		}
		s, sub := fmt.Sprint(v), f.Value.(string)
		if !f.CaseSensitive {
			s, sub = fold(s), fold(sub)
		}
		switch f.Op {
		case OpStartsWith:
			return strings.HasPrefix(s, sub)
		case OpEndsWith:
			return strings.HasSuffix(s, sub)
		}
		return strings.Contains(s, sub)
	}
	r := compare(v, f.Value, f.CaseSensitive)
	switch f.Op {
	case OpEq:
		return r == 0
	case OpNe:
		return r != 0
	case OpLt:
		return r < 0
	case OpLe:
		return r <= 0
	case OpGt:
		return r > 0
	}
	return r >= 0
}

// refreshView recomputes the visible rows from all rows for the current sort
// and filters, reusing a cached order when available.
func (c *Cursor) refreshView() {
	var current *Row
	if c.cur >= 0 && c.cur < len(c.rows) {
		current = c.rows[c.cur]
	}

	key := c.viewKey()
	if key == "" {
		c.rows = slices.Clone(c.all)
	} else if l, ok := c.views.Get(key); ok {
		c.rows = slices.Clone(l)
	} else {
		c.rows = c.computeView()
		c.views.Add(key, slices.Clone(c.rows))
		c.log.Debug("view computed", slog.String("sort", c.sort.field), slog.Int("filters", len(c.filters)), slog.Int("rows", len(c.rows)))
	}

	c.cur = slices.Index(c.rows, current)
	if c.cur < 0 && len(c.rows) > 0 {
		c.cur = 0
	}
}

func (c *Cursor) computeView() []*Row {
	var l []*Row
	type filterPos struct {
		f  Filter
		fi int
	}
	var filters []filterPos
	for _, f := range c.filters {
		if fi, err := c.fieldPos(f.Field); err == nil {
			filters = append(filters, filterPos{f, fi})
		}
	}
next:
	for _, r := range c.all {
		if !r.isNew {
			for _, fp := range filters {
				if !fp.f.match(r.values[fp.fi]) {
					continue next
				}
			}
		}
		l = append(l, r)
	}

	if c.sort.field == "" {
		return l
	}
	fi, err := c.fieldPos(c.sort.field)
	if err != nil {
		return l
	}
	slices.SortStableFunc(l, func(a, b *Row) int {
		r := compare(a.values[fi], b.values[fi], c.sort.caseSensitive)
		if c.sort.desc {
			return -r
		}
		return r
	})
	return l
}

// Seek returns the index of the first visible row with field equal to value,
// or -1. With near, the index of the last row with a value less than or equal
// to value is returned instead, comparing strings on the first len(value)
// characters, or -1 if all values are greater. The current row does not
// change.
func (c *Cursor) Seek(value any, field string, near, caseSensitive bool) (int, error) {
	fi, err := c.fieldPos(field)
	if err != nil {
		return -1, err
	}
	value, err = c.fields[fi].Type.Convert(value)
	if err != nil {
		return -1, fmt.Errorf("seek on %q: %w", c.fields[fi].Name, err)
	}

	if !near {
		for i, r := range c.rows {
			if compare(r.values[fi], value, caseSensitive) == 0 {
				return i, nil
			}
		}
		return -1, nil
	}

	s, isString := value.(string)
	n := utf8.RuneCountInString(s)
	index := -1
	for i, r := range c.rows {
		v := r.values[fi]
		if isString {
			if vs, ok := v.(string); ok {
				if rs := []rune(vs); len(rs) > n {
					v = string(rs[:n])
				}
			}
		}
		if compare(v, value, caseSensitive) <= 0 {
			index = i
		}
	}
	return index, nil
}
