// Package sqlbuilder composes SQL statements from clause sets.
//
// A Select is an immutable value: each With* or Without* method returns a new
// Select, leaving the original unchanged. Compose turns a Select into SQL text
// for a Dialect. Repeatedly adding the same entry has no effect.
package sqlbuilder

import (
	"fmt"
	"slices"
	"strings"
)

// LimitPlacement indicates where a dialect wants the row limit.
type LimitPlacement int

const (
	LimitTrailing    LimitPlacement = iota // "limit N" at the end.
	LimitTop                               // "select top N".
	LimitFirst                             // "select first N".
	LimitOffsetFetch                       // "fetch first N rows only" at the end.
)

func (p LimitPlacement) String() string {
	switch p {
	case LimitTrailing:
		return "trailing"
	case LimitTop:
		return "top"
	case LimitFirst:
		return "first"
	case LimitOffsetFetch:
		return "offsetfetch"
	}
	return fmt.Sprintf("LimitPlacement(%d)", int(p))
}

// Dialect is the part of a database backend needed to compose statements.
type Dialect interface {
	QuoteIdentifier(name string) string
	// Placeholder returns the parameter placeholder for the n-th parameter, starting at 1.
	Placeholder(n int) string
	LimitPlacement() LimitPlacement
}

// Clause identifies one of the clauses of a Select.
type Clause int

const (
	ClauseField Clause = iota
	ClauseFrom
	ClauseJoin
	ClauseWhere
	ClauseGroupBy
	ClauseOrderBy
	ClauseLimit
	ClauseChildFilter
)

// Join is a join of a table.
type Join struct {
	Type  string // Lower case, e.g. "inner", "left outer".
	Table string
	On    string
}

// Where is one condition of a where clause. Conj is ignored for the first
// condition.
type Where struct {
	Expr string
	Conj string // "and" or "or".
}

// Select holds the clauses of a select statement.
type Select struct {
	fields      []string
	from        []string
	joins       []Join
	where       []Where
	groupBy     []string
	orderBy     []string
	limit       int
	childFilter string
}

// normalize whitespace for duplicate detection.
func norm(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func addUnique(l []string, s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return l, false
	}
	ns := norm(s)
	for _, e := range l {
		if norm(e) == ns {
			return l, false
		}
	}
	return append(slices.Clone(l), s), true
}

func remove(l []string, s string) []string {
	ns := norm(s)
	return slices.DeleteFunc(slices.Clone(l), func(e string) bool { return norm(e) == ns })
}

// WithField adds an expression to the field list.
func (s Select) WithField(expr string) Select {
	s.fields, _ = addUnique(s.fields, expr)
	return s
}

// WithoutField removes an expression from the field list.
func (s Select) WithoutField(expr string) Select {
	s.fields = remove(s.fields, expr)
	return s
}

// WithFrom adds a table to the from clause.
func (s Select) WithFrom(table string) Select {
	s.from, _ = addUnique(s.from, table)
	return s
}

func (s Select) WithoutFrom(table string) Select {
	s.from = remove(s.from, table)
	return s
}

// WithJoin adds a join. An empty joinType is an inner join. Join types are
// lower-cased. A join of a table that is already joined is ignored.
func (s Select) WithJoin(table, on, joinType string) Select {
	table = strings.TrimSpace(table)
	if table == "" {
		return s
	}
	joinType = strings.ToLower(norm(joinType))
	joinType = strings.TrimSuffix(joinType, " join")
	if joinType == "" || joinType == "join" {
		joinType = "inner"
	}
	for _, j := range s.joins {
		if norm(j.Table) == norm(table) && norm(j.On) == norm(on) {
			return s
		}
	}
	s.joins = append(slices.Clone(s.joins), Join{joinType, table, strings.TrimSpace(on)})
	return s
}

// WithoutJoin removes joins of table.
func (s Select) WithoutJoin(table string) Select {
	nt := norm(table)
	s.joins = slices.DeleteFunc(slices.Clone(s.joins), func(j Join) bool { return norm(j.Table) == nt })
	return s
}

// WithWhere adds a condition. Conj is "and" when empty.
func (s Select) WithWhere(expr, conj string) Select {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return s
	}
	conj = strings.ToLower(strings.TrimSpace(conj))
	if conj == "" {
		conj = "and"
	}
	ne := norm(expr)
	for _, w := range s.where {
		if norm(w.Expr) == ne {
			return s
		}
	}
	s.where = append(slices.Clone(s.where), Where{expr, conj})
	return s
}

func (s Select) WithoutWhere(expr string) Select {
	ne := norm(expr)
	s.where = slices.DeleteFunc(slices.Clone(s.where), func(w Where) bool { return norm(w.Expr) == ne })
	return s
}

func (s Select) WithGroupBy(expr string) Select {
	s.groupBy, _ = addUnique(s.groupBy, expr)
	return s
}

func (s Select) WithoutGroupBy(expr string) Select {
	s.groupBy = remove(s.groupBy, expr)
	return s
}

func (s Select) WithOrderBy(expr string) Select {
	s.orderBy, _ = addUnique(s.orderBy, expr)
	return s
}

func (s Select) WithoutOrderBy(expr string) Select {
	s.orderBy = remove(s.orderBy, expr)
	return s
}

// WithLimit sets the maximum number of rows. Zero means no limit.
func (s Select) WithLimit(n int) Select {
	if n < 0 {
		n = 0
	}
	s.limit = n
	return s
}

// WithChildFilter sets the condition linking child rows to their parent.
// Unlike WithWhere it replaces the previous filter, and it is always combined
// with "and" with the other conditions.
func (s Select) WithChildFilter(expr string) Select {
	s.childFilter = strings.TrimSpace(expr)
	return s
}

// Clear empties a clause.
func (s Select) Clear(c Clause) Select {
	switch c {
	case ClauseField:
		s.fields = nil
	case ClauseFrom:
		s.from = nil
	case ClauseJoin:
		s.joins = nil
	case ClauseWhere:
		s.where = nil
	case ClauseGroupBy:
		s.groupBy = nil
	case ClauseOrderBy:
		s.orderBy = nil
	case ClauseLimit:
		s.limit = 0
	case ClauseChildFilter:
		s.childFilter = ""
	}
	return s
}

func (s Select) Fields() []string { return slices.Clone(s.fields) }
func (s Select) From() []string { return slices.Clone(s.from) }
func (s Select) Joins() []Join { return slices.Clone(s.joins) }
func (s Select) Where() []Where { return slices.Clone(s.where) }
func (s Select) GroupBy() []string { return slices.Clone(s.groupBy) }
func (s Select) OrderBy() []string { return slices.Clone(s.orderBy) }
func (s Select) Limit() int { return s.limit }
func (s Select) ChildFilter() string { return s.childFilter }
func (s Select) IsZero() bool { return len(s.fields) == 0 && len(s.from) == 0 }
func (s Select) String() string { return Compose(nil, s) }
func (s Select) Equal(o Select) bool { return Compose(nil, s) == Compose(nil, o) }

// Table returns the first table of the from clause, without alias.
func (s Select) Table() (string, bool) {
	if len(s.from) == 0 {
		return "", false
	}
	return strings.Fields(s.from[0])[0], true
}

// Compose returns the select statement for d. A nil dialect uses a trailing
// limit.
func Compose(d Dialect, s Select) string {
	placement := LimitTrailing
	if d != nil {
		placement = d.LimitPlacement()
	}

	var b strings.Builder
	b.WriteString("select ")
	if s.limit > 0 {
		switch placement {
		case LimitTop:
			fmt.Fprintf(&b, "top %d ", s.limit)
		case LimitFirst:
			fmt.Fprintf(&b, "first %d ", s.limit)
		}
	}
	if len(s.fields) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.fields, ",\n\t"))
	}
	if len(s.from) > 0 {
		b.WriteString("\n  from ")
		b.WriteString(strings.Join(s.from, ",\n\t"))
	}
	for _, j := range s.joins {
		fmt.Fprintf(&b, "\n  %s join %s on %s", j.Type, j.Table, j.On)
	}

	where := s.where
	if s.childFilter != "" {
		if len(where) > 1 {
			where = []Where{{"(" + composeWhere(where, " ") + ")", "and"}}
		}
		where = append(slices.Clone(where), Where{s.childFilter, "and"})
	}
	if len(where) > 0 {
		b.WriteString("\n where ")
		b.WriteString(composeWhere(where, "\n\t"))
	}
	if len(s.groupBy) > 0 {
		b.WriteString("\n group by ")
		b.WriteString(strings.Join(s.groupBy, ",\n\t"))
	}
	if len(s.orderBy) > 0 {
		b.WriteString("\n order by ")
		b.WriteString(strings.Join(s.orderBy, ",\n\t"))
	}
	if s.limit > 0 {
		switch placement {
		case LimitTrailing:
			fmt.Fprintf(&b, "\n limit %d", s.limit)
		case LimitOffsetFetch:
			fmt.Fprintf(&b, "\n fetch first %d rows only", s.limit)
		}
	}
	return b.String()
}

func composeWhere(l []Where, sep string) string {
	var b strings.Builder
	for i, w := range l {
		if i > 0 {
			b.WriteString(sep)
			b.WriteString(w.Conj)
			b.WriteString(" ")
		}
		b.WriteString(w.Expr)
	}
	return b.String()
}
