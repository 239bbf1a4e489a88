package sqlbuilder

import (
	"fmt"
	"strings"
)

// Insert returns an insert statement for fields, with a parameter per field in
// order.
func Insert(d Dialect, table string, fields []string) string {
	var names, params []string
	for i, f := range fields {
		names = append(names, d.QuoteIdentifier(f))
		params = append(params, d.Placeholder(i+1))
	}
	if len(fields) == 0 {
		return fmt.Sprintf("insert into %s default values", d.QuoteIdentifier(table))
	}
	return fmt.Sprintf("insert into %s (%s) values (%s)", d.QuoteIdentifier(table), strings.Join(names, ", "), strings.Join(params, ", "))
}

// InsertOutput is like Insert, but the statement returns the inserted key as
// a result row, with an "output inserted.key" clause.
func InsertOutput(d Dialect, table string, fields []string, key string) string {
	output := "output inserted." + d.QuoteIdentifier(key)
	if len(fields) == 0 {
		return fmt.Sprintf("insert into %s %s default values", d.QuoteIdentifier(table), output)
	}
	var names, params []string
	for i, f := range fields {
		names = append(names, d.QuoteIdentifier(f))
		params = append(params, d.Placeholder(i+1))
	}
	return fmt.Sprintf("insert into %s (%s) %s values (%s)", d.QuoteIdentifier(table), strings.Join(names, ", "), output, strings.Join(params, ", "))
}

// InsertReturning is like Insert, with a "returning key" clause.
func InsertReturning(d Dialect, table string, fields []string, key string) string {
	return Insert(d, table, fields) + " returning " + d.QuoteIdentifier(key)
}

// Update returns an update statement setting fields, for the row matching the
// key fields. Parameters are the field values followed by the key values.
func Update(d Dialect, table string, fields, keys []string) string {
	var sets []string
	for i, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = %s", d.QuoteIdentifier(f), d.Placeholder(i+1)))
	}
	return fmt.Sprintf("update %s set %s where %s", d.QuoteIdentifier(table), strings.Join(sets, ", "), keyWhere(d, keys, len(fields)))
}

// Delete returns a delete statement for the row matching the key fields.
func Delete(d Dialect, table string, keys []string) string {
	return fmt.Sprintf("delete from %s where %s", d.QuoteIdentifier(table), keyWhere(d, keys, 0))
}

func keyWhere(d Dialect, keys []string, offset int) string {
	var l []string
	for i, k := range keys {
		l = append(l, fmt.Sprintf("%s = %s", d.QuoteIdentifier(k), d.Placeholder(offset+i+1)))
	}
	return strings.Join(l, " and ")
}
