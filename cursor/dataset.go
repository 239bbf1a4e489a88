package cursor

// DataSet returns copies of count visible rows starting at start, as maps of
// field name to value. A count <= 0 means all rows from start. Without fields,
// all fields are included.
func (c *Cursor) DataSet(start, count int, fields ...string) ([]map[string]any, error) {
	var pos []int
	if len(fields) == 0 {
		for i := range c.fields {
			pos = append(pos, i)
		}
	} else {
		for _, f := range fields {
			fi, err := c.fieldPos(f)
			if err != nil {
				return nil, err
			}
			pos = append(pos, fi)
		}
	}

	if start < 0 {
		start = 0
	}
	end := len(c.rows)
	if count > 0 && start+count < end {
		end = start + count
	}
	var l []map[string]any
	for i := start; i < end; i++ {
		m := make(map[string]any, len(pos))
		for _, fi := range pos {
			m[c.fields[fi].Name] = c.rows[i].values[fi]
		}
		l = append(l, m)
	}
	return l, nil
}

// ChangeKind is the type of a pending change.
type ChangeKind string

const (
	ChangeModified ChangeKind = "modified"
	ChangeNew      ChangeKind = "new"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change describes the pending change of a row.
type Change struct {
	Kind ChangeKind
	Key  any
	// For modified rows the changed fields and the key field, for new rows all
	// updatable fields. Empty for deleted rows.
	Values map[string]any
	// Changes of child rows by data source, filled in by bizobjs.
	Children map[string][]Change
}

// DataDiff returns the pending changes of the current row, or of all rows,
// deletions first.
func (c *Cursor) DataDiff(all bool) []Change {
	var l []Change
	for _, r := range c.DirtyRows(all) {
		l = append(l, c.RowChange(r))
	}
	return l
}

// RowChange returns the pending change of a dirty row.
func (c *Cursor) RowChange(r *Row) Change {
	ch := Change{Key: c.RowKey(r)}
	switch {
	case r.deleted:
		ch.Kind = ChangeDeleted
		return ch
	case r.isNew:
		ch.Kind = ChangeNew
		ch.Values = map[string]any{}
		for i, f := range c.fields {
			if !f.NonUpdatable || f.PK {
				ch.Values[f.Name] = r.values[i]
			}
		}
	default:
		ch.Kind = ChangeModified
		ch.Values = map[string]any{}
		for name := range r.memento {
			if fi, err := c.fieldPos(name); err == nil {
				ch.Values[name] = r.values[fi]
			}
		}
		if ki, err := c.keyPos(); err == nil {
			ch.Values[c.fields[ki].Name] = r.values[ki]
		}
	}
	return ch
}
