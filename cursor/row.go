package cursor

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// TempKey is the key of a new row whose real key is assigned when it is
// saved. Child rows use it as link value until then.
type TempKey int64

var tempKeys atomic.Int64

// NewTempKey returns a TempKey unique within the process.
func NewTempKey() TempKey {
	return TempKey(tempKeys.Add(1))
}

func (k TempKey) String() string {
	return fmt.Sprintf("tempkey-%d", int64(k))
}

// IsUnsetKey returns whether v is not a real key: nil or a TempKey.
func IsUnsetKey(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(TempKey)
	return ok
}

// Row is a record in the buffer.
type Row struct {
	id      int64
	values  []any
	isNew   bool
	deleted bool
	memento map[string]any // Original values by field name, for changed fields.

	// Original values of changed non-updatable fields. Restored by a cancel,
	// but never written and not making the row dirty.
	computed map[string]any
}

// ID returns the identity of the row within its cursor. It does not change
// when the row is sorted, changed or saved.
func (r *Row) ID() int64 { return r.id }

func (r *Row) IsNew() bool { return r.isNew }
func (r *Row) IsDeleted() bool { return r.deleted }

// IsDirty returns whether the row has unsaved changes.
func (r *Row) IsDirty() bool {
	return r.isNew || r.deleted || len(r.memento) > 0
}

// Memento returns a copy of the original values of changed fields.
func (r *Row) Memento() map[string]any {
	return maps.Clone(r.memento)
}

func (r *Row) clone() *Row {
	return &Row{
		id:      r.id,
		values:  slices.Clone(r.values),
		isNew:   r.isNew,
		deleted: r.deleted,
		memento:  maps.Clone(r.memento),
		computed: maps.Clone(r.computed),
	}
}

func (c *Cursor) newRow(values []any) *Row {
	c.nextID++
	return &Row{id: c.nextID, values: values}
}

// RowCount returns the number of visible rows.
func (c *Cursor) RowCount() int { return len(c.rows) }

// RowNumber returns the index of the current row, -1 if there are no rows.
func (c *Cursor) RowNumber() int { return c.cur }

// Row returns the row at index i.
func (c *Cursor) Row(i int) (*Row, error) {
	if len(c.rows) == 0 {
		return nil, ErrNoRecords
	}
	if i < 0 || i >= len(c.rows) {
		return nil, fmt.Errorf("%w: row %d of %d", ErrNoRecords, i, len(c.rows))
	}
	return c.rows[i], nil
}

// CurrentRow returns the current row.
func (c *Cursor) CurrentRow() (*Row, error) {
	return c.Row(c.cur)
}

// Value returns the value of field in the current row.
func (c *Cursor) Value(field string) (any, error) {
	return c.ValueAt(c.cur, field)
}

// ValueAt returns the value of field in row i.
func (c *Cursor) ValueAt(i int, field string) (any, error) {
	r, err := c.Row(i)
	if err != nil {
		return nil, err
	}
	fi, err := c.fieldPos(field)
	if err != nil {
		return nil, err
	}
	return r.values[fi], nil
}

// SetValue sets field in the current row.
func (c *Cursor) SetValue(field string, v any) error {
	return c.SetValueAt(c.cur, field, v)
}

// SetValueAt sets field in row i. The value is converted to the type of the
// field. The original value is kept as memento on the first change, and the
// memento is removed when the original value is set again. Non-updatable
// fields change without memento, their original value is only kept for Cancel.
func (c *Cursor) SetValueAt(i int, field string, v any) error {
	r, err := c.Row(i)
	if err != nil {
		return err
	}
	return c.SetRowValue(r, field, v)
}

// SetRowValue sets field in r, which does not have to be visible.
func (c *Cursor) SetRowValue(r *Row, field string, v any) error {
	fi, err := c.fieldPos(field)
	if err != nil {
		return err
	}
	f := c.fields[fi]
	nv := v
	if _, ok := v.(TempKey); !ok {
		nv, err = f.Type.Convert(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	old := r.values[fi]
	if valuesEqual(old, nv) {
		return nil
	}
	r.values[fi] = nv
	c.views.Purge()
	if f.NonUpdatable {
		r.computed = track(r.computed, f.Name, old, nv)
	} else {
		r.memento = track(r.memento, f.Name, old, nv)
	}
	return nil
}

// track records old as original value of name in m on the first change, and
// forgets it when the original value is set again.
func track(m map[string]any, name string, old, nv any) map[string]any {
	if orig, ok := m[name]; ok {
		if valuesEqual(orig, nv) {
			delete(m, name)
		}
		return m
	}
	if m == nil {
		m = map[string]any{}
	}
	m[name] = old
	return m
}

// valuesEqual compares values as stored in rows.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	defer func() {
		// Values that are not comparable are different.
		recover()
	}()
	return a == b
}

// New adds a row with default values and makes it current. Plain default
// values are set first, then defaults of type func() any are called in field
// order. With AutoPopulatePK, the key field gets a TempKey unless a default
// sets it.
//
// If no field descriptions are known yet, they are fetched with the select
// statement.
func (c *Cursor) New(ctx context.Context) (*Row, error) {
	if err := c.describe(ctx); err != nil {
		return nil, err
	}

	values := make([]any, len(c.fields))
	var producers []int
	for i, f := range c.fields {
		d, ok := c.cfg.Defaults[f.Name]
		if !ok {
			continue
		}
		if _, ok := d.(func() any); ok {
			producers = append(producers, i)
			continue
		}
		values[i] = c.defaultValue(f.Name, i, d)
	}
	for _, i := range producers {
		fn := c.cfg.Defaults[c.fields[i].Name].(func() any)
		values[i] = c.defaultValue(c.fields[i].Name, i, fn())
	}
	if c.cfg.AutoPopulatePK && c.cfg.KeyField != "" {
		if ki, err := c.fieldPos(c.cfg.KeyField); err == nil && values[ki] == nil {
			values[ki] = NewTempKey()
		}
	}

	r := c.newRow(values)
	r.isNew = true
	c.all = append(c.all, r)
	c.rows = append(c.rows, r)
	c.cur = len(c.rows) - 1
	c.views.Purge()
	return r, nil
}

func (c *Cursor) defaultValue(name string, i int, v any) any {
	if _, ok := v.(TempKey); ok {
		return v
	}
	cv, err := c.fields[i].Type.Convert(v)
	if err != nil {
		c.log.Debugx("converting default value, keeping as is", err)
		return v
	}
	return cv
}

// Delete marks the current row as deleted, removing it from the visible rows.
// A new row that was never saved is discarded.
func (c *Cursor) Delete() error {
	r, err := c.CurrentRow()
	if err != nil {
		return err
	}
	c.deleteRow(r)
	return nil
}

// DeleteAll marks all visible rows as deleted.
func (c *Cursor) DeleteAll() error {
	if len(c.rows) == 0 {
		return ErrNoRecords
	}
	for _, r := range slices.Clone(c.rows) {
		c.deleteRow(r)
	}
	return nil
}

// DeleteRow marks r as deleted, or discards it if it is a new row.
func (c *Cursor) DeleteRow(r *Row) {
	if !slices.Contains(c.all, r) {
		return
	}
	c.deleteRow(r)
}

func (c *Cursor) deleteRow(r *Row) {
	c.removeRow(r)
	if !r.isNew {
		r.deleted = true
		c.deleted = append(c.deleted, r)
	}
}

// removeRow removes r from the buffer, keeping the current row if possible.
func (c *Cursor) removeRow(r *Row) {
	var current *Row
	if c.cur >= 0 && c.cur < len(c.rows) {
		current = c.rows[c.cur]
	}
	c.all = slices.DeleteFunc(c.all, func(e *Row) bool { return e == r })
	c.rows = slices.DeleteFunc(c.rows, func(e *Row) bool { return e == r })
	c.deleted = slices.DeleteFunc(c.deleted, func(e *Row) bool { return e == r })
	c.views.Purge()
	if current != nil && current != r {
		c.cur = slices.Index(c.rows, current)
	} else if c.cur >= len(c.rows) {
		c.cur = len(c.rows) - 1
	}
}

// Cancel discards changes of the current row, or all rows, and of rows deleted
// since the last save. New rows are removed, deleted rows are back in the
// buffer, changed fields get their original values.
func (c *Cursor) Cancel(all bool) error {
	var l []*Row
	if all {
		l = slices.Clone(c.all)
	} else if r, err := c.CurrentRow(); err == nil {
		l = []*Row{r}
	}
	for _, r := range l {
		if r.isNew {
			c.removeRow(r)
			continue
		}
		c.restoreMemento(r)
	}
	if len(c.deleted) > 0 {
		for _, r := range c.deleted {
			r.deleted = false
			c.restoreMemento(r)
		}
		c.all = append(c.all, c.deleted...)
		slices.SortStableFunc(c.all, func(a, b *Row) int {
			if a.isNew != b.isNew {
				// New rows stay at the end.
				if a.isNew {
					return 1
				}
				return -1
			}
			return int(a.id - b.id)
		})
		c.deleted = nil
		c.refreshView()
	}
	c.views.Purge()
	return nil
}

func (c *Cursor) restoreMemento(r *Row) {
	for _, m := range []map[string]any{r.memento, r.computed} {
		for name, v := range m {
			if fi, err := c.fieldPos(name); err == nil {
				r.values[fi] = v
			}
		}
	}
	r.memento = nil
	r.computed = nil
}

// IsChanged returns whether any row has unsaved changes, including deletions.
func (c *Cursor) IsChanged() bool {
	if len(c.deleted) > 0 {
		return true
	}
	for _, r := range c.all {
		if r.IsDirty() {
			return true
		}
	}
	return false
}

// IsRowChanged returns whether the current row has unsaved changes.
func (c *Cursor) IsRowChanged() bool {
	r, err := c.CurrentRow()
	return err == nil && r.IsDirty()
}

// ChangedRows returns the indices of visible rows with unsaved changes, only
// the current row is considered if all is false.
func (c *Cursor) ChangedRows(all bool) []int {
	var l []int
	for i, r := range c.rows {
		if (all || i == c.cur) && r.IsDirty() {
			l = append(l, i)
		}
	}
	return l
}

// State is a copy of the rows of a cursor, for restoring after a failed save.
type State struct {
	all, rows, deleted []*Row
	cur                int
	saved              map[*Row]*Row
}

// Snapshot returns the current state of the buffer.
func (c *Cursor) Snapshot() State {
	s := State{
		all:     slices.Clone(c.all),
		rows:    slices.Clone(c.rows),
		deleted: slices.Clone(c.deleted),
		cur:     c.cur,
		saved:   map[*Row]*Row{},
	}
	for _, l := range [][]*Row{c.all, c.deleted} {
		for _, r := range l {
			s.saved[r] = r.clone()
		}
	}
	return s
}

// Restore returns the buffer to a snapshot. Row pointers remain valid.
func (c *Cursor) Restore(s State) {
	for r, saved := range s.saved {
		r.values = saved.values
		r.isNew = saved.isNew
		r.deleted = saved.deleted
		r.memento = saved.memento
		r.computed = saved.computed
	}
	c.all = s.all
	c.rows = s.rows
	c.deleted = s.deleted
	c.cur = s.cur
	c.views.Purge()
}
