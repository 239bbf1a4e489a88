package bizobj

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dabodev/dabo/cursor"
)

// Value returns field of the current row.
func (b *Bizobj) Value(field string) (any, error) {
	return b.cursor.Value(field)
}

// SetValue sets field of the current row. A value refused by the
// FieldValidator hook is not set, and a BusinessRuleError is returned.
func (b *Bizobj) SetValue(field string, v any) error {
	if err := refused(b.ValidateField(field, v)); err != nil {
		return err
	}
	if err := b.cursor.SetValue(field, v); err != nil {
		return err
	}
	b.emit(EventValueChanged, field)
	return nil
}

// New adds a row and makes it current. A child row gets the link value of the
// current parent row. Children of the new row start out empty.
func (b *Bizobj) New(ctx context.Context) error {
	if h, ok := b.cfg.Hooks.(BeforeNewer); ok {
		if err := refused(h.BeforeNew(b)); err != nil {
			return err
		}
	}

	var lv any
	if b.parent != nil {
		pr, err := b.parent.cursor.CurrentRow()
		if err != nil {
			return fmt.Errorf("new row for %s without parent row: %w", b.cfg.DataSource, err)
		}
		lv = b.parent.linkValue(b.parent.cursor, pr, b.link)
	}

	r, err := b.cursor.New(ctx)
	if err != nil {
		return err
	}
	if b.parent != nil && b.link.OnNew == FillLink {
		if err := b.cursor.SetRowValue(r, b.link.TargetField, lv); err != nil {
			b.cursor.DeleteRow(r)
			return err
		}
	}
	if err := b.syncChildren(ctx); err != nil {
		return err
	}

	if h, ok := b.cfg.Hooks.(AfterNewer); ok {
		h.AfterNew(b)
	}
	b.emit(EventRowNumberChanged, "")
	return nil
}

// Delete deletes the current row. Child rows are handled as configured in the
// relations.
func (b *Bizobj) Delete(ctx context.Context) error {
	r, err := b.cursor.CurrentRow()
	if err != nil {
		return err
	}
	return b.deleteRows(ctx, []*cursor.Row{r})
}

// DeleteAll deletes all visible rows.
func (b *Bizobj) DeleteAll(ctx context.Context) error {
	rows := b.cursor.Rows()
	if len(rows) == 0 {
		return cursor.ErrNoRecords
	}
	return b.deleteRows(ctx, rows)
}

func (b *Bizobj) deleteRows(ctx context.Context, rows []*cursor.Row) error {
	if h, ok := b.cfg.Hooks.(BeforeDeleter); ok {
		if err := refused(h.BeforeDelete(b)); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := b.checkDelete(ctx, b.cursor, r); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := b.deleteRow(ctx, b.cursor, r); err != nil {
			return err
		}
	}
	if err := b.syncChildren(ctx); err != nil {
		return err
	}
	if h, ok := b.cfg.Hooks.(AfterDeleter); ok {
		h.AfterDelete(b)
	}
	b.log.Debug("rows deleted", slog.Int("rows", len(rows)))
	b.emit(EventRowNumberChanged, "")
	return nil
}

// checkDelete returns an error if deleting r would violate a restrict
// relation, also for rows deleted by cascade.
func (b *Bizobj) checkDelete(ctx context.Context, c *cursor.Cursor, r *cursor.Row) error {
	for _, rel := range b.children {
		if rel.OnDelete != Restrict && rel.OnDelete != Cascade {
			continue
		}
		cc, err := rel.Child.cursorFor(ctx, b.linkValue(c, r, rel))
		if err != nil {
			return err
		}
		if rel.OnDelete == Restrict {
			if cc.RowCount() > 0 {
				return &BusinessRuleError{fmt.Sprintf("cannot delete, %s has child rows in %s", b.cfg.DataSource, rel.Child.cfg.DataSource)}
			}
			continue
		}
		for _, cr := range cc.AllRows() {
			if err := rel.Child.checkDelete(ctx, cc, cr); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteRow marks r deleted, then applies the delete action to its children.
func (b *Bizobj) deleteRow(ctx context.Context, c *cursor.Cursor, r *cursor.Row) error {
	type childRows struct {
		rel *Relation
		c   *cursor.Cursor
	}
	var l []childRows
	for _, rel := range b.children {
		if rel.OnDelete != Cascade && rel.OnDelete != SetNull {
			continue
		}
		cc, err := rel.Child.cursorFor(ctx, b.linkValue(c, r, rel))
		if err != nil {
			return err
		}
		l = append(l, childRows{rel, cc})
	}

	c.DeleteRow(r)

	for _, x := range l {
		for _, cr := range x.c.AllRows() {
			if x.rel.OnDelete == Cascade {
				if err := x.rel.Child.deleteRow(ctx, x.c, cr); err != nil {
					return err
				}
			} else if err := x.c.SetRowValue(cr, x.rel.TargetField, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cancel discards the changes of the current row and of deleted rows,
// including the changes of their children.
func (b *Bizobj) Cancel(ctx context.Context) error {
	return b.cancel(ctx, false)
}

// CancelAll discards all changes.
func (b *Bizobj) CancelAll(ctx context.Context) error {
	return b.cancel(ctx, true)
}

func (b *Bizobj) cancel(ctx context.Context, all bool) error {
	if h, ok := b.cfg.Hooks.(BeforeCanceler); ok {
		if err := refused(h.BeforeCancel(b)); err != nil {
			return err
		}
	}
	b.cancelCursor(b.cursor, all)
	if err := b.syncChildren(ctx); err != nil {
		return err
	}
	if h, ok := b.cfg.Hooks.(AfterCanceler); ok {
		h.AfterCancel(b)
	}
	b.emit(EventValueRefresh, "")
	b.emit(EventRowNumberChanged, "")
	return nil
}

// cancelCursor cancels changes in c and in the cursors of the children of the
// affected rows.
func (b *Bizobj) cancelCursor(c *cursor.Cursor, all bool) {
	for _, r := range b.scope(c, all) {
		for _, rel := range b.children {
			lv := b.linkValue(c, r, rel)
			if cc, ok := rel.Child.childCursors[cacheKey(lv)]; ok {
				rel.Child.cancelCursor(cc, true)
				if r.IsNew() {
					delete(rel.Child.childCursors, cacheKey(lv))
				}
			}
		}
	}
	err := c.Cancel(all)
	b.log.Check(err, "cancel")
}

// scope returns the rows affected by a save or cancel: deleted rows, and the
// current row or all rows.
func (b *Bizobj) scope(c *cursor.Cursor, all bool) []*cursor.Row {
	l := c.DeletedRows()
	if all {
		return append(l, c.AllRows()...)
	}
	if r, err := c.CurrentRow(); err == nil {
		l = append(l, r)
	}
	return l
}

// IsChanged returns whether there are unsaved changes, in b or its children.
func (b *Bizobj) IsChanged() bool {
	return b.cursorChanged(b.cursor, true)
}

// IsRowChanged returns whether the current row or its children have unsaved
// changes.
func (b *Bizobj) IsRowChanged() bool {
	return b.cursorChanged(b.cursor, false)
}

func (b *Bizobj) cursorChanged(c *cursor.Cursor, all bool) bool {
	for _, r := range b.scope(c, all) {
		if r.IsDirty() || b.childrenChanged(c, r) {
			return true
		}
	}
	return false
}

func (b *Bizobj) childrenChanged(c *cursor.Cursor, r *cursor.Row) bool {
	for _, rel := range b.children {
		if cc, ok := rel.Child.childCursors[cacheKey(b.linkValue(c, r, rel))]; ok && rel.Child.cursorChanged(cc, true) {
			return true
		}
	}
	return false
}

// DataSet returns copies of rows, see cursor.Cursor.DataSet.
func (b *Bizobj) DataSet(start, count int, fields ...string) ([]map[string]any, error) {
	return b.cursor.DataSet(start, count, fields...)
}

// DataDiff returns the pending changes of the current row, or all rows, keyed
// by data source. Changes of child rows are nested in the change of their
// parent row, also for parent rows that are unchanged themselves.
func (b *Bizobj) DataDiff(all bool) map[string][]cursor.Change {
	l := b.diff(b.cursor, all)
	if len(l) == 0 {
		return nil
	}
	return map[string][]cursor.Change{b.cfg.DataSource: l}
}

func (b *Bizobj) diff(c *cursor.Cursor, all bool) []cursor.Change {
	var l []cursor.Change
	for _, r := range b.scope(c, all) {
		var ch cursor.Change
		if r.IsDirty() {
			ch = c.RowChange(r)
		} else {
			ch = cursor.Change{Key: c.RowKey(r)}
		}
		for _, rel := range b.children {
			cc, ok := rel.Child.childCursors[cacheKey(b.linkValue(c, r, rel))]
			if !ok {
				continue
			}
			if cl := rel.Child.diff(cc, true); len(cl) > 0 {
				if ch.Children == nil {
					ch.Children = map[string][]cursor.Change{}
				}
				ch.Children[rel.Child.cfg.DataSource] = cl
			}
		}
		if ch.Kind != "" || len(ch.Children) > 0 {
			l = append(l, ch)
		}
	}
	return l
}
