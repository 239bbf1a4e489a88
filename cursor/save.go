package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dabodev/dabo/sqlbuilder"
)

// DirtyRows returns the rows to write on a save, deleted rows first. If all is
// false, only the current row is considered of the rows that are not deleted.
func (c *Cursor) DirtyRows(all bool) []*Row {
	l := slices.Clone(c.deleted)
	if all {
		for _, r := range c.all {
			if r.IsDirty() {
				l = append(l, r)
			}
		}
	} else if r, err := c.CurrentRow(); err == nil && r.IsDirty() {
		l = append(l, r)
	}
	return l
}

// Save writes the changes of the current row, or all rows, and deletions of
// rows. A transaction is started if none is open. If a statement fails, the
// transaction is rolled back and the buffer is restored to its state before
// the save.
func (c *Cursor) Save(ctx context.Context, all bool) (rerr error) {
	rows := c.DirtyRows(all)
	if len(rows) == 0 {
		return nil
	}

	state := c.Snapshot()
	own := !c.Conn.InTransaction()
	if own {
		if err := c.Conn.Begin(ctx); err != nil {
			return err
		}
	}
	defer func() {
		if rerr == nil {
			return
		}
		if own {
			err := c.Conn.Rollback(context.Background())
			c.log.Check(err, "rollback after failed save")
		}
		c.Restore(state)
	}()

	for _, r := range rows {
		if err := c.SaveRow(ctx, r); err != nil {
			return err
		}
	}
	if own {
		return c.Conn.Commit(ctx)
	}
	return nil
}

// SaveRow writes a single dirty row with an insert, update or delete
// statement. On success the row is no longer dirty. A new row gets the key
// assigned by the database.
func (c *Cursor) SaveRow(ctx context.Context, r *Row) error {
	table := c.Table()
	if table == "" {
		return ErrNoTable
	}
	switch {
	case r.deleted:
		return c.deleteSaved(ctx, table, r)
	case r.isNew:
		return c.insert(ctx, table, r)
	case len(r.memento) > 0:
		return c.update(ctx, table, r)
	}
	return nil
}

// originalKey returns the key of r as in the database.
func (c *Cursor) originalKey(r *Row) (any, error) {
	ki, err := c.keyPos()
	if err != nil {
		return nil, err
	}
	key := r.values[ki]
	if orig, ok := r.memento[c.fields[ki].Name]; ok {
		key = orig
	}
	if IsUnsetKey(key) {
		return nil, fmt.Errorf("%w: row has no key value", ErrMissingPK)
	}
	return key, nil
}

func (c *Cursor) deleteSaved(ctx context.Context, table string, r *Row) error {
	key, err := c.originalKey(r)
	if err != nil {
		return err
	}
	q := sqlbuilder.Delete(c.Conn.Backend, table, []string{c.cfg.KeyField})
	if err := c.execAffecting(ctx, q, key); err != nil {
		return err
	}
	c.deleted = slices.DeleteFunc(c.deleted, func(e *Row) bool { return e == r })
	c.log.Debug("row deleted", slog.Any("key", key))
	return nil
}

func (c *Cursor) update(ctx context.Context, table string, r *Row) error {
	key, err := c.originalKey(r)
	if err != nil {
		return err
	}
	var fields []string
	var args []any
	for i, f := range c.fields {
		if _, ok := r.memento[f.Name]; !ok || f.NonUpdatable {
			continue
		}
		if IsUnsetKey(r.values[i]) && r.values[i] != nil {
			return fmt.Errorf("%w: field %q has a temporary key", ErrMissingPK, f.Name)
		}
		fields = append(fields, f.Name)
		args = append(args, r.values[i])
	}
	if len(fields) > 0 {
		q := sqlbuilder.Update(c.Conn.Backend, table, fields, []string{c.cfg.KeyField})
		if err := c.execAffecting(ctx, q, append(args, key)...); err != nil {
			return err
		}
	}
	r.memento = nil
	r.computed = nil
	c.log.Debug("row updated", slog.Any("key", key), slog.Any("fields", fields))
	return nil
}

func (c *Cursor) insert(ctx context.Context, table string, r *Row) error {
	ki := -1
	if c.cfg.KeyField != "" {
		ki, _ = c.fieldPos(c.cfg.KeyField)
	}

	var generated bool
	if ki >= 0 && c.cfg.AutoPopulatePK && IsUnsetKey(r.values[ki]) {
		pk, err := c.Conn.PreGeneratePK(ctx, table, c.fields[ki].Name)
		if err != nil {
			return err
		}
		if pk != nil {
			if cv, err := c.fields[ki].Type.Convert(pk); err == nil {
				pk = cv
			}
			r.values[ki] = pk
		} else {
			generated = true
		}
	}

	var fields []string
	var args []any
	for i, f := range c.fields {
		v := r.values[i]
		if v == nil || f.NonUpdatable || (i == ki && generated) {
			continue
		}
		if _, ok := v.(TempKey); ok {
			return fmt.Errorf("%w: field %q has a temporary key", ErrMissingPK, f.Name)
		}
		fields = append(fields, f.Name)
		args = append(args, v)
	}
	if generated {
		pk, err := c.insertGenerated(ctx, table, fields, args, c.fields[ki].Name)
		if err != nil {
			return err
		}
		if pk == nil {
			return fmt.Errorf("%w: no key returned for insert into %q", ErrMissingPK, table)
		}
		if cv, err := c.fields[ki].Type.Convert(pk); err == nil {
			pk = cv
		}
		r.values[ki] = pk
	} else {
		q := sqlbuilder.Insert(c.Conn.Backend, table, fields)
		if _, err := c.Conn.Exec(ctx, q, args...); err != nil {
			return err
		}
	}
	r.isNew = false
	r.memento = nil
	r.computed = nil
	c.views.Purge()
	if ki >= 0 {
		c.log.Debug("row inserted", slog.Any("key", r.values[ki]))
	}
	return nil
}

// execAffecting executes an update or delete that must affect a row.
// insertGenerated inserts a row and returns the key assigned by the database,
// from the insert statement itself if the backend can, otherwise from
// LastInsertID.
func (c *Cursor) insertGenerated(ctx context.Context, table string, fields []string, args []any, pk string) (any, error) {
	if q := c.Conn.Backend.InsertKeySQL(table, fields, pk); q != "" {
		rows, err := c.Conn.Query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		if len(rows.Values) != 1 || len(rows.Values[0]) == 0 {
			return nil, fmt.Errorf("%w: insert returned %d rows", ErrMissingPK, len(rows.Values))
		}
		return rows.Values[0][0], nil
	}
	q := sqlbuilder.Insert(c.Conn.Backend, table, fields)
	res, err := c.Conn.Exec(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return c.Conn.LastInsertID(ctx, res, table, pk)
}

func (c *Cursor) execAffecting(ctx context.Context, q string, args ...any) error {
	res, err := c.Conn.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no row changed by %s", ErrNoRecords, q)
	}
	return nil
}
