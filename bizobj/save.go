package bizobj

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dabodev/dabo/cursor"
)

// Save writes the changes of the current row and of deleted rows, with the
// changes of their children.
func (b *Bizobj) Save(ctx context.Context) error {
	return b.save(ctx, false)
}

// SaveAll writes all changes.
func (b *Bizobj) SaveAll(ctx context.Context) error {
	return b.save(ctx, true)
}

// rekey is a child cursor whose parent row got its key assigned during save.
type rekey struct {
	child    *Bizobj
	old, new any
	c        *cursor.Cursor
}

// saver holds the state of a save of a tree of business objects.
type saver struct {
	rekeys []rekey
}

// save validates all changed rows of the tree, then writes them in a
// transaction, unless a parent business object already owns the transaction.
// Rows of a parent are written before those of its children, except that
// deleted child rows are written before their deleted parent. If a statement
// fails, all cursors of the tree are restored to their state before the save.
func (b *Bizobj) save(ctx context.Context, all bool) (rerr error) {
	if !b.cursorChanged(b.cursor, all) {
		return nil
	}

	token := &b.Conn.Token
	var own bool
	if !b.ancestorHoldsToken() {
		own = token.Acquire(b)
		if !own {
			b.log.Debug("transaction token held elsewhere, saving without transaction")
		}
	}
	defer func() {
		if own {
			token.Release(b)
		}
	}()

	if msgs := b.validate(b.cursor, all); len(msgs) > 0 {
		return &BusinessRuleError{strings.Join(msgs, "\n")}
	}
	if h, ok := b.cfg.Hooks.(BeforeSaver); ok {
		if err := refused(h.BeforeSave(b)); err != nil {
			return err
		}
	}

	cursors := b.treeCursors(b.cursor)
	states := make([]cursor.State, len(cursors))
	for i, c := range cursors {
		states[i] = c.Snapshot()
	}
	restore := func() {
		for i, c := range cursors {
			c.Restore(states[i])
		}
	}

	if own {
		if err := b.Conn.Begin(ctx); err != nil {
			return err
		}
	}
	var s saver
	err := s.saveCursor(ctx, b, b.cursor, all)
	if err == nil && own {
		err = b.Conn.Commit(ctx)
	}
	if err != nil {
		if own && b.Conn.InTransaction() {
			xerr := b.Conn.Rollback(context.Background())
			b.log.Check(xerr, "rollback after failed save")
		}
		restore()
		b.log.Debugx("save failed, changes restored", err)
		return err
	}

	for _, rk := range s.rekeys {
		delete(rk.child.childCursors, cacheKey(rk.old))
		rk.child.childCursors[cacheKey(rk.new)] = rk.c
		rk.c.SetChildFilter(rk.child.link.TargetField, rk.new)
	}

	if h, ok := b.cfg.Hooks.(AfterSaver); ok {
		h.AfterSave(b)
	}
	b.log.Debug("saved", slog.Bool("all", all))
	b.emit(EventValueRefresh, "")
	return nil
}

func (b *Bizobj) ancestorHoldsToken() bool {
	for p := b.parent; p != nil; p = p.parent {
		if p.Conn.Token.Holds(p) {
			return true
		}
	}
	return false
}

// treeCursors returns c and all cached cursors of descendants.
func (b *Bizobj) treeCursors(c *cursor.Cursor) []*cursor.Cursor {
	l := []*cursor.Cursor{c}
	for _, rel := range b.children {
		for _, cc := range rel.Child.childCursors {
			l = append(l, rel.Child.treeCursors(cc)...)
		}
	}
	return l
}

// validate calls the record validator for all changed rows that are not
// deleted, in the tree of rows affected by a save.
func (b *Bizobj) validate(c *cursor.Cursor, all bool) []string {
	var msgs []string
	h, ok := b.cfg.Hooks.(RecordValidator)
	for _, r := range b.scope(c, all) {
		if ok && r.IsDirty() && !r.IsDeleted() {
			if msg := h.ValidateRecord(b, Record{c, r}); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		for _, rel := range b.children {
			if cc, ok := rel.Child.childCursors[cacheKey(b.linkValue(c, r, rel))]; ok {
				msgs = append(msgs, rel.Child.validate(cc, true)...)
			}
		}
	}
	return msgs
}

func (s *saver) saveCursor(ctx context.Context, b *Bizobj, c *cursor.Cursor, all bool) error {
	for _, r := range b.scope(c, all) {
		if err := s.saveRow(ctx, b, c, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *saver) saveRow(ctx context.Context, b *Bizobj, c *cursor.Cursor, r *cursor.Row) error {
	type childCursor struct {
		rel *Relation
		lv  any
		c   *cursor.Cursor
	}
	var children []childCursor
	for _, rel := range b.children {
		lv := b.linkValue(c, r, rel)
		if cc, ok := rel.Child.childCursors[cacheKey(lv)]; ok {
			children = append(children, childCursor{rel, lv, cc})
		}
	}

	if r.IsDeleted() {
		for _, cc := range children {
			if err := s.saveCursor(ctx, cc.rel.Child, cc.c, true); err != nil {
				return err
			}
		}
		return c.SaveRow(ctx, r)
	}

	if r.IsDirty() {
		if err := c.SaveRow(ctx, r); err != nil {
			return err
		}
	}
	for _, cc := range children {
		nlv := b.linkValue(c, r, cc.rel)
		if cursor.IsUnsetKey(cc.lv) && !cursor.IsUnsetKey(nlv) {
			// Parent row got its key, child rows link to it now.
			for _, cr := range cc.c.AllRows() {
				if v, err := cc.c.RowValue(cr, cc.rel.TargetField); err == nil && v == cc.lv {
					if err := cc.c.SetRowValue(cr, cc.rel.TargetField, nlv); err != nil {
						return err
					}
				}
			}
			s.rekeys = append(s.rekeys, rekey{cc.rel.Child, cc.lv, nlv, cc.c})
		}
		if err := s.saveCursor(ctx, cc.rel.Child, cc.c, true); err != nil {
			return err
		}
	}
	return nil
}
