package bizobj

import (
	"context"

	"github.com/dabodev/dabo/cursor"
)

// moved brings the children in line with a new current row.
func (b *Bizobj) moved(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if err := b.syncChildren(ctx); err != nil {
		return err
	}
	b.emit(EventRowNumberChanged, "")
	return nil
}

func (b *Bizobj) First(ctx context.Context) error { return b.moved(ctx, b.cursor.First()) }
func (b *Bizobj) Prior(ctx context.Context) error { return b.moved(ctx, b.cursor.Prior()) }
func (b *Bizobj) Next(ctx context.Context) error  { return b.moved(ctx, b.cursor.Next()) }
func (b *Bizobj) Last(ctx context.Context) error  { return b.moved(ctx, b.cursor.Last()) }

// MoveTo makes row i current.
func (b *Bizobj) MoveTo(ctx context.Context, i int) error {
	return b.moved(ctx, b.cursor.MoveTo(i))
}

// MoveToPK makes the row with key pk current.
func (b *Bizobj) MoveToPK(ctx context.Context, pk any) error {
	return b.moved(ctx, b.cursor.MoveToPK(pk))
}

// Seek finds a row like cursor.Cursor.Seek and makes it current. It returns
// the index, -1 if no row was found, in which case the current row is
// unchanged.
func (b *Bizobj) Seek(ctx context.Context, value any, field string, near, caseSensitive bool) (int, error) {
	i, err := b.cursor.Seek(value, field, near, caseSensitive)
	if err != nil || i < 0 {
		return i, err
	}
	return i, b.MoveTo(ctx, i)
}

// Scan calls fn for each row, with the row current and the children in line
// with it. Scan stops at the first error from fn. The current row is restored
// afterwards.
func (b *Bizobj) Scan(ctx context.Context, fn func() error) (rerr error) {
	n := b.cursor.RowCount()
	if n == 0 {
		return nil
	}
	orig := b.cursor.RowNumber()
	defer func() {
		if err := b.MoveTo(ctx, orig); err != nil && rerr == nil {
			rerr = err
		}
	}()
	for i := 0; i < n && i < b.cursor.RowCount(); i++ {
		if err := b.MoveTo(ctx, i); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bizobj) RowCount() int  { return b.cursor.RowCount() }
func (b *Bizobj) RowNumber() int { return b.cursor.RowNumber() }

// Sort orders the rows, see cursor.Cursor.Sort. The current row stays the same.
func (b *Bizobj) Sort(field, dir string, caseSensitive bool) error {
	return b.cursor.Sort(field, dir, caseSensitive)
}

// Filter hides rows, see cursor.Cursor.Filter. Children follow the current row
// if it changes.
func (b *Bizobj) Filter(ctx context.Context, field string, op cursor.FilterOp, value any, caseSensitive bool) error {
	before := b.currentRow()
	if err := b.cursor.Filter(field, op, value, caseSensitive); err != nil {
		return err
	}
	if b.currentRow() != before {
		return b.moved(ctx, nil)
	}
	return nil
}

// RemoveFilters shows all rows again.
func (b *Bizobj) RemoveFilters(ctx context.Context) error {
	before := b.currentRow()
	b.cursor.RemoveFilters()
	if b.currentRow() != before {
		return b.moved(ctx, nil)
	}
	return nil
}

func (b *Bizobj) currentRow() *cursor.Row {
	r, _ := b.cursor.CurrentRow()
	return r
}
