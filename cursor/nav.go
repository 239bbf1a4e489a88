package cursor

import (
	"fmt"
)

// First makes the first row current.
func (c *Cursor) First() error {
	if len(c.rows) == 0 {
		return ErrNoRecords
	}
	c.cur = 0
	return nil
}

// Prior makes the previous row current.
func (c *Cursor) Prior() error {
	if len(c.rows) == 0 {
		return ErrNoRecords
	}
	if c.cur <= 0 {
		return ErrBOF
	}
	c.cur--
	return nil
}

// Next makes the next row current.
func (c *Cursor) Next() error {
	if len(c.rows) == 0 {
		return ErrNoRecords
	}
	if c.cur >= len(c.rows)-1 {
		return ErrEOF
	}
	c.cur++
	return nil
}

// Last makes the last row current.
func (c *Cursor) Last() error {
	if len(c.rows) == 0 {
		return ErrNoRecords
	}
	c.cur = len(c.rows) - 1
	return nil
}

// MoveTo makes row i current.
func (c *Cursor) MoveTo(i int) error {
	switch {
	case len(c.rows) == 0:
		return ErrNoRecords
	case i < 0:
		return ErrBOF
	case i >= len(c.rows):
		return ErrEOF
	}
	c.cur = i
	return nil
}

// MoveToPK makes the visible row with key pk current.
func (c *Cursor) MoveToPK(pk any) error {
	i, err := c.IndexOfPK(pk)
	if err != nil {
		return err
	}
	c.cur = i
	return nil
}

// IndexOfPK returns the index of the visible row with key pk.
func (c *Cursor) IndexOfPK(pk any) (int, error) {
	if len(c.rows) == 0 {
		return -1, ErrNoRecords
	}
	ki, err := c.keyPos()
	if err != nil {
		return -1, err
	}
	if _, ok := pk.(TempKey); !ok {
		if cv, err := c.fields[ki].Type.Convert(pk); err == nil {
			pk = cv
		}
	}
	for i, r := range c.rows {
		if valuesEqual(r.values[ki], pk) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no row with key %v", ErrNoRecords, pk)
}

func (c *Cursor) keyPos() (int, error) {
	if c.cfg.KeyField == "" {
		return -1, fmt.Errorf("%w: no key field configured", ErrMissingPK)
	}
	return c.fieldPos(c.cfg.KeyField)
}

// Key returns the key of the current row, nil if there is no current row.
func (c *Cursor) Key() any {
	r, err := c.CurrentRow()
	if err != nil {
		return nil
	}
	return c.RowKey(r)
}

// RowKey returns the key of r, nil if no key field is configured.
func (c *Cursor) RowKey(r *Row) any {
	ki, err := c.keyPos()
	if err != nil {
		return nil
	}
	return r.values[ki]
}

// RowValue returns the value of field in r.
func (c *Cursor) RowValue(r *Row, field string) (any, error) {
	fi, err := c.fieldPos(field)
	if err != nil {
		return nil, err
	}
	return r.values[fi], nil
}

// Rows returns the visible rows in order.
func (c *Cursor) Rows() []*Row {
	return append([]*Row(nil), c.rows...)
}

// AllRows returns the rows that are not deleted in natural order, including
// rows hidden by filters.
func (c *Cursor) AllRows() []*Row {
	return append([]*Row(nil), c.all...)
}

// DeletedRows returns the rows deleted since the last save.
func (c *Cursor) DeletedRows() []*Row {
	return append([]*Row(nil), c.deleted...)
}
