// Package bizobj implements business objects: a cursor with business rules,
// and child business objects for related rows.
//
// A Bizobj coordinates its cursor with the cursors of its children. Children
// have a cursor per key of the parent row they belong to, cached until the
// parent is requeried. Saving a business object writes the changed rows of the
// whole tree in a single transaction, parent rows before their children.
//
// Applications customize behaviour with hooks: a value passed in
// Config.Hooks that implements any of the hook interfaces, such as
// RecordValidator or BeforeSaver.
package bizobj

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dabodev/dabo/cursor"
	"github.com/dabodev/dabo/db"
	"github.com/dabodev/dabo/mlog"
	"github.com/dabodev/dabo/sqlbuilder"
)

var ErrBusinessRule = errors.New("business rule violation")

// BusinessRuleError is returned when a validation or before hook refuses an
// operation.
type BusinessRuleError struct {
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBusinessRule, e.Message)
}

func (e *BusinessRuleError) Unwrap() error {
	return ErrBusinessRule
}

// Event is a change of state that listeners, such as user interfaces, are
// notified about.
type Event int

const (
	EventRowNumberChanged Event = iota // The current row changed.
	EventValueChanged                  // A field of the current row was set.
	EventValueRefresh                  // Values may have changed after save, cancel or requery.
)

var eventNames = []string{"rownumberchanged", "valuechanged", "valuerefresh"}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Listener is called for events. Field is set for EventValueChanged.
type Listener func(b *Bizobj, ev Event, field string)

// OnParentNew is the action for a child when a new parent row is added.
type OnParentNew int

const (
	FillLink OnParentNew = iota // New child rows get the key of the parent.
	SkipLink                    // The link field of new child rows is left alone.
)

// OnParentDelete is the action for child rows when their parent row is
// deleted.
type OnParentDelete int

const (
	Restrict OnParentDelete = iota // Refuse to delete a parent row that has child rows.
	Cascade                        // Delete the child rows too.
	SetNull                        // Clear the link field of child rows.
	Skip                           // Leave the child rows alone.
)

// Relation links a child business object to its parent.
type Relation struct {
	Child *Bizobj

	// SourceField is the field of the parent with the value to link on,
	// the key field of the parent if empty.
	SourceField string

	// TargetField is the field of the child that refers to the parent.
	TargetField string

	OnNew    OnParentNew
	OnDelete OnParentDelete
}

// Config is the configuration of a business object.
type Config struct {
	// DataSource identifies the business object to user interfaces, and keys
	// data diffs. Also the table if Table is empty.
	DataSource string
	Table      string
	KeyField   string

	// AutoPopulatePK indicates the database assigns keys.
	AutoPopulatePK bool

	// Select statement for the rows. For children, the link to the parent
	// is added to the where clause.
	Select sqlbuilder.Select

	// SQL is a literal select statement, used instead of Select. Not for
	// child business objects.
	SQL    string
	Params []any

	// Defaults for fields of new rows, see cursor.Config.
	Defaults map[string]any

	AutoQuoteNames bool

	// Hooks implements any of the hook interfaces.
	Hooks any
}

// Bizobj is a business object. It is not safe for concurrent use.
type Bizobj struct {
	Conn *db.Connection

	cfg  Config
	log  mlog.Log
	elog *slog.Logger

	cursor *cursor.Cursor // Current cursor.

	parent   *Bizobj   // For lookups only.
	link     *Relation // Relation with the parent, nil for a root.
	children []*Relation

	// Cursors of a child by link value of the parent row.
	childCursors map[any]*cursor.Cursor

	listeners []Listener
}

// New returns a business object with rows from conn.
func New(conn *db.Connection, cfg Config, elog *slog.Logger) (*Bizobj, error) {
	if cfg.Table == "" {
		cfg.Table = cfg.DataSource
	}
	if cfg.DataSource == "" {
		cfg.DataSource = cfg.Table
	}
	if cfg.Table == "" {
		if t, ok := cfg.Select.Table(); ok {
			cfg.Table = t
			cfg.DataSource = t
		}
	}
	b := &Bizobj{
		Conn: conn,
		cfg:  cfg,
		log:  mlog.New("bizobj", elog).With(slog.String("datasource", cfg.DataSource)),
		elog: elog,
	}
	c, err := b.newCursor()
	if err != nil {
		return nil, err
	}
	b.cursor = c
	return b, nil
}

func (b *Bizobj) newCursor() (*cursor.Cursor, error) {
	c, err := cursor.New(b.Conn, cursor.Config{
		Table:          b.cfg.Table,
		KeyField:       b.cfg.KeyField,
		AutoPopulatePK: b.cfg.AutoPopulatePK,
		Defaults:       b.cfg.Defaults,
		AutoQuoteNames: b.cfg.AutoQuoteNames,
	}, b.elog)
	if err != nil {
		return nil, err
	}
	c.SetSelect(b.cfg.Select)
	c.SetSQL(b.cfg.SQL)
	c.SetParams(b.cfg.Params...)
	return c, nil
}

// AddChild makes rel.Child a child of b. The child gets a cursor per parent
// row, with the rows whose TargetField equals the SourceField of the parent.
func (b *Bizobj) AddChild(rel Relation) error {
	if rel.Child == nil || rel.TargetField == "" {
		return fmt.Errorf("bizobj: relation needs child and target field")
	}
	if rel.Child.parent != nil {
		return fmt.Errorf("bizobj: %s already has a parent", rel.Child.cfg.DataSource)
	}
	if rel.Child.cfg.SQL != "" {
		return fmt.Errorf("bizobj: child %s cannot use literal sql", rel.Child.cfg.DataSource)
	}
	if rel.SourceField == "" {
		rel.SourceField = b.cfg.KeyField
	}
	r := &rel
	rel.Child.parent = b
	rel.Child.link = r
	rel.Child.childCursors = map[any]*cursor.Cursor{}
	b.children = append(b.children, r)
	return nil
}

func (b *Bizobj) DataSource() string { return b.cfg.DataSource }
func (b *Bizobj) KeyField() string { return b.cfg.KeyField }
func (b *Bizobj) Parent() *Bizobj { return b.parent }

// Cursor returns the current cursor. For children it changes with the current
// row of the parent.
func (b *Bizobj) Cursor() *cursor.Cursor { return b.cursor }

// Children returns the relations with the children of b.
func (b *Bizobj) Children() []Relation {
	var l []Relation
	for _, r := range b.children {
		l = append(l, *r)
	}
	return l
}

// Child returns the child business object with dataSource.
func (b *Bizobj) Child(dataSource string) *Bizobj {
	for _, r := range b.children {
		if r.Child.cfg.DataSource == dataSource {
			return r.Child
		}
	}
	return nil
}

// Listen registers fn for events.
func (b *Bizobj) Listen(fn Listener) {
	b.listeners = append(b.listeners, fn)
}

func (b *Bizobj) emit(ev Event, field string) {
	for _, fn := range b.listeners {
		fn(b, ev, field)
	}
}

// cacheKey returns a value usable as map key for a link value.
func cacheKey(v any) any {
	if v == nil || reflect.TypeOf(v).Comparable() {
		return v
	}
	return fmt.Sprintf("%T %v", v, v)
}

// linkValue returns the value of r that the rows of the child of rel refer to.
func (b *Bizobj) linkValue(c *cursor.Cursor, r *cursor.Row, rel *Relation) any {
	v, err := c.RowValue(r, rel.SourceField)
	if err != nil {
		return nil
	}
	return v
}

// cursorFor returns the cursor of child b for the parent link value, fetching
// its rows if needed. Rows are not fetched for a parent row that was not saved
// yet.
func (b *Bizobj) cursorFor(ctx context.Context, linkValue any) (*cursor.Cursor, error) {
	ck := cacheKey(linkValue)
	if c, ok := b.childCursors[ck]; ok {
		return c, nil
	}
	c, err := b.fetchCursor(ctx, linkValue)
	if err != nil {
		return nil, err
	}
	b.childCursors[ck] = c
	return c, nil
}

// fetchCursor returns a new cursor of child b for the parent link value.
func (b *Bizobj) fetchCursor(ctx context.Context, linkValue any) (*cursor.Cursor, error) {
	c, err := b.newCursor()
	if err != nil {
		return nil, err
	}
	if cursor.IsUnsetKey(linkValue) {
		c.SetChildFilter(b.link.TargetField, nil)
	} else {
		c.SetChildFilter(b.link.TargetField, linkValue)
		if err := c.Requery(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// sync switches child b to the cursor for the current row of its parent, and
// does the same for its own children.
func (b *Bizobj) sync(ctx context.Context) error {
	var lv any
	pc := b.parent.cursor
	if r, err := pc.CurrentRow(); err == nil {
		lv = b.parent.linkValue(pc, r, b.link)
	}
	c, err := b.cursorFor(ctx, lv)
	if err != nil {
		return err
	}
	if c != b.cursor {
		b.cursor = c
		b.emit(EventRowNumberChanged, "")
	}
	return b.syncChildren(ctx)
}

func (b *Bizobj) syncChildren(ctx context.Context) error {
	for _, rel := range b.children {
		if err := rel.Child.sync(ctx); err != nil {
			return fmt.Errorf("%s: %w", rel.Child.cfg.DataSource, err)
		}
	}
	return nil
}

// resetChildren drops the cached cursors of all descendants.
func (b *Bizobj) resetChildren() {
	for _, rel := range b.children {
		rel.Child.childCursors = map[any]*cursor.Cursor{}
		rel.Child.resetChildren()
	}
}

// Requery fetches the rows, and the rows of children for the current row.
// Pending changes are discarded. If fetching the rows fails, b and its
// children are unchanged.
func (b *Bizobj) Requery(ctx context.Context) error {
	if h, ok := b.cfg.Hooks.(BeforeRequerier); ok {
		if err := refused(h.BeforeRequery(b)); err != nil {
			return err
		}
	}
	if b.parent != nil {
		var lv any
		pc := b.parent.cursor
		if r, err := pc.CurrentRow(); err == nil {
			lv = b.parent.linkValue(pc, r, b.link)
		}
		c, err := b.fetchCursor(ctx, lv)
		if err != nil {
			return err
		}
		b.childCursors = map[any]*cursor.Cursor{cacheKey(lv): c}
		b.cursor = c
	} else if err := b.cursor.Requery(ctx); err != nil {
		return err
	}
	b.resetChildren()
	if err := b.syncChildren(ctx); err != nil {
		return err
	}
	if h, ok := b.cfg.Hooks.(AfterRequerier); ok {
		h.AfterRequery(b)
	}
	b.log.Debug("requeried", slog.Int("rows", b.cursor.RowCount()))
	b.emit(EventValueRefresh, "")
	b.emit(EventRowNumberChanged, "")
	return nil
}
