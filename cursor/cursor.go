// Package cursor implements an in-memory record buffer on top of a database
// connection.
//
// A Cursor holds the rows of a select statement, tracks changes made to them,
// and writes the changes back with insert, update and delete statements. The
// select statement is assembled from an immutable sqlbuilder.Select, or set
// literally.
//
// Changes are tracked per row with mementos: the original value of a field is
// saved on its first change. A row is dirty if it has mementos, is new, or is
// deleted. Cancel restores the original values.
//
// A Cursor is not safe for concurrent use.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dabodev/dabo/db"
	"github.com/dabodev/dabo/mlog"
	"github.com/dabodev/dabo/sqlbuilder"
)

var (
	ErrNoRecords     = errors.New("cursor: no records")
	ErrBOF           = errors.New("cursor: beginning of file")
	ErrEOF           = errors.New("cursor: end of file")
	ErrFieldNotFound = errors.New("cursor: field not found")
	ErrMissingPK     = errors.New("cursor: missing primary key")
	ErrNoTable       = errors.New("cursor: no table for changes")
)

// Number of alternate row orders kept for sorts and filters.
const viewCacheSize = 8

// Config holds the settings of a cursor that do not change during its life.
type Config struct {
	// Table that changes are written to. If empty, the first table of the
	// select's from clause is used.
	Table string

	// KeyField is the primary key field, needed for updates and deletes.
	KeyField string

	// AutoPopulatePK indicates the key is assigned by the database or
	// pre-generated, instead of set by the application. New rows get a TempKey
	// until saved.
	AutoPopulatePK bool

	// Defaults for fields of new rows. Values of type func() any are called
	// when the row is created, after the plain values are set.
	Defaults map[string]any

	// AutoQuoteNames makes the Add and Remove operators quote the names in
	// their expressions with the quoting of the backend.
	AutoQuoteNames bool
}

// Cursor is a buffer of rows from a select statement.
type Cursor struct {
	Conn *db.Connection

	cfg Config
	log mlog.Log

	sel         sqlbuilder.Select
	userSQL     string
	params      []any
	childParams []any

	fields     []db.FieldDesc
	fieldIndex map[string]int
	// Columns of the table by lower-case name, for finding fields that are
	// never written. Nil until fetched.
	tableCols map[string]db.Column

	all     []*Row // All rows in natural order: as read, followed by new rows.
	rows    []*Row // Visible rows, in current sort order, after filters.
	deleted []*Row // Rows deleted but not yet saved.
	cur     int

	nextID   int64
	lastSQL  string
	rowCount int

	sort    sortSpec
	filters []Filter
	views   *lru.Cache[string, []*Row]
}

// New returns a cursor that runs its statements on conn.
func New(conn *db.Connection, cfg Config, elog *slog.Logger) (*Cursor, error) {
	views, err := lru.New[string, []*Row](viewCacheSize)
	if err != nil {
		return nil, fmt.Errorf("new view cache: %v", err)
	}
	c := &Cursor{
		Conn:  conn,
		cfg:   cfg,
		log:   mlog.New("cursor", elog),
		cur:   -1,
		views: views,
	}
	if cfg.Table != "" {
		c.log = c.log.With(slog.String("table", cfg.Table))
	}
	return c, nil
}

// Table returns the table changes are written to.
func (c *Cursor) Table() string {
	if c.cfg.Table != "" {
		return c.cfg.Table
	}
	t, _ := c.sel.Table()
	return t
}

func (c *Cursor) KeyField() string { return c.cfg.KeyField }
func (c *Cursor) AutoPopulatePK() bool { return c.cfg.AutoPopulatePK }

// SetDefaults replaces the default values for new rows.
func (c *Cursor) SetDefaults(defaults map[string]any) {
	c.cfg.Defaults = defaults
}

// Select returns the current clauses.
func (c *Cursor) Select() sqlbuilder.Select { return c.sel }

// SetSelect replaces the clauses.
func (c *Cursor) SetSelect(sel sqlbuilder.Select) { c.sel = sel }

// SetSQL sets a literal select statement that is used instead of the clauses.
// An empty sql switches back to the clauses.
func (c *Cursor) SetSQL(sql string) { c.userSQL = strings.TrimSpace(sql) }

// SetParams sets the parameters for placeholders in the clauses or SQL.
func (c *Cursor) SetParams(params ...any) { c.params = params }

// enclose quotes the names in expr if AutoQuoteNames is set.
func (c *Cursor) enclose(expr string) string {
	if !c.cfg.AutoQuoteNames {
		return expr
	}
	return sqlbuilder.EncloseNames(c.Conn.Backend, expr)
}

func (c *Cursor) AddField(expr string) { c.sel = c.sel.WithField(c.enclose(expr)) }
func (c *Cursor) RemoveField(expr string) { c.sel = c.sel.WithoutField(c.enclose(expr)) }
func (c *Cursor) AddFrom(table string) { c.sel = c.sel.WithFrom(c.enclose(table)) }
func (c *Cursor) RemoveFrom(table string) { c.sel = c.sel.WithoutFrom(c.enclose(table)) }

// AddJoin adds a join of table on the condition, joinType defaults to inner.
func (c *Cursor) AddJoin(table, on, joinType string) {
	c.sel = c.sel.WithJoin(c.enclose(table), c.enclose(on), joinType)
}
func (c *Cursor) RemoveJoin(table string) { c.sel = c.sel.WithoutJoin(c.enclose(table)) }

// AddWhere adds a condition, joined to previous conditions with conj ("and" if
// empty, or "or").
func (c *Cursor) AddWhere(expr, conj string) { c.sel = c.sel.WithWhere(c.enclose(expr), conj) }
func (c *Cursor) RemoveWhere(expr string) { c.sel = c.sel.WithoutWhere(c.enclose(expr)) }
func (c *Cursor) AddGroupBy(expr string) { c.sel = c.sel.WithGroupBy(c.enclose(expr)) }
func (c *Cursor) RemoveGroupBy(expr string) { c.sel = c.sel.WithoutGroupBy(c.enclose(expr)) }
func (c *Cursor) AddOrderBy(expr string) { c.sel = c.sel.WithOrderBy(c.enclose(expr)) }
func (c *Cursor) RemoveOrderBy(expr string) { c.sel = c.sel.WithoutOrderBy(c.enclose(expr)) }
func (c *Cursor) SetLimit(n int) { c.sel = c.sel.WithLimit(n) }

// SetChildFilter restricts the rows to those with field equal to value. It is
// used to link the rows of a child cursor to the current row of its parent.
// An empty field removes the filter.
func (c *Cursor) SetChildFilter(field string, value any) {
	if field == "" {
		c.sel = c.sel.WithChildFilter("")
		c.childParams = nil
		return
	}
	b := c.Conn.Backend
	c.sel = c.sel.WithChildFilter(fmt.Sprintf("%s = %s", b.QuoteIdentifier(field), b.Placeholder(len(c.params)+1)))
	c.childParams = []any{value}
}

// SQL returns the select statement that Requery would execute.
func (c *Cursor) SQL() string {
	if c.userSQL != "" {
		return c.userSQL
	}
	return sqlbuilder.Compose(c.Conn.Backend, c.sel)
}

func (c *Cursor) queryParams() []any {
	if c.userSQL != "" {
		return c.params
	}
	return append(append([]any{}, c.params...), c.childParams...)
}

// LastSQL returns the last statement executed by Requery or Execute.
func (c *Cursor) LastSQL() string { return c.lastSQL }

// Fields returns the descriptions of the fields of the rows.
func (c *Cursor) Fields() []db.FieldDesc {
	return append([]db.FieldDesc(nil), c.fields...)
}

// Field returns the description of a field.
func (c *Cursor) Field(name string) (db.FieldDesc, error) {
	i, err := c.fieldPos(name)
	if err != nil {
		return db.FieldDesc{}, err
	}
	return c.fields[i], nil
}

// HasField returns whether name is a field of the rows.
func (c *Cursor) HasField(name string) bool {
	_, err := c.fieldPos(name)
	return err == nil
}

func (c *Cursor) fieldPos(name string) (int, error) {
	if i, ok := c.fieldIndex[name]; ok {
		return i, nil
	}
	if i, ok := c.fieldIndex[strings.ToLower(name)]; ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrFieldNotFound, name)
}

// Execute runs a statement. If it returns columns, the rows replace the
// buffer and the field descriptions. Otherwise the buffer is unchanged.
func (c *Cursor) Execute(ctx context.Context, sql string, params ...any) error {
	c.lastSQL = sql
	rows, err := c.Conn.Query(ctx, sql, params...)
	if err != nil {
		return err
	}
	if len(rows.Columns) > 0 {
		c.load(rows)
	}
	return nil
}

// Requery runs the select statement and replaces the buffer. Pending changes
// are discarded, filters and sorts removed. The current row is the first row.
func (c *Cursor) Requery(ctx context.Context) error {
	q := c.SQL()
	if q == "" {
		return fmt.Errorf("%w: no select statement", db.ErrQuery)
	}
	c.lastSQL = q
	rows, err := c.Conn.Query(ctx, q, c.queryParams()...)
	if err != nil {
		return err
	}
	c.load(rows)
	if err := c.inferNonUpdatable(ctx); err != nil {
		return err
	}
	c.log.Debug("requeried", slog.Int("rows", c.rowCount))
	return nil
}

// describe makes sure field descriptions are known, by running the select
// without returning rows.
func (c *Cursor) describe(ctx context.Context) error {
	if c.fields != nil {
		return nil
	}
	var q string
	var params []any
	if c.userSQL != "" {
		q = fmt.Sprintf("select * from (%s) dabo_t where 1 = 0", c.userSQL)
		params = c.params
	} else {
		q = sqlbuilder.Compose(c.Conn.Backend, c.sel.WithWhere("1 = 0", "and"))
		params = c.queryParams()
	}
	rows, err := c.Conn.Query(ctx, q, params...)
	if err != nil {
		return err
	}
	c.setFields(rows.Columns)
	return c.inferNonUpdatable(ctx)
}

func (c *Cursor) setFields(cols []db.Column) {
	c.fields = make([]db.FieldDesc, len(cols))
	c.fieldIndex = make(map[string]int, 2*len(cols))
	for i, col := range cols {
		c.fields[i] = db.FieldDesc{
			Name:     col.Name,
			DBType:   col.DBType,
			Type:     c.Conn.Backend.FieldType(col.DBType),
			Nullable: col.Nullable,
			Width:    int(col.Length),
			PK:       c.cfg.KeyField != "" && strings.EqualFold(col.Name, c.cfg.KeyField),
		}
		c.fields[i].AutoIncrement = c.fields[i].PK && c.cfg.AutoPopulatePK
		if _, ok := c.fieldIndex[col.Name]; !ok {
			c.fieldIndex[col.Name] = i
		}
		if _, ok := c.fieldIndex[strings.ToLower(col.Name)]; !ok {
			c.fieldIndex[strings.ToLower(col.Name)] = i
		}
	}
	c.applyNonUpdatable()
}

func (c *Cursor) applyNonUpdatable() {
	if c.tableCols == nil {
		return
	}
	var l []string
	for i := range c.fields {
		f := &c.fields[i]
		tc, ok := c.tableCols[strings.ToLower(f.Name)]
		f.NonUpdatable = !ok || c.Conn.Backend.FieldType(tc.DBType) != f.Type || int(tc.Length) != f.Width
		if f.NonUpdatable {
			l = append(l, f.Name)
		}
	}
	if len(l) > 0 {
		c.log.Debug("non-updatable fields", slog.Any("fields", l))
	}
}

// load replaces the buffer with rows.
func (c *Cursor) load(rows *db.Rows) {
	c.setFields(rows.Columns)
	c.all = make([]*Row, 0, len(rows.Values))
	for _, vals := range rows.Values {
		for i, v := range vals {
			if cv, err := c.fields[i].Type.Convert(v); err == nil {
				vals[i] = cv
			}
		}
		c.all = append(c.all, c.newRow(vals))
	}
	c.rows = append([]*Row(nil), c.all...)
	c.deleted = nil
	c.rowCount = len(c.all)
	c.cur = 0
	if len(c.rows) == 0 {
		c.cur = -1
	}
	c.sort = sortSpec{}
	c.filters = nil
	c.views.Purge()
}

// inferNonUpdatable fetches the fields of the table, once per cursor. Fields
// of the select that are missing from the table, or have a different type or
// width, are computed or come from other tables, and are never written.
func (c *Cursor) inferNonUpdatable(ctx context.Context) error {
	table := c.Table()
	if c.tableCols != nil || table == "" {
		return nil
	}
	q := fmt.Sprintf("select * from %s where 1 = 0", c.Conn.Backend.QuoteIdentifier(table))
	rows, err := c.Conn.Query(ctx, q)
	if err != nil {
		return err
	}
	c.tableCols = map[string]db.Column{}
	for _, col := range rows.Columns {
		c.tableCols[strings.ToLower(col.Name)] = col
	}
	c.applyNonUpdatable()
	return nil
}
