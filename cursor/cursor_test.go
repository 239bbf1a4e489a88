package cursor

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dabodev/dabo/db"
	"github.com/dabodev/dabo/sqlbuilder"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

// setup returns a connection to a fresh database with a person table holding
// the named rows, and a slice that collects executed statements.
func setup(t *testing.T, names ...string) (*db.Connection, *[]string) {
	t.Helper()
	ci := db.ConnectInfo{Name: "test", DBType: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}
	conn, err := db.Open(ctxbg, ci, nil)
	tcheck(t, err, "open")
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(ctxbg, "create table person (id integer primary key, name varchar(40) not null, amount decimal(10,2))")
	tcheck(t, err, "create table")
	for _, name := range names {
		_, err := conn.Exec(ctxbg, "insert into person (name) values (?)", name)
		tcheck(t, err, "insert")
	}

	stmts := &[]string{}
	conn.Observe(func(stmt string) { *stmts = append(*stmts, stmt) })
	return conn, stmts
}

func newPersonCursor(t *testing.T, conn *db.Connection) *Cursor {
	t.Helper()
	c, err := New(conn, Config{Table: "person", KeyField: "id", AutoPopulatePK: true}, nil)
	tcheck(t, err, "new cursor")
	c.SetSelect(sqlbuilder.Select{}.WithField("id").WithField("name").WithField("amount").WithFrom("person"))
	return c
}

func names(t *testing.T, c *Cursor) []string {
	t.Helper()
	var l []string
	for i := 0; i < c.RowCount(); i++ {
		v, err := c.ValueAt(i, "name")
		tcheck(t, err, "value")
		s, _ := v.(string)
		l = append(l, s)
	}
	return l
}

func TestCancel(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, c.RowCount(), 2)
	tcompare(t, c.RowNumber(), 0)

	tcheck(t, c.SetValueAt(0, "name", "X"), "set value")
	tcompare(t, c.IsRowChanged(), true)
	tcompare(t, c.ChangedRows(true), []int{0})
	r, err := c.Row(0)
	tcheck(t, err, "row")
	tcompare(t, r.Memento(), map[string]any{"name": "alpha"})

	tcheck(t, c.Cancel(false), "cancel")
	v, err := c.Value("name")
	tcheck(t, err, "value")
	tcompare(t, v, "alpha")
	tcompare(t, c.IsRowChanged(), false)
	tcompare(t, c.IsChanged(), false)

	// Setting the original value again removes the memento.
	tcheck(t, c.SetValue("name", "Y"), "set value")
	tcheck(t, c.SetValue("name", "alpha"), "set value")
	tcompare(t, c.IsChanged(), false)

	// Cancel all removes new rows and brings back deleted rows.
	_, err = c.New(ctxbg)
	tcheck(t, err, "new")
	tcheck(t, c.MoveTo(0), "move")
	tcheck(t, c.Delete(), "delete")
	tcompare(t, names(t, c), []string{"bravo", ""})
	tcheck(t, c.Cancel(true), "cancel all")
	tcompare(t, names(t, c), []string{"alpha", "bravo"})
	tcompare(t, c.IsChanged(), false)

	_, err = c.Value("nosuchfield")
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("got %v, expected ErrFieldNotFound", err)
	}
}

func TestNewSave(t *testing.T) {
	conn, stmts := setup(t)
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, c.RowCount(), 0)

	*stmts = nil
	r, err := c.New(ctxbg)
	tcheck(t, err, "new")
	key, err := c.Value("id")
	tcheck(t, err, "value")
	if _, ok := key.(TempKey); !ok {
		t.Fatalf("new row has key %v, expected TempKey", key)
	}
	tcheck(t, c.SetValue("name", "alpha"), "set value")
	tcheck(t, c.Save(ctxbg, false), "save")
	tcompare(t, *stmts, []string{
		"begin",
		`insert into "person" ("name") values (?)`,
		"commit",
	})

	key, err = c.Value("id")
	tcheck(t, err, "value")
	if id, ok := key.(int64); !ok || id <= 0 {
		t.Fatalf("got key %#v, expected positive integer", key)
	}
	tcompare(t, r.IsNew(), false)
	tcompare(t, r.IsDirty(), false)

	// Saving without changes does nothing.
	*stmts = nil
	tcheck(t, c.Save(ctxbg, true), "save")
	tcompare(t, len(*stmts), 0)

	// Update only writes changed fields, by key.
	tcheck(t, c.SetValue("name", "beta"), "set value")
	tcheck(t, c.Save(ctxbg, true), "save")
	tcompare(t, (*stmts)[1], `update "person" set "name" = ? where "id" = ?`)

	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, names(t, c), []string{"beta"})
}

// returningBackend reads generated keys from the insert statement.
type returningBackend struct {
	db.Backend
}

func (b returningBackend) InsertKeySQL(table string, fields []string, pk string) string {
	return sqlbuilder.InsertReturning(b, table, fields, pk)
}

// noKeyBackend does not report generated keys.
type noKeyBackend struct {
	db.Backend
}

func (b noKeyBackend) LastInsertID(ctx context.Context, c *db.Connection, res sql.Result, table, pk string) (any, error) {
	return nil, nil
}

func TestInsertKey(t *testing.T) {
	conn, stmts := setup(t, "alpha")
	conn.Backend = returningBackend{conn.Backend}
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")

	*stmts = nil
	_, err := c.New(ctxbg)
	tcheck(t, err, "new")
	tcheck(t, c.SetValue("name", "bravo"), "set value")
	tcheck(t, c.Save(ctxbg, false), "save")
	tcompare(t, *stmts, []string{
		"begin",
		`insert into "person" ("name") values (?) returning "id"`,
		"commit",
	})
	key, err := c.Value("id")
	tcheck(t, err, "value")
	tcompare(t, key, int64(2))

	// A missing generated key fails the save, the row stays new.
	sqlite, err := db.NewBackend("sqlite")
	tcheck(t, err, "sqlite backend")
	conn.Backend = noKeyBackend{sqlite}
	r, err := c.New(ctxbg)
	tcheck(t, err, "new")
	tcheck(t, c.SetValue("name", "charlie"), "set value")
	if err := c.Save(ctxbg, false); !errors.Is(err, ErrMissingPK) {
		t.Fatalf("save without generated key, got %v, expected ErrMissingPK", err)
	}
	tcompare(t, r.IsNew(), true)
	key, err = c.Value("id")
	tcheck(t, err, "value")
	if _, ok := key.(TempKey); !ok {
		t.Fatalf("got key %#v after failed save, expected TempKey", key)
	}
	tcompare(t, (*stmts)[len(*stmts)-1], "rollback")
}

func TestDefaults(t *testing.T) {
	conn, _ := setup(t)
	c := newPersonCursor(t, conn)
	n := 0
	c.SetDefaults(map[string]any{
		"name":   "unnamed",
		"amount": func() any { n++; return "1.50" },
	})
	// Fields are fetched by New when the cursor was never requeried.
	_, err := c.New(ctxbg)
	tcheck(t, err, "new")
	tcompare(t, n, 1)
	v, err := c.Value("name")
	tcheck(t, err, "value")
	tcompare(t, v, "unnamed")
	v, err = c.Value("amount")
	tcheck(t, err, "value")
	if d, ok := v.(decimal.Decimal); !ok || !d.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("got amount %#v, expected decimal 1.5", v)
	}
}

func TestDeleteSave(t *testing.T) {
	conn, stmts := setup(t, "alpha", "bravo", "charlie")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")

	tcheck(t, c.MoveTo(1), "move")
	tcheck(t, c.Delete(), "delete")
	tcompare(t, c.RowCount(), 2)
	tcompare(t, c.IsChanged(), true)
	tcompare(t, c.DataDiff(true), []Change{{Kind: ChangeDeleted, Key: int64(2)}})

	*stmts = nil
	tcheck(t, c.Save(ctxbg, false), "save")
	tcompare(t, *stmts, []string{"begin", `delete from "person" where "id" = ?`, "commit"})
	tcompare(t, c.IsChanged(), false)

	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, names(t, c), []string{"alpha", "charlie"})

	tcheck(t, c.DeleteAll(), "delete all")
	tcompare(t, c.RowCount(), 0)
	tcompare(t, c.RowNumber(), -1)
	tcheck(t, c.Save(ctxbg, true), "save")
	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, c.RowCount(), 0)
	if err := c.Delete(); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("got %v, expected ErrNoRecords", err)
	}
}

func TestSaveFailureRestores(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")

	// Row removed behind the cursor's back, its update affects no rows.
	_, err := conn.Exec(ctxbg, "delete from person where id = 2")
	tcheck(t, err, "delete")

	tcheck(t, c.SetValueAt(0, "name", "a2"), "set value")
	tcheck(t, c.SetValueAt(1, "name", "b2"), "set value")
	_, err = c.New(ctxbg)
	tcheck(t, err, "new")
	tcheck(t, c.SetValue("name", "c"), "set value")

	err = c.Save(ctxbg, true)
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("got %v, expected ErrNoRecords", err)
	}
	tcompare(t, c.ChangedRows(true), []int{0, 1, 2})
	r, err := c.Row(0)
	tcheck(t, err, "row")
	tcompare(t, r.Memento(), map[string]any{"name": "alpha"})
	tcompare(t, names(t, c), []string{"a2", "b2", "c"})
	r, err = c.Row(2)
	tcheck(t, err, "row")
	tcompare(t, r.IsNew(), true)
	tcompare(t, conn.InTransaction(), false)

	// First update was rolled back.
	rows, err := conn.Query(ctxbg, "select name from person")
	tcheck(t, err, "query")
	tcompare(t, rows.Values, [][]any{{"alpha"}})
}

func TestSortSeek(t *testing.T) {
	conn, _ := setup(t, "Charlie", "alpha", "Bravo")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")

	tcheck(t, c.MoveTo(2), "move")
	tcheck(t, c.Sort("name", "ASC", false), "sort")
	tcompare(t, names(t, c), []string{"alpha", "Bravo", "Charlie"})
	// Current row follows the sort.
	tcompare(t, c.RowNumber(), 1)
	field, dir := c.SortField()
	tcompare(t, []string{field, dir}, []string{"name", "ASC"})

	i, err := c.Seek("b", "name", true, false)
	tcheck(t, err, "seek")
	tcompare(t, i, 1)
	i, err = c.Seek("bravo", "name", false, false)
	tcheck(t, err, "seek")
	tcompare(t, i, 1)
	i, err = c.Seek("bravo", "name", false, true)
	tcheck(t, err, "seek")
	tcompare(t, i, -1)
	i, err = c.Seek("A", "name", true, true)
	tcheck(t, err, "seek")
	tcompare(t, i, -1)

	tcheck(t, c.Sort("name", "ASC", true), "sort")
	tcompare(t, names(t, c), []string{"Bravo", "Charlie", "alpha"})
	tcheck(t, c.Sort("name", "desc", false), "sort")
	tcompare(t, names(t, c), []string{"Charlie", "Bravo", "alpha"})
	tcheck(t, c.Sort("", "", false), "sort")
	tcompare(t, names(t, c), []string{"Charlie", "alpha", "Bravo"})

	// Nil sorts low.
	tcheck(t, c.SetValueAt(0, "amount", 3), "set value")
	tcheck(t, c.SetValueAt(2, "amount", 1), "set value")
	tcheck(t, c.Sort("amount", "ASC", false), "sort")
	tcompare(t, names(t, c), []string{"alpha", "Bravo", "Charlie"})

	if err := c.Sort("name", "sideways", false); err == nil {
		t.Fatalf("sort with bad direction succeeded")
	}
}

func TestSeekDuplicates(t *testing.T) {
	conn, _ := setup(t, "charlie", "bravo", "alpha", "Bravo")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")
	tcheck(t, c.Sort("name", "ASC", false), "sort")
	tcompare(t, names(t, c), []string{"alpha", "bravo", "Bravo", "charlie"})
	cur := c.RowNumber()

	tests := []struct {
		value         string
		near          bool
		caseSensitive bool
		exp           int
	}{
		{"bravo", false, false, 1},
		{"bravo", true, false, 2},
		{"BRAVO", true, false, 2},
		{"b", true, false, 2},
		{"bz", true, false, 2},
		{"c", true, false, 3},
		{"zulu", true, false, 3},
		{"aaa", true, false, -1},
		{"Bravo", false, true, 2},
		{"bravo", false, true, 1},
		{"delta", false, false, -1},
	}
	for _, tc := range tests {
		i, err := c.Seek(tc.value, "name", tc.near, tc.caseSensitive)
		tcheck(t, err, "seek")
		if i != tc.exp {
			t.Fatalf("seek %q, near %v, case sensitive %v: got %d, expected %d", tc.value, tc.near, tc.caseSensitive, i, tc.exp)
		}
	}
	// Seek does not move.
	tcompare(t, c.RowNumber(), cur)
}

func TestCancelNonUpdatable(t *testing.T) {
	tests := []struct {
		all   bool
		value any
	}{
		{false, "X"},
		{true, "X"},
		{false, nil},
	}
	for _, tc := range tests {
		conn, _ := setup(t, "alpha", "bravo")
		c := newPersonCursor(t, conn)
		c.AddField("upper(name) as uname")
		tcheck(t, c.Requery(ctxbg), "requery")

		tcheck(t, c.SetValue("uname", tc.value), "set value")
		tcheck(t, c.SetValue("uname", "Y"), "set value")
		v, err := c.Value("uname")
		tcheck(t, err, "value")
		tcompare(t, v, "Y")
		tcompare(t, c.IsRowChanged(), false)
		tcompare(t, len(c.DataDiff(true)), 0)

		tcheck(t, c.Cancel(tc.all), "cancel")
		v, err = c.Value("uname")
		tcheck(t, err, "value")
		tcompare(t, v, "ALPHA")
	}

	// A save of the row makes the value the one to return to.
	conn, _ := setup(t, "alpha")
	c := newPersonCursor(t, conn)
	c.AddField("upper(name) as uname")
	tcheck(t, c.Requery(ctxbg), "requery")
	tcheck(t, c.SetValue("uname", "A2"), "set value")
	tcheck(t, c.SetValue("name", "a2"), "set value")
	tcheck(t, c.Save(ctxbg, false), "save")
	tcheck(t, c.Cancel(false), "cancel")
	v, err := c.Value("uname")
	tcheck(t, err, "value")
	tcompare(t, v, "A2")
}

func TestFilter(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo", "charlie", "albert")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")

	tcheck(t, c.Filter("name", OpStartsWith, "AL", false), "filter")
	tcompare(t, names(t, c), []string{"alpha", "albert"})
	tcheck(t, c.Filter("name", OpNe, "alpha", true), "filter")
	tcompare(t, names(t, c), []string{"albert"})
	tcompare(t, len(c.Filters()), 2)

	c.RemoveFilter()
	tcompare(t, names(t, c), []string{"alpha", "albert"})

	// New rows are shown regardless of filters.
	_, err := c.New(ctxbg)
	tcheck(t, err, "new")
	tcheck(t, c.SetValue("name", "zulu"), "set value")
	tcompare(t, c.RowCount(), 3)

	c.RemoveFilters()
	tcompare(t, names(t, c), []string{"alpha", "bravo", "charlie", "albert", "zulu"})

	tcheck(t, c.Filter("id", OpGe, "3", false), "filter")
	tcompare(t, names(t, c), []string{"charlie", "albert", "zulu"})
	c.RemoveFilters()
	tcheck(t, c.Filter("name", OpContains, "AR", false), "filter")
	tcompare(t, names(t, c), []string{"charlie", "zulu"})

	if err := c.Filter("name", FilterOp("like"), "x", false); err == nil {
		t.Fatalf("filter with bad operator succeeded")
	}
}

func TestNavigation(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo", "charlie")
	c := newPersonCursor(t, conn)

	if err := c.First(); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("got %v, expected ErrNoRecords", err)
	}
	tcheck(t, c.Requery(ctxbg), "requery")

	tcheck(t, c.First(), "first")
	if err := c.Prior(); !errors.Is(err, ErrBOF) {
		t.Fatalf("got %v, expected ErrBOF", err)
	}
	tcheck(t, c.Next(), "next")
	tcompare(t, c.RowNumber(), 1)
	tcheck(t, c.Last(), "last")
	if err := c.Next(); !errors.Is(err, ErrEOF) {
		t.Fatalf("got %v, expected ErrEOF", err)
	}
	if err := c.MoveTo(3); !errors.Is(err, ErrEOF) {
		t.Fatalf("got %v, expected ErrEOF", err)
	}
	tcheck(t, c.MoveToPK(2), "move to key")
	tcompare(t, c.RowNumber(), 1)
	tcompare(t, c.Key(), int64(2))
	if err := c.MoveToPK(10); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("got %v, expected ErrNoRecords", err)
	}
}

func TestNonUpdatable(t *testing.T) {
	conn, stmts := setup(t, "alpha")
	c := newPersonCursor(t, conn)
	c.AddField("upper(name) as uname")
	tcheck(t, c.Requery(ctxbg), "requery")

	f, err := c.Field("uname")
	tcheck(t, err, "field")
	tcompare(t, f.NonUpdatable, true)
	f, err = c.Field("name")
	tcheck(t, err, "field")
	tcompare(t, f.NonUpdatable, false)
	f, err = c.Field("id")
	tcheck(t, err, "field")
	tcompare(t, f.PK, true)

	tcheck(t, c.SetValue("uname", "x"), "set value")
	tcompare(t, c.IsRowChanged(), false)
	tcheck(t, c.SetValue("name", "beta"), "set value")

	*stmts = nil
	tcheck(t, c.Save(ctxbg, false), "save")
	tcompare(t, *stmts, []string{"begin", `update "person" set "name" = ? where "id" = ?`, "commit"})

	// Table description is fetched once.
	*stmts = nil
	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, len(*stmts), 1)
}

func TestAutoQuoteNames(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo")
	c, err := New(conn, Config{Table: "person", KeyField: "id", AutoQuoteNames: true}, nil)
	tcheck(t, err, "new cursor")
	c.AddField("id")
	c.AddField("name")
	c.AddField("upper(name) as uname")
	c.AddFrom("person")
	c.AddWhere("name <> ?", "")
	c.AddOrderBy("person.name desc")
	c.SetParams("alpha")
	sel := c.Select()
	tcompare(t, sel.Fields(), []string{`"id"`, `"name"`, `upper("name") as "uname"`})
	tcompare(t, sel.From(), []string{`"person"`})
	tcompare(t, sel.OrderBy(), []string{`"person"."name" desc`})

	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, names(t, c), []string{"bravo"})
	v, err := c.Value("uname")
	tcheck(t, err, "value")
	tcompare(t, v, "BRAVO")

	// Removal quotes the same way.
	c.RemoveField("upper(name) as uname")
	c.RemoveWhere("name <> ?")
	c.SetParams()
	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, names(t, c), []string{"bravo", "alpha"})
	tcompare(t, c.HasField("uname"), false)
}

func TestDataSetDiff(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo")
	c := newPersonCursor(t, conn)
	tcheck(t, c.Requery(ctxbg), "requery")

	ds, err := c.DataSet(1, 0, "name")
	tcheck(t, err, "dataset")
	tcompare(t, ds, []map[string]any{{"name": "bravo"}})
	ds, err = c.DataSet(0, 1)
	tcheck(t, err, "dataset")
	tcompare(t, ds, []map[string]any{{"id": int64(1), "name": "alpha", "amount": nil}})

	tcheck(t, c.SetValue("name", "a2"), "set value")
	tcompare(t, c.DataDiff(false), []Change{{Kind: ChangeModified, Key: int64(1), Values: map[string]any{"id": int64(1), "name": "a2"}}})

	_, err = c.New(ctxbg)
	tcheck(t, err, "new")
	diff := c.DataDiff(true)
	tcompare(t, len(diff), 2)
	tcompare(t, diff[1].Kind, ChangeNew)
	tcompare(t, IsUnsetKey(diff[1].Key), true)
	tcompare(t, diff[1].Values["name"], nil)
}

func TestExecute(t *testing.T) {
	conn, _ := setup(t, "alpha", "bravo")
	c := newPersonCursor(t, conn)

	tcheck(t, c.Execute(ctxbg, "select name from person where id = ?", 2), "execute")
	tcompare(t, names(t, c), []string{"bravo"})
	tcompare(t, c.LastSQL(), "select name from person where id = ?")

	// Statements without rows leave the buffer as is.
	tcheck(t, c.Execute(ctxbg, "update person set amount = 1"), "execute")
	tcompare(t, c.RowCount(), 1)

	c.SetSQL("select * from person order by name desc")
	tcheck(t, c.Requery(ctxbg), "requery")
	tcompare(t, names(t, c), []string{"bravo", "alpha"})
}

func TestTempKey(t *testing.T) {
	k1, k2 := NewTempKey(), NewTempKey()
	if k1 == k2 {
		t.Fatalf("temp keys not unique")
	}
	tcompare(t, IsUnsetKey(k1), true)
	tcompare(t, IsUnsetKey(nil), true)
	tcompare(t, IsUnsetKey(int64(0)), false)
}
