package sqlbuilder

import (
	"fmt"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

type testDialect struct {
	placement LimitPlacement
	dollar    bool
}

func (d testDialect) QuoteIdentifier(s string) string {
	if strings.HasPrefix(s, `"`) {
		return s
	}
	return `"` + s + `"`
}

func (d testDialect) Placeholder(n int) string {
	if d.dollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d testDialect) LimitPlacement() LimitPlacement { return d.placement }

func example() Select {
	return Select{}.
		WithField("name").
		WithField("age").
		WithField(" name ").
		WithFrom("customers").
		WithJoin("orders", "orders.cid = customers.id", "").
		WithWhere("age > 18", "").
		WithWhere("name like 'a%'", "OR").
		WithWhere("age  > 18", "and").
		WithOrderBy("name").
		WithLimit(10)
}

func TestCompose(t *testing.T) {
	c := qt.New(t)

	s := example()
	c.Assert(Compose(testDialect{}, s), qt.Equals, "select name,\n\tage\n  from customers\n  inner join orders on orders.cid = customers.id\n where age > 18\n\tor name like 'a%'\n order by name\n limit 10")

	c.Assert(Compose(testDialect{placement: LimitTop}, s), qt.Equals, "select top 10 name,\n\tage\n  from customers\n  inner join orders on orders.cid = customers.id\n where age > 18\n\tor name like 'a%'\n order by name")
	c.Assert(Compose(testDialect{placement: LimitFirst}, s.WithLimit(0)), qt.Equals, "select name,\n\tage\n  from customers\n  inner join orders on orders.cid = customers.id\n where age > 18\n\tor name like 'a%'\n order by name")
	c.Assert(strings.HasSuffix(Compose(testDialect{placement: LimitOffsetFetch}, s), "\n fetch first 10 rows only"), qt.IsTrue)

	cs := s.Clear(ClauseJoin).Clear(ClauseOrderBy).Clear(ClauseLimit).WithChildFilter("cid = ?")
	c.Assert(Compose(testDialect{}, cs), qt.Equals, "select name,\n\tage\n  from customers\n where (age > 18 or name like 'a%')\n\tand cid = ?")

	c.Assert(Compose(nil, Select{}.WithFrom("t")), qt.Equals, "select *\n  from t")
}

func TestImmutable(t *testing.T) {
	c := qt.New(t)

	s := Select{}.WithField("a").WithFrom("t")
	s2 := s.WithField("b").WithoutField("a").WithWhere("x = 1", "")
	c.Assert(s.Fields(), qt.DeepEquals, []string{"a"})
	c.Assert(s.Where(), qt.HasLen, 0)
	c.Assert(s2.Fields(), qt.DeepEquals, []string{"b"})

	c.Assert(s.Equal(Select{}.WithField("a").WithField("a").WithFrom("t")), qt.IsTrue)
	tb, ok := Select{}.WithFrom("customers c").Table()
	c.Assert(ok, qt.IsTrue)
	c.Assert(tb, qt.Equals, "customers")
}

func TestJoin(t *testing.T) {
	c := qt.New(t)

	s := Select{}.WithFrom("a").WithJoin("b", "b.id = a.bid", "LEFT OUTER").WithJoin("b", "b.id = a.bid", "inner").WithJoin("c", "c.id = a.cid", "Right Join")
	c.Assert(s.Joins(), qt.DeepEquals, []Join{
		{"left outer", "b", "b.id = a.bid"},
		{"right", "c", "c.id = a.cid"},
	})
	c.Assert(s.WithoutJoin("b").Joins(), qt.HasLen, 1)
}

func TestEncloseNames(t *testing.T) {
	c := qt.New(t)

	d := testDialect{}
	c.Assert(EncloseNames(d, "customers.name as n, count(*) desc"), qt.Equals, `"customers"."name" as "n", count(*) desc`)
	c.Assert(EncloseNames(d, `"already".x = 'lit' and y > 10`), qt.Equals, `"already"."x" = 'lit' and "y" > 10`)
	c.Assert(EncloseNames(d, "t.*"), qt.Equals, `"t".*`)
	c.Assert(EncloseNames(d, "a = $1 or b = @p2 or c = :c or d = ?"), qt.Equals, `"a" = $1 or "b" = @p2 or "c" = :c or "d" = ?`)
}

func TestDML(t *testing.T) {
	c := qt.New(t)

	d := testDialect{dollar: true}
	c.Assert(Insert(d, "customers", []string{"name", "age"}), qt.Equals, `insert into "customers" ("name", "age") values ($1, $2)`)
	c.Assert(Insert(d, "customers", nil), qt.Equals, `insert into "customers" default values`)
	c.Assert(InsertReturning(d, "customers", []string{"name"}, "id"), qt.Equals, `insert into "customers" ("name") values ($1) returning "id"`)
	c.Assert(InsertOutput(d, "customers", []string{"name", "age"}, "id"), qt.Equals, `insert into "customers" ("name", "age") output inserted."id" values ($1, $2)`)
	c.Assert(InsertOutput(d, "customers", nil, "id"), qt.Equals, `insert into "customers" output inserted."id" default values`)
	c.Assert(Update(d, "customers", []string{"name"}, []string{"id"}), qt.Equals, `update "customers" set "name" = $1 where "id" = $2`)
	c.Assert(Delete(d, "lines", []string{"order_id", "line"}), qt.Equals, `delete from "lines" where "order_id" = $1 and "line" = $2`)
}
