package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/nakagami/firebirdsql"

	"github.com/dabodev/dabo/sqlbuilder"
)

type firebirdBackend struct {
	common
}

func newFirebird() *firebirdBackend {
	return &firebirdBackend{common{
		name:       "firebird",
		driverName: "firebirdsql",
		quoteOpen:  `"`,
		quoteClose: `"`,
		placement:  sqlbuilder.LimitFirst,
		trueLit:    "true",
		falseLit:   "false",
		datetime:   "2006-01-02 15:04:05.9999",
	}}
}

func (b *firebirdBackend) KeepaliveQuery() string { return "select 1 from rdb$database" }

func (b *firebirdBackend) DSN(ci ConnectInfo) (string, error) {
	if ci.DSN != "" {
		return ci.DSN, nil
	}
	password, err := ci.PlainPassword()
	if err != nil {
		return "", err
	}
	// user:password@host:port/path/to/database
	return url.UserPassword(ci.User, password).String() + "@" + ci.Address(3050) + "/" + strings.TrimPrefix(ci.Database, "/"), nil
}

// PreGeneratePK takes the next value from the generator named gen_<table>_id,
// the usual convention for firebird auto increment keys. Tables without such
// a generator get nil.
func (b *firebirdBackend) PreGeneratePK(ctx context.Context, c *Connection, table, pk string) (any, error) {
	gen := strings.ToUpper(fmt.Sprintf("gen_%s_%s", table, pk))
	names, err := queryStrings(ctx, c, "select rdb$generator_name from rdb$generators where rdb$generator_name = ?", gen)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	rows, err := c.Query(ctx, fmt.Sprintf("select gen_id(%s, 1) from rdb$database", b.QuoteIdentifier(gen)))
	if err != nil {
		return nil, err
	}
	return FieldInt.Convert(rows.Values[0][0])
}

func (b *firebirdBackend) ListTables(ctx context.Context, c *Connection, includeSystem bool) ([]string, error) {
	q := "select rdb$relation_name from rdb$relations where rdb$view_blr is null"
	if !includeSystem {
		q += " and (rdb$system_flag is null or rdb$system_flag = 0)"
	}
	return queryStrings(ctx, c, q+" order by rdb$relation_name")
}

var firebirdTypes = map[int]string{
	7:   "SMALLINT",
	8:   "INTEGER",
	10:  "FLOAT",
	12:  "DATE",
	13:  "TIME",
	14:  "CHAR",
	16:  "BIGINT",
	23:  "BOOLEAN",
	27:  "DOUBLE PRECISION",
	35:  "TIMESTAMP",
	37:  "VARCHAR",
	261: "BLOB",
}

func (b *firebirdBackend) Describe(ctx context.Context, c *Connection, table string) ([]FieldDesc, error) {
	table = strings.ToUpper(table)
	pks, err := queryStrings(ctx, c, `select s.rdb$field_name
		from rdb$relation_constraints rc
		join rdb$index_segments s on s.rdb$index_name = rc.rdb$index_name
		where rc.rdb$constraint_type = 'PRIMARY KEY' and rc.rdb$relation_name = ?`, table)
	if err != nil {
		return nil, err
	}
	q := `select rf.rdb$field_name, f.rdb$field_type, f.rdb$field_sub_type, rf.rdb$null_flag, f.rdb$character_length, f.rdb$computed_source, f.rdb$field_scale
		from rdb$relation_fields rf
		join rdb$fields f on f.rdb$field_name = rf.rdb$field_source
		where rf.rdb$relation_name = ?
		order by rf.rdb$field_position`
	rows, err := c.Query(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var l []FieldDesc
	for _, r := range rows.Values {
		name := strings.TrimSpace(fmt.Sprint(asString(r[0])))
		dbtype := firebirdTypes[asInt(r[1])]
		switch {
		case dbtype == "BLOB" && asInt(r[2]) == 1:
			dbtype = "BLOB SUB_TYPE TEXT"
		case asInt(r[6]) < 0:
			dbtype = "NUMERIC"
		}
		l = append(l, FieldDesc{
			Name:         name,
			DBType:       dbtype,
			Type:         b.FieldType(dbtype),
			Nullable:     asInt(r[3]) == 0,
			Width:        asInt(r[4]),
			PK:           contains(pks, name),
			NonUpdatable: r[5] != nil,
		})
	}
	if len(l) == 0 {
		return nil, &QueryError{ErrQuery, q, fmt.Errorf("no such table %q", table)}
	}
	return l, nil
}
