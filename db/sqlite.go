package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteBackend struct {
	common
}

func newSQLite() *sqliteBackend {
	return &sqliteBackend{common{
		name:       "sqlite",
		driverName: "sqlite",
		quoteOpen:  `"`,
		quoteClose: `"`,
		trueLit:    "1",
		falseLit:   "0",
		datetime:   "2006-01-02 15:04:05.999999999",
	}}
}

// DSN returns the database path. Foreign keys are enforced and a busy timeout
// is set so concurrent writers wait instead of failing immediately.
func (b *sqliteBackend) DSN(ci ConnectInfo) (string, error) {
	if ci.DSN != "" {
		return ci.DSN, nil
	}
	if ci.Database == "" {
		return "", fmt.Errorf("sqlite connection %q: missing database file", ci.Name)
	}
	sep := "?"
	if strings.Contains(ci.Database, "?") {
		sep = "&"
	}
	return ci.Database + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
}

func (b *sqliteBackend) ListTables(ctx context.Context, c *Connection, includeSystem bool) ([]string, error) {
	q := "select name from sqlite_master where type = 'table'"
	if !includeSystem {
		q += " and name not like 'sqlite\\_%' escape '\\'"
	}
	q += " order by name"
	return queryStrings(ctx, c, q)
}

func (b *sqliteBackend) Describe(ctx context.Context, c *Connection, table string) ([]FieldDesc, error) {
	rows, err := c.Query(ctx, fmt.Sprintf("pragma table_info(%s)", b.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	// Columns: cid, name, type, notnull, dflt_value, pk.
	var l []FieldDesc
	npk := 0
	for _, r := range rows.Values {
		dbtype := strings.ToUpper(fmt.Sprint(asString(r[2])))
		f := FieldDesc{
			Name:     fmt.Sprint(asString(r[1])),
			DBType:   dbtype,
			Type:     b.FieldType(dbtype),
			Nullable: asInt(r[3]) == 0,
			PK:       asInt(r[5]) > 0,
			Width:    typeWidth(dbtype),
		}
		if f.PK {
			npk++
		}
		l = append(l, f)
	}
	if len(l) == 0 {
		return nil, &QueryError{ErrQuery, "pragma table_info", fmt.Errorf("no such table %q", table)}
	}
	// A single "integer primary key" is an alias for the rowid.
	if npk == 1 {
		for i, f := range l {
			if f.PK && f.DBType == "INTEGER" {
				l[i].AutoIncrement = true
			}
		}
	}
	return l, nil
}

func (b *sqliteBackend) ClassifyError(err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_CANTOPEN:
			return ErrNoAccess
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR:
			return ErrConnectionLost
		}
		return ErrQuery
	}
	return b.common.ClassifyError(err)
}

// typeWidth returns the n of declared types like varchar(n).
func typeWidth(dbtype string) int {
	i := strings.IndexByte(dbtype, '(')
	if i < 0 {
		return 0
	}
	s := strings.TrimSuffix(dbtype[i+1:], ")")
	s, _, _ = strings.Cut(s, ",")
	return asInt(strings.TrimSpace(s))
}
