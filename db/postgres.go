package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"
)

type postgresBackend struct {
	common
}

func newPostgres() *postgresBackend {
	return &postgresBackend{common{
		name:       "postgres",
		driverName: "postgres",
		quoteOpen:  `"`,
		quoteClose: `"`,
		trueLit:    "true",
		falseLit:   "false",
		bytesLit: func(b []byte) string {
			return `'\x` + hex.EncodeToString(b) + `'::bytea`
		},
		datetime: "2006-01-02 15:04:05.999999-07:00",
	}}
}

func (b *postgresBackend) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (b *postgresBackend) DSN(ci ConnectInfo) (string, error) {
	if ci.DSN != "" {
		return ci.DSN, nil
	}
	password, err := ci.PlainPassword()
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   ci.Address(5432),
		Path:   "/" + ci.Database,
	}
	if ci.User != "" {
		u.User = url.UserPassword(ci.User, password)
	}
	return u.String(), nil
}

// PreGeneratePK takes the next value of the sequence behind a serial or
// identity key.
func (b *postgresBackend) PreGeneratePK(ctx context.Context, c *Connection, table, pk string) (any, error) {
	rows, err := c.Query(ctx, "select nextval(pg_get_serial_sequence($1, $2))", table, pk)
	if err != nil {
		return nil, err
	}
	if len(rows.Values) == 0 || rows.Values[0][0] == nil {
		return nil, nil
	}
	return FieldInt.Convert(rows.Values[0][0])
}

func (b *postgresBackend) LastInsertID(ctx context.Context, c *Connection, res sql.Result, table, pk string) (any, error) {
	rows, err := c.Query(ctx, "select lastval()")
	if err != nil {
		return nil, err
	}
	if len(rows.Values) == 0 {
		return nil, nil
	}
	return FieldInt.Convert(rows.Values[0][0])
}

func (b *postgresBackend) ListTables(ctx context.Context, c *Connection, includeSystem bool) ([]string, error) {
	if includeSystem {
		return queryStrings(ctx, c, "select table_schema || '.' || table_name from information_schema.tables order by 1")
	}
	return queryStrings(ctx, c, `select table_name from information_schema.tables
		where table_schema not in ('pg_catalog', 'information_schema') and table_type = 'BASE TABLE'
		order by table_name`)
}

func (b *postgresBackend) Describe(ctx context.Context, c *Connection, table string) ([]FieldDesc, error) {
	pks, err := queryStrings(ctx, c, `select a.attname from pg_index i
		join pg_attribute a on a.attrelid = i.indrelid and a.attnum = any(i.indkey)
		where i.indrelid = $1::regclass and i.indisprimary`, table)
	if err != nil {
		return nil, err
	}
	q := `select column_name, data_type, is_nullable, character_maximum_length, column_default, is_identity, is_generated
		from information_schema.columns
		where table_name = $1
		order by ordinal_position`
	rows, err := c.Query(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var l []FieldDesc
	for _, r := range rows.Values {
		name := fmt.Sprint(asString(r[0]))
		dbtype := strings.ToUpper(fmt.Sprint(asString(r[1])))
		def := fmt.Sprint(asString(r[4]))
		l = append(l, FieldDesc{
			Name:          name,
			DBType:        dbtype,
			Type:          b.FieldType(dbtype),
			Nullable:      fmt.Sprint(asString(r[2])) == "YES",
			Width:         asInt(r[3]),
			PK:            contains(pks, name),
			AutoIncrement: strings.HasPrefix(def, "nextval(") || fmt.Sprint(asString(r[5])) == "YES",
			NonUpdatable:  fmt.Sprint(asString(r[6])) == "ALWAYS",
		})
	}
	if len(l) == 0 {
		return nil, &QueryError{ErrQuery, q, fmt.Errorf("no such table %q", table)}
	}
	return l, nil
}

func (b *postgresBackend) ClassifyError(err error) error {
	var perr *pq.Error
	if errors.As(err, &perr) {
		switch {
		case perr.Code == "42501" || perr.Code.Class() == "28":
			return ErrNoAccess
		case perr.Code.Class() == "08" || perr.Code.Class() == "57":
			return ErrConnectionLost
		}
		return ErrQuery
	}
	return b.common.ClassifyError(err)
}

func contains(l []string, s string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}
