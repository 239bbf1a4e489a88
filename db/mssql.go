package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/dabodev/dabo/sqlbuilder"
)

type mssqlBackend struct {
	common
}

func newMSSQL() *mssqlBackend {
	return &mssqlBackend{common{
		name:       "mssql",
		driverName: "sqlserver",
		quoteOpen:  "[",
		quoteClose: "]",
		placement:  sqlbuilder.LimitTop,
		trueLit:    "1",
		falseLit:   "0",
		bytesLit: func(b []byte) string {
			return "0x" + hex.EncodeToString(b)
		},
		escape: func(s string) string {
			return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
		},
		datetime: "2006-01-02T15:04:05.999",
	}}
}

func (b *mssqlBackend) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (b *mssqlBackend) DSN(ci ConnectInfo) (string, error) {
	if ci.DSN != "" {
		return ci.DSN, nil
	}
	password, err := ci.PlainPassword()
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "sqlserver",
		Host:     ci.Address(1433),
		RawQuery: url.Values{"database": []string{ci.Database}}.Encode(),
	}
	if ci.User != "" {
		u.User = url.UserPassword(ci.User, password)
	}
	return u.String(), nil
}

// InsertKeySQL returns an insert with an output clause. Parameterized
// statements run in their own batch through sp_executesql, so a later
// scope_identity() does not see the identity.
func (b *mssqlBackend) InsertKeySQL(table string, fields []string, pk string) string {
	return sqlbuilder.InsertOutput(b, table, fields, pk)
}

func (b *mssqlBackend) LastInsertID(ctx context.Context, c *Connection, res sql.Result, table, pk string) (any, error) {
	return nil, fmt.Errorf("%w: last insert id on mssql, use an insert with output clause", ErrFeatureNotSupported)
}

func (b *mssqlBackend) ListTables(ctx context.Context, c *Connection, includeSystem bool) ([]string, error) {
	if includeSystem {
		return queryStrings(ctx, c, "select name from sys.objects where type in ('U', 'S') order by name")
	}
	return queryStrings(ctx, c, "select table_name from information_schema.tables where table_type = 'BASE TABLE' order by table_name")
}

func (b *mssqlBackend) Describe(ctx context.Context, c *Connection, table string) ([]FieldDesc, error) {
	pks, err := queryStrings(ctx, c, `select k.column_name
		from information_schema.table_constraints t
		join information_schema.key_column_usage k on k.constraint_name = t.constraint_name and k.table_name = t.table_name
		where t.constraint_type = 'PRIMARY KEY' and t.table_name = @p1`, table)
	if err != nil {
		return nil, err
	}
	q := `select column_name, data_type, is_nullable, character_maximum_length,
			columnproperty(object_id(table_name), column_name, 'IsIdentity'),
			columnproperty(object_id(table_name), column_name, 'IsComputed')
		from information_schema.columns
		where table_name = @p1
		order by ordinal_position`
	rows, err := c.Query(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var l []FieldDesc
	for _, r := range rows.Values {
		name := fmt.Sprint(asString(r[0]))
		dbtype := strings.ToUpper(fmt.Sprint(asString(r[1])))
		l = append(l, FieldDesc{
			Name:          name,
			DBType:        dbtype,
			Type:          b.FieldType(dbtype),
			Nullable:      fmt.Sprint(asString(r[2])) == "YES",
			Width:         asInt(r[3]),
			PK:            contains(pks, name),
			AutoIncrement: asInt(r[4]) == 1,
			// Timestamp/rowversion columns are set by the server.
			NonUpdatable: asInt(r[5]) == 1 || dbtype == "TIMESTAMP" || dbtype == "ROWVERSION",
		})
	}
	if len(l) == 0 {
		return nil, &QueryError{ErrQuery, q, fmt.Errorf("no such table %q", table)}
	}
	return l, nil
}

func (b *mssqlBackend) FieldType(dbType string) FieldType {
	switch strings.ToUpper(dbType) {
	case "TIMESTAMP", "ROWVERSION":
		return FieldBytes
	case "UNIQUEIDENTIFIER":
		return FieldString
	}
	return TypeFromDBName(dbType)
}

func (b *mssqlBackend) ClassifyError(err error) error {
	var merr mssql.Error
	if errors.As(err, &merr) {
		switch merr.Number {
		case 229, 230, 262, 297, 300, 916, 18456:
			return ErrNoAccess
		case 233, 10053, 10054, 10060:
			return ErrConnectionLost
		}
		return ErrQuery
	}
	return b.common.ClassifyError(err)
}
