package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/dabodev/dabo/mlog"
)

func init() {
	// The driver logs unexpected packets and connection problems.
	w := mlog.ErrWriter(mlog.New("db", nil), mlog.LevelInfo, "mysql driver")
	mysql.SetLogger(log.New(w, "", 0))
}

type mysqlBackend struct {
	common
}

func newMySQL() *mysqlBackend {
	return &mysqlBackend{common{
		name:       "mysql",
		driverName: "mysql",
		quoteOpen:  "`",
		quoteClose: "`",
		trueLit:    "1",
		falseLit:   "0",
		escape: func(s string) string {
			s = strings.ReplaceAll(s, `\`, `\\`)
			return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
		},
	}}
}

func (b *mysqlBackend) DSN(ci ConnectInfo) (string, error) {
	if ci.DSN != "" {
		return ci.DSN, nil
	}
	password, err := ci.PlainPassword()
	if err != nil {
		return "", err
	}
	cfg := mysql.NewConfig()
	cfg.User = ci.User
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = ci.Address(3306)
	cfg.DBName = ci.Database
	cfg.ParseTime = true
	// Report matched instead of changed rows, so an update that does not
	// change values is not mistaken for a missing row.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func (b *mysqlBackend) ListTables(ctx context.Context, c *Connection, includeSystem bool) ([]string, error) {
	if includeSystem {
		return queryStrings(ctx, c, "select concat(table_schema, '.', table_name) from information_schema.tables order by table_schema, table_name")
	}
	return queryStrings(ctx, c, "select table_name from information_schema.tables where table_schema = database() and table_type = 'BASE TABLE' order by table_name")
}

func (b *mysqlBackend) Describe(ctx context.Context, c *Connection, table string) ([]FieldDesc, error) {
	q := `select column_name, column_type, is_nullable, character_maximum_length, column_key, extra
		from information_schema.columns
		where table_schema = database() and table_name = ?
		order by ordinal_position`
	rows, err := c.Query(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var l []FieldDesc
	for _, r := range rows.Values {
		dbtype := strings.ToUpper(fmt.Sprint(asString(r[1])))
		extra := strings.ToLower(fmt.Sprint(asString(r[5])))
		l = append(l, FieldDesc{
			Name:          fmt.Sprint(asString(r[0])),
			DBType:        dbtype,
			Type:          b.FieldType(dbtype),
			Nullable:      fmt.Sprint(asString(r[2])) == "YES",
			Width:         asInt(r[3]),
			PK:            fmt.Sprint(asString(r[4])) == "PRI",
			AutoIncrement: strings.Contains(extra, "auto_increment"),
			NonUpdatable:  strings.Contains(extra, "generated"),
		})
	}
	if len(l) == 0 {
		return nil, &QueryError{ErrQuery, q, fmt.Errorf("no such table %q", table)}
	}
	return l, nil
}

// FieldType treats tinyint(1) as boolean, as mysql has no real boolean type.
func (b *mysqlBackend) FieldType(dbType string) FieldType {
	if strings.EqualFold(strings.ReplaceAll(dbType, " ", ""), "TINYINT(1)") {
		return FieldBool
	}
	return TypeFromDBName(dbType)
}

func (b *mysqlBackend) ClassifyError(err error) error {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		switch merr.Number {
		case 1044, 1045, 1142, 1143, 1227, 1370:
			return ErrNoAccess
		case 1053, 1077, 1152, 1153, 1158, 1159, 1160, 1161, 2006, 2013:
			return ErrConnectionLost
		}
		return ErrQuery
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return ErrConnectionLost
	}
	return b.common.ClassifyError(err)
}
