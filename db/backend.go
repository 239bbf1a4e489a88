package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dabodev/dabo/sqlbuilder"
)

// NoEscape is a value that QuoteValue passes through verbatim, for embedding
// SQL fragments or placeholders in generated statements.
type NoEscape string

// Backend isolates the quirks of a database dialect.
type Backend interface {
	sqlbuilder.Dialect

	Name() string
	DriverName() string
	DSN(ci ConnectInfo) (string, error)

	// QuoteValue returns v as SQL literal. With FieldUnknown the type is
	// derived from the Go value.
	QuoteValue(v any, ft FieldType) string
	FormatDate(t time.Time) string
	FormatDateTime(t time.Time) string

	// Transaction control on the pinned session of c.
	Begin(ctx context.Context, c *Connection) error
	Commit(ctx context.Context, c *Connection) error
	Rollback(ctx context.Context, c *Connection) error

	// InsertKeySQL returns an insert statement that returns the generated key
	// pk as a result row, or the empty string if the key is read with
	// LastInsertID after a plain insert.
	InsertKeySQL(table string, fields []string, pk string) string
	// LastInsertID returns the key generated for an insert into table. It
	// returns nil if keys are pre-generated.
	LastInsertID(ctx context.Context, c *Connection, res sql.Result, table, pk string) (any, error)
	// PreGeneratePK returns a key to use for an insert into table, or nil if
	// the database assigns keys during insert.
	PreGeneratePK(ctx context.Context, c *Connection, table, pk string) (any, error)

	ListTables(ctx context.Context, c *Connection, includeSystem bool) ([]string, error)
	Describe(ctx context.Context, c *Connection, table string) ([]FieldDesc, error)
	FieldType(dbType string) FieldType

	// ClassifyError returns ErrConnectionLost, ErrNoAccess or ErrQuery.
	ClassifyError(err error) error
	KeepaliveQuery() string
}

var backends = map[string]func() Backend{
	"sqlite":   func() Backend { return newSQLite() },
	"mysql":    func() Backend { return newMySQL() },
	"postgres": func() Backend { return newPostgres() },
	"mssql":    func() Backend { return newMSSQL() },
	"firebird": func() Backend { return newFirebird() },
}

var aliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgresql": "postgres",
	"pgsql":      "postgres",
	"sqlserver":  "mssql",
	"mariadb":    "mysql",
}

// BackendNames returns the names of the available backends, sorted.
func BackendNames() []string {
	var l []string
	for name := range backends {
		l = append(l, name)
	}
	sort.Strings(l)
	return l
}

// NewBackend returns the backend for dbtype.
func NewBackend(dbtype string) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(dbtype))
	if a, ok := aliases[name]; ok {
		name = a
	}
	if fn, ok := backends[name]; ok {
		return fn(), nil
	}
	switch name {
	case "odbc", "web":
		return nil, fmt.Errorf("%w: %s backend", ErrFeatureNotImplemented, name)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownBackend, dbtype)
}

// common implements the parts of Backend shared by most dialects. Backends
// embed it and override what differs.
type common struct {
	name       string
	driverName string
	quoteOpen  string
	quoteClose string
	placement  sqlbuilder.LimitPlacement
	trueLit    string
	falseLit   string
	bytesLit   func(b []byte) string
	escape     func(s string) string
	datetime   string // Layout for date-time literals.
}

func (b *common) Name() string { return b.name }
func (b *common) DriverName() string { return b.driverName }

func (b *common) LimitPlacement() sqlbuilder.LimitPlacement { return b.placement }

func (b *common) Placeholder(n int) string { return "?" }

// QuoteIdentifier quotes each segment of a dotted name. Segments that are
// already quoted, and "*", are left as is.
func (b *common) QuoteIdentifier(name string) string {
	segs := strings.Split(name, ".")
	for i, s := range segs {
		if s == "*" || strings.HasPrefix(s, b.quoteOpen) {
			continue
		}
		s = strings.ReplaceAll(s, b.quoteClose, b.quoteClose+b.quoteClose)
		segs[i] = b.quoteOpen + s + b.quoteClose
	}
	return strings.Join(segs, ".")
}

func (b *common) escapeString(s string) string {
	if b.escape != nil {
		return b.escape(s)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (b *common) FormatDate(t time.Time) string {
	return "'" + t.Format("2006-01-02") + "'"
}

func (b *common) FormatDateTime(t time.Time) string {
	layout := b.datetime
	if layout == "" {
		layout = "2006-01-02 15:04:05.999999"
	}
	return "'" + t.Format(layout) + "'"
}

func (b *common) QuoteValue(v any, ft FieldType) string {
	if ft != FieldUnknown {
		if cv, err := ft.Convert(v); err == nil {
			v = cv
		}
	}
	switch x := v.(type) {
	case nil:
		return "NULL"
	case NoEscape:
		return string(x)
	case string:
		return b.escapeString(x)
	case []byte:
		if b.bytesLit != nil {
			return b.bytesLit(x)
		}
		return "X'" + hex.EncodeToString(x) + "'"
	case bool:
		if x {
			return b.trueLit
		}
		return b.falseLit
	case time.Time:
		if ft == FieldDate {
			return b.FormatDate(x)
		}
		return b.FormatDateTime(x)
	case decimal.Decimal:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case fmt.Stringer:
		return b.escapeString(x.String())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.String:
		return b.escapeString(rv.String())
	}
	return b.escapeString(fmt.Sprint(v))
}

func (b *common) Begin(ctx context.Context, c *Connection) error { return c.beginTx(ctx) }
func (b *common) Commit(ctx context.Context, c *Connection) error { return c.commitTx() }
func (b *common) Rollback(ctx context.Context, c *Connection) error { return c.rollbackTx() }
func (b *common) FieldType(dbType string) FieldType { return TypeFromDBName(dbType) }
func (b *common) KeepaliveQuery() string { return "select 1" }
func (b *common) DSN(ci ConnectInfo) (string, error) { return ci.DSN, nil }

func (b *common) PreGeneratePK(ctx context.Context, c *Connection, table, pk string) (any, error) {
	return nil, nil
}

func (b *common) InsertKeySQL(table string, fields []string, pk string) string { return "" }

func (b *common) LastInsertID(ctx context.Context, c *Connection, res sql.Result, table, pk string) (any, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: last insert id: %v", ErrFeatureNotSupported, err)
	}
	return id, nil
}

// ClassifyError recognizes connection loss that is not dialect specific.
func (b *common) ClassifyError(err error) error {
	if isConnectionLost(err) {
		return ErrConnectionLost
	}
	return ErrQuery
}

func isConnectionLost(err error) bool {
	var neterr net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &neterr)
}

// queryStrings runs a query returning a single string column.
func queryStrings(ctx context.Context, c *Connection, query string, args ...any) ([]string, error) {
	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var l []string
	for _, r := range rows.Values {
		l = append(l, strings.TrimSpace(fmt.Sprint(asString(r[0]))))
	}
	return l, nil
}

// asString turns []byte values, as some drivers return for text, into strings.
func asString(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func asInt(v any) int {
	v, err := FieldInt.Convert(asString(v))
	if err != nil || v == nil {
		return 0
	}
	return int(v.(int64))
}
