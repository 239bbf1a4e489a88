package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/dabodev/dabo/metrics"
	"github.com/dabodev/dabo/mlog"
)

var ErrClosed = errors.New("db: connection closed")

// Connection is a single database session. All statements, including those
// in transactions, go through one pinned driver connection.
//
// A Connection is used by one goroutine at a time, except for Close, which
// may be called concurrently to abort a blocking statement.
type Connection struct {
	Info    ConnectInfo
	Backend Backend

	// Token arbitrates which bizobj owns the transaction on this connection.
	Token TxToken

	log  mlog.Log
	db   *sql.DB
	conn *sql.Conn

	txMu sync.Mutex // Protects tx, Close may run concurrently.
	tx   *sql.Tx
	enc  encoding.Encoding // Nil for UTF-8.

	observer func(stmt string)

	// For the keepalive goroutine.
	busy        atomic.Int32
	inTx        atomic.Bool
	lastExecute atomic.Int64 // Unix nanoseconds.
	keepalives  atomic.Int64
	keepDone    chan struct{}

	closed      atomic.Bool
	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// Column is a column of a query result.
type Column struct {
	Name     string
	DBType   string
	Length   int64 // Zero if unknown or not applicable.
	Nullable bool
}

// Rows is a fully read query result.
type Rows struct {
	Columns []Column
	Values  [][]any
}

// Open connects to the database described by ci. If ci has a keepalive
// interval, a goroutine is started that keeps the session alive until Close.
func Open(ctx context.Context, ci ConnectInfo, elog *slog.Logger) (rc *Connection, rerr error) {
	log := mlog.New("db", elog).With(slog.String("connection", ci.Name))

	b, err := NewBackend(ci.DBType)
	if err != nil {
		return nil, err
	}
	dsn, err := b.DSN(ci)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", ci.Name, err)
	}

	var enc encoding.Encoding
	if ci.Encoding != "" && !strings.EqualFold(ci.Encoding, "utf-8") && !strings.EqualFold(ci.Encoding, "utf8") {
		enc, err = ianaindex.IANA.Encoding(ci.Encoding)
		if err == nil && enc == nil {
			err = errors.New("no implementation")
		}
		if err != nil {
			return nil, fmt.Errorf("connection %q: encoding %q: %v", ci.Name, ci.Encoding, err)
		}
	}

	sdb, err := sql.Open(b.DriverName(), dsn)
	if err != nil {
		return nil, &QueryError{b.ClassifyError(err), "", err}
	}
	defer func() {
		if rerr != nil {
			err := sdb.Close()
			log.Check(err, "closing database after failed open")
		}
	}()
	sconn, err := sdb.Conn(ctx)
	if err != nil {
		return nil, &QueryError{b.ClassifyError(err), "", err}
	}

	c := &Connection{
		Info:    ci,
		Backend: b,
		log:     log,
		db:      sdb,
		conn:    sconn,
		enc:     enc,
	}
	c.closeCtx, c.closeCancel = context.WithCancel(context.Background())
	c.lastExecute.Store(time.Now().UnixNano())
	if ci.KeepaliveInterval > 0 {
		c.keepDone = make(chan struct{})
		go c.keepalive(c.closeCtx, ci.KeepaliveInterval)
	}
	log.Debug("connection opened", slog.String("backend", b.Name()))
	return c, nil
}

// Observe registers fn to be called with every statement before it is
// executed, and with "begin", "commit" and "rollback" for transaction control.
// Keepalive queries are not observed.
func (c *Connection) Observe(fn func(stmt string)) {
	c.observer = fn
}

func (c *Connection) observe(stmt string) {
	if c.observer != nil {
		c.observer(stmt)
	}
}

// Close stops the keepalive, rolls back an open transaction and closes the
// session. Statements blocking in other goroutines fail with ErrConnectionLost.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.closeCancel()
	if c.keepDone != nil {
		<-c.keepDone
	}
	c.txMu.Lock()
	tx := c.tx
	c.tx = nil
	c.txMu.Unlock()
	if tx != nil {
		err := tx.Rollback()
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			c.log.Debugx("rolling back transaction on close", err)
		}
		c.inTx.Store(false)
	}
	err := c.conn.Close()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		c.log.Debugx("closing pinned connection", err)
	}
	err = c.db.Close()
	c.log.Debugx("connection closed", err)
	return err
}

// Closed returns whether Close was called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *Connection) querier() querier {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// opctx returns a context that is also canceled when the connection is closed.
func (c *Connection) opctx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.closeCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Connection) qerr(query string, err error) error {
	if err == nil {
		return nil
	}
	if c.closed.Load() {
		return &QueryError{ErrConnectionLost, query, err}
	}
	return queryError(c.Backend, query, err)
}

func statementKind(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))
	kind, _, _ := strings.Cut(s, " ")
	switch kind {
	case "select", "insert", "update", "delete":
		return kind
	}
	return "other"
}

func (c *Connection) start(ctx context.Context, query string, args []any) (time.Time, error) {
	if c.closed.Load() {
		return time.Time{}, &QueryError{ErrConnectionLost, query, ErrClosed}
	}
	c.observe(query)
	c.log.Trace(mlog.LevelTrace, "sql statement", slog.String("sql", query))
	if len(args) > 0 {
		c.log.Trace(mlog.LevelTracedata, "sql parameters", slog.Any("args", args))
	}
	c.busy.Add(1)
	return time.Now(), nil
}

func (c *Connection) finish(ctx context.Context, query string, err error, start time.Time) {
	c.lastExecute.Store(time.Now().UnixNano())
	c.busy.Add(-1)
	metrics.StatementObserve(ctx, c.log, c.Backend.Name(), statementKind(query), err, start)
}

// Exec executes a statement that returns no rows.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (result sql.Result, rerr error) {
	start, err := c.start(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer func() {
		c.finish(ctx, query, rerr, start)
	}()

	ctx, cancel := c.opctx(ctx)
	defer cancel()
	res, err := c.querier().ExecContext(ctx, query, c.encodeArgs(args)...)
	return res, c.qerr(query, err)
}

// Query executes a statement and reads all result rows.
func (c *Connection) Query(ctx context.Context, query string, args ...any) (result *Rows, rerr error) {
	start, err := c.start(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer func() {
		c.finish(ctx, query, rerr, start)
	}()

	ctx, cancel := c.opctx(ctx)
	defer cancel()
	rows, err := c.querier().QueryContext(ctx, query, c.encodeArgs(args)...)
	if err != nil {
		return nil, c.qerr(query, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, c.qerr(query, err)
	}
	r := &Rows{}
	text := make([]bool, len(types))
	for i, t := range types {
		col := Column{Name: t.Name(), DBType: strings.ToUpper(t.DatabaseTypeName())}
		if n, ok := t.Length(); ok && n < 1<<31 {
			col.Length = n
		}
		col.Nullable, _ = t.Nullable()
		switch TypeFromDBName(col.DBType) {
		case FieldString, FieldMemo:
			text[i] = true
		}
		r.Columns = append(r.Columns, col)
	}
	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.qerr(query, err)
		}
		for i, v := range vals {
			vals[i], err = c.decodeValue(v, text[i])
			if err != nil {
				return nil, c.qerr(query, err)
			}
		}
		r.Values = append(r.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, c.qerr(query, err)
	}
	return r, nil
}

func (c *Connection) encodeArgs(args []any) []any {
	if c.enc == nil {
		return args
	}
	l := make([]any, len(args))
	for i, a := range args {
		l[i] = a
		if s, ok := a.(string); ok {
			if es, err := c.enc.NewEncoder().String(s); err == nil {
				l[i] = es
			} else {
				c.log.Debugx("encoding parameter, passing as is", err)
			}
		}
	}
	return l
}

// decodeValue turns text returned as bytes into strings, converting from the
// connection encoding.
func (c *Connection) decodeValue(v any, text bool) (any, error) {
	switch x := v.(type) {
	case []byte:
		if !text {
			return append([]byte(nil), x...), nil
		}
		if c.enc == nil {
			return string(x), nil
		}
		return c.enc.NewDecoder().String(string(x))
	case string:
		if c.enc == nil {
			return x, nil
		}
		return c.enc.NewDecoder().String(x)
	}
	return v, nil
}

// Begin starts a transaction, a no-op for auto-commit connections.
func (c *Connection) Begin(ctx context.Context) error {
	if c.Info.AutoCommit {
		return nil
	}
	if c.closed.Load() {
		return &QueryError{ErrConnectionLost, "begin", ErrClosed}
	}
	c.observe("begin")
	c.log.Trace(mlog.LevelTrace, "sql statement", slog.String("sql", "begin"))
	return c.Backend.Begin(ctx, c)
}

// Commit commits the open transaction, a no-op for auto-commit connections.
func (c *Connection) Commit(ctx context.Context) error {
	if c.Info.AutoCommit {
		return nil
	}
	c.observe("commit")
	c.log.Trace(mlog.LevelTrace, "sql statement", slog.String("sql", "commit"))
	err := c.Backend.Commit(ctx, c)
	result := "commit"
	if err != nil {
		result = "error"
	}
	metrics.TransactionInc(c.Backend.Name(), result)
	return err
}

// Rollback aborts the open transaction, a no-op for auto-commit connections.
func (c *Connection) Rollback(ctx context.Context) error {
	if c.Info.AutoCommit {
		return nil
	}
	c.observe("rollback")
	c.log.Trace(mlog.LevelTrace, "sql statement", slog.String("sql", "rollback"))
	err := c.Backend.Rollback(ctx, c)
	result := "rollback"
	if err != nil {
		result = "error"
	}
	metrics.TransactionInc(c.Backend.Name(), result)
	return err
}

// InTransaction returns whether a transaction is open.
func (c *Connection) InTransaction() bool {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.tx != nil
}

// beginTx starts a database/sql transaction on the pinned connection. The
// transaction lives until commit, rollback or connection close.
func (c *Connection) beginTx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.tx != nil {
		return fmt.Errorf("%w: transaction already open", ErrQuery)
	}
	if c.closed.Load() {
		return &QueryError{ErrConnectionLost, "begin", ErrClosed}
	}
	tx, err := c.conn.BeginTx(c.closeCtx, nil)
	if err != nil {
		return c.qerr("begin", err)
	}
	c.tx = tx
	c.inTx.Store(true)
	return nil
}

// takeTx returns the open transaction, leaving none.
func (c *Connection) takeTx() *sql.Tx {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	tx := c.tx
	c.tx = nil
	return tx
}

func (c *Connection) commitTx() error {
	tx := c.takeTx()
	if tx == nil {
		if c.closed.Load() {
			return &QueryError{ErrConnectionLost, "commit", ErrClosed}
		}
		return fmt.Errorf("%w: no transaction open", ErrQuery)
	}
	err := tx.Commit()
	c.inTx.Store(false)
	c.lastExecute.Store(time.Now().UnixNano())
	return c.qerr("commit", err)
}

func (c *Connection) rollbackTx() error {
	tx := c.takeTx()
	if tx == nil {
		return nil
	}
	err := tx.Rollback()
	c.inTx.Store(false)
	c.lastExecute.Store(time.Now().UnixNano())
	if errors.Is(err, sql.ErrTxDone) {
		// Already rolled back, e.g. by a canceled context.
		return nil
	}
	return c.qerr("rollback", err)
}

// PreGeneratePK returns a key to set on a new row before inserting it, or nil
// if the key is assigned by the database. Connections with UUIDKeys get a
// time-ordered UUID.
func (c *Connection) PreGeneratePK(ctx context.Context, table, pk string) (any, error) {
	if c.Info.UUIDKeys {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generating uuid key: %v", err)
		}
		return id.String(), nil
	}
	return c.Backend.PreGeneratePK(ctx, c, table, pk)
}

// LastInsertID returns the key assigned by the database for the insert that
// resulted in res.
func (c *Connection) LastInsertID(ctx context.Context, res sql.Result, table, pk string) (any, error) {
	return c.Backend.LastInsertID(ctx, c, res, table, pk)
}

// ListTables returns the names of tables.
func (c *Connection) ListTables(ctx context.Context, includeSystem bool) ([]string, error) {
	return c.Backend.ListTables(ctx, c, includeSystem)
}

// Describe returns the fields of table.
func (c *Connection) Describe(ctx context.Context, table string) ([]FieldDesc, error) {
	return c.Backend.Describe(ctx, c, table)
}
