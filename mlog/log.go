// Package mlog provides logging on top of log/slog with log levels configured
// per originating package.
//
// Each log level has a function to log with and without error. Variable data
// should be in attributes. Logging strings themselves should be constant, for
// easier log processing.
//
// The log levels can be configured per package, e.g. cursor, bizobj, db. The
// configuration is application-global, so each Log instance uses the same log
// levels.
//
// Print* should be used for lines that always should be printed, regardless of
// configured log levels. Useful for startup logging and subcommands.
package mlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var noctx = context.Background()

// Logfmt enables logfmt output instead of the human-oriented format.
var Logfmt bool

// Levels, in addition to the slog levels. Trace levels are below debug. Trace
// logs SQL statements, tracedata also logs statement parameters.
const (
	LevelPrint     slog.Level = 12
	LevelFatal     slog.Level = 10
	LevelError     slog.Level = 8
	LevelWarn      slog.Level = 4
	LevelInfo      slog.Level = 0
	LevelDebug     slog.Level = -4
	LevelTrace     slog.Level = -8
	LevelTraceauth slog.Level = -12
	LevelTracedata slog.Level = -16
)

var LevelStrings = map[slog.Level]string{
	LevelPrint:     "print",
	LevelFatal:     "fatal",
	LevelError:     "error",
	LevelWarn:      "warn",
	LevelInfo:      "info",
	LevelDebug:     "debug",
	LevelTrace:     "trace",
	LevelTraceauth: "traceauth",
	LevelTracedata: "tracedata",
}

var Levels = map[string]slog.Level{
	"print":     LevelPrint,
	"fatal":     LevelFatal,
	"error":     LevelError,
	"warn":      LevelWarn,
	"info":      LevelInfo,
	"debug":     LevelDebug,
	"trace":     LevelTrace,
	"traceauth": LevelTraceauth,
	"tracedata": LevelTracedata,
}

// Holds a map[string]slog.Level, mapping a package (attribute "pkg" in logs) to
// a log level. The empty string is the default/fallback log level.
var config atomic.Pointer[map[string]slog.Level]

func init() {
	SetConfig(map[string]slog.Level{"": LevelError})
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]slog.Level) {
	config.Store(&c)
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for
// logging.
var CidKey key = "cid"

// Log wraps an slog.Logger, providing convenience functions.
type Log struct {
	*slog.Logger
}

// New returns a Log that adds a "pkg" attribute. If logger is nil, a new
// Logger is created with a log handler that writes to stderr, with levels as
// set with SetConfig.
func New(pkg string, logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.New(&handler{out: os.Stderr})
	}
	return Log{logger}.WithPkg(pkg)
}

// WithCid adds attribute "cid".
func (l Log) WithCid(cid int64) Log {
	return l.With(slog.Int64("cid", cid))
}

// WithContext adds cid from context, if present. Contexts are passed between
// packages to carry a "cid" for an operation.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	cid := cidv.(int64)
	return l.WithCid(cid)
}

// WithPkg adds attribute "pkg", which is used to find the log level to use.
func (l Log) WithPkg(pkg string) Log {
	return l.With(slog.String("pkg", pkg))
}

// With adds attributes to each logged line.
func (l Log) With(attrs ...slog.Attr) Log {
	if len(attrs) == 0 {
		return l
	}
	return Log{slog.New(l.Logger.Handler().WithAttrs(attrs))}
}

// Check logs an error if err is not nil. Intended for logging errors returned
// from Close calls, which are often not otherwise handled.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

func errAttrs(err error, attrs []slog.Attr) []slog.Attr {
	if err == nil {
		return attrs
	}
	return append([]slog.Attr{slog.Any("err", err)}, attrs...)
}

func (l Log) Fatal(msg string, attrs ...slog.Attr) { l.Fatalx(msg, nil, attrs...) }
func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelFatal, msg, errAttrs(err, attrs)...)
	os.Exit(1)
}

func (l Log) Print(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelPrint, msg, attrs...)
}
func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelPrint, msg, errAttrs(err, attrs)...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelError, msg, attrs...)
}
func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelError, msg, errAttrs(err, attrs)...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelInfo, msg, attrs...)
}
func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelInfo, msg, errAttrs(err, attrs)...)
}

func (l Log) Debug(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelDebug, msg, attrs...)
}
func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.Logger.LogAttrs(noctx, LevelDebug, msg, errAttrs(err, attrs)...)
}

// Trace logs at one of the trace levels. If the level is not enabled but
// plain trace is, the message is logged with its attributes elided, so the
// presence of hidden data remains visible.
func (l Log) Trace(level slog.Level, msg string, attrs ...slog.Attr) {
	if l.Logger.Enabled(noctx, level) {
		l.Logger.LogAttrs(noctx, level, msg, attrs...)
	} else if level < LevelTrace && l.Logger.Enabled(noctx, LevelTrace) {
		l.Logger.LogAttrs(noctx, LevelTrace, msg, slog.String("elided", LevelStrings[level]))
	}
}

type handler struct {
	out   io.Writer
	pkgs  []string
	attrs []slog.Attr
}

var outMutex sync.Mutex

func (h *handler) level() slog.Level {
	cl := *config.Load()
	for i := len(h.pkgs) - 1; i >= 0; i-- {
		if lvl, ok := cl[h.pkgs[i]]; ok {
			return lvl
		}
	}
	if lvl, ok := cl[""]; ok {
		return lvl
	}
	return LevelError
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= LevelFatal || level >= h.level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.pkgs = append([]string{}, h.pkgs...)
	nh.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if a.Key == "pkg" {
			nh.pkgs = append(nh.pkgs, a.Value.String())
			continue
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []slog.Attr
	if len(h.pkgs) > 0 {
		attrs = append(attrs, slog.String("pkg", h.pkgs[len(h.pkgs)-1]))
	}
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	lvl, ok := LevelStrings[r.Level]
	if !ok {
		lvl = r.Level.String()
	}

	// Build a buffer so we do a single write. Otherwise partial log lines may
	// interleave.
	b := &bytes.Buffer{}
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", lvl, logfmtValue(r.Message))
		for _, a := range attrs {
			fmt.Fprintf(b, " %s=%s", a.Key, logfmtValue(stringValue(a.Key == "cid", false, a.Value.Resolve().Any())))
		}
	} else {
		fmt.Fprintf(b, "%s: %s", lvl, logfmtValue(r.Message))
		if len(attrs) > 0 {
			b.WriteString(" (")
			for i, a := range attrs {
				if i > 0 {
					b.WriteString("; ")
				}
				fmt.Fprintf(b, "%s: %s", a.Key, logfmtValue(stringValue(a.Key == "cid", false, a.Value.Resolve().Any())))
			}
			b.WriteString(")")
		}
	}
	b.WriteString("\n")

	outMutex.Lock()
	defer outMutex.Unlock()
	_, err := h.out.Write(b.Bytes())
	return err
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(iscid, nested bool, v any) string {
	if v == nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		if iscid {
			return fmt.Sprintf("%x", v)
		}
		return strconv.FormatInt(r, 10)
	case bool:
		if r {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(r, 'g', -1, 64)
	case []byte:
		return base64.RawURLEncoding.EncodeToString(r)
	case time.Duration:
		return r.String()
	case time.Time:
		return r.Format(time.RFC3339Nano)
	case error:
		return r.Error()
	case []string:
		if nested && len(r) == 0 {
			return ""
		}
		return "[" + strings.Join(r, ",") + "]"
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return ""
	}
	if r, ok := v.(fmt.Stringer); ok {
		return r.String()
	}
	if rv.Kind() == reflect.Ptr {
		return stringValue(iscid, nested, rv.Elem().Interface())
	}
	if rv.Kind() == reflect.Slice {
		n := rv.Len()
		if nested && n == 0 {
			return ""
		}
		b := &strings.Builder{}
		b.WriteString("[")
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(";")
			}
			b.WriteString(stringValue(false, true, rv.Index(i).Interface()))
		}
		b.WriteString("]")
		return b.String()
	}
	return fmt.Sprintf("%v", v)
}

type errWriter struct {
	log   Log
	level slog.Level
	msg   string
}

func (w *errWriter) Write(buf []byte) (int, error) {
	err := fmt.Errorf("%s", strings.TrimSpace(string(buf)))
	w.log.Logger.LogAttrs(noctx, w.level, w.msg, slog.Any("err", err))
	return len(buf), nil
}

// ErrWriter returns a writer that turns each write into a logging call on "log"
// with given "level" and "msg" and the written content as an error. Can be
// used to give database drivers that want a standard library logger a way to
// report through mlog.
func ErrWriter(log Log, level slog.Level, msg string) io.Writer {
	return &errWriter{log, level, msg}
}
