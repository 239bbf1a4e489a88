package mlog

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	defer SetConfig(map[string]slog.Level{"": LevelError})

	var buf bytes.Buffer
	log := New("cursor", slog.New(&handler{out: &buf}))

	SetConfig(map[string]slog.Level{"": LevelError, "cursor": LevelDebug})
	log.Debug("moved", slog.Int("row", 2))
	log.Trace(LevelTrace, "sql", slog.String("stmt", "select 1"))
	if s := buf.String(); s != "debug: moved (pkg: cursor; row: 2)\n" {
		t.Fatalf("got %q", s)
	}

	buf.Reset()
	SetConfig(map[string]slog.Level{"": LevelError, "cursor": LevelTrace})
	log.Trace(LevelTracedata, "sql args", slog.Any("args", []any{1, "a"}))
	if s := buf.String(); !strings.Contains(s, "elided: tracedata") {
		t.Fatalf("expected elided tracedata, got %q", s)
	}

	buf.Reset()
	other := New("prefs", slog.New(&handler{out: &buf}))
	other.Info("not logged")
	other.Errorx("failed", errors.New("boom"))
	if s := buf.String(); s != "error: failed (pkg: prefs; err: boom)\n" {
		t.Fatalf("got %q", s)
	}

	buf.Reset()
	other.Print("always")
	if buf.Len() == 0 {
		t.Fatalf("print not logged")
	}
}

func TestCid(t *testing.T) {
	var buf bytes.Buffer
	Logfmt = true
	defer func() { Logfmt = false }()
	log := New("db", slog.New(&handler{out: &buf})).WithCid(255)
	log.Print("hi there")
	if s := buf.String(); s != `l=print m="hi there" pkg=db cid=ff`+"\n" {
		t.Fatalf("got %q", s)
	}
}
