package prefs

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func open(t *testing.T, path string, opts Options) *Store {
	t.Helper()
	s, err := Open(ctxbg, nil, path, opts)
	tcheck(t, err, "open")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEncode(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 15, 500, time.FixedZone("", 3600))
	values := []any{
		nil,
		12,
		int64(1) << 40,
		1.25,
		"plain",
		"café",
		true,
		false,
		Date{2024, time.March, 1},
		decimal.RequireFromString("12.50"),
		[]any{1, "a", []any{true}},
		Tuple{2, nil},
		map[string]any{"w": 640, "h": 480, "title": "x"},
	}
	for _, v := range values {
		typ, s, err := Encode(v)
		tcheck(t, err, "encode")
		x, err := Decode(typ, s)
		tcheck(t, err, "decode")
		tcompare(t, x, v)
	}

	typ, s, err := Encode(when)
	tcheck(t, err, "encode datetime")
	tcompare(t, typ, TypeDatetime)
	x, err := Decode(typ, s)
	tcheck(t, err, "decode datetime")
	if !x.(time.Time).Equal(when) {
		t.Fatalf("got %v, expected %v", x, when)
	}

	typ, _, _ = Encode("café")
	tcompare(t, typ, TypeUnicode)
	typ, s, _ = Encode([]string{"a", "b"})
	tcompare(t, typ, TypeList)
	x, err = Decode(typ, s)
	tcheck(t, err, "decode list")
	tcompare(t, x, []any{"a", "b"})

	_, _, err = Encode(struct{}{})
	if !errors.Is(err, ErrType) {
		t.Fatalf("got %v, expected ErrType", err)
	}

	x, err = Decode(TypeLong, "12L")
	tcheck(t, err, "decode long with suffix")
	tcompare(t, x, int64(12))
	x, err = Decode(TypeBool, "True")
	tcheck(t, err, "decode bool")
	tcompare(t, x, true)
}

func TestNested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s := open(t, path, Options{})

	app := s.Node("app")
	app.SetAutoPersist(false)
	ui := app.Sub("ui")
	tcompare(t, ui.AutoPersist(), false)
	tcheck(t, ui.Set(ctxbg, "theme", "dark"), "set theme")
	tcheck(t, ui.Set(ctxbg, "size", 12), "set size")
	tcompare(t, s.Pending(), 2)
	tcheck(t, app.Persist(ctxbg), "persist")
	tcompare(t, s.Pending(), 0)
	tcheck(t, s.Close(), "close")

	s = open(t, path, Options{})
	v, err := s.Get(ctxbg, "app.ui.theme")
	tcheck(t, err, "get theme")
	tcompare(t, v, "dark")
	v, err = s.Get(ctxbg, "app.ui.size")
	tcheck(t, err, "get size")
	tcompare(t, v, 12)

	app = s.Node("app")
	tcheck(t, app.Delete(ctxbg, "ui", true), "delete nested")
	_, err = s.Get(ctxbg, "app.ui.theme")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, expected ErrNotFound", err)
	}
	_, err = s.Get(ctxbg, "app.ui.size")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, expected ErrNotFound", err)
	}
}

func TestAutoPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s := open(t, path, Options{})

	app := s.Node("app")
	win := app.Sub("window")
	tcheck(t, win.Set(ctxbg, "width", 640), "set width")
	tcompare(t, s.Pending(), 0)

	win.SetAutoPersist(false)
	tcheck(t, win.Set(ctxbg, "height", 480), "set height")
	tcheck(t, win.Delete(ctxbg, "width", false), "delete width")
	tcompare(t, s.Pending(), 2)

	// Pending changes are visible.
	ok, err := win.Exists(ctxbg, "width")
	tcheck(t, err, "exists")
	tcompare(t, ok, false)
	v, err := app.Get(ctxbg, "window.height")
	tcheck(t, err, "get pending")
	tcompare(t, v, 480)

	// Cancel discards writes and deletions.
	win.FlushCache()
	tcompare(t, s.Pending(), 0)
	v, err = win.Get(ctxbg, "width")
	tcheck(t, err, "get width")
	tcompare(t, v, 640)
	ok, err = win.Exists(ctxbg, "height")
	tcheck(t, err, "exists")
	tcompare(t, ok, false)

	// A staged nested deletion followed by a write keeps the write.
	tcheck(t, win.DeleteAll(ctxbg), "delete all")
	tcheck(t, win.Set(ctxbg, "depth", 3), "set depth")
	tcheck(t, win.Persist(ctxbg), "persist")
	all, err := win.All(ctxbg, true)
	tcheck(t, err, "all")
	tcompare(t, all, map[string]any{"depth": 3})
}

func TestDottedBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s := open(t, path, Options{})

	app := s.Node("app")
	ui := s.Node("app.ui")
	if ui != app.Sub("ui") {
		t.Fatalf("dotted base gave a different node than Sub")
	}
	tcompare(t, ui.Path(), "app.ui")
	if s.Node(".app.ui.") != ui {
		t.Fatalf("base with surrounding dots gave a different node")
	}

	// Auto-persist of the first element applies to nodes for dotted bases.
	app.SetAutoPersist(false)
	tcompare(t, s.Node("app.ui.window").AutoPersist(), false)
	tcheck(t, s.Node("app.ui").Set(ctxbg, "theme", "dark"), "set")
	tcompare(t, s.Pending(), 1)

	app.SetAutoPersist(true)
	tcheck(t, s.Node("app.ui").Set(ctxbg, "size", 12), "set")
	tcompare(t, s.Pending(), 1)
	tcheck(t, s.Persist(ctxbg), "persist")
	v, err := s.Get(ctxbg, "app.ui.theme")
	tcheck(t, err, "get")
	tcompare(t, v, "dark")
}

func TestBaseKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s := open(t, path, Options{})
	err := s.Node("").Set(ctxbg, "x", 1)
	if !errors.Is(err, ErrNoBaseKey) {
		t.Fatalf("got %v, expected ErrNoBaseKey", err)
	}
	err = s.Node("").Sub("a").Delete(ctxbg, "b", false)
	if !errors.Is(err, ErrNoBaseKey) {
		t.Fatalf("got %v, expected ErrNoBaseKey", err)
	}
	tcheck(t, s.Close(), "close")

	s = open(t, path, Options{AllowRoot: true})
	tcheck(t, s.Node("").Set(ctxbg, "x", 1), "set at root")
	v, err := s.Get(ctxbg, "x")
	tcheck(t, err, "get")
	tcompare(t, v, 1)

	err = s.Node("app").Set(ctxbg, "a..b", 1)
	if !errors.Is(err, ErrKey) {
		t.Fatalf("got %v, expected ErrKey", err)
	}
}

func TestTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s := open(t, path, Options{})
	app := s.Node("app")
	for _, k := range []string{"ui.theme", "ui.window.width", "ui.window.height", "recent", "db.name"} {
		tcheck(t, app.Set(ctxbg, k, "x"), "set")
	}

	keys, err := app.Keys(ctxbg)
	tcheck(t, err, "keys")
	tcompare(t, keys, []string{"db", "recent", "ui"})

	all, err := app.Sub("ui").All(ctxbg, false)
	tcheck(t, err, "all")
	tcompare(t, all, map[string]any{"theme": "x"})

	tree, err := app.Tree(ctxbg, "ui")
	tcheck(t, err, "tree")
	exp := []TreeNode{
		{Name: "theme", Key: "app.ui.theme"},
		{Name: "window", Key: "app.ui.window", Children: []TreeNode{
			{Name: "height", Key: "app.ui.window.height"},
			{Name: "width", Key: "app.ui.window.width"},
		}},
	}
	tcompare(t, tree, exp)

	tree, err = app.Tree(ctxbg, "")
	tcheck(t, err, "tree")
	tcompare(t, len(tree), 3)
	tcompare(t, tree[0].Name, "db")
}
