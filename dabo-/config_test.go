package dabo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dabodev/dabo/db"
	"github.com/dabodev/dabo/mlog"
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

const testConf = `DataDir: data
LogLevel: info
PackageLogLevels:
	db: trace
PasswordKeyFile: passwd.key
ConnectionFiles:
	- conns.cnxml
Connections:
	local:
		DBType: sqlite
		Database: local.db
	remote:
		DBType: postgres
		Host: db.example.com
		Database: shop
		User: app
		KeepaliveInterval: 60
`

const testConns = `<connectiondefs>
	<connection name="reports">
		<dbtype>mysql</dbtype>
		<database>reports</database>
	</connection>
</connectiondefs>
`

func writeConfig(t *testing.T, conf, conns string) string {
	t.Helper()
	dir := t.TempDir()
	tcheck(t, os.WriteFile(filepath.Join(dir, "dabo.conf"), []byte(conf), 0660), "write config")
	tcheck(t, os.WriteFile(filepath.Join(dir, "conns.cnxml"), []byte(conns), 0660), "write connections")
	tcheck(t, os.WriteFile(filepath.Join(dir, "passwd.key"), []byte("test secret\n"), 0600), "write key")
	return filepath.Join(dir, "dabo.conf")
}

func TestConfig(t *testing.T) {
	log := mlog.New("dabo", nil)
	ConfigStaticPath = writeConfig(t, testConf, testConns)
	defer mlog.SetConfig(map[string]slog.Level{"": mlog.LevelError})

	errs := LoadConfig(ctxbg, log)
	if len(errs) > 0 {
		t.Fatalf("load config: %v", errs)
	}

	dir := filepath.Dir(ConfigStaticPath)
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Fatalf("data dir not created: %v", err)
	}
	tcompare(t, Conf.LogLevels(), map[string]slog.Level{"": mlog.LevelInfo, "db": mlog.LevelTrace})
	tcompare(t, Conf.ConnectionNames(), []string{"local", "remote", "reports"})
	tcompare(t, PreferencesPath(), filepath.Join(dir, "data", "prefs.db"))

	ci, ok := Conf.Connection("local")
	tcompare(t, ok, true)
	tcompare(t, ci.Database, filepath.Join(dir, "data", "local.db"))
	if ci.Crypter == nil {
		t.Fatalf("missing crypter")
	}

	ci, ok = Conf.Connection("remote")
	tcompare(t, ok, true)
	tcompare(t, ci.KeepaliveInterval.Seconds(), 60.0)
	tcompare(t, ci.Address(5432), "db.example.com:5432")

	ci, ok = Conf.Connection("reports")
	tcompare(t, ok, true)
	tcompare(t, ci.DBType, "mysql")

	_, ok = Conf.Connection("nosuch")
	tcompare(t, ok, false)

	Conf.LogLevelSet(log, "cursor", mlog.LevelDebug)
	tcompare(t, Conf.LogLevels()["cursor"], mlog.LevelDebug)

	// Obfuscated passwords from the config can be decrypted.
	enc, err := Conf.Crypter.Encrypt("pw")
	tcheck(t, err, "encrypt")
	ci = db.ConnectInfo{Password: enc, Crypter: Conf.Crypter}
	pw, err := ci.PlainPassword()
	tcheck(t, err, "plain password")
	tcompare(t, pw, "pw")
}

func TestConfigErrors(t *testing.T) {
	log := mlog.New("dabo", nil)

	bad := `DataDir: data
LogLevel: loud
Connections:
	x:
		DBType: nosuchdb
		Database: x
	y:
		DBType: sqlite
`
	_, errs := ParseConfig(ctxbg, log, writeConfig(t, bad, testConns), true)
	if len(errs) != 4 {
		t.Fatalf("got errors %v, expected 4 (log level, backend, database, data dir)", errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrConfig) {
			t.Fatalf("got %v, expected ErrConfig", err)
		}
	}

	// Connection defined both in config and connection file.
	dup := `DataDir: .
LogLevel: info
ConnectionFiles:
	- conns.cnxml
Connections:
	reports:
		DBType: sqlite
		Database: r.db
`
	_, errs = ParseConfig(ctxbg, log, writeConfig(t, dup, testConns), false)
	if len(errs) != 1 || !errors.Is(errs[0], ErrConfig) {
		t.Fatalf("got errors %v, expected single duplicate error", errs)
	}

	_, errs = ParseConfig(ctxbg, log, filepath.Join(t.TempDir(), "missing.conf"), true)
	if len(errs) != 1 {
		t.Fatalf("got errors %v, expected open error", errs)
	}
}
