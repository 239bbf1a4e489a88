package dabo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/mjl-/sconf"

	"github.com/dabodev/dabo/config"
	"github.com/dabodev/dabo/db"
	"github.com/dabodev/dabo/mlog"
)

var pkglog = mlog.New("dabo", nil)

// ConfigStaticPath is set early in program startup.
var (
	ConfigStaticPath string
	Conf             = Config{Log: map[string]slog.Level{"": slog.LevelError}}
)

var ErrConfig = errors.New("config error")

// Config as used in the code, a processed version of what is in the config file.
//
// Use methods to lookup connections, they can change when connection files are
// reloaded.
type Config struct {
	Static config.Static // Does not change during the lifetime of a running instance.

	logMutex sync.Mutex // For accessing the log levels.
	Log      map[string]slog.Level

	// Crypter for obfuscated passwords, nil if no PasswordKeyFile is configured.
	Crypter db.Crypter

	connMutex sync.Mutex
	// Connections from the config file, and per connection file.
	inline      map[string]db.ConnectInfo
	fileDefs    map[string]map[string]db.ConnectInfo
	connOrigins map[string]string // Connection name to file it came from, "" for inline.
}

// LogLevelSet sets a new log level for pkg. An empty pkg sets the default log
// value that is used if no explicit log level is configured for a package.
// This change is ephemeral, no config file is changed.
func (c *Config) LogLevelSet(log mlog.Log, pkg string, level slog.Level) {
	c.logMutex.Lock()
	defer c.logMutex.Unlock()
	l := c.copyLogLevels()
	l[pkg] = level
	c.Log = l
	log.Debug("log level changed", slog.String("pkg", pkg), slog.Any("level", mlog.LevelStrings[level]))
	mlog.SetConfig(c.Log)
}

// must be called with log lock held.
func (c *Config) copyLogLevels() map[string]slog.Level {
	return maps.Clone(c.Log)
}

// LogLevels returns a copy of the current log levels.
func (c *Config) LogLevels() map[string]slog.Level {
	c.logMutex.Lock()
	defer c.logMutex.Unlock()
	return c.copyLogLevels()
}

// ConnectionNames returns the names of all configured connections, sorted.
func (c *Config) ConnectionNames() []string {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	l := maps.Keys(c.connOrigins)
	slices.Sort(l)
	return l
}

// Connection returns the connection info for name. Relative sqlite database
// paths are resolved against the data directory.
func (c *Config) Connection(name string) (ci db.ConnectInfo, ok bool) {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	origin, ok := c.connOrigins[name]
	if !ok {
		return ci, false
	}
	if origin == "" {
		ci = c.inline[name]
	} else {
		ci = c.fileDefs[origin][name]
	}
	if ci.DBType == "sqlite" && ci.DSN == "" && ci.Database != ":memory:" && !strings.HasPrefix(ci.Database, "file:") {
		ci.Database = dataDirPath(ConfigStaticPath, c.Static.DataDir, ci.Database)
	}
	ci.Crypter = c.Crypter
	return ci, true
}

// setConnections replaces the definitions from a connection file, or the
// inline connections if path is empty. Names already defined elsewhere are
// skipped with an error.
func (c *Config) setConnections(path string, defs map[string]db.ConnectInfo) (errs []error) {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connOrigins == nil {
		c.connOrigins = map[string]string{}
		c.fileDefs = map[string]map[string]db.ConnectInfo{}
	}
	for name, origin := range c.connOrigins {
		if origin == path {
			delete(c.connOrigins, name)
		}
	}
	keep := map[string]db.ConnectInfo{}
	names := maps.Keys(defs)
	slices.Sort(names)
	for _, name := range names {
		if origin, ok := c.connOrigins[name]; ok {
			if origin == "" {
				origin = "config file"
			}
			errs = append(errs, fmt.Errorf("%w: connection %q from %s already defined in %s", ErrConfig, name, path, origin))
			continue
		}
		c.connOrigins[name] = path
		keep[name] = defs[name]
	}
	if path == "" {
		c.inline = keep
	} else {
		c.fileDefs[path] = keep
	}
	return errs
}

// MustLoadConfig loads the config, quitting on errors.
func MustLoadConfig() {
	errs := LoadConfig(context.Background(), pkglog)
	if len(errs) > 1 {
		pkglog.Error("loading config file: multiple errors")
		for _, err := range errs {
			pkglog.Errorx("config error", err)
		}
		pkglog.Fatal("stopping after multiple config errors")
	} else if len(errs) == 1 {
		pkglog.Fatalx("loading config file", errs[0])
	}
}

// LoadConfig attempts to parse and load a config, returning any errors
// encountered.
func LoadConfig(ctx context.Context, log mlog.Log) []error {
	c, errs := ParseConfig(ctx, log, ConfigStaticPath, false)
	if len(errs) > 0 {
		return errs
	}

	mlog.SetConfig(c.Log)
	SetConfig(c)
	return nil
}

// SetConfig sets a new config. Not to be used during normal operation.
func SetConfig(c *Config) {
	// Cannot just assign *c to Conf, it would copy the mutexes.
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	Conf = Config{
		Static:      c.Static,
		Log:         c.Log,
		Crypter:     c.Crypter,
		inline:      c.inline,
		fileDefs:    c.fileDefs,
		connOrigins: c.connOrigins,
	}
}

// ParseConfig parses the static config at path p. If checkOnly is true, no
// changes are made, such as creating the data directory.
func ParseConfig(ctx context.Context, log mlog.Log, p string, checkOnly bool) (c *Config, errs []error) {
	c = &Config{
		Static: config.Static{
			DataDir: ".",
		},
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv("DABOCONF") == "" {
			return nil, []error{fmt.Errorf("open config file: %v (hint: use dabo -config ... or set DABOCONF=...)", err)}
		}
		return nil, []error{fmt.Errorf("open config file: %v", err)}
	}
	defer f.Close()
	if err := sconf.Parse(f, &c.Static); err != nil {
		return nil, []error{fmt.Errorf("parsing %s%v", p, err)}
	}

	if xerrs := PrepareStaticConfig(ctx, log, p, c, checkOnly); len(xerrs) > 0 {
		return nil, xerrs
	}
	return c, nil
}

// PrepareStaticConfig checks the static config and prepares the log levels,
// password crypter and connections.
func PrepareStaticConfig(ctx context.Context, log mlog.Log, configFile string, conf *Config, checkOnly bool) (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...)))
	}

	c := &conf.Static

	// Post-process logging config.
	if logLevel, ok := mlog.Levels[c.LogLevel]; ok {
		conf.Log = map[string]slog.Level{"": logLevel}
	} else {
		addErrorf("invalid log level %q", c.LogLevel)
		conf.Log = map[string]slog.Level{"": mlog.LevelError}
	}
	for pkg, s := range c.PackageLogLevels {
		if logLevel, ok := mlog.Levels[s]; ok {
			conf.Log[pkg] = logLevel
		} else {
			addErrorf("invalid package log level %q", s)
		}
	}

	dataDir := configDirPath(configFile, c.DataDir)
	if checkOnly {
		if _, err := os.Stat(dataDir); err != nil {
			addErrorf("data directory: %v", err)
		}
	} else if err := os.MkdirAll(dataDir, 0770); err != nil {
		addErrorf("creating data directory: %v", err)
	}

	if c.PasswordKeyFile != "" {
		secret, err := os.ReadFile(configDirPath(configFile, c.PasswordKeyFile))
		if err != nil {
			addErrorf("reading password key file: %v", err)
		} else if crypter, err := db.NewSecretboxCrypter([]byte(strings.TrimSpace(string(secret)))); err != nil {
			addErrorf("password key file: %v", err)
		} else {
			conf.Crypter = crypter
		}
	}

	inline := map[string]db.ConnectInfo{}
	for name, cc := range c.Connections {
		if _, err := db.NewBackend(cc.DBType); err != nil {
			addErrorf("connection %q: %v", name, err)
			continue
		}
		if cc.Database == "" && cc.DSN == "" {
			addErrorf("connection %q: database or dsn required", name)
			continue
		}
		if cc.Port < 0 || cc.Port > 65535 {
			addErrorf("connection %q: invalid port %d", name, cc.Port)
		}
		if cc.KeepaliveInterval < 0 {
			addErrorf("connection %q: invalid keepalive interval %d", name, cc.KeepaliveInterval)
		}
		if db.IsObfuscated(cc.Password) && conf.Crypter == nil {
			addErrorf("connection %q: obfuscated password requires PasswordKeyFile", name)
		}
		inline[name] = db.ConnectInfoFromConfig(name, cc)
	}
	errs = append(errs, conf.setConnections("", inline)...)

	for _, cf := range c.ConnectionFiles {
		path := configDirPath(configFile, cf)
		defs, err := db.LoadDefinitions(path)
		if err != nil {
			addErrorf("loading connection file: %v", err)
			continue
		}
		errs = append(errs, conf.setConnections(path, defs)...)
	}

	return errs
}

// WatchConnectionFiles reloads connection files from the config when they
// change, until ctx is canceled.
func WatchConnectionFiles(ctx context.Context, log mlog.Log) error {
	var paths []string
	for _, cf := range Conf.Static.ConnectionFiles {
		paths = append(paths, ConfigDirPath(cf))
	}
	if len(paths) == 0 {
		return nil
	}
	return db.WatchDefinitions(ctx, log.Logger, paths, func(path string, defs map[string]db.ConnectInfo, err error) {
		if err != nil {
			log.Errorx("reloading connection file, keeping previous definitions", err, slog.String("path", path))
			return
		}
		for _, err := range Conf.setConnections(path, defs) {
			log.Errorx("reloaded connection file", err, slog.String("path", path))
		}
		log.Info("connection file reloaded", slog.String("path", path), slog.Int("connections", len(defs)))
	})
}
