package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mjl-/sconf"

	"github.com/dabodev/dabo/config"
	"github.com/dabodev/dabo/cursor"
	"github.com/dabodev/dabo/dabo-"
	"github.com/dabodev/dabo/dabovar"
	"github.com/dabodev/dabo/db"
	"github.com/dabodev/dabo/mlog"
	"github.com/dabodev/dabo/prefs"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"version", cmdVersion},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"connection list", cmdConnectionList},
	{"connection ping", cmdConnectionPing},
	{"connection tables", cmdConnectionTables},
	{"connection describe", cmdConnectionDescribe},
	{"connection watch", cmdConnectionWatch},
	{"query", cmdQuery},
	{"prefs get", cmdPrefsGet},
	{"prefs set", cmdPrefsSet},
	{"prefs delete", cmdPrefsDelete},
	{"prefs tree", cmdPrefsTree},
	{"password encrypt", cmdPasswordEncrypt},
	{"example", cmdExample},
	{"help", cmdHelp},
	{"helpall", cmdHelpall},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we run the command but panic
	// after it has registered its flags and set its params and help.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("dabo "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "dabo " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		fmt.Printf("dabo %s\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "\n")
		}
		n++

		fmt.Fprintf(os.Stderr, "# dabo %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Fprintln(os.Stderr, c.help+"\n")
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Fprintln(os.Stderr, s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "dabo [-config dabo.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"dabo"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var loglevel string // Empty will be interpreted as the level from the config file.

// mustLoadConfig loads the config file, with the log level from the command
// line taking precedence over the default level from the config.
func mustLoadConfig() {
	dabo.MustLoadConfig()
	if loglevel == "" {
		return
	}
	if level, ok := mlog.Levels[loglevel]; ok {
		dabo.Conf.LogLevelSet(mlog.New("dabo", nil), "", level)
	} else {
		log.Fatalf("unknown loglevel %q", loglevel)
	}
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&dabo.ConfigStaticPath, "config", envString("DABOCONF", filepath.FromSlash("config/dabo.conf")), "configuration file, other config files are looked up in the same directory, defaults to $DABOCONF with a fallback to config/dabo.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, this log level is set early in startup")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	ll := loglevel
	if ll == "" {
		ll = "info"
	}
	if level, ok := mlog.Levels[ll]; ok {
		dabo.Conf.Log[""] = level
		mlog.SetConfig(dabo.Conf.Log)
		// note: SetConfig is called again when subcommands load the config.
	} else {
		log.Fatalf("unknown loglevel %q", loglevel)
	}

	dabo.ShutdownOnSignal()

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("dabo "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func cmdVersion(c *cmd) {
	c.help = "Prints this dabo version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(dabovar.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file and connection files.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, errs := dabo.ParseConfig(context.Background(), c.log, dabo.ConfigStaticPath, true)
	if len(errs) > 1 {
		log.Printf("multiple errors:")
		for _, err := range errs {
			log.Printf("%s", err)
		}
		os.Exit(1)
	} else if len(errs) == 1 {
		log.Fatalf("%s", errs[0])
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">dabo.conf"
	c.help = `Prints an annotated empty configuration for use as dabo.conf.

This configuration file needs modifications to make it valid. For example, it
may contain unfinished list items.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	var sc config.Static
	err := sconf.Describe(os.Stdout, &sc)
	xcheckf(err, "describing config")
}

// xconnectInfo returns the connection info for a configured connection.
func xconnectInfo(name string) db.ConnectInfo {
	ci, ok := dabo.Conf.Connection(name)
	if !ok {
		log.Fatalf("unknown connection %q", name)
	}
	return ci
}

func xopen(c *cmd, name string) *db.Connection {
	ctx := dabo.CidContext(dabo.Shutdown)
	conn, err := db.Open(ctx, xconnectInfo(name), c.log.Logger)
	xcheckf(err, "opening connection %q", name)
	return conn
}

func cmdConnectionList(c *cmd) {
	c.help = `List the configured connections.

Connections come from the config file and from the connection definition files
it references.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	mustLoadConfig()

	for _, name := range dabo.Conf.ConnectionNames() {
		ci, _ := dabo.Conf.Connection(name)
		fmt.Println(ci.String())
	}
}

func cmdConnectionPing(c *cmd) {
	c.params = "[name ...]"
	c.help = `Connect to databases and run a trivial query.

Without names, all configured connections are checked, in parallel.
`
	args := c.Parse()
	mustLoadConfig()

	if len(args) == 0 {
		args = dabo.Conf.ConnectionNames()
	}
	results := make([]string, len(args))
	g, ctx := errgroup.WithContext(dabo.Shutdown)
	for i, name := range args {
		i, name := i, name
		ci := xconnectInfo(name)
		g.Go(func() error {
			start := time.Now()
			err := ping(ctx, c.log, ci)
			if err != nil {
				results[i] = fmt.Sprintf("%s: error: %v", name, err)
				return nil
			}
			results[i] = fmt.Sprintf("%s: ok, %v", name, time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	g.Wait()
	var failed bool
	for _, s := range results {
		fmt.Println(s)
		failed = failed || strings.Contains(s, ": error: ")
	}
	if failed {
		os.Exit(1)
	}
}

func ping(ctx context.Context, log mlog.Log, ci db.ConnectInfo) error {
	ctx, cancel := context.WithTimeout(dabo.CidContext(ctx), 30*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, ci, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		err := conn.Close()
		log.Check(err, "closing connection after ping", slog.String("connection", ci.Name))
	}()
	_, err = conn.Query(ctx, conn.Backend.KeepaliveQuery())
	return err
}

func cmdConnectionTables(c *cmd) {
	c.params = "name"
	c.help = `List the tables of the database of a connection.`
	var system bool
	c.flag.BoolVar(&system, "system", false, "include system tables")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	mustLoadConfig()

	conn := xopen(c, args[0])
	defer conn.Close()
	tables, err := conn.ListTables(dabo.Shutdown, system)
	xcheckf(err, "listing tables")
	for _, t := range tables {
		fmt.Println(t)
	}
}

func cmdConnectionDescribe(c *cmd) {
	c.params = "name table"
	c.help = `Print the fields of a table, with their types as dabo sees them.`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	mustLoadConfig()

	conn := xopen(c, args[0])
	defer conn.Close()
	fields, err := conn.Describe(dabo.Shutdown, args[1])
	xcheckf(err, "describing table")

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "Field\tType\tDB type\tWidth\tFlags")
	for _, f := range fields {
		var flags []string
		if f.PK {
			flags = append(flags, "pk")
		}
		if f.AutoIncrement {
			flags = append(flags, "autoincrement")
		}
		if f.Nullable {
			flags = append(flags, "null")
		}
		if f.NonUpdatable {
			flags = append(flags, "nonupdatable")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", f.Name, f.Type, f.DBType, f.Width, strings.Join(flags, ","))
	}
	err = w.Flush()
	xcheckf(err, "write")
}

func cmdConnectionWatch(c *cmd) {
	c.help = `Watch the connection definition files and report reloads.

Runs until interrupted. Useful to check that edits of connection files are
picked up.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	mustLoadConfig()

	err := dabo.WatchConnectionFiles(dabo.Shutdown, c.log)
	if err != nil && !errors.Is(err, context.Canceled) {
		xcheckf(err, "watching connection files")
	}
}

func cmdQuery(c *cmd) {
	c.params = "name sql"
	c.help = `Run a select statement and print the resulting rows.

The rows are read into a cursor, as an application would.
`
	var limit int
	c.flag.IntVar(&limit, "limit", 100, "maximum number of rows to print, 0 for all")
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	mustLoadConfig()

	conn := xopen(c, args[0])
	defer conn.Close()
	cur, err := cursor.New(conn, cursor.Config{}, c.log.Logger)
	xcheckf(err, "new cursor")
	cur.SetSQL(args[1])
	err = cur.Requery(dabo.Shutdown)
	xcheckf(err, "query")

	var names []string
	for _, f := range cur.Fields() {
		names = append(names, f.Name)
	}
	rows, err := cur.DataSet(0, limit)
	xcheckf(err, "reading rows")

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, r := range rows {
		l := make([]string, len(names))
		for i, name := range names {
			if v := r[name]; v == nil {
				l[i] = "NULL"
			} else {
				l[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(l, "\t"))
	}
	err = w.Flush()
	xcheckf(err, "write")
	if n := cur.RowCount(); n > len(rows) {
		fmt.Fprintf(os.Stderr, "(%d of %d rows)\n", len(rows), n)
	}
}

func xopenPrefs(c *cmd) *prefs.Store {
	mustLoadConfig()
	s, err := prefs.Open(dabo.Shutdown, c.log.Logger, dabo.PreferencesPath(), prefs.Options{AllowRoot: true})
	xcheckf(err, "opening preferences")
	return s
}

func cmdPrefsGet(c *cmd) {
	c.params = "key"
	c.help = `Print the value of a preference, with its type.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopenPrefs(c)
	defer s.Close()

	v, err := s.Get(dabo.Shutdown, args[0])
	xcheckf(err, "get")
	typ, value, err := prefs.Encode(v)
	xcheckf(err, "encode")
	fmt.Printf("%s %s\n", typ, value)
}

func cmdPrefsSet(c *cmd) {
	c.params = "key value"
	c.help = `Set a preference.

The value is parsed according to the type, see the -type flag. Values of type
list, tuple and dict are JSON with elements as pairs of type and value, as
printed by "dabo prefs get".
`
	var typ string
	c.flag.StringVar(&typ, "type", prefs.TypeStr, "type of value, one of: "+strings.Join(prefs.Types, ", "))
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	v, err := prefs.Decode(typ, args[1])
	xcheckf(err, "parsing value")

	s := xopenPrefs(c)
	defer s.Close()
	err = s.Node("").Set(dabo.Shutdown, args[0], v)
	xcheckf(err, "set")
}

func cmdPrefsDelete(c *cmd) {
	c.params = "key"
	c.help = `Delete a preference, and with -nested all preferences below it.`
	var nested bool
	c.flag.BoolVar(&nested, "nested", false, "also delete keys below key")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopenPrefs(c)
	defer s.Close()
	err := s.Node("").Delete(dabo.Shutdown, args[0], nested)
	xcheckf(err, "delete")
}

func cmdPrefsTree(c *cmd) {
	c.params = "[prefix]"
	c.help = `Print the tree of preference keys, optionally only below prefix.`
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}
	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}
	s := xopenPrefs(c)
	defer s.Close()
	tree, err := s.Node("").Tree(dabo.Shutdown, prefix)
	xcheckf(err, "tree")

	var printTree func(l []prefs.TreeNode, indent string)
	printTree = func(l []prefs.TreeNode, indent string) {
		for _, t := range l {
			fmt.Printf("%s%s\n", indent, t.Name)
			printTree(t.Children, indent+"\t")
		}
	}
	printTree(tree, "")
}

func cmdPasswordEncrypt(c *cmd) {
	c.help = `Obfuscate a database password for use in the config file.

The password is read from standard input. The obfuscated password is encrypted
with the key from PasswordKeyFile in the config file.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	mustLoadConfig()
	if dabo.Conf.Crypter == nil {
		log.Fatalf("no PasswordKeyFile configured")
	}

	fmt.Fprintf(os.Stderr, "password: ")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	xcheckf(scanner.Err(), "reading stdin")
	pw := scanner.Text()
	if pw == "" {
		log.Fatal("empty password")
	}
	s, err := dabo.Conf.Crypter.Encrypt(pw)
	xcheckf(err, "encrypting password")
	fmt.Println(s)
}
