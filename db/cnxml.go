package db

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/dabodev/dabo/metrics"
	"github.com/dabodev/dabo/mlog"
)

type xmlConnection struct {
	Name     string `xml:"name,attr"`
	DBType   string `xml:"dbtype"`
	Host     string `xml:"host"`
	Port     string `xml:"port"`
	Database string `xml:"database"`
	User     string `xml:"user"`
	Password string `xml:"password"`
}

type xmlDefs struct {
	Connections []xmlConnection `xml:"connection"`
}

// ParseDefinitions parses connection definitions in XML, either a single
// <connection> element or any root element containing <connection> elements.
// Connections without a name attribute are named after their database.
func ParseDefinitions(r io.Reader) (map[string]ConnectInfo, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(buf, &root); err != nil {
		return nil, fmt.Errorf("parsing connection definitions: %v", err)
	}
	var conns []xmlConnection
	if root.XMLName.Local == "connection" {
		var c xmlConnection
		if err := xml.Unmarshal(buf, &c); err != nil {
			return nil, fmt.Errorf("parsing connection definition: %v", err)
		}
		conns = []xmlConnection{c}
	} else {
		var defs xmlDefs
		if err := xml.Unmarshal(buf, &defs); err != nil {
			return nil, fmt.Errorf("parsing connection definitions: %v", err)
		}
		conns = defs.Connections
	}

	m := map[string]ConnectInfo{}
	for _, c := range conns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = strings.TrimSpace(c.Database)
		}
		if name == "" {
			return nil, fmt.Errorf("connection definition without name or database")
		}
		if _, ok := m[name]; ok {
			return nil, fmt.Errorf("duplicate connection %q", name)
		}
		ci := ConnectInfo{
			Name:     name,
			DBType:   strings.ToLower(strings.TrimSpace(c.DBType)),
			Host:     strings.TrimSpace(c.Host),
			Database: strings.TrimSpace(c.Database),
			User:     strings.TrimSpace(c.User),
			Password: c.Password,
		}
		if p := strings.TrimSpace(c.Port); p != "" {
			ci.Port, err = strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("connection %q: bad port %q", name, p)
			}
		}
		if _, err := NewBackend(ci.DBType); err != nil && ci.DBType != "odbc" && ci.DBType != "web" {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		m[name] = ci
	}
	return m, nil
}

// LoadDefinitions reads connection definitions from an XML file.
func LoadDefinitions(path string) (map[string]ConnectInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ParseDefinitions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WatchDefinitions calls fn with freshly loaded definitions whenever one of
// the files changes, until ctx is canceled. The directories of the files are
// watched, so files replaced by editors are noticed too.
func WatchDefinitions(ctx context.Context, elog *slog.Logger, paths []string, fn func(path string, defs map[string]ConnectInfo, err error)) error {
	log := mlog.New("db", elog)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new file watcher: %v", err)
	}
	watched := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range paths {
		p, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return err
		}
		watched[p] = true
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watching %s: %v", dir, err)
		}
		dirs[dir] = true
	}

	go func() {
		defer func() {
			x := recover()
			if x != nil {
				log.Error("unhandled panic in connection definitions watcher", slog.Any("err", x))
				metrics.PanicInc("db")
			}
		}()
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !watched[ev.Name] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if _, err := os.Stat(ev.Name); err != nil {
					// Renamed away, a create will follow.
					continue
				}
				log.Debug("connection definitions changed", slog.String("path", ev.Name))
				defs, err := LoadDefinitions(ev.Name)
				fn(ev.Name, defs, err)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Errorx("watching connection definitions", err)
			}
		}
	}()
	return nil
}
