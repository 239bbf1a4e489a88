// Package prefs is a tree of typed preference values, stored in a bstore
// database file.
//
// Keys are dotted paths like "app.ui.window.width". A Node is a position in the
// tree, values are set and read relative to it. Nodes with auto-persist
// disabled, or with an ancestor that has it disabled, buffer their writes and
// deletions until Persist is called.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"

	"github.com/mjl-/bstore"

	"github.com/dabodev/dabo/dabovar"
	"github.com/dabodev/dabo/mlog"
)

var (
	ErrNotFound  = errors.New("prefs: key not found")
	ErrNoBaseKey = errors.New("prefs: node without base key cannot persist")
	ErrKey       = errors.New("prefs: invalid key")
)

// Pref is a stored preference value.
type Pref struct {
	Key   string `bstore:"typename daboprefs"` // Full dotted path.
	Type  string // Type tag, see Types.
	Value string // Encoded value.
}

// DBTypes are the types stored in the preferences database.
var DBTypes = []any{Pref{}}

// Options for Open.
type Options struct {
	// Allow writes on nodes without a base key, for administrative tools.
	AllowRoot bool

	// Abort when the database file cannot be opened in time, for example
	// because another process has it open. Default 5s.
	Timeout time.Duration
}

// Store is an opened preferences database, with the writes and deletions that
// have not been persisted yet.
type Store struct {
	DB        *bstore.DB
	log       mlog.Log
	allowRoot bool

	sync.Mutex
	closed  bool
	cache   map[string]Pref // Pending writes.
	deletes []staged        // Pending deletions, applied before the pending writes.
	nodes   map[string]*Node
}

type staged struct {
	key    string
	nested bool
}

func (d staged) covers(key string) bool {
	return key == d.key || d.nested && within(d.key, key)
}

// within returns whether key is below prefix. Everything is below the empty
// prefix.
func within(prefix, key string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix+".")
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	if name == "" {
		return path
	}
	return path + "." + name
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrKey)
	}
	for _, s := range strings.Split(name, ".") {
		if s == "" {
			return fmt.Errorf("%w: empty element in %q", ErrKey, name)
		}
	}
	return nil
}

// Open opens or creates the preferences database at path.
func Open(ctx context.Context, elog *slog.Logger, path string, opts Options) (*Store, error) {
	log := mlog.New("prefs", elog)
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	bopts := bstore.Options{Timeout: opts.Timeout, Perm: 0660, RegisterLogger: dabovar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &bopts, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open preferences database: %w", err)
	}
	s := &Store{
		DB:        db,
		log:       log.With(slog.String("path", path)),
		allowRoot: opts.AllowRoot,
		cache:     map[string]Pref{},
		nodes:     map[string]*Node{},
	}
	return s, nil
}

// Close closes the database. Pending writes are discarded.
func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if n := len(s.cache) + len(s.deletes); n > 0 {
		s.log.Info("closing preferences with unpersisted changes", slog.Int("pending", n))
	}
	return s.DB.Close()
}

// Node returns the node for base key base. The empty base key is the root of
// the tree, which can only be written to when the store was opened with
// AllowRoot. Calling Node again with the same base returns the same node. A
// dotted base, such as "app.ui", returns the sub node of the node for its
// first element, "app".
func (s *Store) Node(base string) *Node {
	s.Lock()
	defer s.Unlock()
	first, rest, _ := strings.Cut(strings.Trim(base, "."), ".")
	n, ok := s.nodes[first]
	if !ok {
		n = &Node{store: s, path: first, autoPersist: true}
		s.nodes[first] = n
	}
	return n.subLocked(rest)
}

// Pending returns the number of buffered writes and deletions.
func (s *Store) Pending() int {
	s.Lock()
	defer s.Unlock()
	return len(s.cache) + len(s.deletes)
}

// Persist writes all buffered writes and deletions in a single transaction.
func (s *Store) Persist(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	if len(s.cache) == 0 && len(s.deletes) == 0 {
		return nil
	}
	keys := maps.Keys(s.cache)
	slices.Sort(keys)
	err := s.DB.Write(ctx, func(tx *bstore.Tx) error {
		for _, d := range s.deletes {
			if err := deleteTx(tx, d); err != nil {
				return err
			}
		}
		for _, k := range keys {
			if err := upsert(tx, s.cache[k]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist preferences: %w", err)
	}
	s.log.Debug("preferences persisted", slog.Int("writes", len(keys)), slog.Int("deletes", len(s.deletes)))
	s.cache = map[string]Pref{}
	s.deletes = nil
	return nil
}

// FlushCache discards all buffered writes and deletions.
func (s *Store) FlushCache() {
	s.Lock()
	defer s.Unlock()
	s.cache = map[string]Pref{}
	s.deletes = nil
}

func upsert(tx *bstore.Tx, p Pref) error {
	o := Pref{Key: p.Key}
	err := tx.Get(&o)
	if err == bstore.ErrAbsent {
		return tx.Insert(&p)
	} else if err != nil {
		return err
	}
	return tx.Update(&p)
}

func deleteTx(tx *bstore.Tx, d staged) error {
	if d.key != "" {
		if err := tx.Delete(&Pref{Key: d.key}); err != nil && err != bstore.ErrAbsent {
			return err
		}
	}
	if d.nested {
		_, err := bstore.QueryTx[Pref](tx).FilterFn(func(p Pref) bool { return within(d.key, p.Key) }).Delete()
		return err
	}
	return nil
}

// must be called with lock held.
func (s *Store) deleted(key string) bool {
	for _, d := range s.deletes {
		if d.covers(key) {
			return true
		}
	}
	return false
}

// lookup returns the pending or stored value of key.
func (s *Store) lookup(ctx context.Context, key string) (Pref, bool, error) {
	s.Lock()
	defer s.Unlock()
	if p, ok := s.cache[key]; ok {
		return p, true, nil
	}
	if s.deleted(key) {
		return Pref{}, false, nil
	}
	p := Pref{Key: key}
	err := s.DB.Get(ctx, &p)
	if err == bstore.ErrAbsent {
		return Pref{}, false, nil
	} else if err != nil {
		return Pref{}, false, fmt.Errorf("get preference: %w", err)
	}
	return p, true, nil
}

// below returns the pending and stored values below prefix.
func (s *Store) below(ctx context.Context, prefix string) (map[string]Pref, error) {
	s.Lock()
	defer s.Unlock()
	m := map[string]Pref{}
	err := bstore.QueryDB[Pref](ctx, s.DB).FilterFn(func(p Pref) bool { return within(prefix, p.Key) }).ForEach(func(p Pref) error {
		if !s.deleted(p.Key) {
			m[p.Key] = p
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	for k, p := range s.cache {
		if within(prefix, k) {
			m[k] = p
		}
	}
	return m, nil
}

// Get returns the value at the full dotted key.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	return s.Node("").Get(ctx, key)
}
