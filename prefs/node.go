package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/mjl-/bstore"
)

// Node is a position in the preference tree. Names passed to its methods are
// relative to the node and may be dotted.
type Node struct {
	store       *Store
	parent      *Node
	path        string
	autoPersist bool
	subs        map[string]*Node
}

// Path returns the full dotted path of the node.
func (n *Node) Path() string { return n.path }

// Sub returns the node for name below n. No data is read, the node exists
// as soon as a value is set below it.
func (n *Node) Sub(name string) *Node {
	n.store.Lock()
	defer n.store.Unlock()
	return n.subLocked(name)
}

func (n *Node) subLocked(name string) *Node {
	s := n.store
	x := n
	for _, elem := range strings.Split(name, ".") {
		if elem == "" {
			continue
		}
		if sub, ok := x.subs[elem]; ok {
			x = sub
			continue
		}
		sub := &Node{store: s, parent: x, path: join(x.path, elem), autoPersist: true}
		if x.subs == nil {
			x.subs = map[string]*Node{}
		}
		x.subs[elem] = sub
		x = sub
	}
	return x
}

// SetAutoPersist sets whether writes through this node and its descendants
// are stored immediately.
func (n *Node) SetAutoPersist(v bool) {
	n.store.Lock()
	n.autoPersist = v
	n.store.Unlock()
}

// AutoPersist returns whether writes are stored immediately, which is only
// the case if auto-persist is enabled on n and all its ancestors.
func (n *Node) AutoPersist() bool {
	n.store.Lock()
	defer n.store.Unlock()
	return n.autoPersistLocked()
}

func (n *Node) autoPersistLocked() bool {
	for x := n; x != nil; x = x.parent {
		if !x.autoPersist {
			return false
		}
	}
	return true
}

// top returns the node without parent, the node of the base key.
func (n *Node) top() *Node {
	x := n
	for x.parent != nil {
		x = x.parent
	}
	return x
}

// key returns the full key for name, checking that it can be written.
func (n *Node) key(name string, write bool) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if write && n.top().path == "" && !n.store.allowRoot {
		return "", ErrNoBaseKey
	}
	return join(n.path, name), nil
}

// Get returns the value for name. ErrNotFound is returned if it does not
// exist.
func (n *Node) Get(ctx context.Context, name string) (any, error) {
	key, err := n.key(name, false)
	if err != nil {
		return nil, err
	}
	p, ok, err := n.store.lookup(ctx, key)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	v, err := Decode(p.Type, p.Value)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, nil
}

// Exists returns whether a value is set for name.
func (n *Node) Exists(ctx context.Context, name string) (bool, error) {
	key, err := n.key(name, false)
	if err != nil {
		return false, err
	}
	_, ok, err := n.store.lookup(ctx, key)
	return ok, err
}

// Set sets name to v, see Encode for the supported types. The value is
// written immediately if the node is auto-persisting, otherwise it is kept
// until Persist.
func (n *Node) Set(ctx context.Context, name string, v any) error {
	key, err := n.key(name, true)
	if err != nil {
		return err
	}
	typ, value, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	p := Pref{key, typ, value}

	s := n.store
	s.Lock()
	defer s.Unlock()
	if !n.autoPersistLocked() {
		s.cache[key] = p
		return nil
	}
	if err := s.DB.Write(ctx, func(tx *bstore.Tx) error { return upsert(tx, p) }); err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	if s.deleted(key) {
		// Keep the value when the staged deletion is persisted.
		s.cache[key] = p
	} else {
		delete(s.cache, key)
	}
	s.log.Debug("preference set", slog.String("key", key), slog.String("type", typ))
	return nil
}

// Delete removes the value of name. With nested, the values below name are
// removed too.
func (n *Node) Delete(ctx context.Context, name string, nested bool) error {
	key, err := n.key(name, true)
	if err != nil {
		return err
	}
	return n.delete(ctx, staged{key, nested})
}

// DeleteAll removes all values below n.
func (n *Node) DeleteAll(ctx context.Context) error {
	if n.top().path == "" && !n.store.allowRoot {
		return ErrNoBaseKey
	}
	return n.delete(ctx, staged{n.path, true})
}

func (n *Node) delete(ctx context.Context, d staged) error {
	s := n.store
	s.Lock()
	defer s.Unlock()
	for k := range s.cache {
		if d.covers(k) {
			delete(s.cache, k)
		}
	}
	if !n.autoPersistLocked() {
		s.deletes = append(s.deletes, d)
		return nil
	}
	if err := s.DB.Write(ctx, func(tx *bstore.Tx) error { return deleteTx(tx, d) }); err != nil {
		return fmt.Errorf("delete preference %s: %w", d.key, err)
	}
	s.log.Debug("preference deleted", slog.String("key", d.key), slog.Bool("nested", d.nested))
	return nil
}

// Persist writes all buffered changes of the store.
func (n *Node) Persist(ctx context.Context) error {
	return n.store.Persist(ctx)
}

// FlushCache discards all buffered changes of the store.
func (n *Node) FlushCache() {
	n.store.FlushCache()
}

// Keys returns the sorted names directly below n that hold a value or have
// values below them.
func (n *Node) Keys(ctx context.Context) ([]string, error) {
	m, err := n.store.below(ctx, n.path)
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	for k := range m {
		name, _, _ := strings.Cut(n.relative(k), ".")
		names[name] = struct{}{}
	}
	l := maps.Keys(names)
	slices.Sort(l)
	return l, nil
}

// All returns the values below n, keyed by name relative to n. Without
// nested, only the values directly below n are returned.
func (n *Node) All(ctx context.Context, nested bool) (map[string]any, error) {
	m, err := n.store.below(ctx, n.path)
	if err != nil {
		return nil, err
	}
	r := map[string]any{}
	for k, p := range m {
		name := n.relative(k)
		if !nested && strings.Contains(name, ".") {
			continue
		}
		v, err := Decode(p.Type, p.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", k, err)
		}
		r[name] = v
	}
	return r, nil
}

func (n *Node) relative(key string) string {
	if n.path == "" {
		return key
	}
	return strings.TrimPrefix(key, n.path+".")
}

// TreeNode is an element in the key tree returned by Tree.
type TreeNode struct {
	Name     string // Last element of Key.
	Key      string // Full dotted path.
	Children []TreeNode
}

// Tree returns the keys below prefix (relative to n, empty for n itself) as a
// tree, ordered by name at each level.
func (n *Node) Tree(ctx context.Context, prefix string) ([]TreeNode, error) {
	if prefix != "" {
		if err := checkName(prefix); err != nil {
			return nil, err
		}
	}
	base := join(n.path, prefix)
	m, err := n.store.below(ctx, base)
	if err != nil {
		return nil, err
	}
	keys := maps.Keys(m)
	slices.Sort(keys)

	var root []TreeNode
	for _, k := range keys {
		rel := k
		if base != "" {
			rel = strings.TrimPrefix(k, base+".")
		}
		path := base
		l := &root
		for _, elem := range strings.Split(rel, ".") {
			path = join(path, elem)
			i := slices.IndexFunc(*l, func(t TreeNode) bool { return t.Name == elem })
			if i < 0 {
				*l = append(*l, TreeNode{Name: elem, Key: path})
				i = len(*l) - 1
			}
			l = &(*l)[i].Children
		}
	}
	sortTree(root)
	return root, nil
}

func sortTree(l []TreeNode) {
	slices.SortFunc(l, func(a, b TreeNode) int { return strings.Compare(a.Name, b.Name) })
	for _, t := range l {
		sortTree(t.Children)
	}
}
