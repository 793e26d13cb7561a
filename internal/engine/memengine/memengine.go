// Package memengine is an in-memory workspace backend with fault injection.
// It backs "memory" workspaces for offline development and the walker tests.
package memengine

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CageChen/entrytree/internal/engine"
)

type node struct {
	stat     engine.RawStat
	name     string
	children []*node
}

type fault struct {
	tag       engine.ErrorTag
	remaining int // <0 means forever
}

// Backend is an in-memory workspace tree.
type Backend struct {
	mu       sync.Mutex
	root     *node
	byID     map[engine.EntryID]*node
	faults   map[string]*fault
	listings map[string]int
	now      func() time.Time

	// OnList, when set, runs before each listing is served (outside the lock),
	// which lets tests mutate the tree between suspension points.
	OnList func(path string)
}

// New creates an empty workspace containing only the root folder.
func New() *Backend {
	b := &Backend{
		byID:     make(map[engine.EntryID]*node),
		faults:   make(map[string]*fault),
		listings: make(map[string]int),
		now:      time.Now,
	}
	b.root = b.newNode("", engine.TagFolder, "", 0)
	return b
}

func (b *Backend) newNode(name string, tag engine.EntryTag, parent engine.EntryID, size uint64) *node {
	ts := b.now().Unix()
	n := &node{
		name: name,
		stat: engine.RawStat{
			Tag:         tag,
			ID:          engine.EntryID(uuid.New().String()),
			Parent:      parent,
			Created:     ts,
			Updated:     ts,
			BaseVersion: 1,
			Size:        size,
		},
	}
	if parent == "" {
		n.stat.Parent = n.stat.ID
	}
	b.byID[n.stat.ID] = n
	return n
}

func split(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (b *Backend) lookup(p string) *node {
	cur := b.root
	for _, part := range split(p) {
		if cur.stat.Tag != engine.TagFolder {
			return nil
		}
		var next *node
		for _, c := range cur.children {
			if c.name == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func (b *Backend) ensureFolder(p string) (*node, error) {
	cur := b.root
	for _, part := range split(p) {
		var next *node
		for _, c := range cur.children {
			if c.name == part {
				next = c
				break
			}
		}
		if next == nil {
			next = b.newNode(part, engine.TagFolder, cur.stat.ID, 0)
			cur.children = append(cur.children, next)
		}
		if next.stat.Tag != engine.TagFolder {
			return nil, fmt.Errorf("%s: not a folder", p)
		}
		cur = next
	}
	return cur, nil
}

// AddFolder creates the folder and any missing parents.
func (b *Backend) AddFolder(p string) (engine.EntryID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.ensureFolder(p)
	if err != nil {
		return "", err
	}
	return n.stat.ID, nil
}

// AddFile creates (or resizes) a file, creating missing parent folders.
func (b *Backend) AddFile(p string, size uint64) (engine.EntryID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p = clean(p)
	if p == "/" {
		return "", fmt.Errorf("cannot create a file at the root")
	}
	parent, err := b.ensureFolder(path.Dir(p))
	if err != nil {
		return "", err
	}
	name := path.Base(p)
	for _, c := range parent.children {
		if c.name == name {
			if c.stat.Tag != engine.TagFile {
				return "", fmt.Errorf("%s: is a folder", p)
			}
			c.stat.Size = size
			c.stat.Updated = b.now().Unix()
			c.stat.BaseVersion++
			return c.stat.ID, nil
		}
	}
	n := b.newNode(name, engine.TagFile, parent.stat.ID, size)
	parent.children = append(parent.children, n)
	return n.stat.ID, nil
}

// Remove deletes an entry and its subtree.
func (b *Backend) Remove(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p = clean(p)
	parent := b.lookup(path.Dir(p))
	if parent == nil || p == "/" {
		return fmt.Errorf("%s: not found", p)
	}
	for i, c := range parent.children {
		if c.name == path.Base(p) {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			b.forget(c)
			return nil
		}
	}
	return fmt.Errorf("%s: not found", p)
}

func (b *Backend) forget(n *node) {
	delete(b.byID, n.stat.ID)
	for _, c := range n.children {
		b.forget(c)
	}
}

// SetPlaceholder marks an entry as not yet confirmed by the engine.
func (b *Backend) SetPlaceholder(p string, placeholder, needSync bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.lookup(p)
	if n == nil {
		return fmt.Errorf("%s: not found", p)
	}
	n.stat.IsPlaceholder = placeholder
	n.stat.NeedSync = needSync
	return nil
}

// Confine marks an entry as hidden from sync by the rule rooted at point.
func (b *Backend) Confine(p string, point engine.EntryID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.lookup(p)
	if n == nil {
		return fmt.Errorf("%s: not found", p)
	}
	n.stat.ConfinementPoint = &point
	return nil
}

// Fail makes listing or stat-ing p fail with tag. times < 0 fails forever.
func (b *Backend) Fail(p string, tag engine.ErrorTag, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[clean(p)] = &fault{tag: tag, remaining: times}
}

// Heal removes any injected fault on p.
func (b *Backend) Heal(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.faults, clean(p))
}

// Listings reports how many times p was listed.
func (b *Backend) Listings(p string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listings[clean(p)]
}

func (b *Backend) injected(p string) error {
	f, ok := b.faults[p]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return engine.Errorf(f.tag, p, "injected fault")
}

// StatFolderChildren implements engine.Backend.
func (b *Backend) StatFolderChildren(ctx context.Context, p string) ([]engine.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = clean(p)
	if b.OnList != nil {
		b.OnList(p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listings[p]++
	if err := b.injected(p); err != nil {
		return nil, err
	}
	n := b.lookup(p)
	if n == nil {
		return nil, &engine.Error{Tag: engine.ErrorTagNotFound, Path: p}
	}
	return b.children(n, p)
}

func (b *Backend) children(n *node, p string) ([]engine.Child, error) {
	if n.stat.Tag != engine.TagFolder {
		return nil, &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: p}
	}
	out := make([]engine.Child, len(n.children))
	for i, c := range n.children {
		out[i] = engine.Child{Name: c.name, Stat: c.stat}
	}
	return out, nil
}

// StatFolderChildrenByID implements engine.BackendIDLister. Faults injected on
// the folder's path apply; the listing is not counted by Listings.
func (b *Backend) StatFolderChildrenByID(ctx context.Context, id engine.EntryID) ([]engine.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.byID[id]
	if !ok {
		return nil, &engine.Error{Tag: engine.ErrorTagNotFound, Path: string(id)}
	}
	if p, ok := b.pathOf(b.root, n, "/"); ok {
		if err := b.injected(p); err != nil {
			return nil, err
		}
	}
	return b.children(n, string(id))
}

// pathOf finds the path of target below cur, which lives at p.
func (b *Backend) pathOf(cur, target *node, p string) (string, bool) {
	if cur == target {
		return p, true
	}
	for _, c := range cur.children {
		if found, ok := b.pathOf(c, target, path.Join(p, c.name)); ok {
			return found, true
		}
	}
	return "", false
}

// StatEntry implements engine.Backend.
func (b *Backend) StatEntry(ctx context.Context, p string) (engine.RawStat, error) {
	if err := ctx.Err(); err != nil {
		return engine.RawStat{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p = clean(p)
	if err := b.injected(p); err != nil {
		return engine.RawStat{}, err
	}
	n := b.lookup(p)
	if n == nil {
		return engine.RawStat{}, &engine.Error{Tag: engine.ErrorTagNotFound, Path: p}
	}
	return n.stat, nil
}

// Type implements engine.Backend.
func (b *Backend) Type() string { return "memory" }

// Close implements engine.Backend.
func (b *Backend) Close() error { return nil }
