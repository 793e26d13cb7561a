// Package local serves a workspace from a directory on the local disk.
package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/CageChen/entrytree/internal/engine"
)

// Backend implements engine.Backend over a local directory.
type Backend struct {
	root    string
	confine *Rules
}

// New creates a Backend rooted at the given directory.
func New(root string, confine []string) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: abs}
	}
	return &Backend{root: abs, confine: NewRules(confine)}, nil
}

// Root returns the absolute directory backing the workspace.
func (b *Backend) Root() string {
	return b.root
}

// rel turns a workspace path into a cleaned, slash-separated relative path ("" for the root).
func rel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (b *Backend) abs(relPath string) string {
	if relPath == "" {
		return b.root
	}
	return filepath.Join(b.root, filepath.FromSlash(relPath))
}

func (b *Backend) id(relPath string) engine.EntryID {
	return engine.EntryID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+b.root+"/"+relPath)).String())
}

// lstat stats relPath without following symlinks. A symlink anywhere above
// the final element is reported as NotAFolder, so nothing outside the root is
// reachable through a link.
func (b *Backend) lstat(relPath string) (fs.FileInfo, error) {
	if relPath == "" {
		info, err := os.Stat(b.root)
		if err != nil {
			return nil, mapErr("/", err)
		}
		return info, nil
	}
	parts := strings.Split(relPath, "/")
	cur := b.root
	var info fs.FileInfo
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		var err error
		info, err = os.Lstat(cur)
		if err != nil {
			return nil, mapErr("/"+relPath, err)
		}
		if i < len(parts)-1 && info.Mode()&fs.ModeSymlink != 0 {
			return nil, &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: "/" + strings.Join(parts[:i+1], "/")}
		}
	}
	return info, nil
}

func parentRel(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[:i]
	}
	return ""
}

func (b *Backend) stat(relPath string, info fs.FileInfo) engine.RawStat {
	st := engine.RawStat{
		ID:          b.id(relPath),
		Parent:      b.id(parentRel(relPath)),
		Created:     info.ModTime().Unix(),
		Updated:     info.ModTime().Unix(),
		BaseVersion: 1,
	}
	if info.IsDir() {
		st.Tag = engine.TagFolder
	} else {
		st.Tag = engine.TagFile
		st.Size = uint64(info.Size())
	}
	if point, ok := b.confine.Point(relPath); ok {
		id := b.id(point)
		st.ConfinementPoint = &id
	}
	return st
}

// StatEntry implements engine.Backend.
func (b *Backend) StatEntry(ctx context.Context, p string) (engine.RawStat, error) {
	if err := ctx.Err(); err != nil {
		return engine.RawStat{}, err
	}
	r := rel(p)
	info, err := b.lstat(r)
	if err != nil {
		return engine.RawStat{}, err
	}
	return b.stat(r, info), nil
}

// StatFolderChildren implements engine.Backend. Children that vanish between
// the directory read and their own stat are left out of the listing.
func (b *Backend) StatFolderChildren(ctx context.Context, p string) ([]engine.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := rel(p)
	dir := b.abs(r)
	info, err := b.lstat(r)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: "/" + r}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mapErr("/"+r, err)
	}
	children := make([]engine.Child, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		childRel := e.Name()
		if r != "" {
			childRel = r + "/" + e.Name()
		}
		children = append(children, engine.Child{Name: e.Name(), Stat: b.stat(childRel, info)})
	}
	return children, nil
}

// Type implements engine.Backend.
func (b *Backend) Type() string { return "local" }

// Close implements engine.Backend.
func (b *Backend) Close() error { return nil }

func mapErr(p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &engine.Error{Tag: engine.ErrorTagNotFound, Path: p, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &engine.Error{Tag: engine.ErrorTagAccessDenied, Path: p, Err: err}
	default:
		return &engine.Error{Tag: engine.ErrorTagInternal, Path: p, Err: err}
	}
}
