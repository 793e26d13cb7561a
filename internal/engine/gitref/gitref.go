// Package gitref serves a read-only workspace from a git ref (branch, tag, or commit).
package gitref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/CageChen/entrytree/internal/engine"
)

// Backend implements engine.Backend by reading the object database of a repository.
type Backend struct {
	repoPath string
	ref      string
}

// New creates a Backend that reads entries from the given ref in the repository at repoPath.
func New(repoPath, ref string) *Backend {
	if ref == "" {
		ref = "HEAD"
	}
	return &Backend{repoPath: repoPath, ref: ref}
}

type gitError struct {
	args   []string
	stderr string
}

func (e *gitError) Error() string {
	return fmt.Sprintf("git %s: %s", strings.Join(e.args, " "), e.stderr)
}

func (b *Backend) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", b.repoPath}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &gitError{args: args, stderr: strings.TrimSpace(string(exitErr.Stderr))}
		}
		return nil, err
	}
	return out, nil
}

func rel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (b *Backend) id(relPath string) engine.EntryID {
	return engine.EntryID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("git://"+b.repoPath+"@"+b.ref+"/"+relPath)).String())
}

func parentRel(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[:i]
	}
	return ""
}

// commitTime returns the committer timestamp of the ref, in seconds.
func (b *Backend) commitTime(ctx context.Context) (int64, error) {
	out, err := b.git(ctx, "log", "-1", "--format=%ct", b.ref)
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse commit time: %w", err)
	}
	return sec, nil
}

// treeEntry is one record of `git ls-tree -l -z`: "<mode> <type> <hash> <size>\t<name>".
type treeEntry struct {
	objType string
	size    uint64
	name    string
}

func parseTree(out []byte) []treeEntry {
	var entries []treeEntry
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		tab := bytes.IndexByte(rec, '\t')
		if tab < 0 {
			continue
		}
		fields := strings.Fields(string(rec[:tab]))
		if len(fields) < 4 {
			continue
		}
		e := treeEntry{objType: fields[1], name: string(rec[tab+1:])}
		if fields[3] != "-" {
			e.size, _ = strconv.ParseUint(fields[3], 10, 64)
		}
		entries = append(entries, e)
	}
	return entries
}

func (b *Backend) stat(relPath string, e treeEntry, ts int64) engine.RawStat {
	st := engine.RawStat{
		ID:          b.id(relPath),
		Parent:      b.id(parentRel(relPath)),
		Created:     ts,
		Updated:     ts,
		BaseVersion: 1,
	}
	if e.objType == "tree" {
		st.Tag = engine.TagFolder
	} else {
		st.Tag = engine.TagFile
		st.Size = e.size
	}
	return st
}

// StatEntry implements engine.Backend.
func (b *Backend) StatEntry(ctx context.Context, p string) (engine.RawStat, error) {
	r := rel(p)
	ts, err := b.commitTime(ctx)
	if err != nil {
		return engine.RawStat{}, mapErr("/"+r, err)
	}
	if r == "" {
		return b.stat("", treeEntry{objType: "tree"}, ts), nil
	}

	out, err := b.git(ctx, "ls-tree", "-l", "-z", b.ref, "--", r)
	if err != nil {
		return engine.RawStat{}, mapErr("/"+r, err)
	}
	entries := parseTree(out)
	if len(entries) == 0 {
		return engine.RawStat{}, &engine.Error{Tag: engine.ErrorTagNotFound, Path: "/" + r}
	}
	return b.stat(r, entries[0], ts), nil
}

// StatFolderChildren implements engine.Backend. A single ls-tree of "<ref>:<path>"
// yields the names, kinds, and blob sizes of the immediate children.
func (b *Backend) StatFolderChildren(ctx context.Context, p string) ([]engine.Child, error) {
	r := rel(p)
	ts, err := b.commitTime(ctx)
	if err != nil {
		return nil, mapErr("/"+r, err)
	}
	out, err := b.git(ctx, "ls-tree", "-l", "-z", b.ref+":"+r)
	if err != nil {
		return nil, mapErr("/"+r, err)
	}

	entries := parseTree(out)
	children := make([]engine.Child, 0, len(entries))
	for _, e := range entries {
		childRel := e.name
		if r != "" {
			childRel = r + "/" + e.name
		}
		children = append(children, engine.Child{Name: e.name, Stat: b.stat(childRel, e, ts)})
	}
	return children, nil
}

// Type implements engine.Backend.
func (b *Backend) Type() string { return "git" }

// Close implements engine.Backend.
func (b *Backend) Close() error { return nil }

func mapErr(p string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ge *gitError
	if errors.As(err, &ge) {
		switch {
		case strings.Contains(ge.stderr, "not a tree object"):
			return &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: p, Err: err}
		case strings.Contains(ge.stderr, "Not a valid object name"),
			strings.Contains(ge.stderr, "does not exist"),
			strings.Contains(ge.stderr, "unknown revision"),
			strings.Contains(ge.stderr, "bad revision"):
			return &engine.Error{Tag: engine.ErrorTagNotFound, Path: p, Err: err}
		case strings.Contains(ge.stderr, "Permission denied"):
			return &engine.Error{Tag: engine.ErrorTagAccessDenied, Path: p, Err: err}
		}
	}
	return &engine.Error{Tag: engine.ErrorTagInternal, Path: p, Err: err}
}
