// Package walker aggregates the size and the files under a workspace folder
// with a depth ceiling and a file-count ceiling.
//
// The walk is depth-first and sequential: one folder listing at a time, children
// visited in the order the engine returns them. A single accumulator is threaded
// through the recursion so that a limit hit anywhere stops every enclosing level.
package walker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/CageChen/entrytree/internal/engine"
	"github.com/CageChen/entrytree/internal/entry"
	"github.com/CageChen/entrytree/internal/metrics"
	"github.com/CageChen/entrytree/internal/retry"
)

// Limits bounds a walk. MaxDepth 0 lists the starting folder only.
type Limits struct {
	MaxDepth int `yaml:"max_depth" json:"maxDepth"`
	MaxFiles int `yaml:"max_files" json:"maxFiles"`
}

// DefaultLimits returns the limits used when the caller has no opinion.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 12, MaxFiles: 10000}
}

// Validate rejects a negative depth or a non-positive file count.
func (l Limits) Validate() error {
	if l.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", l.MaxDepth)
	}
	if l.MaxFiles <= 0 {
		return fmt.Errorf("max files must be > 0, got %d", l.MaxFiles)
	}
	return nil
}

// BranchFailure records a folder whose listing failed and was treated as empty.
type BranchFailure struct {
	Path    string          `json:"path"`
	Tag     engine.ErrorTag `json:"tag"`
	Message string          `json:"message"`
}

// EntryTree is the result of a walk. When either flag is set, TotalSize and
// Entries cover the prefix of the tree visited before the limit was hit.
type EntryTree struct {
	TotalSize           uint64          `json:"totalSize"`
	Entries             []*entry.File   `json:"entries"`
	MaxRecursionReached bool            `json:"maxRecursionReached"`
	MaxFilesReached     bool            `json:"maxFilesReached"`
	Failures            []BranchFailure `json:"failures,omitempty"`
}

// Truncated reports whether a limit cut the walk short.
func (t *EntryTree) Truncated() bool {
	return t.MaxRecursionReached || t.MaxFilesReached
}

// Walker computes entry trees against an engine.
type Walker struct {
	eng      engine.Engine
	retry    retry.Config
	logger   *zap.Logger
	listByID bool
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger sets the logger used for absorbed failures and truncations.
func WithLogger(l *zap.Logger) Option {
	return func(w *Walker) { w.logger = l }
}

// WithRetry sets the retry policy for offline listings.
func WithRetry(cfg retry.Config) Option {
	return func(w *Walker) { w.retry = cfg }
}

// WithListByID lists subfolders by identifier when the engine supports it, so a
// folder renamed between its parent's listing and its own is still enumerated.
func WithListByID(enabled bool) Option {
	return func(w *Walker) { w.listByID = enabled }
}

// New creates a Walker.
func New(eng engine.Engine, opts ...Option) *Walker {
	w := &Walker{
		eng:    eng,
		retry:  retry.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type accumulator struct {
	tree   *EntryTree
	limits Limits
}

func (a *accumulator) stopped() bool {
	return a.tree.Truncated()
}

func (a *accumulator) addFile(f *entry.File) {
	a.tree.TotalSize += f.Size
	a.tree.Entries = append(a.tree.Entries, f)
	if len(a.tree.Entries) > a.limits.MaxFiles {
		a.tree.MaxFilesReached = true
	}
}

func (a *accumulator) fail(path string, err error) {
	a.tree.Failures = append(a.tree.Failures, BranchFailure{
		Path:    path,
		Tag:     engine.TagOf(err),
		Message: err.Error(),
	})
}

// Walk aggregates the tree under path. Listing failures never fail the walk;
// the only error returned is ctx's, in which case the partial tree is dropped.
func (w *Walker) Walk(ctx context.Context, h engine.Handle, path string, lim Limits) (*EntryTree, error) {
	if err := lim.Validate(); err != nil {
		return nil, err
	}
	acc := &accumulator{
		tree:   &EntryTree{Entries: []*entry.File{}},
		limits: lim,
	}
	root := folderRef{path: entry.JoinPath(path, "")}
	if err := w.walk(ctx, h, acc, root, 0); err != nil {
		return nil, err
	}

	if acc.tree.MaxRecursionReached {
		w.logger.Debug("max depth reached", zap.String("path", root.path), zap.Int("max_depth", lim.MaxDepth))
	}
	if acc.tree.MaxFilesReached {
		w.logger.Debug("max files reached", zap.String("path", root.path), zap.Int("max_files", lim.MaxFiles))
	}
	return acc.tree, nil
}

type folderRef struct {
	path string
	id   engine.EntryID
}

func (w *Walker) walk(ctx context.Context, h engine.Handle, acc *accumulator, dir folderRef, depth int) error {
	children, err := w.list(ctx, h, dir)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.logger.Warn("folder listing failed, skipping branch",
			zap.String("path", dir.path),
			zap.String("tag", string(engine.TagOf(err))),
			zap.Error(err))
		metrics.RecordListingFailure(string(engine.TagOf(err)))
		acc.fail(dir.path, err)
		return nil
	}

	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch d := entry.Cook(dir.path, child.Name, child.Stat).(type) {
		case *entry.File:
			acc.addFile(d)
		case *entry.Folder:
			if depth >= acc.limits.MaxDepth {
				acc.tree.MaxRecursionReached = true
				return nil
			}
			if err := w.walk(ctx, h, acc, folderRef{path: d.Path, id: d.ID}, depth+1); err != nil {
				return err
			}
		}
		if acc.stopped() {
			return nil
		}
	}
	return nil
}

func (w *Walker) list(ctx context.Context, h engine.Handle, dir folderRef) ([]engine.Child, error) {
	return retry.DoWithResult(ctx, w.retry, func() ([]engine.Child, error) {
		metrics.RecordListing()
		if w.listByID && dir.id != "" {
			if l, ok := w.eng.(engine.IDLister); ok {
				children, err := l.StatFolderChildrenByID(ctx, h, dir.id)
				if !errors.Is(err, engine.ErrNoIDListing) {
					return children, err
				}
			}
		}
		return w.eng.StatFolderChildren(ctx, h, dir.path)
	})
}
