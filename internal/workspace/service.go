// Package workspace opens the configured workspaces on the engine and serves
// entry trees, listings, and stats for them by name.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CageChen/entrytree/internal/cache"
	"github.com/CageChen/entrytree/internal/config"
	"github.com/CageChen/entrytree/internal/engine"
	"github.com/CageChen/entrytree/internal/engine/local"
	"github.com/CageChen/entrytree/internal/entry"
	"github.com/CageChen/entrytree/internal/metrics"
	"github.com/CageChen/entrytree/internal/retry"
	"github.com/CageChen/entrytree/internal/walker"
)

var (
	// ErrUnknownWorkspace is returned for a name no workspace was opened under.
	ErrUnknownWorkspace = errors.New("unknown workspace")
	// ErrInvalidLimits is returned for limits the walker rejects.
	ErrInvalidLimits = errors.New("invalid limits")
)

// Options configures a Service.
type Options struct {
	Limits    walker.Limits
	Retry     retry.Config
	Confine   []string // global patterns, prepended to each workspace's own
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zap.Logger
}

// Workspace is an opened workspace.
type Workspace struct {
	Config  config.Workspace
	Handle  engine.Handle
	Backend engine.Backend

	watched bool // a change feed invalidates its cached trees
}

// Info describes a workspace for API clients.
type Info struct {
	Name    string        `json:"name"`
	Backend string        `json:"backend"`
	Handle  engine.Handle `json:"handle"`
	Path    string        `json:"path,omitempty"`
	GitRef  string        `json:"gitRef,omitempty"`
}

// Root is a local workspace directory, as needed by the watcher.
type Root struct {
	Name string
	Dir  string
}

// Service serves the opened workspaces.
type Service struct {
	mux    *engine.Mux
	walker *walker.Walker
	cache  *cache.Cache[*walker.EntryTree]
	opts   Options
	logger *zap.Logger

	mu     sync.RWMutex
	byName map[string]*Workspace
	order  []string
}

// New creates a Service with no workspaces.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Limits == (walker.Limits{}) {
		opts.Limits = walker.DefaultLimits()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	mux := engine.NewMux()
	return &Service{
		mux: mux,
		walker: walker.New(mux,
			walker.WithLogger(opts.Logger),
			walker.WithRetry(opts.Retry),
			walker.WithListByID(true),
		),
		cache:  cache.New[*walker.EntryTree](opts.CacheSize, opts.CacheTTL),
		opts:   opts,
		logger: opts.Logger,
		byName: make(map[string]*Workspace),
	}
}

// Open creates and registers a backend for each workspace definition. On error
// the workspaces opened by this call are closed again.
func (s *Service) Open(ctx context.Context, defs []config.Workspace) error {
	var opened []string
	for _, def := range defs {
		if err := s.open(ctx, def); err != nil {
			for _, name := range opened {
				s.Remove(name)
			}
			return fmt.Errorf("workspace %q: %w", def.Name, err)
		}
		opened = append(opened, def.Name)
	}
	return nil
}

func (s *Service) open(ctx context.Context, def config.Workspace) error {
	s.mu.RLock()
	_, exists := s.byName[def.Name]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("already open")
	}

	if len(s.opts.Confine) > 0 {
		def.Confine = append(append([]string{}, s.opts.Confine...), def.Confine...)
	}
	b, err := NewBackend(ctx, def)
	if err != nil {
		return err
	}

	ws := &Workspace{Config: def, Backend: b, Handle: s.mux.Register(b)}
	s.mu.Lock()
	s.byName[def.Name] = ws
	s.order = append(s.order, def.Name)
	s.mu.Unlock()

	s.logger.Info("workspace opened",
		zap.String("workspace", def.Name),
		zap.String("backend", b.Type()),
		zap.Uint32("handle", uint32(ws.Handle)))
	return nil
}

// Remove closes the named workspace.
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	ws, ok := s.byName[name]
	if ok {
		delete(s.byName, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkspace, name)
	}
	s.cache.InvalidateWorkspace(name)
	return s.mux.Unregister(ws.Handle)
}

// Workspaces describes the opened workspaces in the order they were opened.
func (s *Service) Workspaces() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.byName[name].info())
	}
	return infos
}

// Info describes the named workspace.
func (s *Service) Info(name string) (Info, error) {
	ws, err := s.Lookup(name)
	if err != nil {
		return Info{}, err
	}
	return ws.info(), nil
}

func (ws *Workspace) info() Info {
	return Info{
		Name:    ws.Config.Name,
		Backend: ws.Backend.Type(),
		Handle:  ws.Handle,
		Path:    ws.Config.Path,
		GitRef:  ws.Config.GitRef,
	}
}

// Lookup returns the named workspace.
func (s *Service) Lookup(name string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkspace, name)
	}
	return ws, nil
}

// Roots lists the directories of local workspaces.
func (s *Service) Roots() []Root {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roots []Root
	for _, name := range s.order {
		if lb, ok := s.byName[name].Backend.(*local.Backend); ok {
			roots = append(roots, Root{Name: name, Dir: lb.Root()})
		}
	}
	return roots
}

// MarkWatched records that changes in the named workspace are reported through
// Invalidate, which makes its entry trees cacheable. Trees of unwatched
// workspaces are recomputed on every request.
func (s *Service) MarkWatched(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkspace, name)
	}
	ws.watched = true
	return nil
}

func (s *Service) isWatched(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.byName[name]
	return ok && ws.watched
}

// DefaultLimits returns the limits applied when a request names none.
func (s *Service) DefaultLimits() walker.Limits {
	return s.opts.Limits
}

// EntryTree walks the folder at path in the named workspace. For watched
// workspaces, results without branch failures are cached until a change under
// the path is reported or the cache TTL runs out.
func (s *Service) EntryTree(ctx context.Context, name, path string, lim walker.Limits) (*walker.EntryTree, error) {
	ws, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	backendType := ws.Backend.Type()
	if err := lim.Validate(); err != nil {
		metrics.RecordWalk(backendType, metrics.OutcomeInvalidInput, 0, 0)
		return nil, fmt.Errorf("%w: %v", ErrInvalidLimits, err)
	}

	path = entry.JoinPath(path, "")
	cacheable := s.isWatched(name)
	key := cache.Key{Workspace: name, Path: path, Variant: fmt.Sprintf("%d/%d", lim.MaxDepth, lim.MaxFiles)}
	if cacheable {
		if tree, ok := s.cache.Get(key); ok {
			return tree, nil
		}
	}

	start := time.Now()
	tree, err := s.walker.Walk(ctx, ws.Handle, path, lim)
	if err != nil {
		metrics.RecordWalk(backendType, metrics.OutcomeCancelled, time.Since(start), 0)
		return nil, err
	}
	metrics.RecordWalk(backendType, outcome(tree), time.Since(start), len(tree.Entries))

	if len(tree.Failures) > 0 {
		s.logger.Warn("entry tree has unreadable branches",
			zap.String("workspace", name),
			zap.String("path", path),
			zap.Int("failures", len(tree.Failures)))
	} else if cacheable {
		s.cache.Put(key, tree)
	}
	return tree, nil
}

func outcome(tree *walker.EntryTree) string {
	switch {
	case tree.MaxRecursionReached:
		return metrics.OutcomeMaxDepth
	case tree.MaxFilesReached:
		return metrics.OutcomeMaxFiles
	default:
		return metrics.OutcomeComplete
	}
}

// ListChildren returns the cooked children of the folder at path.
func (s *Service) ListChildren(ctx context.Context, name, path string) ([]entry.Descriptor, error) {
	ws, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	path = entry.JoinPath(path, "")
	children, err := retry.DoWithResult(ctx, s.opts.Retry, func() ([]engine.Child, error) {
		return s.mux.StatFolderChildren(ctx, ws.Handle, path)
	})
	if err != nil {
		return nil, err
	}
	return entry.CookChildren(path, children), nil
}

// StatEntry returns the cooked descriptor of the entry at path.
func (s *Service) StatEntry(ctx context.Context, name, path string) (entry.Descriptor, error) {
	ws, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	path = entry.JoinPath(path, "")
	raw, err := retry.DoWithResult(ctx, s.opts.Retry, func() (engine.RawStat, error) {
		return s.mux.StatEntry(ctx, ws.Handle, path)
	})
	if err != nil {
		return nil, err
	}
	return entry.CookAt(path, raw), nil
}

// Invalidate drops cached trees of the workspace related to path.
func (s *Service) Invalidate(name, path string) int {
	n := s.cache.Invalidate(name, entry.JoinPath(path, ""))
	if n > 0 {
		s.logger.Debug("cache invalidated",
			zap.String("workspace", name),
			zap.String("path", path),
			zap.Int("entries", n))
	}
	return n
}

// Close closes every workspace backend.
func (s *Service) Close() error {
	s.mu.Lock()
	s.byName = make(map[string]*Workspace)
	s.order = nil
	s.mu.Unlock()
	return s.mux.Close()
}
