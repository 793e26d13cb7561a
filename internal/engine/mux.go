package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Mux routes Engine calls to the backend registered under each handle.
type Mux struct {
	mu       sync.RWMutex
	next     Handle
	backends map[Handle]Backend
}

// NewMux creates an empty Mux. Handles start at 1.
func NewMux() *Mux {
	return &Mux{
		next:     1,
		backends: make(map[Handle]Backend),
	}
}

// Register starts serving b and returns its handle.
func (m *Mux) Register(b Backend) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.next
	m.next++
	m.backends[h] = b
	return h
}

// Unregister stops serving the handle and closes its backend.
func (m *Mux) Unregister(h Handle) error {
	m.mu.Lock()
	b, ok := m.backends[h]
	delete(m.backends, h)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Close()
}

// Backend returns the backend behind h.
func (m *Mux) Backend(h Handle) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[h]
	if !ok {
		return nil, &Error{Tag: ErrorTagNotFound, Path: fmt.Sprintf("handle %d", h), Err: ErrUnknownHandle}
	}
	return b, nil
}

// Handles lists the registered handles in ascending order.
func (m *Mux) Handles() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handle, 0, len(m.backends))
	for h := range m.backends {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StatFolderChildren implements Engine.
func (m *Mux) StatFolderChildren(ctx context.Context, h Handle, path string) ([]Child, error) {
	b, err := m.Backend(h)
	if err != nil {
		return nil, err
	}
	return b.StatFolderChildren(ctx, path)
}

// StatEntry implements Engine.
func (m *Mux) StatEntry(ctx context.Context, h Handle, path string) (RawStat, error) {
	b, err := m.Backend(h)
	if err != nil {
		return RawStat{}, err
	}
	return b.StatEntry(ctx, path)
}

// StatFolderChildrenByID implements IDLister for backends that support it.
func (m *Mux) StatFolderChildrenByID(ctx context.Context, h Handle, id EntryID) ([]Child, error) {
	b, err := m.Backend(h)
	if err != nil {
		return nil, err
	}
	l, ok := b.(BackendIDLister)
	if !ok {
		return nil, &Error{Tag: ErrorTagInternal, Path: string(id), Err: fmt.Errorf("%s: %w", b.Type(), ErrNoIDListing)}
	}
	return l.StatFolderChildrenByID(ctx, id)
}

// Close unregisters and closes every backend, returning the first error.
func (m *Mux) Close() error {
	var first error
	for _, h := range m.Handles() {
		if err := m.Unregister(h); err != nil && first == nil {
			first = err
		}
	}
	return first
}
