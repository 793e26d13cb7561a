// Package engine defines the boundary to the storage engine that owns workspaces.
//
// Everything behind this boundary (encryption, sync, mounting) is someone else's
// problem; this package only describes the listing and stat primitives the tree
// walker consumes, and the raw records they return.
package engine

import "context"

// Handle identifies a started workspace.
type Handle uint32

// EntryID is an opaque entry identifier assigned by the engine.
type EntryID string

// EntryTag is the kind tag carried by a raw stat record.
type EntryTag string

// Entry kinds.
const (
	TagFile   EntryTag = "File"
	TagFolder EntryTag = "Folder"
)

// RawStat is a stat record exactly as the engine hands it over.
// Timestamps are epoch seconds and Size is only meaningful for files.
type RawStat struct {
	Tag              EntryTag
	ID               EntryID
	Parent           EntryID
	Created          int64
	Updated          int64
	BaseVersion      uint32
	IsPlaceholder    bool
	NeedSync         bool
	Size             uint64
	ConfinementPoint *EntryID
}

// Child is one (name, stat) pair from a folder listing.
type Child struct {
	Name string
	Stat RawStat
}

// Engine is the capability consumed from the storage engine. All paths are
// absolute, '/'-separated workspace paths.
type Engine interface {
	StatFolderChildren(ctx context.Context, h Handle, path string) ([]Child, error)
	StatEntry(ctx context.Context, h Handle, path string) (RawStat, error)
}

// IDLister is implemented by engines that can list a folder by its identifier,
// which survives a concurrent rename of the folder being listed.
type IDLister interface {
	StatFolderChildrenByID(ctx context.Context, h Handle, id EntryID) ([]Child, error)
}

// Backend serves a single workspace. The Mux turns a set of backends into an Engine.
type Backend interface {
	StatFolderChildren(ctx context.Context, path string) ([]Child, error)
	StatEntry(ctx context.Context, path string) (RawStat, error)
	// Type returns the backend type identifier ("local", "git", "s3", "sql", "memory").
	Type() string
	Close() error
}

// BackendIDLister is the per-workspace form of IDLister.
type BackendIDLister interface {
	StatFolderChildrenByID(ctx context.Context, id EntryID) ([]Child, error)
}
