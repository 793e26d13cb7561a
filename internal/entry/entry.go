// Package entry turns raw engine stat records into application-facing descriptors.
package entry

import (
	"fmt"
	"strings"
	"time"

	"github.com/CageChen/entrytree/internal/engine"
)

// Common holds the attributes shared by files and folders.
type Common struct {
	ID               engine.EntryID  `json:"id"`
	ParentID         engine.EntryID  `json:"parent"`
	Path             string          `json:"path"`
	Name             string          `json:"name"`
	Created          time.Time       `json:"created"`
	Updated          time.Time       `json:"updated"`
	BaseVersion      uint32          `json:"baseVersion"`
	IsPlaceholder    bool            `json:"isPlaceholder"`
	NeedSync         bool            `json:"needSync"`
	ConfinementPoint *engine.EntryID `json:"confinementPoint"`
}

// IsConfined reports whether a confinement rule hides the entry from sync.
func (c *Common) IsConfined() bool {
	return c.ConfinementPoint != nil
}

// Info returns the shared attributes.
func (c *Common) Info() *Common {
	return c
}

// Descriptor is either a *File or a *Folder.
type Descriptor interface {
	Info() *Common
	isDescriptor()
}

// File is a file descriptor. Only files carry a size.
type File struct {
	Common
	Size uint64 `json:"size"`
}

// Folder is a folder descriptor.
type Folder struct {
	Common
}

func (*File) isDescriptor()   {}
func (*Folder) isDescriptor() {}

// IsFile reports whether d is a file.
func IsFile(d Descriptor) bool {
	_, ok := d.(*File)
	return ok
}

// JoinPath joins a parent path and a name with a single '/', collapsing
// duplicate separators. The result is always absolute.
func JoinPath(parent, name string) string {
	var b strings.Builder
	b.Grow(len(parent) + len(name) + 2)
	b.WriteByte('/')
	for _, part := range [2]string{parent, name} {
		for _, seg := range strings.Split(part, "/") {
			if seg == "" {
				continue
			}
			if b.Len() > 1 {
				b.WriteByte('/')
			}
			b.WriteString(seg)
		}
	}
	return b.String()
}

// BaseName returns the last element of an absolute path, "" for the root.
func BaseName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Cook builds the descriptor for a child named name listed under parentPath.
// It panics on an unknown kind tag: that means the engine and this package
// disagree on the record shape.
func Cook(parentPath, name string, raw engine.RawStat) Descriptor {
	return CookAt(JoinPath(parentPath, name), raw)
}

// CookAt builds the descriptor for a record obtained by stat-ing p directly.
func CookAt(p string, raw engine.RawStat) Descriptor {
	p = JoinPath(p, "")
	common := Common{
		ID:               raw.ID,
		ParentID:         raw.Parent,
		Path:             p,
		Name:             BaseName(p),
		Created:          time.Unix(raw.Created, 0).UTC(),
		Updated:          time.Unix(raw.Updated, 0).UTC(),
		BaseVersion:      raw.BaseVersion,
		IsPlaceholder:    raw.IsPlaceholder,
		NeedSync:         raw.NeedSync,
		ConfinementPoint: raw.ConfinementPoint,
	}
	switch raw.Tag {
	case engine.TagFile:
		return &File{Common: common, Size: raw.Size}
	case engine.TagFolder:
		return &Folder{Common: common}
	default:
		panic(fmt.Sprintf("entry: unknown stat tag %q for %s", raw.Tag, p))
	}
}

// CookChildren cooks a whole folder listing, preserving the engine's order.
func CookChildren(parentPath string, children []engine.Child) []Descriptor {
	out := make([]Descriptor, len(children))
	for i, c := range children {
		out[i] = Cook(parentPath, c.Name, c.Stat)
	}
	return out
}
