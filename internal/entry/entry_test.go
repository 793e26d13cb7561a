package entry

import (
	"testing"
	"time"

	"github.com/CageChen/entrytree/internal/engine"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/", "a.txt", "/a.txt"},
		{"/dir", "b.txt", "/dir/b.txt"},
		{"/dir/", "b.txt", "/dir/b.txt"},
		{"//dir//sub/", "/c", "/dir/sub/c"},
		{"", "x", "/x"},
		{"/", "", "/"},
		{"/a", "", "/a"},
	}
	for _, tt := range tests {
		if got := JoinPath(tt.parent, tt.name); got != tt.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"/":          "",
		"/a.txt":     "a.txt",
		"/dir/b.txt": "b.txt",
		"/dir/sub/":  "sub",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCook_File(t *testing.T) {
	point := engine.EntryID("rule-1")
	raw := engine.RawStat{
		Tag:              engine.TagFile,
		ID:               "f1",
		Parent:           "p1",
		Created:          1700000000,
		Updated:          1700000060,
		BaseVersion:      3,
		NeedSync:         true,
		Size:             250,
		ConfinementPoint: &point,
	}

	d := Cook("/docs/", "report.pdf", raw)
	f, ok := d.(*File)
	if !ok {
		t.Fatalf("expected *File, got %T", d)
	}
	if !IsFile(d) {
		t.Error("expected IsFile to be true")
	}
	if f.Path != "/docs/report.pdf" {
		t.Errorf("expected path /docs/report.pdf, got %s", f.Path)
	}
	if f.Name != "report.pdf" {
		t.Errorf("expected name report.pdf, got %s", f.Name)
	}
	if f.Size != 250 {
		t.Errorf("expected size 250, got %d", f.Size)
	}
	if !f.Created.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected created time %v", f.Created)
	}
	if f.Updated.Sub(f.Created) != time.Minute {
		t.Errorf("expected updated one minute after created, got %v", f.Updated.Sub(f.Created))
	}
	if f.Created.Location() != time.UTC {
		t.Error("expected UTC timestamps")
	}
	if f.ID != "f1" || f.ParentID != "p1" || f.BaseVersion != 3 || !f.NeedSync || f.IsPlaceholder {
		t.Errorf("identity fields not carried over: %+v", f.Common)
	}
	if !d.Info().IsConfined() {
		t.Error("expected entry to be confined")
	}
}

func TestCook_Folder(t *testing.T) {
	raw := engine.RawStat{Tag: engine.TagFolder, ID: "d1", Size: 999}

	d := Cook("/", "photos", raw)
	if IsFile(d) {
		t.Fatal("expected a folder")
	}
	if _, ok := d.(*Folder); !ok {
		t.Fatalf("expected *Folder, got %T", d)
	}
	if d.Info().Path != "/photos" {
		t.Errorf("expected path /photos, got %s", d.Info().Path)
	}
	if d.Info().IsConfined() {
		t.Error("expected entry not to be confined")
	}
}

func TestCookAt(t *testing.T) {
	d := CookAt("/a//b/", engine.RawStat{Tag: engine.TagFolder})
	if d.Info().Path != "/a/b" || d.Info().Name != "b" {
		t.Errorf("unexpected path/name %q/%q", d.Info().Path, d.Info().Name)
	}
}

func TestCook_UnknownTagPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unknown tag")
		}
	}()
	Cook("/", "x", engine.RawStat{Tag: "Symlink"})
}

func TestCookChildren_KeepsOrder(t *testing.T) {
	children := []engine.Child{
		{Name: "z", Stat: engine.RawStat{Tag: engine.TagFile, Size: 1}},
		{Name: "a", Stat: engine.RawStat{Tag: engine.TagFolder}},
	}
	got := CookChildren("/root", children)
	if len(got) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(got))
	}
	if got[0].Info().Path != "/root/z" || got[1].Info().Path != "/root/a" {
		t.Errorf("order not preserved: %s, %s", got[0].Info().Path, got[1].Info().Path)
	}
}
