package cache

import (
	"testing"
	"time"
)

func TestCache_GetPut(t *testing.T) {
	c := New[int](10, 0)
	k := Key{Workspace: "docs", Path: "/a", Variant: "12/10000"}

	if _, ok := c.Get(k); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(k, 42)
	v, ok := c.Get(k)
	if !ok || v != 42 {
		t.Errorf("expected hit 42, got %d (%v)", v, ok)
	}

	other := k
	other.Variant = "0/10"
	if _, ok := c.Get(other); ok {
		t.Error("expected a different variant to miss")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New[string](10, 0)
	put := func(ws, p string) { c.Put(Key{Workspace: ws, Path: p}, p) }
	put("docs", "/")
	put("docs", "/a")
	put("docs", "/a/b")
	put("docs", "/ab")
	put("docs", "/c")
	put("media", "/a")

	if n := c.Invalidate("docs", "/a"); n != 3 {
		t.Errorf("expected 3 entries dropped (/, /a, /a/b), got %d", n)
	}
	for _, p := range []string{"/ab", "/c"} {
		if _, ok := c.Get(Key{Workspace: "docs", Path: p}); !ok {
			t.Errorf("expected %s to survive", p)
		}
	}
	if _, ok := c.Get(Key{Workspace: "media", Path: "/a"}); !ok {
		t.Error("expected other workspaces to be untouched")
	}

	if n := c.InvalidateWorkspace("docs"); n != 2 {
		t.Errorf("expected 2 entries dropped, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2, 0)
	clock := time.Unix(0, 0)
	c.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	a, b, d := Key{Path: "/a"}, Key{Path: "/b"}, Key{Path: "/d"}
	c.Put(a, 1)
	c.Put(b, 2)
	c.Get(a)
	c.Put(d, 3)

	if _, ok := c.Get(b); ok {
		t.Error("expected /b to be evicted")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("expected /a to survive")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}

func TestCache_TTL(t *testing.T) {
	c := New[int](10, time.Minute)
	clock := time.Unix(0, 0)
	c.now = func() time.Time { return clock }

	k := Key{Path: "/a"}
	c.Put(k, 1)
	clock = clock.Add(30 * time.Second)
	if _, ok := c.Get(k); !ok {
		t.Error("expected hit before expiry")
	}
	clock = clock.Add(time.Minute)
	if _, ok := c.Get(k); ok {
		t.Error("expected miss after expiry")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		p, dir string
		want   bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/ab", "/a", false},
		{"/x", "/", true},
		{"/a", "/a/b", false},
	}
	for _, tt := range tests {
		if got := within(tt.p, tt.dir); got != tt.want {
			t.Errorf("within(%q, %q) = %v, expected %v", tt.p, tt.dir, got, tt.want)
		}
	}
}
