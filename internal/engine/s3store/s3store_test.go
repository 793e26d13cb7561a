package s3store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/CageChen/entrytree/internal/engine"
)

// fakeBucket is an in-memory bucket that pages two items at a time.
type fakeBucket struct {
	objects map[string]int64
	mtime   time.Time
	calls   int
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls++
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type item struct {
		key    string
		folder bool
	}
	var items []item
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					items = append(items, item{key: cp, folder: true})
				}
				continue
			}
		}
		items = append(items, item{key: k})
	}

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	pageSize := 2
	if in.MaxKeys != nil {
		pageSize = int(*in.MaxKeys)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	if end < len(items) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, it := range items[start:end] {
		if it.folder {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.key)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(it.key),
			Size:         aws.Int64(f.objects[it.key]),
			LastModified: aws.Time(f.mtime),
		})
	}
	return out, nil
}

func (f *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &engine.Error{Tag: engine.ErrorTagNotFound, Path: aws.ToString(in.Key)}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(size), LastModified: aws.Time(f.mtime)}, nil
}

func newFakeBackend() (*Backend, *fakeBucket) {
	f := &fakeBucket{
		mtime:   time.Unix(1700000000, 0),
		objects: map[string]int64{
			"ws/a.txt":          100,
			"ws/b.txt":          250,
			"ws/docs/":          0,
			"ws/docs/guide.md":  40,
			"ws/sub/deep/c.txt": 50,
			"other/x.txt":       1,
		},
	}
	return NewWithClient(f, "bucket", "/ws/"), f
}

func TestBackend_StatFolderChildren_Paginated(t *testing.T) {
	b, f := newFakeBackend()

	children, err := b.StatFolderChildren(context.Background(), "/")
	if err != nil {
		t.Fatalf("StatFolderChildren failed: %v", err)
	}
	if f.calls < 2 {
		t.Errorf("expected several pages, got %d calls", f.calls)
	}

	kinds := map[string]engine.EntryTag{}
	for _, c := range children {
		kinds[c.Name] = c.Stat.Tag
	}
	want := map[string]engine.EntryTag{
		"a.txt": engine.TagFile,
		"b.txt": engine.TagFile,
		"docs":  engine.TagFolder,
		"sub":   engine.TagFolder,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d children, got %v", len(want), kinds)
	}
	for name, tag := range want {
		if kinds[name] != tag {
			t.Errorf("expected %s to be %s, got %q", name, tag, kinds[name])
		}
	}
}

func TestBackend_FolderMarkerSkipped(t *testing.T) {
	b, _ := newFakeBackend()

	children, err := b.StatFolderChildren(context.Background(), "/docs")
	if err != nil {
		t.Fatalf("StatFolderChildren failed: %v", err)
	}
	if len(children) != 1 || children[0].Name != "guide.md" || children[0].Stat.Size != 40 {
		t.Fatalf("expected [guide.md], got %+v", children)
	}
	if children[0].Stat.Updated != 1700000000 {
		t.Errorf("expected LastModified as timestamp, got %d", children[0].Stat.Updated)
	}

	docs, err := b.StatEntry(context.Background(), "/docs")
	if err != nil {
		t.Fatalf("StatEntry failed: %v", err)
	}
	if children[0].Stat.Parent != docs.ID {
		t.Error("expected guide.md parent to be the docs id")
	}
}

func TestBackend_StatEntry(t *testing.T) {
	b, _ := newFakeBackend()
	ctx := context.Background()

	st, err := b.StatEntry(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("StatEntry failed: %v", err)
	}
	if st.Tag != engine.TagFile || st.Size != 100 {
		t.Errorf("unexpected stat %+v", st)
	}

	st, err = b.StatEntry(ctx, "/sub")
	if err != nil {
		t.Fatalf("StatEntry failed: %v", err)
	}
	if st.Tag != engine.TagFolder {
		t.Errorf("expected implicit folder, got %+v", st)
	}

	if _, err := b.StatEntry(ctx, "/x.txt"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected keys outside the prefix to be invisible, got %v", err)
	}
}

func TestBackend_Errors(t *testing.T) {
	b, _ := newFakeBackend()
	ctx := context.Background()

	if _, err := b.StatFolderChildren(ctx, "/missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := b.StatFolderChildren(ctx, "/a.txt"); !errors.Is(err, engine.ErrNotAFolder) {
		t.Errorf("expected not a folder, got %v", err)
	}
}

func TestRel(t *testing.T) {
	tests := map[string]string{
		"/":          "",
		"":           "",
		"/a/b":       "a/b",
		"a//b/":      "a/b",
		"/a/../b":    "b",
		"/../../etc": "etc",
		"/./a":       "a",
	}
	for in, want := range tests {
		if got := rel(in); got != want {
			t.Errorf("rel(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	if got := endpointURL("localhost:9000", false); got != "http://localhost:9000" {
		t.Errorf("unexpected %q", got)
	}
	if got := endpointURL("minio.example.com", true); got != "https://minio.example.com" {
		t.Errorf("unexpected %q", got)
	}
	if got := endpointURL("https://s3.example.com", false); got != "https://s3.example.com" {
		t.Errorf("unexpected %q", got)
	}
}
