// Package s3store serves a workspace from an S3-compatible bucket prefix.
// Common prefixes under the delimiter are folders and objects are files.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/CageChen/entrytree/internal/engine"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// API is the subset of the S3 client the backend needs.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Backend implements engine.Backend over a bucket prefix.
type Backend struct {
	client API
	bucket string
	prefix string
}

// New creates a Backend from connection settings.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates a Backend over an existing client.
func NewWithClient(client API, bucket, prefix string) *Backend {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Backend{client: client, bucket: bucket, prefix: prefix}
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// rel turns a workspace path into a slash-separated key suffix ("" for the root).
func rel(p string) string {
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if len(kept) > 0 {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

// folderPrefix returns the key prefix under which a folder's children live.
func (b *Backend) folderPrefix(relPath string) string {
	if relPath == "" {
		return b.prefix
	}
	return b.prefix + relPath + "/"
}

func (b *Backend) id(relPath string) engine.EntryID {
	return engine.EntryID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+b.bucket+"/"+b.prefix+relPath)).String())
}

func parentRel(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[:i]
	}
	return ""
}

func (b *Backend) folderStat(relPath string) engine.RawStat {
	return engine.RawStat{
		Tag:         engine.TagFolder,
		ID:          b.id(relPath),
		Parent:      b.id(parentRel(relPath)),
		BaseVersion: 1,
	}
}

func (b *Backend) fileStat(relPath string, size *int64, updated int64) engine.RawStat {
	st := engine.RawStat{
		Tag:         engine.TagFile,
		ID:          b.id(relPath),
		Parent:      b.id(parentRel(relPath)),
		Created:     updated,
		Updated:     updated,
		BaseVersion: 1,
	}
	if size != nil && *size > 0 {
		st.Size = uint64(*size)
	}
	return st
}

// StatFolderChildren implements engine.Backend.
func (b *Backend) StatFolderChildren(ctx context.Context, p string) ([]engine.Child, error) {
	r := rel(p)
	prefix := b.folderPrefix(r)

	var children []engine.Child
	seen := false
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapErr("/"+r, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			seen = true
			children = append(children, engine.Child{Name: name, Stat: b.folderStat(join(r, name))})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			seen = true
			if name == "" {
				// folder marker object
				continue
			}
			var updated int64
			if obj.LastModified != nil {
				updated = obj.LastModified.Unix()
			}
			children = append(children, engine.Child{Name: name, Stat: b.fileStat(join(r, name), obj.Size, updated)})
		}
	}

	if !seen && r != "" {
		if _, err := b.head(ctx, b.prefix+r); err == nil {
			return nil, &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: "/" + r}
		}
		return nil, &engine.Error{Tag: engine.ErrorTagNotFound, Path: "/" + r}
	}
	return children, nil
}

// StatEntry implements engine.Backend.
func (b *Backend) StatEntry(ctx context.Context, p string) (engine.RawStat, error) {
	r := rel(p)
	if r == "" {
		return b.folderStat(""), nil
	}

	out, err := b.head(ctx, b.prefix+r)
	if err == nil {
		var updated int64
		if out.LastModified != nil {
			updated = out.LastModified.Unix()
		}
		return b.fileStat(r, out.ContentLength, updated), nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return engine.RawStat{}, mapErr("/"+r, err)
	}

	list, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.folderPrefix(r)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return engine.RawStat{}, mapErr("/"+r, err)
	}
	if len(list.Contents) == 0 && len(list.CommonPrefixes) == 0 {
		return engine.RawStat{}, &engine.Error{Tag: engine.ErrorTagNotFound, Path: "/" + r}
	}
	return b.folderStat(r), nil
}

func (b *Backend) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr("/"+strings.TrimPrefix(key, b.prefix), err)
	}
	return out, nil
}

// Type implements engine.Backend.
func (b *Backend) Type() string { return "s3" }

// Close implements engine.Backend.
func (b *Backend) Close() error { return nil }

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func mapErr(p string, err error) error {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch code := re.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return &engine.Error{Tag: engine.ErrorTagNotFound, Path: p, Err: err}
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return &engine.Error{Tag: engine.ErrorTagAccessDenied, Path: p, Err: err}
		case code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests || code >= 500:
			return &engine.Error{Tag: engine.ErrorTagOffline, Path: p, Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &engine.Error{Tag: engine.ErrorTagOffline, Path: p, Err: err}
	}
	return &engine.Error{Tag: engine.ErrorTagInternal, Path: p, Err: err}
}
