package workspace

import (
	"context"
	"fmt"

	"github.com/CageChen/entrytree/internal/config"
	"github.com/CageChen/entrytree/internal/engine"
	"github.com/CageChen/entrytree/internal/engine/gitref"
	"github.com/CageChen/entrytree/internal/engine/local"
	"github.com/CageChen/entrytree/internal/engine/memengine"
	"github.com/CageChen/entrytree/internal/engine/s3store"
	"github.com/CageChen/entrytree/internal/engine/sqlstore"
)

// NewBackend creates the engine backend described by a workspace definition.
func NewBackend(ctx context.Context, ws config.Workspace) (engine.Backend, error) {
	switch ws.Backend {
	case config.BackendLocal, "":
		b, err := local.New(ws.Path, ws.Confine)
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.BackendGit:
		return gitref.New(ws.Path, ws.GitRef), nil

	case config.BackendS3:
		if ws.S3 == nil {
			return nil, fmt.Errorf("s3 backend requires an s3 section")
		}
		b, err := s3store.New(ctx, s3store.Config{
			Endpoint:  ws.S3.Endpoint,
			Bucket:    ws.S3.Bucket,
			Prefix:    ws.S3.Prefix,
			AccessKey: ws.S3.AccessKey,
			SecretKey: ws.S3.SecretKey,
			Region:    ws.S3.Region,
			UseSSL:    ws.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.BackendSQL:
		if ws.SQL == nil {
			return nil, fmt.Errorf("sql backend requires a sql section")
		}
		store, err := sqlstore.Open(ctx, ws.SQL.Driver, ws.SQL.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	case config.BackendMemory:
		b := memengine.New()
		for _, s := range ws.Seed {
			var err error
			if s.Dir {
				_, err = b.AddFolder(s.Path)
			} else {
				_, err = b.AddFile(s.Path, s.Size)
			}
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", s.Path, err)
			}
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", ws.Backend)
	}
}
