// Package sqlstore serves a workspace from a files metadata table in
// PostgreSQL or DuckDB.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/CageChen/entrytree/internal/engine"
)

// Schema creates the files table. Timestamps are unix seconds.
const Schema = `CREATE TABLE IF NOT EXISTS files (
	id                TEXT PRIMARY KEY,
	parent_id         TEXT NOT NULL,
	name              TEXT NOT NULL,
	path              TEXT NOT NULL UNIQUE,
	parent_path       TEXT NOT NULL,
	size              BIGINT NOT NULL DEFAULT 0,
	created           BIGINT NOT NULL DEFAULT 0,
	updated           BIGINT NOT NULL DEFAULT 0,
	base_version      INTEGER NOT NULL DEFAULT 1,
	is_dir            BOOLEAN NOT NULL DEFAULT FALSE,
	is_placeholder    BOOLEAN NOT NULL DEFAULT FALSE,
	need_sync         BOOLEAN NOT NULL DEFAULT FALSE,
	confinement_point TEXT
)`

const columns = `id, parent_id, name, path, parent_path, size, created, updated,
	base_version, is_dir, is_placeholder, need_sync, confinement_point`

// RootID is reported for "/" when the table has no row for it.
const RootID engine.EntryID = "root"

// Row maps to the files table.
type Row struct {
	ID               string
	ParentID         string
	Name             string
	Path             string
	ParentPath       string
	Size             int64
	Created          int64
	Updated          int64
	BaseVersion      int64
	IsDir            bool
	IsPlaceholder    bool
	NeedSync         bool
	ConfinementPoint sql.NullString
}

// Store implements engine.Backend and engine.BackendIDLister over a database.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database with the given driver ("postgres" or "duckdb").
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	switch driverName {
	case "postgres", "duckdb":
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	switch driverName {
	case "postgres":
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	case "duckdb":
		// single writer; an empty DSN is an in-memory database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, driver: driverName}, nil
}

// Migrate creates the files table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create files table: %w", err)
	}
	return nil
}

// Put inserts a row, replacing any existing row with the same path. The
// replacement is atomic: a failed insert leaves the old row in place.
func (s *Store) Put(ctx context.Context, r Row) error {
	r.Path = normalizePath(r.Path)
	r.ParentPath = normalizePath(r.ParentPath)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(r.Path, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = $1`, r.Path); err != nil {
		return fmt.Errorf("delete %s: %w", r.Path, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.ParentID, r.Name, r.Path, r.ParentPath, r.Size, r.Created, r.Updated,
		r.BaseVersion, r.IsDir, r.IsPlaceholder, r.NeedSync, r.ConfinementPoint)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.Path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", r.Path, err)
	}
	return nil
}

// StatEntry implements engine.Backend.
func (s *Store) StatEntry(ctx context.Context, p string) (engine.RawStat, error) {
	p = normalizePath(p)
	r, err := s.row(ctx, `WHERE path = $1`, p)
	if errors.Is(err, sql.ErrNoRows) {
		if p == "/" {
			return engine.RawStat{Tag: engine.TagFolder, ID: RootID, Parent: RootID, BaseVersion: 1}, nil
		}
		return engine.RawStat{}, &engine.Error{Tag: engine.ErrorTagNotFound, Path: p}
	}
	if err != nil {
		return engine.RawStat{}, mapErr(p, err)
	}
	return rowToStat(r), nil
}

// StatFolderChildren implements engine.Backend.
func (s *Store) StatFolderChildren(ctx context.Context, p string) ([]engine.Child, error) {
	p = normalizePath(p)
	children, err := s.children(ctx, `WHERE parent_path = $1 AND path <> '/'`, p)
	if err != nil {
		return nil, mapErr(p, err)
	}
	if len(children) > 0 || p == "/" {
		return children, nil
	}
	if err := s.checkFolder(ctx, p, `WHERE path = $1`, p); err != nil {
		return nil, err
	}
	return children, nil
}

// StatFolderChildrenByID implements engine.BackendIDLister.
func (s *Store) StatFolderChildrenByID(ctx context.Context, id engine.EntryID) ([]engine.Child, error) {
	children, err := s.children(ctx, `WHERE parent_id = $1 AND id <> $1`, string(id))
	if err != nil {
		return nil, mapErr(string(id), err)
	}
	if len(children) > 0 || id == RootID {
		return children, nil
	}
	if err := s.checkFolder(ctx, string(id), `WHERE id = $1`, string(id)); err != nil {
		return nil, err
	}
	return children, nil
}

// checkFolder tells an empty folder apart from a missing entry or a file.
func (s *Store) checkFolder(ctx context.Context, label, where string, arg any) error {
	r, err := s.row(ctx, where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return &engine.Error{Tag: engine.ErrorTagNotFound, Path: label}
	}
	if err != nil {
		return mapErr(label, err)
	}
	if !r.IsDir {
		return &engine.Error{Tag: engine.ErrorTagNotAFolder, Path: label}
	}
	return nil
}

func (s *Store) row(ctx context.Context, where string, arg any) (*Row, error) {
	var r Row
	err := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM files `+where, arg).Scan(scanDest(&r)...)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) children(ctx context.Context, where string, arg any) ([]engine.Child, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM files `+where+` ORDER BY name`, arg)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var children []engine.Child
	for rows.Next() {
		var r Row
		if err := rows.Scan(scanDest(&r)...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		children = append(children, engine.Child{Name: r.Name, Stat: rowToStat(&r)})
	}
	return children, rows.Err()
}

// Type implements engine.Backend.
func (s *Store) Type() string { return "sql" }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanDest(r *Row) []any {
	return []any{&r.ID, &r.ParentID, &r.Name, &r.Path, &r.ParentPath, &r.Size, &r.Created, &r.Updated,
		&r.BaseVersion, &r.IsDir, &r.IsPlaceholder, &r.NeedSync, &r.ConfinementPoint}
}

func rowToStat(r *Row) engine.RawStat {
	st := engine.RawStat{
		Tag:           engine.TagFile,
		ID:            engine.EntryID(r.ID),
		Parent:        engine.EntryID(r.ParentID),
		Created:       r.Created,
		Updated:       r.Updated,
		IsPlaceholder: r.IsPlaceholder,
		NeedSync:      r.NeedSync,
	}
	if r.BaseVersion > 0 {
		st.BaseVersion = uint32(r.BaseVersion)
	}
	if r.IsDir {
		st.Tag = engine.TagFolder
	} else if r.Size > 0 {
		st.Size = uint64(r.Size)
	}
	if r.ConfinementPoint.Valid && r.ConfinementPoint.String != "" {
		point := engine.EntryID(r.ConfinementPoint.String)
		st.ConfinementPoint = &point
	}
	return st
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimSuffix(p, "/"))
}

func mapErr(p string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "28", pqErr.Code == "42501":
			return &engine.Error{Tag: engine.ErrorTagAccessDenied, Path: p, Err: err}
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return &engine.Error{Tag: engine.ErrorTagOffline, Path: p, Err: err}
		}
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return &engine.Error{Tag: engine.ErrorTagOffline, Path: p, Err: err}
	}
	return &engine.Error{Tag: engine.ErrorTagInternal, Path: p, Err: err}
}
