package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/pithecene-io/lakecat/lakecat"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MetaStore implements lakecat.MetaStore on a SQLite database.
type MetaStore struct {
	db     *sql.DB
	ownsDB bool
}

var _ lakecat.MetaStore = (*MetaStore)(nil)

// Open opens (creating if needed) the SQLite file at path and migrates it.
func Open(ctx context.Context, path string) (*MetaStore, error) {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}
	m, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// New wraps an existing database handle and migrates it. The caller keeps
// ownership of db.
func New(ctx context.Context, db *sql.DB) (*MetaStore, error) {
	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}
	return &MetaStore{db: db}, nil
}

// Load returns every schema and snapshot record, ordered by table and version.
func (m *MetaStore) Load(ctx context.Context) (*lakecat.CatalogState, error) {
	state := &lakecat.CatalogState{}

	schemaRows, err := m.db.QueryContext(ctx,
		`SELECT body FROM lakecat_schemas ORDER BY table_name, version`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query schemas: %w", err)
	}
	err = scanBodies(schemaRows, func(body []byte) error {
		var rec lakecat.SchemaRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("%w: decode schema: %v", lakecat.ErrCatalogIntegrity, err)
		}
		state.Schemas = append(state.Schemas, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	snapRows, err := m.db.QueryContext(ctx,
		`SELECT body FROM lakecat_snapshots ORDER BY table_name, version`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query snapshots: %w", err)
	}
	err = scanBodies(snapRows, func(body []byte) error {
		var rec lakecat.SnapshotRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("%w: decode snapshot: %v", lakecat.ErrCatalogIntegrity, err)
		}
		state.Snapshots = append(state.Snapshots, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func scanBodies(rows *sql.Rows, fn func([]byte) error) error {
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("sqlite: scan: %w", err)
		}
		if err := fn(body); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PutSchema inserts a schema version, registering the table on its first
// schema. An existing version returns lakecat.ErrSnapshotConflict.
func (m *MetaStore) PutSchema(ctx context.Context, rec lakecat.SchemaRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite: encode schema: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO lakecat_tables (name, current_version, created_at) VALUES (?, 0, ?)`,
		string(rec.Table), formatTime(rec.CreatedAt)); err != nil {
		return fmt.Errorf("sqlite: register table %q: %w", rec.Table, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lakecat_schemas (table_name, version, created_at, body) VALUES (?, ?, ?, ?)`,
		string(rec.Table), rec.Version, formatTime(rec.CreatedAt), body); err != nil {
		if isConstraint(err) {
			return lakecat.ErrSnapshotConflict
		}
		return fmt.Errorf("sqlite: insert schema %q v%d: %w", rec.Table, rec.Version, err)
	}
	return tx.Commit()
}

// AppendSnapshot inserts the record and advances the table's current
// version from rec.Parent to rec.Version. A moved pointer returns
// lakecat.ErrSnapshotConflict.
func (m *MetaStore) AppendSnapshot(ctx context.Context, rec lakecat.SnapshotRecord) error {
	if rec.Version != rec.Parent+1 {
		return fmt.Errorf("lakecat: snapshot %d does not follow parent %d", rec.Version, rec.Parent)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite: encode snapshot: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE lakecat_tables SET current_version = ? WHERE name = ? AND current_version = ?`,
		uint64(rec.Version), string(rec.Table), uint64(rec.Parent))
	if err != nil {
		return fmt.Errorf("sqlite: advance %q: %w", rec.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM lakecat_tables WHERE name = ?)`, string(rec.Table)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlite: lookup %q: %w", rec.Table, err)
		}
		if !exists {
			return fmt.Errorf("sqlite: %w: %q", lakecat.ErrTableNotFound, rec.Table)
		}
		return lakecat.ErrSnapshotConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lakecat_snapshots
			(table_name, version, parent, commit_id, schema_version, files_added, files_removed, created_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Table), uint64(rec.Version), uint64(rec.Parent), rec.CommitID, rec.SchemaVersion,
		len(rec.Added), len(rec.Removed), formatTime(rec.CreatedAt), body); err != nil {
		if isConstraint(err) {
			return lakecat.ErrSnapshotConflict
		}
		return fmt.Errorf("sqlite: insert snapshot %q v%d: %w", rec.Table, rec.Version, err)
	}
	return tx.Commit()
}

// Close closes the database if the store opened it.
func (m *MetaStore) Close() error {
	if m.ownsDB {
		return m.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
