package dataset

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchemaFS embed.FS

// sqliteStore keeps build records in a single local database file, for
// fetch/train runs on a workstation without a Postgres instance around.
type sqliteStore struct {
	db *sql.DB
}

func openSQLiteStore(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	schema, err := sqliteSchemaFS.ReadFile("sqlite_schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read sqlite schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) SaveRecords(ctx context.Context, records []BuildRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
        INSERT INTO build_records(
            package_name, version, os, os_version, arch, mock_chroot,
            deps, epoch, hw_info, build_duration
        ) VALUES(?,?,?,?,?,?,?,?,?,?)
    `

	for _, rec := range records {
		depsBytes, err := json.Marshal(rec.Deps)
		if err != nil {
			return fmt.Errorf("marshal deps: %w", err)
		}
		var hwBytes []byte
		if rec.HwInfo != nil {
			hwBytes, err = json.Marshal(rec.HwInfo)
			if err != nil {
				return fmt.Errorf("marshal hw_info: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, query,
			rec.PackageName,
			rec.Version,
			rec.OS,
			rec.OSVersion,
			rec.Arch,
			rec.MockChroot,
			string(depsBytes),
			rec.EpochSecs,
			nullableBytes(hwBytes),
			rec.DurationSecs,
		); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.PackageName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListRecords(ctx context.Context) ([]BuildRecord, error) {
	const query = `
        SELECT package_name, version, os, os_version, arch, mock_chroot,
               deps, epoch, hw_info, build_duration
        FROM build_records
        ORDER BY id
    `

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []BuildRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*sqliteStore)(nil)
