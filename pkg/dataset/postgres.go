package dataset

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// postgresStore keeps build records in PostgreSQL, the backend used when the
// fetcher runs close to the build farm.
type postgresStore struct {
	db *sql.DB
}

func openPostgresStore(connString string) (Store, error) {
	if strings.TrimSpace(connString) == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &postgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema applies embedded migrations in lexical order.
func (s *postgresStore) ensureSchema() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, name := range names {
		payload, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sqlText := strings.TrimSpace(string(payload))
		if sqlText == "" {
			continue
		}
		if _, err := tx.Exec(sqlText); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (s *postgresStore) SaveRecords(ctx context.Context, records []BuildRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
        INSERT INTO build_records (
            package_name, version, os, os_version, arch, mock_chroot,
            deps, epoch, hw_info, build_duration
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
			depsBytes,
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

func (s *postgresStore) ListRecords(ctx context.Context) ([]BuildRecord, error) {
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

func (s *postgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (BuildRecord, error) {
	var (
		rec       BuildRecord
		depsBytes []byte
		hwBytes   []byte
	)

	err := scanner.Scan(
		&rec.PackageName,
		&rec.Version,
		&rec.OS,
		&rec.OSVersion,
		&rec.Arch,
		&rec.MockChroot,
		&depsBytes,
		&rec.EpochSecs,
		&hwBytes,
		&rec.DurationSecs,
	)
	if err != nil {
		return BuildRecord{}, fmt.Errorf("scan record: %w", err)
	}

	if len(depsBytes) > 0 {
		if err := json.Unmarshal(depsBytes, &rec.Deps); err != nil {
			return BuildRecord{}, fmt.Errorf("decode deps: %w", err)
		}
	}
	if len(hwBytes) > 0 {
		var hw HwInfo
		if err := json.Unmarshal(hwBytes, &hw); err != nil {
			return BuildRecord{}, fmt.Errorf("decode hw_info: %w", err)
		}
		rec.HwInfo = &hw
	}
	return rec, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ Store = (*postgresStore)(nil)
