package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists fetched build records between the fetch and train stages.
type Store interface {
	SaveRecords(ctx context.Context, records []BuildRecord) error
	ListRecords(ctx context.Context) ([]BuildRecord, error)
	Close() error
}

// OpenStore opens a record store by backend name: "json" (dsn is a file
// path), "sqlite" (dsn is a database path) or "postgres" (dsn is a
// connection string).
func OpenStore(backend, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "json":
		return NewJSONStore(dsn), nil
	case "sqlite":
		return openSQLiteStore(dsn)
	case "postgres":
		return openPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown record store backend %q", backend)
	}
}

// JSONStore keeps the whole record set in one JSON file, the format the
// fetch CLI writes for offline training runs.
type JSONStore struct {
	path string
}

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// SaveRecords appends to the existing file content, writing the combined set
// to a temp file first so a crash never truncates the dataset.
func (s *JSONStore) SaveRecords(ctx context.Context, records []BuildRecord) error {
	existing, err := s.ListRecords(ctx)
	if err != nil {
		return err
	}
	combined := append(existing, records...)

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dataset dir: %w", err)
		}
	}

	payload, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}

func (s *JSONStore) ListRecords(_ context.Context) ([]BuildRecord, error) {
	payload, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var records []BuildRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", s.path, err)
	}
	return records, nil
}

func (s *JSONStore) Close() error {
	return nil
}

var _ Store = (*JSONStore)(nil)
