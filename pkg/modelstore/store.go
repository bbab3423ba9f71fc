package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/regressor"
)

// ErrModelNotFound reports that the store has no model for the requested
// category and family.
var ErrModelNotFound = errors.New("model not found")

// ErrStorage wraps I/O failures persisting or loading a model. Callers must
// surface these rather than retry silently.
var ErrStorage = errors.New("model storage error")

const (
	modelFile    = "model.json"
	metadataFile = "metadata.json"
	schemaFile   = "schema.json"
	currentFile  = "current"
)

// Store lays models out as
//
//	root/<category>/<family>/<version-id>/{model.json,metadata.json,schema.json}
//	root/<category>/<family>/current
//
// Version directories are immutable once published. The current pointer is
// replaced with write-to-temp-then-rename, so a reader resolves either the
// old or the new complete version, never a mix.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("model store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", ErrStorage, err)
	}
	return &Store{root: root}, nil
}

// Save persists a trained model, atomically replacing any prior version for
// the same category and family. The immediately superseded version is kept
// so a concurrent reader that resolved the old pointer can finish its load;
// older versions are pruned on the next Save.
func (s *Store) Save(tm *TrainedModel) error {
	if tm.Meta.ID == "" {
		tm.Meta.ID = uuid.NewString()
	}
	entryDir := s.entryDir(tm.Meta.Category, tm.Meta.Family)
	versionDir := filepath.Join(entryDir, tm.Meta.ID)

	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return fmt.Errorf("%w: create version dir: %v", ErrStorage, err)
	}

	modelBytes, err := regressor.Marshal(tm.Model)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	metaBytes, err := json.MarshalIndent(tm.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", ErrStorage, err)
	}

	files := []struct {
		name    string
		payload []byte
	}{
		{modelFile, modelBytes},
		{metadataFile, metaBytes},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(versionDir, f.name), f.payload, 0o644); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrStorage, f.name, err)
		}
	}

	schemaOut, err := os.Create(filepath.Join(versionDir, schemaFile))
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorage, schemaFile, err)
	}
	if err := tm.Schema.Write(schemaOut); err != nil {
		_ = schemaOut.Close()
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := schemaOut.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrStorage, schemaFile, err)
	}

	prior, _ := s.currentVersion(tm.Meta.Category, tm.Meta.Family)

	// Publish: the pointer rename is the commit point.
	tmp := filepath.Join(entryDir, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(tm.Meta.ID+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: write pointer: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp, filepath.Join(entryDir, currentFile)); err != nil {
		return fmt.Errorf("%w: publish pointer: %v", ErrStorage, err)
	}

	s.prune(entryDir, tm.Meta.ID, prior)
	return nil
}

// prune removes version directories other than the current one and its
// immediate predecessor. Best effort: a failed removal is retried by the
// next Save.
func (s *Store) prune(entryDir, current, prior string) {
	entries, err := os.ReadDir(entryDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if name := entry.Name(); name != current && name != prior {
			_ = os.RemoveAll(filepath.Join(entryDir, name))
		}
	}
}

// Load retrieves the current model for a category and family, validating
// that the metadata sidecar matches the payload it points at.
func (s *Store) Load(category feature.Category, family string) (*TrainedModel, error) {
	version, err := s.currentVersion(category, family)
	if err != nil {
		return nil, err
	}
	versionDir := filepath.Join(s.entryDir(category, family), version)

	metaBytes, err := os.ReadFile(filepath.Join(versionDir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrStorage, err)
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrStorage, err)
	}
	if meta.ID != version {
		return nil, fmt.Errorf("%w: metadata id %s does not match version %s",
			ErrStorage, meta.ID, version)
	}
	if meta.Category != category || meta.Family != family {
		return nil, fmt.Errorf("%w: metadata (%s, %s) stored under (%s, %s)",
			ErrStorage, meta.Category, meta.Family, category, family)
	}

	modelBytes, err := os.ReadFile(filepath.Join(versionDir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read model: %v", ErrStorage, err)
	}
	model, err := regressor.Unmarshal(modelBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if model.Family() != meta.Family {
		return nil, fmt.Errorf("%w: model family %s does not match metadata %s",
			ErrStorage, model.Family(), meta.Family)
	}

	schemaIn, err := os.Open(filepath.Join(versionDir, schemaFile))
	if err != nil {
		return nil, fmt.Errorf("%w: read schema: %v", ErrStorage, err)
	}
	defer schemaIn.Close()
	schema, err := feature.ReadSchema(schemaIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &TrainedModel{Meta: meta, Model: model, Schema: schema}, nil
}

// LoadBest loads the model serving a category when callers do not care
// about the family: the published family with the lowest validation MAE,
// preferring any fitted model over a baseline.
func (s *Store) LoadBest(category feature.Category) (*TrainedModel, error) {
	families, err := s.ListFamilies(category)
	if err != nil {
		return nil, err
	}
	if len(families) == 0 {
		return nil, fmt.Errorf("%w: no model for category %q", ErrModelNotFound, category)
	}

	var best *TrainedModel
	for _, family := range families {
		tm, err := s.Load(category, family)
		if err != nil {
			return nil, err
		}
		if best == nil || better(tm, best) {
			best = tm
		}
	}
	return best, nil
}

func better(a, b *TrainedModel) bool {
	if a.Meta.Baseline != b.Meta.Baseline {
		return !a.Meta.Baseline
	}
	return a.Meta.Metrics.MAE < b.Meta.Metrics.MAE
}

// ListCategories returns every category with at least one published model,
// sorted.
func (s *Store) ListCategories() ([]feature.Category, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read root: %v", ErrStorage, err)
	}

	var categories []feature.Category
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		families, err := s.ListFamilies(feature.Category(entry.Name()))
		if err != nil {
			return nil, err
		}
		if len(families) > 0 {
			categories = append(categories, feature.Category(entry.Name()))
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories, nil
}

// ListFamilies returns the families with a published model for a category.
func (s *Store) ListFamilies(category feature.Category) ([]string, error) {
	catDir := filepath.Join(s.root, sanitize(string(category)))
	entries, err := os.ReadDir(catDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read category dir: %v", ErrStorage, err)
	}

	var families []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(catDir, entry.Name(), currentFile)); err == nil {
			families = append(families, entry.Name())
		}
	}
	sort.Strings(families)
	return families, nil
}

// Root is the store's base directory, e.g. for publishing.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) currentVersion(category feature.Category, family string) (string, error) {
	pointer := filepath.Join(s.entryDir(category, family), currentFile)
	payload, err := os.ReadFile(pointer)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: no model for category %q family %q",
			ErrModelNotFound, category, family)
	}
	if err != nil {
		return "", fmt.Errorf("%w: read pointer: %v", ErrStorage, err)
	}
	version := strings.TrimSpace(string(payload))
	if version == "" {
		return "", fmt.Errorf("%w: empty version pointer", ErrStorage)
	}
	return version, nil
}

func (s *Store) entryDir(category feature.Category, family string) string {
	return filepath.Join(s.root, sanitize(string(category)), sanitize(family))
}

// sanitize keeps category and family names safe as path components.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
