package feature

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"sort"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

// LayoutV1 is the current feature layout. A layout fixes the field order and
// dimensionality of encoded vectors; changing either requires a new layout
// version and retraining every stored model.
const LayoutV1 = "v1"

const (
	defaultPackageBuckets = 64
	defaultDepBuckets     = 128
)

// Schema is the full encoding contract: the layout version plus the
// categorical vocabularies captured at training time. Names outside the
// vocabulary map to the unknown bucket at prediction time, never to an
// error, so the vector dimensionality is fixed regardless of input.
type Schema struct {
	Layout         string   `json:"layout"`
	PackageBuckets int      `json:"package_buckets"`
	DepBuckets     int      `json:"dep_buckets"`
	PackageVocab   []string `json:"package_vocab"`
	DepVocab       []string `json:"dep_vocab"`

	packages map[string]struct{}
	deps     map[string]struct{}
}

// BuildSchema derives a v1 schema from a historical record set. The
// vocabularies are the package and dependency names observed in the records,
// sorted so that the same input set always yields the same schema.
func BuildSchema(records []dataset.BuildRecord) *Schema {
	pkgSet := make(map[string]struct{})
	depSet := make(map[string]struct{})
	for _, rec := range records {
		if rec.PackageName != "" {
			pkgSet[rec.PackageName] = struct{}{}
		}
		for _, dep := range rec.Deps {
			if dep != "" {
				depSet[dep] = struct{}{}
			}
		}
	}

	s := &Schema{
		Layout:         LayoutV1,
		PackageBuckets: defaultPackageBuckets,
		DepBuckets:     defaultDepBuckets,
		PackageVocab:   sortedKeys(pkgSet),
		DepVocab:       sortedKeys(depSet),
	}
	s.index()
	return s
}

// ReadSchema decodes a schema previously persisted alongside a trained model.
func ReadSchema(r io.Reader) (*Schema, error) {
	var s Schema
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if s.Layout == "" {
		return nil, fmt.Errorf("schema has no layout version")
	}
	if s.PackageBuckets <= 0 || s.DepBuckets <= 0 {
		return nil, fmt.Errorf("schema has invalid bucket counts")
	}
	s.index()
	return &s, nil
}

// Write persists the schema as JSON.
func (s *Schema) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return nil
}

// Fingerprint identifies the schema content: layout, bucket counts and both
// vocabularies. Two schemas with the same fingerprint encode identically.
func (s *Schema) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d/%d", s.Layout, s.PackageBuckets, s.DepBuckets)
	for _, p := range s.PackageVocab {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	for _, d := range s.DepVocab {
		h.Write([]byte{1})
		h.Write([]byte(d))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Dim is the length of every vector produced under this schema.
func (s *Schema) Dim() int {
	return numFixedFeatures + 1 + s.PackageBuckets + s.DepBuckets
}

func (s *Schema) knownPackage(name string) bool {
	_, ok := s.packages[name]
	return ok
}

func (s *Schema) knownDep(name string) bool {
	_, ok := s.deps[name]
	return ok
}

func (s *Schema) index() {
	s.packages = make(map[string]struct{}, len(s.PackageVocab))
	for _, p := range s.PackageVocab {
		s.packages[p] = struct{}{}
	}
	s.deps = make(map[string]struct{}, len(s.DepVocab))
	for _, d := range s.DepVocab {
		s.deps[d] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bucket(name string, buckets int) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(buckets))
}
