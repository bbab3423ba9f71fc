package feature

import (
	"math"
	"strconv"
	"strings"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

// Category is the partition key over which separate models are trained,
// derived deterministically from a record and never stored redundantly.
type Category string

// Fixed numeric features, in vector order. The categorical blocks (unknown
// package indicator, package buckets, dependency buckets) follow them.
const (
	featDepCount = iota
	featUnknownDeps
	featCPUCores
	featCPUThreads
	featCPUMHz
	featRAM
	featSwap
	featOSVersion
	numFixedFeatures
)

// Encoder turns build records into fixed-length numeric vectors under one
// schema. It is a pure function of the record and the schema: no hidden
// state, no randomness.
type Encoder struct {
	schema *Schema
}

func NewEncoder(schema *Schema) *Encoder {
	return &Encoder{schema: schema}
}

func (e *Encoder) Schema() *Schema {
	return e.schema
}

// Categorize derives the category key without encoding the full vector.
// The mock chroot wins when present; otherwise os, os version and
// architecture are joined in chroot form.
func Categorize(rec dataset.BuildRecord) (Category, error) {
	if rec.MockChroot != "" {
		return Category(rec.MockChroot), nil
	}
	if rec.Arch == "" {
		return "", &SchemaError{Field: "arch"}
	}
	if rec.OS == "" {
		return "", &SchemaError{Field: "os"}
	}
	parts := []string{rec.OS}
	if rec.OSVersion != "" {
		parts = append(parts, rec.OSVersion)
	}
	parts = append(parts, rec.Arch)
	return Category(strings.Join(parts, "-")), nil
}

// Encode maps a record to its category and feature vector. It fails only
// when a mandatory field is absent; unknown package or dependency names
// degrade into the unknown buckets without changing the dimensionality.
func (e *Encoder) Encode(rec dataset.BuildRecord) (Category, []float64, error) {
	if rec.PackageName == "" {
		return "", nil, &SchemaError{Field: "package_name"}
	}
	cat, err := Categorize(rec)
	if err != nil {
		return "", nil, err
	}

	vec := make([]float64, e.schema.Dim())

	var unknownDeps int
	depBase := numFixedFeatures + 1 + e.schema.PackageBuckets
	for _, dep := range rec.Deps {
		if e.schema.knownDep(dep) {
			vec[depBase+bucket(dep, e.schema.DepBuckets)]++
		} else {
			unknownDeps++
		}
	}

	vec[featDepCount] = math.Log1p(float64(len(rec.Deps)))
	vec[featUnknownDeps] = float64(unknownDeps)

	if hw := rec.HwInfo; hw != nil {
		vec[featCPUCores] = float64(hw.CPUCores)
		vec[featCPUThreads] = float64(hw.CPUThreads)
		vec[featCPUMHz] = hw.CPUMHz / 1000
		vec[featRAM] = math.Log1p(float64(hw.RAMMB))
		vec[featSwap] = math.Log1p(float64(hw.SwapMB))
	}
	vec[featOSVersion] = osVersionNumber(rec)

	if e.schema.knownPackage(rec.PackageName) {
		vec[numFixedFeatures+1+bucket(rec.PackageName, e.schema.PackageBuckets)] = 1
	} else {
		// Unknown package indicator: every never-seen package encodes
		// identically, so two unseen packages get the same prediction.
		vec[numFixedFeatures] = 1
	}

	return cat, vec, nil
}

// CheckLayout fails when a stored schema was produced under a feature layout
// other than the one this binary encodes. Serving a model across a layout
// change would silently produce wrong-dimensional vectors; the model is
// unusable until retrained.
func CheckLayout(trained *Schema) error {
	if trained.Layout != LayoutV1 {
		return &SchemaMismatchError{
			TrainedLayout: trained.Layout,
			ActiveLayout:  LayoutV1,
		}
	}
	return nil
}

func osVersionNumber(rec dataset.BuildRecord) float64 {
	version := rec.OSVersion
	if version == "" && rec.MockChroot != "" {
		if _, v, _, err := dataset.ParseChroot(rec.MockChroot); err == nil {
			version = v
		}
	}
	n, err := strconv.ParseFloat(version, 64)
	if err != nil {
		// Rolling releases like "rawhide" carry no ordinal.
		return 0
	}
	return n
}
