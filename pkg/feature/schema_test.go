package feature

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

func TestBuildSchemaDeterministic(t *testing.T) {
	records := trainingRecords()
	a := BuildSchema(records)

	// Same records in reverse order must produce an identical schema.
	reversed := []dataset.BuildRecord{records[1], records[0]}
	b := BuildSchema(reversed)

	assert.Equal(t, a.PackageVocab, b.PackageVocab)
	assert.Equal(t, a.DepVocab, b.DepVocab)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestSchemaFingerprintChanges(t *testing.T) {
	a := BuildSchema(trainingRecords())
	extra := append(trainingRecords(), dataset.BuildRecord{
		PackageName: "httpd", MockChroot: "fedora-42-x86_64", DurationSecs: 60,
	})
	b := BuildSchema(extra)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestSchemaRoundTrip(t *testing.T) {
	schema := BuildSchema(trainingRecords())

	var buf bytes.Buffer
	require.NoError(t, schema.Write(&buf))

	loaded, err := ReadSchema(&buf)
	require.NoError(t, err)

	assert.Equal(t, schema.Layout, loaded.Layout)
	assert.Equal(t, schema.Fingerprint(), loaded.Fingerprint())
	assert.Equal(t, schema.Dim(), loaded.Dim())

	// The loaded schema must be usable for encoding, not just inspection.
	enc := NewEncoder(loaded)
	_, vec, err := enc.Encode(trainingRecords()[0])
	require.NoError(t, err)
	assert.Len(t, vec, schema.Dim())
}

func TestSchemaDim(t *testing.T) {
	schema := BuildSchema(trainingRecords())
	assert.Equal(t, numFixedFeatures+1+schema.PackageBuckets+schema.DepBuckets, schema.Dim())
}
