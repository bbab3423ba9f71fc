package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
)

// buildResult encodes synthetic records where duration tracks the
// dependency count, so gradient boosting has something to learn.
func buildResult(t *testing.T, perCategory map[feature.Category]int, seed int64) (*feature.Schema, *BuildResult) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	var records []dataset.BuildRecord
	deps := make([]string, 30)
	for i := range deps {
		deps[i] = fmt.Sprintf("dep-%02d", i)
	}
	for cat, n := range perCategory {
		for i := 0; i < n; i++ {
			depCount := 1 + rng.Intn(len(deps))
			records = append(records, dataset.BuildRecord{
				PackageName:  fmt.Sprintf("pkg-%03d", i),
				Version:      "1.0",
				MockChroot:   string(cat),
				Deps:         deps[:depCount],
				DurationSecs: int64(60 + depCount*45 + rng.Intn(30)),
			})
		}
	}

	schema := feature.BuildSchema(records)
	builder := NewBuilder(feature.NewEncoder(schema), 1, 0.2, seed, zerolog.Nop())
	res, err := builder.Build(records)
	require.NoError(t, err)
	return schema, res
}

func TestTrainInsufficientData(t *testing.T) {
	schema, res := buildResult(t, map[feature.Category]int{"fedora-42-x86_64": 3}, 1)
	tr := New(Options{MinSamples: 20, Trials: 2}, zerolog.Nop())

	_, err := tr.Train(context.Background(), schema, res.Datasets["fedora-42-x86_64"])
	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, feature.Category("fedora-42-x86_64"), insufficient.Category)
	assert.Equal(t, 3, insufficient.Have)
	assert.Equal(t, 20, insufficient.Need)
}

func TestTrainSelectsModel(t *testing.T) {
	schema, res := buildResult(t, map[feature.Category]int{"fedora-42-x86_64": 120}, 2)
	tr := New(Options{MinSamples: 20, Trials: 4, Seed: 42}, zerolog.Nop())

	model, err := tr.Train(context.Background(), schema, res.Datasets["fedora-42-x86_64"])
	require.NoError(t, err)

	assert.NotEmpty(t, model.Meta.ID)
	assert.Equal(t, feature.Category("fedora-42-x86_64"), model.Meta.Category)
	assert.Equal(t, schema.Fingerprint(), model.Meta.SchemaFingerprint)
	assert.False(t, model.Meta.Baseline, "learnable data should beat the mean")
	assert.Less(t, model.Meta.Metrics.MAE, model.Meta.BaselineMAE)
	assert.Greater(t, model.Meta.Metrics.Samples, 0)
}

func TestTrainFallsBackToBaseline(t *testing.T) {
	schema, res := buildResult(t, map[feature.Category]int{"fedora-42-x86_64": 60}, 3)

	// An impossible margin forces the convergence-failure path.
	tr := New(Options{MinSamples: 20, Trials: 2, Seed: 42, Margin: 0.999}, zerolog.Nop())

	model, err := tr.Train(context.Background(), schema, res.Datasets["fedora-42-x86_64"])
	require.NoError(t, err)
	assert.True(t, model.Meta.Baseline)
	assert.Equal(t, "mean", model.Meta.Family)
	assert.Equal(t, model.Meta.BaselineMAE, model.Meta.Metrics.MAE)
}

func TestTrainDeterministic(t *testing.T) {
	schema, res := buildResult(t, map[feature.Category]int{"fedora-42-x86_64": 80}, 4)
	opts := Options{MinSamples: 20, Trials: 3, Seed: 7}

	a, err := New(opts, zerolog.Nop()).Train(context.Background(), schema, res.Datasets["fedora-42-x86_64"])
	require.NoError(t, err)
	b, err := New(opts, zerolog.Nop()).Train(context.Background(), schema, res.Datasets["fedora-42-x86_64"])
	require.NoError(t, err)

	assert.Equal(t, a.Meta.Family, b.Meta.Family)
	assert.Equal(t, a.Meta.Params, b.Meta.Params)
	assert.Equal(t, a.Meta.Metrics.MAE, b.Meta.Metrics.MAE)
}

func TestTrainAllIsolatesCategories(t *testing.T) {
	schema, res := buildResult(t, map[feature.Category]int{
		"fedora-42-x86_64":  100,
		"fedora-42-aarch64": 100,
		"fedora-42-s390x":   5,
	}, 5)

	tr := New(Options{MinSamples: 20, Trials: 2, Seed: 1, Parallelism: 2}, zerolog.Nop())
	models, failures := tr.TrainAll(context.Background(), schema, res)

	assert.Len(t, models, 2)
	require.Len(t, failures, 1)
	var insufficient *InsufficientDataError
	require.ErrorAs(t, failures["fedora-42-s390x"], &insufficient)

	for cat, model := range models {
		assert.Equal(t, cat, model.Meta.Category)
	}
}

func TestEvaluateMetrics(t *testing.T) {
	schema, res := buildResult(t, map[feature.Category]int{"fedora-42-x86_64": 100}, 6)
	tr := New(Options{MinSamples: 20, Trials: 2, Seed: 9}, zerolog.Nop())

	model, err := tr.Train(context.Background(), schema, res.Datasets["fedora-42-x86_64"])
	require.NoError(t, err)

	m := model.Meta.Metrics
	assert.GreaterOrEqual(t, m.MAE, 0.0)
	assert.GreaterOrEqual(t, m.UnderFraction, 0.0)
	assert.LessOrEqual(t, m.UnderFraction, 1.0)
	assert.LessOrEqual(t, m.R2, 1.0)
}
