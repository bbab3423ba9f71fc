// Package trainer fits candidate model families per category, searches
// hyperparameters on a held-out split and selects the best candidate, with
// the category-mean baseline as the floor no selection may fall under.
package trainer

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/regressor"
)

// SearchSpace enumerates the hyperparameter values random search draws from.
type SearchSpace struct {
	Rounds       []int     `mapstructure:"rounds"`
	MaxDepth     []int     `mapstructure:"max_depth"`
	LearningRate []float64 `mapstructure:"learning_rate"`
	Subsample    []float64 `mapstructure:"subsample"`
	MinLeaf      []int     `mapstructure:"min_leaf"`
	Bins         []int     `mapstructure:"bins"`
}

// DefaultSearchSpace covers the ranges that work for build-duration data,
// which is small-n and heavy-tailed.
func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		Rounds:       []int{50, 100, 200},
		MaxDepth:     []int{3, 4, 6},
		LearningRate: []float64{0.05, 0.1, 0.2},
		Subsample:    []float64{0.7, 0.8, 1.0},
		MinLeaf:      []int{2, 3, 5},
		Bins:         []int{16, 32, 64},
	}
}

func (s SearchSpace) sample(rng *rand.Rand) regressor.Params {
	p := regressor.DefaultParams()
	if len(s.Rounds) > 0 {
		p.Rounds = s.Rounds[rng.Intn(len(s.Rounds))]
	}
	if len(s.MaxDepth) > 0 {
		p.MaxDepth = s.MaxDepth[rng.Intn(len(s.MaxDepth))]
	}
	if len(s.LearningRate) > 0 {
		p.LearningRate = s.LearningRate[rng.Intn(len(s.LearningRate))]
	}
	if len(s.Subsample) > 0 {
		p.Subsample = s.Subsample[rng.Intn(len(s.Subsample))]
	}
	if len(s.MinLeaf) > 0 {
		p.MinLeaf = s.MinLeaf[rng.Intn(len(s.MinLeaf))]
	}
	if len(s.Bins) > 0 {
		p.Bins = s.Bins[rng.Intn(len(s.Bins))]
	}
	return p
}

// Options bound the search.
type Options struct {
	Families    []string
	Space       SearchSpace
	Trials      int
	Seed        int64
	MinSamples  int
	Margin      float64       // fraction a candidate must beat the baseline MAE by
	Budget      time.Duration // wall-clock budget per category, 0 means unbounded
	Parallelism int           // concurrent categories in TrainAll
}

func (o *Options) defaults() {
	if len(o.Families) == 0 {
		o.Families = regressor.Families()
	}
	if o.Trials <= 0 {
		o.Trials = 20
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 20
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
}

type Trainer struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Trainer {
	opts.defaults()
	return &Trainer{opts: opts, log: log}
}

// Train fits every candidate (family, params) combination for one category
// and returns the best by validation MAE, or the baseline when nothing
// clears the margin. The budget is a cooperative stopping condition checked
// between trials, never an abrupt kill.
func (t *Trainer) Train(ctx context.Context, schema *feature.Schema, ds *TrainingDataset) (*modelstore.TrainedModel, error) {
	ctx, span := otel.Tracer("rpmeta/trainer").Start(ctx, "trainer.Train")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(ds.Category)))

	if ds.Len() < t.opts.MinSamples {
		return nil, &InsufficientDataError{
			Category: ds.Category,
			Have:     ds.Len(),
			Need:     t.opts.MinSamples,
		}
	}

	baseline := regressor.FitMean(ds.TrainY)
	baselineMetrics := evaluate(baseline, ds.ValX, ds.ValY)

	// Per-category seed: independent of the order categories are trained
	// in, stable across runs.
	seed := t.opts.Seed + int64(categoryHash(ds.Category))
	rng := rand.New(rand.NewSource(seed))

	deadline := time.Time{}
	if t.opts.Budget > 0 {
		deadline = time.Now().Add(t.opts.Budget)
	}

	var (
		bestModel   regressor.Model
		bestParams  regressor.Params
		bestMetrics modelstore.Metrics
		trialsRun   int
	)

	for trial := 0; trial < t.opts.Trials; trial++ {
		params := t.opts.Space.sample(rng)
		for _, family := range t.opts.Families {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !deadline.IsZero() && time.Now().After(deadline) && trialsRun > 0 {
				t.log.Warn().Str("category", string(ds.Category)).Int("trials", trialsRun).
					Msg("training budget exhausted, stopping search")
				trial = t.opts.Trials
				break
			}

			model, err := regressor.Fit(family, ds.TrainX, ds.TrainY, params, seed+int64(trial))
			if err != nil {
				return nil, fmt.Errorf("fit %s for %s: %w", family, ds.Category, err)
			}
			metrics := evaluate(model, ds.ValX, ds.ValY)
			trialsRun++

			t.log.Debug().Str("category", string(ds.Category)).Str("family", family).
				Str("params", params.String()).Float64("mae", metrics.MAE).
				Msg("search trial finished")

			if bestModel == nil || metrics.MAE < bestMetrics.MAE {
				bestModel = model
				bestParams = params
				bestMetrics = metrics
			}
		}
	}

	meta := modelstore.Metadata{
		ID:                uuid.NewString(),
		Category:          ds.Category,
		SchemaLayout:      schema.Layout,
		SchemaFingerprint: schema.Fingerprint(),
		BaselineMAE:       baselineMetrics.MAE,
		TrainedAt:         time.Now().UTC(),
	}

	required := baselineMetrics.MAE * (1 - t.opts.Margin)
	if bestModel == nil || bestMetrics.MAE > required {
		// Convergence failure: nothing beats predicting the mean by the
		// required margin. The mean is a safe fallback; ship it.
		t.log.Warn().Str("category", string(ds.Category)).
			Float64("baseline_mae", baselineMetrics.MAE).
			Float64("best_mae", maeOrMissing(bestModel, bestMetrics)).
			Msg("no candidate beat the baseline, keeping mean predictor")
		meta.Family = baseline.Family()
		meta.Metrics = baselineMetrics
		meta.Baseline = true
		return &modelstore.TrainedModel{Meta: meta, Model: baseline, Schema: schema}, nil
	}

	meta.Family = bestModel.Family()
	meta.Params = bestParams
	meta.Metrics = bestMetrics

	t.log.Info().Str("category", string(ds.Category)).Str("family", meta.Family).
		Str("params", bestParams.String()).
		Float64("mae", bestMetrics.MAE).Float64("mae_under", bestMetrics.MAEUnder).
		Float64("mae_over", bestMetrics.MAEOver).Float64("baseline_mae", baselineMetrics.MAE).
		Int("trials", trialsRun).Msg("selected model")

	return &modelstore.TrainedModel{Meta: meta, Model: bestModel, Schema: schema}, nil
}

// TrainAll trains every category in the build result in parallel, bounded
// by the configured parallelism. Per-category failures do not abort the
// others; they are returned alongside the successes.
func (t *Trainer) TrainAll(ctx context.Context, schema *feature.Schema, res *BuildResult) (map[feature.Category]*modelstore.TrainedModel, map[feature.Category]error) {
	categories := make([]feature.Category, 0, len(res.Datasets))
	for cat := range res.Datasets {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	models := make(map[feature.Category]*modelstore.TrainedModel, len(categories))
	failures := make(map[feature.Category]error)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Parallelism)

	type outcome struct {
		cat   feature.Category
		model *modelstore.TrainedModel
		err   error
	}
	results := make(chan outcome, len(categories))

	for _, cat := range categories {
		ds := res.Datasets[cat]
		g.Go(func() error {
			model, err := t.Train(ctx, schema, ds)
			results <- outcome{cat: ds.Category, model: model, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for out := range results {
		if out.err != nil {
			failures[out.cat] = out.err
			continue
		}
		models[out.cat] = out.model
	}
	return models, failures
}

func categoryHash(cat feature.Category) uint32 {
	h := fnv.New32a()
	h.Write([]byte(cat))
	return h.Sum32()
}

// maeOrMissing keeps the log field numeric when no trial produced a model;
// -1 marks the missing case.
func maeOrMissing(model regressor.Model, m modelstore.Metrics) float64 {
	if model == nil {
		return -1
	}
	return m.MAE
}
