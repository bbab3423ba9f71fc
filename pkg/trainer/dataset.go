package trainer

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
)

// TrainingDataset is the labeled matrix of one category, already split into
// train and validation partitions. Every pair in it shares the category.
type TrainingDataset struct {
	Category feature.Category

	TrainX [][]float64
	TrainY []float64
	ValX   [][]float64
	ValY   []float64
}

// Len is the total number of labeled pairs.
func (d *TrainingDataset) Len() int {
	return len(d.TrainY) + len(d.ValY)
}

// BuildResult is the outcome of a dataset build: per-category datasets plus
// the records and categories that did not make it in. Nothing is dropped
// silently.
type BuildResult struct {
	Datasets map[feature.Category]*TrainingDataset

	// Dropped counts records rejected by the encoder (missing mandatory
	// fields or no observed duration).
	Dropped int

	// Skipped maps categories excluded for having fewer samples than the
	// configured minimum to the sample count they had.
	Skipped map[feature.Category]int
}

// Builder assembles per-category training datasets from historical records.
type Builder struct {
	enc           *feature.Encoder
	minSamples    int
	splitFraction float64
	seed          int64
	log           zerolog.Logger
}

// NewBuilder configures a dataset build. splitFraction is the share of each
// category held out for validation; seed fixes the shuffle so the same
// record set always produces the same partitions.
func NewBuilder(enc *feature.Encoder, minSamples int, splitFraction float64, seed int64, log zerolog.Logger) *Builder {
	if splitFraction <= 0 || splitFraction >= 1 {
		splitFraction = 0.2
	}
	return &Builder{
		enc:           enc,
		minSamples:    minSamples,
		splitFraction: splitFraction,
		seed:          seed,
		log:           log,
	}
}

type labeled struct {
	sortKey string
	x       []float64
	y       float64
}

// Build encodes every historical record, groups by category, enforces the
// minimum sample count and splits each surviving category.
func (b *Builder) Build(records []dataset.BuildRecord) (*BuildResult, error) {
	groups := make(map[feature.Category][]labeled)
	res := &BuildResult{
		Datasets: make(map[feature.Category]*TrainingDataset),
		Skipped:  make(map[feature.Category]int),
	}

	for _, rec := range records {
		if !rec.Historical() {
			res.Dropped++
			continue
		}
		cat, vec, err := b.enc.Encode(rec)
		if err != nil {
			var schemaErr *feature.SchemaError
			if errors.As(err, &schemaErr) {
				b.log.Warn().Str("package", rec.PackageName).Err(err).
					Msg("dropping record that fails encoding")
				res.Dropped++
				continue
			}
			return nil, err
		}
		groups[cat] = append(groups[cat], labeled{
			sortKey: rec.PackageName + "\x00" + rec.Version,
			x:       vec,
			y:       float64(rec.DurationSecs),
		})
	}

	for cat, rows := range groups {
		if len(rows) < b.minSamples {
			res.Skipped[cat] = len(rows)
			b.log.Info().Str("category", string(cat)).Int("samples", len(rows)).
				Int("min", b.minSamples).Msg("category below minimum sample count, skipping")
			continue
		}
		res.Datasets[cat] = b.split(cat, rows)
	}

	b.log.Info().Int("categories", len(res.Datasets)).Int("dropped", res.Dropped).
		Int("skipped_categories", len(res.Skipped)).Msg("dataset build finished")
	return res, nil
}

// split partitions one category. Rows are ordered by a stable key before the
// seeded shuffle so the partition depends only on the record set and the
// seed, not on input order.
func (b *Builder) split(cat feature.Category, rows []labeled) *TrainingDataset {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].sortKey != rows[j].sortKey {
			return rows[i].sortKey < rows[j].sortKey
		}
		return rows[i].y < rows[j].y
	})

	rng := rand.New(rand.NewSource(b.seed))
	rng.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})

	numVal := int(b.splitFraction * float64(len(rows)))
	if numVal < 1 {
		numVal = 1
	}

	ds := &TrainingDataset{Category: cat}
	for i, row := range rows {
		if i < numVal {
			ds.ValX = append(ds.ValX, row.x)
			ds.ValY = append(ds.ValY, row.y)
		} else {
			ds.TrainX = append(ds.TrainX, row.x)
			ds.TrainY = append(ds.TrainY, row.y)
		}
	}
	return ds
}
