// Package predictor serves duration estimates: encode the request, route to
// the category's model, fall back to the default category when none exists,
// and convert to the configured time unit at the boundary.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/metrics"
	"github.com/fedora-copr/rpmeta/pkg/modelstore"
)

// ErrNoModelAvailable reports that neither the requested category nor the
// configured default has a trained model.
var ErrNoModelAvailable = errors.New("no model available")

// TimeFormat selects the unit of returned predictions.
type TimeFormat string

const (
	FormatSeconds TimeFormat = "seconds"
	FormatMinutes TimeFormat = "minutes"
	FormatHours   TimeFormat = "hours"
)

// ParseTimeFormat validates a configured output unit.
func ParseTimeFormat(s string) (TimeFormat, error) {
	switch TimeFormat(s) {
	case "", FormatMinutes:
		return FormatMinutes, nil
	case FormatSeconds, FormatHours:
		return TimeFormat(s), nil
	default:
		return "", fmt.Errorf("unknown time format %q", s)
	}
}

// Bound is an expected-error interval derived from the serving model's
// validation metrics, in the result's unit.
type Bound struct {
	Under int64 `json:"under"`
	Over  int64 `json:"over"`
}

// Result is one served prediction with full attribution: the category that
// was requested, the category whose model actually answered, and the model
// identity. Never persisted by the service.
type Result struct {
	Prediction    int64            `json:"prediction"`
	Unit          TimeFormat       `json:"unit"`
	Category      feature.Category `json:"category"`
	ModelCategory feature.Category `json:"model_category"`
	Fallback      bool             `json:"fallback,omitempty"`
	ModelID       string           `json:"model_id"`
	ModelFamily   string           `json:"model_family"`
	Bound         *Bound           `json:"error_bound,omitempty"`
}

// Options configures the service.
type Options struct {
	// DefaultCategory answers for categories without a trained model.
	// Empty disables the fallback.
	DefaultCategory feature.Category
	// CacheTTL bounds how long a cached model serves before the store is
	// consulted again. Zero keeps entries until an explicit Reload.
	CacheTTL time.Duration
	Format   TimeFormat
}

type entry struct {
	model    *modelstore.TrainedModel
	enc      *feature.Encoder
	fallback bool
	loadedAt time.Time
}

// Service answers prediction requests. The per-category model cache is
// copy-on-write: lookups read an immutable map through an atomic pointer,
// and a refill publishes a whole new map, so concurrent readers see either
// the old or the new fully formed entry.
type Service struct {
	store *modelstore.Store
	opts  Options
	log   zerolog.Logger

	cache  atomic.Pointer[map[feature.Category]*entry]
	fillMu sync.Mutex
}

func New(store *modelstore.Store, opts Options, log zerolog.Logger) (*Service, error) {
	if opts.Format == "" {
		opts.Format = FormatMinutes
	}
	s := &Service{store: store, opts: opts, log: log}
	empty := make(map[feature.Category]*entry)
	s.cache.Store(&empty)
	return s, nil
}

// Predict estimates the build duration for a not-yet-built record.
func (s *Service) Predict(ctx context.Context, rec dataset.BuildRecord) (*Result, error) {
	ctx, span := otel.Tracer("rpmeta/predictor").Start(ctx, "predictor.Predict")
	defer span.End()

	start := time.Now()

	cat, err := feature.Categorize(rec)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("category", string(cat)))

	ent, err := s.resolve(cat)
	if err != nil {
		return nil, err
	}

	_, vec, err := ent.enc.Encode(rec)
	if err != nil {
		return nil, err
	}

	seconds := ent.model.Model.Predict(vec)
	if seconds < 0 {
		seconds = 0
	}
	// Whole minutes, rounded up: schedulers want a safe grain, and the
	// models are not credible at second resolution anyway.
	minutes := int64(math.Ceil(seconds / 60))

	res := &Result{
		Prediction:    convertMinutes(minutes, s.opts.Format),
		Unit:          s.opts.Format,
		Category:      cat,
		ModelCategory: ent.model.Meta.Category,
		Fallback:      ent.fallback,
		ModelID:       ent.model.Meta.ID,
		ModelFamily:   ent.model.Meta.Family,
		Bound:         bound(ent.model.Meta.Metrics, s.opts.Format),
	}

	metrics.RecordPrediction(string(cat), res.ModelFamily, res.Fallback, time.Since(start))
	return res, nil
}

// Reload drops every cached model so the next request per category hits the
// store. This is the manual retrain/replace trigger; the service never
// polls the store on its own outside the TTL.
func (s *Service) Reload() {
	// Serialize with resolve: a refill that snapshotted the map before this
	// reload must not republish the old entries after it.
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	empty := make(map[feature.Category]*entry)
	s.cache.Store(&empty)
	s.log.Info().Msg("model cache invalidated")
}

// resolve returns the cached entry for a category, loading and publishing
// it on first use or after TTL expiry.
func (s *Service) resolve(cat feature.Category) (*entry, error) {
	if ent, ok := s.lookup(cat); ok {
		return ent, nil
	}

	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	// Another request may have filled it while we waited.
	if ent, ok := s.lookup(cat); ok {
		return ent, nil
	}

	ent, err := s.load(cat)
	if err != nil {
		return nil, err
	}

	old := *s.cache.Load()
	next := make(map[feature.Category]*entry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[cat] = ent
	s.cache.Store(&next)
	return ent, nil
}

func (s *Service) lookup(cat feature.Category) (*entry, bool) {
	ent, ok := (*s.cache.Load())[cat]
	if !ok {
		return nil, false
	}
	if s.opts.CacheTTL > 0 && time.Since(ent.loadedAt) > s.opts.CacheTTL {
		return nil, false
	}
	return ent, true
}

func (s *Service) load(cat feature.Category) (*entry, error) {
	fallback := false
	model, err := s.store.LoadBest(cat)
	if errors.Is(err, modelstore.ErrModelNotFound) && s.opts.DefaultCategory != "" && cat != s.opts.DefaultCategory {
		s.log.Info().Str("category", string(cat)).Str("default", string(s.opts.DefaultCategory)).
			Msg("no category model, falling back to default")
		fallback = true
		model, err = s.store.LoadBest(s.opts.DefaultCategory)
	}
	if errors.Is(err, modelstore.ErrModelNotFound) {
		return nil, fmt.Errorf("%w for category %q", ErrNoModelAvailable, cat)
	}
	if err != nil {
		return nil, err
	}

	if err := feature.CheckLayout(model.Schema); err != nil {
		return nil, err
	}
	if fp := model.Schema.Fingerprint(); fp != model.Meta.SchemaFingerprint {
		return nil, fmt.Errorf("%w: schema payload fingerprint %s does not match metadata %s",
			modelstore.ErrStorage, fp, model.Meta.SchemaFingerprint)
	}

	s.log.Info().Str("category", string(cat)).Str("model", model.Meta.ID).
		Str("family", model.Meta.Family).Bool("fallback", fallback).Msg("model loaded")

	return &entry{
		model:    model,
		enc:      feature.NewEncoder(model.Schema),
		fallback: fallback,
		loadedAt: time.Now(),
	}, nil
}

func convertMinutes(minutes int64, format TimeFormat) int64 {
	switch format {
	case FormatSeconds:
		return minutes * 60
	case FormatHours:
		return minutes / 60
	default:
		return minutes
	}
}

func bound(m modelstore.Metrics, format TimeFormat) *Bound {
	if m.Samples == 0 {
		return nil
	}
	under := int64(math.Ceil(m.MAEUnder / 60))
	over := int64(math.Ceil(m.MAEOver / 60))
	return &Bound{
		Under: convertMinutes(under, format),
		Over:  convertMinutes(over, format),
	}
}
