package modelstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/regressor"
)

func testSchema() *feature.Schema {
	return feature.BuildSchema([]dataset.BuildRecord{
		{PackageName: "vim", MockChroot: "fedora-42-x86_64", Deps: []string{"gcc"}, DurationSecs: 300},
	})
}

func testModel(t *testing.T, category feature.Category, family string, mae float64, baseline bool) *TrainedModel {
	t.Helper()
	xs := make([][]float64, 20)
	y := make([]float64, 20)
	for i := range xs {
		xs[i] = []float64{float64(i), float64(i % 4)}
		y[i] = float64(60 + i*30)
	}
	model, err := regressor.Fit(family, xs, y, regressor.DefaultParams(), 1)
	if err != nil {
		t.Fatalf("fit %s model: %v", family, err)
	}
	return &TrainedModel{
		Meta: Metadata{
			Category:          category,
			Family:            family,
			SchemaLayout:      feature.LayoutV1,
			SchemaFingerprint: testSchema().Fingerprint(),
			Metrics:           Metrics{MAE: mae, Samples: 2},
			Baseline:          baseline,
			TrainedAt:         time.Now().UTC(),
		},
		Model:  model,
		Schema: testSchema(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	saved := testModel(t, "fedora-42-x86_64", "mean", 120, true)
	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Meta.ID == "" {
		t.Fatal("save must assign a version id")
	}

	loaded, err := store.Load("fedora-42-x86_64", "mean")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Meta.ID != saved.Meta.ID {
		t.Fatalf("id mismatch: %s vs %s", loaded.Meta.ID, saved.Meta.ID)
	}
	if loaded.Model.Family() != "mean" {
		t.Fatalf("unexpected family: %s", loaded.Model.Family())
	}
	if loaded.Schema.Fingerprint() != saved.Schema.Fingerprint() {
		t.Fatal("schema sidecar does not match")
	}
	if got := loaded.Model.Predict([]float64{1}); got != saved.Model.Predict([]float64{1}) {
		t.Fatalf("prediction changed after reload: %f", got)
	}
}

func TestSaveReplacesPriorVersion(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	first := testModel(t, "fedora-42-x86_64", "mean", 120, true)
	if err := store.Save(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := testModel(t, "fedora-42-x86_64", "mean", 90, true)
	if err := store.Save(second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	loaded, err := store.Load("fedora-42-x86_64", "mean")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Meta.ID != second.Meta.ID {
		t.Fatalf("expected current to be %s, got %s", second.Meta.ID, loaded.Meta.ID)
	}

	// The superseded version stays until the next Save so a reader that
	// resolved the old pointer can still finish loading it.
	entryDir := filepath.Join(root, "fedora-42-x86_64", "mean")
	if _, err := os.Stat(filepath.Join(entryDir, first.Meta.ID, "model.json")); err != nil {
		t.Fatalf("superseded version must survive one save: %v", err)
	}

	third := testModel(t, "fedora-42-x86_64", "mean", 60, true)
	if err := store.Save(third); err != nil {
		t.Fatalf("save third: %v", err)
	}
	if _, err := os.Stat(filepath.Join(entryDir, first.Meta.ID)); !os.IsNotExist(err) {
		t.Fatal("twice-superseded version directory should be pruned")
	}
	if _, err := os.Stat(filepath.Join(entryDir, second.Meta.ID, "model.json")); err != nil {
		t.Fatalf("immediate predecessor must be retained: %v", err)
	}
}

func TestConcurrentSaveLoad(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(testModel(t, "fedora-42-x86_64", "mean", 120, true)); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	stop := make(chan struct{})
	errs := make(chan error, 1)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tm, err := store.LoadBest("fedora-42-x86_64")
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
				if tm.Meta.Family != "mean" {
					select {
					case errs <- fmt.Errorf("inconsistent load: %+v", tm.Meta):
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if err := store.Save(testModel(t, "fedora-42-x86_64", "mean", float64(100+i), true)); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatalf("reader observed a broken store during saves: %v", err)
	default:
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Load("nope", "mean"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if _, err := store.LoadBest("nope"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound from LoadBest, got %v", err)
	}
}

func TestLoadBestPrefersNonBaseline(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	// Baseline has the lowest MAE but must lose to any real model.
	if err := store.Save(testModel(t, "fedora-42-x86_64", "mean", 10, true)); err != nil {
		t.Fatalf("save baseline: %v", err)
	}
	if err := store.Save(testModel(t, "fedora-42-x86_64", "gb-exact", 80, false)); err != nil {
		t.Fatalf("save gb-exact: %v", err)
	}
	if err := store.Save(testModel(t, "fedora-42-x86_64", "gb-hist", 50, false)); err != nil {
		t.Fatalf("save gb-hist: %v", err)
	}

	best, err := store.LoadBest("fedora-42-x86_64")
	if err != nil {
		t.Fatalf("load best: %v", err)
	}
	if best.Meta.Family != "gb-hist" {
		t.Fatalf("expected gb-hist to win, got %s", best.Meta.Family)
	}
}

func TestListCategories(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(testModel(t, "fedora-42-x86_64", "mean", 10, true)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(testModel(t, "fedora-41-aarch64", "mean", 10, true)); err != nil {
		t.Fatalf("save: %v", err)
	}

	cats, err := store.ListCategories()
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(cats) != 2 || cats[0] != "fedora-41-aarch64" || cats[1] != "fedora-42-x86_64" {
		t.Fatalf("unexpected categories: %v", cats)
	}
}
