package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/metrics"
	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train per-category duration models from the dataset store",
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	recordStore, err := dataset.OpenStore(cfg.Dataset.Backend, cfg.Dataset.DSN)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	records, err := recordStore.ListRecords(cmd.Context())
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("dataset store %q holds no records, run fetch first", cfg.Dataset.DSN)
	}

	schema := feature.BuildSchema(records)
	builder := trainer.NewBuilder(feature.NewEncoder(schema), cfg.Trainer.MinSamples, cfg.Trainer.SplitFraction, cfg.Trainer.Seed, log)
	result, err := builder.Build(records)
	if err != nil {
		return fmt.Errorf("build datasets: %w", err)
	}
	if len(result.Datasets) == 0 {
		return fmt.Errorf("no category reached %d samples", cfg.Trainer.MinSamples)
	}

	t := trainer.New(trainer.Options{
		Families:    cfg.Trainer.Families,
		Space:       cfg.Trainer.Space,
		Trials:      cfg.Trainer.Trials,
		Seed:        cfg.Trainer.Seed,
		MinSamples:  cfg.Trainer.MinSamples,
		Margin:      cfg.Trainer.Margin,
		Budget:      cfg.Trainer.Budget,
		Parallelism: cfg.Trainer.Parallelism,
	}, log)

	trained, failures := t.TrainAll(cmd.Context(), schema, result)
	for cat, trainErr := range failures {
		log.Error().Err(trainErr).Str("category", string(cat)).Msg("category training failed")
	}
	if len(trained) == 0 {
		return fmt.Errorf("training produced no models")
	}

	store, err := modelstore.New(cfg.Store.Root)
	if err != nil {
		return err
	}
	for cat, model := range trained {
		if err := store.Save(model); err != nil {
			return fmt.Errorf("save model for %s: %w", cat, err)
		}
		metrics.RecordModelTrained(string(cat), model.Meta.Family, model.Meta.Baseline)
		log.Info().
			Str("category", string(cat)).
			Str("family", model.Meta.Family).
			Bool("baseline", model.Meta.Baseline).
			Float64("mae_seconds", model.Meta.Metrics.MAE).
			Msg("model stored")
	}

	log.Info().
		Int("categories", len(trained)).
		Int("failed", len(failures)).
		Int("dropped_records", result.Dropped).
		Msg("training complete")
	return nil
}
