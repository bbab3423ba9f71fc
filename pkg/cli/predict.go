package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/predictor"
)

var (
	predictInput  string
	predictFormat string
	predictOutput string

	predictCmd = &cobra.Command{
		Use:   "predict",
		Short: "Predict the build duration for one build record",
		Long:  "Reads a build record as JSON from --input (or stdin) and prints the predicted duration.",
		RunE:  runPredict,
	}
)

func init() {
	predictCmd.Flags().StringVarP(&predictInput, "input", "i", "-", "build record JSON file, - for stdin")
	predictCmd.Flags().StringVar(&predictFormat, "time-format", "minutes", "output unit: seconds, minutes or hours")
	predictCmd.Flags().StringVar(&predictOutput, "output-type", "json", "output style: json or text")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	format, err := predictor.ParseTimeFormat(predictFormat)
	if err != nil {
		return err
	}

	rec, err := readRecord(predictInput)
	if err != nil {
		return err
	}

	store, err := modelstore.New(cfg.Store.Root)
	if err != nil {
		return err
	}
	svc, err := predictor.New(store, predictor.Options{
		DefaultCategory: feature.Category(cfg.Serve.DefaultCategory),
		Format:          format,
	}, log)
	if err != nil {
		return err
	}

	result, err := svc.Predict(cmd.Context(), rec)
	if err != nil {
		return err
	}
	return renderResult(os.Stdout, result, predictOutput)
}

func renderResult(w io.Writer, result *predictor.Result, outputType string) error {
	switch outputType {
	case "json":
		out := json.NewEncoder(w)
		out.SetIndent("", "  ")
		return out.Encode(result)
	case "text":
		if _, err := fmt.Fprintf(w, "Prediction: %d %s\n", result.Prediction, result.Unit); err != nil {
			return err
		}
		if result.Fallback {
			_, err := fmt.Fprintf(w, "Model: %s (default fallback for %s)\n", result.ModelFamily, result.Category)
			return err
		}
		_, err := fmt.Fprintf(w, "Model: %s for %s\n", result.ModelFamily, result.ModelCategory)
		return err
	default:
		return fmt.Errorf("unknown output type %q", outputType)
	}
}

func readRecord(path string) (dataset.BuildRecord, error) {
	var reader io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return dataset.BuildRecord{}, err
		}
		defer f.Close()
		reader = f
	}

	var rec dataset.BuildRecord
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return dataset.BuildRecord{}, fmt.Errorf("decode build record: %w", err)
	}
	return rec, nil
}
