package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/fetcher"
)

var (
	fetchStart string
	fetchEnd   string

	fetchCmd = &cobra.Command{
		Use:   "fetch {copr|koji}",
		Short: "Fetch finished builds into the dataset store",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
)

func init() {
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "only builds completed after this date (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "only builds completed before this date (YYYY-MM-DD)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	window, err := parseWindow(fetchStart, fetchEnd)
	if err != nil {
		return err
	}

	var source fetcher.Fetcher
	switch args[0] {
	case "copr":
		source = fetcher.NewCoprFetcher(fetcher.CoprOptions{
			BaseURL:  cfg.Fetcher.CoprURL,
			Owner:    cfg.Fetcher.CoprOwner,
			Project:  cfg.Fetcher.CoprProject,
			PageSize: cfg.Fetcher.PageSize,
			Timeout:  cfg.Fetcher.Timeout,
			Window:   window,
		}, log)
	case "koji":
		source = fetcher.NewKojiFetcher(fetcher.KojiOptions{
			HubURL:   cfg.Fetcher.KojiURL,
			TopURL:   cfg.Fetcher.KojiTopURL,
			PageSize: cfg.Fetcher.PageSize,
			Timeout:  cfg.Fetcher.Timeout,
			Window:   window,
		}, log)
	default:
		return fmt.Errorf("unknown build system %q, expected copr or koji", args[0])
	}

	records, err := source.Fetch(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch builds: %w", err)
	}
	if len(records) == 0 {
		log.Warn().Msg("no builds matched the window")
		return nil
	}

	store, err := dataset.OpenStore(cfg.Dataset.Backend, cfg.Dataset.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveRecords(cmd.Context(), records); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	log.Info().Int("records", len(records)).Str("backend", cfg.Dataset.Backend).Msg("records saved")
	return nil
}

func parseWindow(start, end string) (fetcher.Window, error) {
	var window fetcher.Window
	if start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			return window, fmt.Errorf("invalid --start: %w", err)
		}
		window.Start = t
	}
	if end != "" {
		t, err := time.Parse("2006-01-02", end)
		if err != nil {
			return window, fmt.Errorf("invalid --end: %w", err)
		}
		window.End = t
	}
	return window, nil
}
