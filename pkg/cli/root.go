// Package cli defines the rpmeta command tree.
package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fedora-copr/rpmeta/pkg/config"
)

var (
	cfgFile string
	verbose bool

	rootCmd = &cobra.Command{
		Use:           "rpmeta",
		Short:         "RPM build duration prediction",
		Long:          "rpmeta collects finished RPM build results, trains duration models per build target, and serves predictions over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
