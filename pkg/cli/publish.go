package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fedora-copr/rpmeta/pkg/modelstore"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Push the model store to a remote host over SFTP",
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	if cfg.Publish.Host == "" {
		return fmt.Errorf("publish.host is not configured")
	}

	store, err := modelstore.New(cfg.Store.Root)
	if err != nil {
		return err
	}
	return modelstore.NewPublisher(store, log).Publish(cfg.Publish)
}
