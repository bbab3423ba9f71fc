package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/predcache"
	"github.com/fedora-copr/rpmeta/pkg/predictor"
	"github.com/fedora-copr/rpmeta/pkg/server"
	"github.com/fedora-copr/rpmeta/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve build duration predictions over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Serve.TelemetryEnabled {
		shutdown := telemetry.InitTracer(ctx, "rpmeta", log)
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	format, err := predictor.ParseTimeFormat(cfg.Serve.TimeFormat)
	if err != nil {
		return err
	}

	store, err := modelstore.New(cfg.Store.Root)
	if err != nil {
		return err
	}
	svc, err := predictor.New(store, predictor.Options{
		DefaultCategory: feature.Category(cfg.Serve.DefaultCategory),
		CacheTTL:        cfg.Serve.ModelCacheTTL,
		Format:          format,
	}, log)
	if err != nil {
		return err
	}

	var cache *predcache.Cache
	if cfg.Cache.RedisURL != "" {
		cache, err = predcache.New(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	srv := server.New(svc, cache, server.Options{
		ListenAddr:     cfg.Serve.ListenAddr,
		RequestTimeout: cfg.Serve.RequestTimeout,
		AdminToken:     cfg.Serve.AdminToken,
	}, log)
	return srv.ListenAndServe(ctx)
}
