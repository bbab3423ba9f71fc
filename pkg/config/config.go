// Package config loads rpmeta configuration from defaults, files, and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/trainer"
)

// DatasetConfig selects the build-record store backend.
type DatasetConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// TrainerConfig captures model-search settings.
type TrainerConfig struct {
	Families      []string            `mapstructure:"families"`
	Trials        int                 `mapstructure:"trials"`
	Seed          int64               `mapstructure:"seed"`
	MinSamples    int                 `mapstructure:"min_samples"`
	SplitFraction float64             `mapstructure:"split_fraction"`
	Margin        float64             `mapstructure:"margin"`
	Budget        time.Duration       `mapstructure:"budget"`
	Parallelism   int                 `mapstructure:"parallelism"`
	Space         trainer.SearchSpace `mapstructure:"search_space"`
}

// StoreConfig locates the model store on disk.
type StoreConfig struct {
	Root string `mapstructure:"root"`
}

// CacheConfig configures the optional redis prediction cache. An empty
// URL disables caching.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ServeConfig captures runtime settings for the prediction API.
type ServeConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	AdminToken       string        `mapstructure:"admin_token"`
	DefaultCategory  string        `mapstructure:"default_category"`
	ModelCacheTTL    time.Duration `mapstructure:"model_cache_ttl"`
	TimeFormat       string        `mapstructure:"time_format"`
	TelemetryEnabled bool          `mapstructure:"telemetry_enabled"`
}

// FetcherConfig configures the Copr and Koji build fetchers.
type FetcherConfig struct {
	CoprURL     string        `mapstructure:"copr_url"`
	CoprOwner   string        `mapstructure:"copr_owner"`
	CoprProject string        `mapstructure:"copr_project"`
	KojiURL     string        `mapstructure:"koji_url"`
	KojiTopURL  string        `mapstructure:"koji_top_url"`
	PageSize    int           `mapstructure:"page_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Config is the root rpmeta configuration.
type Config struct {
	Dataset DatasetConfig            `mapstructure:"dataset"`
	Trainer TrainerConfig            `mapstructure:"trainer"`
	Store   StoreConfig              `mapstructure:"store"`
	Cache   CacheConfig              `mapstructure:"cache"`
	Serve   ServeConfig              `mapstructure:"serve"`
	Fetcher FetcherConfig            `mapstructure:"fetcher"`
	Publish modelstore.PublishTarget `mapstructure:"publish"`
}

// Load reads configuration from path when given, otherwise from
// ./configs/config.{yaml,toml,json}, with RPMETA_ env var overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("RPMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound || path != "" {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset.backend", "json")
	v.SetDefault("dataset.dsn", "./data/builds.json")

	v.SetDefault("trainer.families", []string{"gb-exact", "gb-hist"})
	v.SetDefault("trainer.trials", 20)
	v.SetDefault("trainer.seed", 42)
	v.SetDefault("trainer.min_samples", 20)
	v.SetDefault("trainer.split_fraction", 0.2)
	v.SetDefault("trainer.margin", 0.0)
	v.SetDefault("trainer.parallelism", 4)

	v.SetDefault("store.root", "./models")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("serve.listen_addr", ":8100")
	v.SetDefault("serve.request_timeout", 30*time.Second)
	v.SetDefault("serve.default_category", "")
	v.SetDefault("serve.model_cache_ttl", 10*time.Minute)
	v.SetDefault("serve.time_format", "minutes")

	v.SetDefault("fetcher.copr_url", "https://copr.fedorainfracloud.org")
	v.SetDefault("fetcher.koji_url", "https://koji.fedoraproject.org/kojihub")
	v.SetDefault("fetcher.koji_top_url", "https://kojipkgs.fedoraproject.org")
	v.SetDefault("fetcher.page_size", 100)
	v.SetDefault("fetcher.timeout", 60*time.Second)

	v.SetDefault("publish.port", 22)
}
