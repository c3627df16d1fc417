// Package config loads the router service configuration from file, environment
// and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/router"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. SOR_SERVER_ADDR
const EnvPrefix = "SOR"

// Config is the complete service configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Storage StorageConfig `mapstructure:"storage"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Routing RoutingConfig `mapstructure:"routing" validate:"required"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
	RateLimit       int           `mapstructure:"rate_limit" validate:"min=0"` // requests per window per client, 0 disables
	RateWindow      time.Duration `mapstructure:"rate_window" validate:"required_with=RateLimit"`
}

// LogConfig controls logger output
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=trace debug info warn warning error fatal panic"`
	Format     string `mapstructure:"format" validate:"required,oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

// NATSConfig holds the message bus connection
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"required_if=Enabled true"`
	Stream  string `mapstructure:"stream" validate:"required_if=Enabled true"`
}

// StorageConfig holds the sqlite persistence settings
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// CatalogConfig points at the seed file loaded at startup
type CatalogConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// RoutingConfig tunes the routing pipeline
type RoutingConfig struct {
	DefaultAlgorithm   string                   `mapstructure:"default_algorithm" validate:"required"`
	KnownSymbols       []string                 `mapstructure:"known_symbols"`
	PerformanceWindow  int                      `mapstructure:"performance_window" validate:"min=1"`
	QuantityPrecision  int32                    `mapstructure:"quantity_precision" validate:"min=0,max=18"`
	MaxMetricAge       time.Duration            `mapstructure:"max_metric_age" validate:"min=0"`
	ExcludeStaleVenues bool                     `mapstructure:"exclude_stale_venues"`
	Weights            algorithm.ScoringWeights `mapstructure:"weights"`
	BatchWorkers       int                      `mapstructure:"batch_workers" validate:"min=1,max=256"`
}

// CacheConfig controls the decision audit cache
type CacheConfig struct {
	DecisionTTL time.Duration `mapstructure:"decision_ttl" validate:"min=0"`
	MaxEntries  int           `mapstructure:"max_entries" validate:"min=0"`
}

// Router converts the routing section into router settings
func (c RoutingConfig) Router() router.Config {
	return router.Config{
		DefaultAlgorithm:   c.DefaultAlgorithm,
		KnownSymbols:       c.KnownSymbols,
		Weights:            c.Weights,
		QuantityPrecision:  c.QuantityPrecision,
		MaxMetricAge:       c.MaxMetricAge,
		ExcludeStaleVenues: c.ExcludeStaleVenues,
		BatchWorkers:       c.BatchWorkers,
	}
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	w := algorithm.DefaultScoringWeights()
	rc := router.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_window", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "SOR")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.path", "data/sor.db")

	v.SetDefault("catalog.seed_file", "")

	v.SetDefault("routing.default_algorithm", rc.DefaultAlgorithm)
	v.SetDefault("routing.known_symbols", []string{})
	v.SetDefault("routing.performance_window", algorithm.DefaultPerformanceWindow)
	v.SetDefault("routing.quantity_precision", rc.QuantityPrecision)
	v.SetDefault("routing.max_metric_age", rc.MaxMetricAge)
	v.SetDefault("routing.exclude_stale_venues", false)
	v.SetDefault("routing.weights.liquidity", w.Liquidity)
	v.SetDefault("routing.weights.slippage", w.Slippage)
	v.SetDefault("routing.weights.fill_rate", w.FillRate)
	v.SetDefault("routing.weights.latency", w.Latency)
	v.SetDefault("routing.weights.cost", w.Cost)
	v.SetDefault("routing.batch_workers", rc.BatchWorkers)

	v.SetDefault("cache.decision_ttl", time.Hour)
	v.SetDefault("cache.max_entries", 100000)
}

// Load reads configuration from path (optional), SOR_* environment variables
// and defaults, then validates it
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil, nil)
}

// LoadWithFlags is Load with command line overrides. bindings maps config
// keys to flag names; a flag takes precedence over env and file only when it
// was set explicitly.
func LoadWithFlags(path string, fs *pflag.FlagSet, bindings map[string]string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			return nil, fmt.Errorf("flag %q bound to %s is not defined", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and the scoring weights
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Routing.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid config: routing.weights: %w", err)
	}
	return nil
}
