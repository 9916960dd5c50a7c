package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/semindex"
)

// Config is the CLI configuration. Values come from a config file, then
// SEMINDEX_* environment variables (dots become underscores), then defaults.
type Config struct {
	Docs     string `mapstructure:"docs"`
	IndexDir string `mapstructure:"index_dir"`
	Root     string `mapstructure:"root"`

	Log     LogConfig     `mapstructure:"log"`
	Embed   EmbedConfig   `mapstructure:"embedder"`
	Index   IndexConfig   `mapstructure:"index"`
	Search  SearchConfig  `mapstructure:"search"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EmbedConfig selects the embedding backend.
type EmbedConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Dims     int    `mapstructure:"dims"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// IndexConfig tunes indexing.
type IndexConfig struct {
	Extensions        []string      `mapstructure:"extensions"`
	Ignore            []string      `mapstructure:"ignore"`
	MemoryLimitMB     int64         `mapstructure:"memory_limit_mb"`
	IORate            float64       `mapstructure:"io_rate"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	PersistEvery      int           `mapstructure:"persist_every"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	K             int     `mapstructure:"k"`
	Mode          string  `mapstructure:"mode"`
	LexicalWeight float64 `mapstructure:"lexical_weight"`
	DenseWeight   float64 `mapstructure:"dense_weight"`
}

// WatchConfig tunes the file watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// RemoteConfig selects the snapshot store.
type RemoteConfig struct {
	Kind      string `mapstructure:"kind"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
	Codec     string `mapstructure:"codec"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	def := semindex.DefaultSearchOptions()

	v.SetDefault("docs", ".")
	v.SetDefault("index_dir", "")
	v.SetDefault("root", semindex.DefaultRoot)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("embedder.provider", "hash")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.dims", 0)
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("index.extensions", []string{".md"})
	v.SetDefault("index.ignore", semindex.DefaultIgnore())
	v.SetDefault("index.memory_limit_mb", semindex.DefaultMemoryLimit>>20)
	v.SetDefault("index.io_rate", 0.0)
	v.SetDefault("index.reconcile_interval", 5*time.Minute)
	v.SetDefault("index.persist_every", 10)
	v.SetDefault("search.k", def.K)
	v.SetDefault("search.mode", string(def.Mode))
	v.SetDefault("search.lexical_weight", def.LexicalWeight)
	v.SetDefault("search.dense_weight", def.DenseWeight)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("watch.max_delay", 3*time.Second)
	v.SetDefault("remote.kind", "s3")
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.prefix", "semindex")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.region", "")
	v.SetDefault("remote.access_key", "")
	v.SetDefault("remote.secret_key", "")
	v.SetDefault("remote.secure", true)
	v.SetDefault("remote.codec", "zstd")
	v.SetDefault("metrics.addr", "")
}

// LoadConfig reads configuration from path, or from semindex.yaml in the
// working directory when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("semindex")
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	v.SetEnvPrefix("SEMINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("embedder.api_key", "SEMINDEX_EMBEDDER_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Docs == "" {
		errs = append(errs, errors.New("docs must be set"))
	}
	switch c.Embed.Provider {
	case "hash":
	case "openai":
		if c.Embed.APIKey == "" {
			errs = append(errs, errors.New("embedder.api_key (or OPENAI_API_KEY) is required for openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedder provider %q", c.Embed.Provider))
	}
	if c.Embed.Dims < 0 {
		errs = append(errs, fmt.Errorf("embedder.dims must not be negative, got %d", c.Embed.Dims))
	}
	if _, err := semindex.ParseMode(c.Search.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return level, nil
}
