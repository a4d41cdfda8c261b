package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	StorageType        string        `mapstructure:"storage_type"`
	BBoltPath          string        `mapstructure:"bbolt_path"`
	BBoltOpenTimeoutMs int64         `mapstructure:"bbolt_open_timeout_ms"`
	BBoltOpenTimeout   time.Duration `mapstructure:"-"`

	SeedsFile      string `mapstructure:"seeds_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	FetchTimeoutSeconds int64         `mapstructure:"fetch_timeout_seconds"`
	FetchTimeout        time.Duration `mapstructure:"-"`
	FetchProxyTemplate  string        `mapstructure:"fetch_proxy_template"`
	FetchUserAgent      string        `mapstructure:"fetch_user_agent"`
	FetchConcurrency    int           `mapstructure:"fetch_concurrency"`
	MaxBodyBytes        int64         `mapstructure:"max_body_bytes"`

	HTTPAddr string `mapstructure:"http_addr"`
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "pocket-reader")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/reader.db")
	v.SetDefault("bbolt_open_timeout_ms", 1000)
	v.SetDefault("seeds_file", "./configs/seeds.yaml")
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("fetch_timeout_seconds", 15)
	v.SetDefault("fetch_proxy_template", "")
	v.SetDefault("fetch_user_agent", defaultUserAgent)
	v.SetDefault("fetch_concurrency", 4)
	v.SetDefault("max_body_bytes", 2<<20)
	v.SetDefault("http_addr", ":8080")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize validates numeric settings and derives durations.
func (cfg *Config) finalize() error {
	if cfg.BBoltOpenTimeoutMs <= 0 {
		return fmt.Errorf("invalid bbolt_open_timeout_ms (must be positive milliseconds)")
	}
	cfg.BBoltOpenTimeout = time.Duration(cfg.BBoltOpenTimeoutMs) * time.Millisecond

	if cfg.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid fetch_timeout_seconds (must be positive seconds)")
	}
	cfg.FetchTimeout = time.Duration(cfg.FetchTimeoutSeconds) * time.Second

	if cfg.FetchConcurrency <= 0 {
		return fmt.Errorf("invalid fetch_concurrency (must be positive)")
	}
	if cfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max_body_bytes (must be positive)")
	}

	cfg.FetchProxyTemplate = strings.TrimSpace(cfg.FetchProxyTemplate)
	if cfg.FetchProxyTemplate != "" && strings.Count(cfg.FetchProxyTemplate, "%s") != 1 {
		return fmt.Errorf("invalid fetch_proxy_template (must contain exactly one %%s)")
	}
	return nil
}
