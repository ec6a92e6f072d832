// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Index   IndexConfig   `mapstructure:"index"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the read-only HTTP front end.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl orchestrator and its fetcher.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	DelayMin       time.Duration `mapstructure:"delay_min"`
	DelayMax       time.Duration `mapstructure:"delay_max"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DebugDir       string        `mapstructure:"debug_dir"`
	QueueSize      int           `mapstructure:"queue_size"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"` // 0 means unlimited
}

// IndexConfig sets up the indexing pipeline and its on-disk store.
type IndexConfig struct {
	Path          string `mapstructure:"path"`
	Workers       int    `mapstructure:"workers"`
	DocQueueSize  int    `mapstructure:"doc_queue_size"`
	ProgressEvery int    `mapstructure:"progress_every"`
}

// DBConfig controls access to the relational story store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from an optional file plus ARCHIVE_* environment
// variables and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0")
	v.SetDefault("crawler.delay_min", 3*time.Second)
	v.SetDefault("crawler.delay_max", 8*time.Second)
	v.SetDefault("crawler.request_timeout", 60*time.Second)
	v.SetDefault("crawler.debug_dir", "debug")
	v.SetDefault("crawler.queue_size", 10_000)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("index.path", "index/chapters.db")
	v.SetDefault("index.workers", 0)
	v.SetDefault("index.doc_queue_size", 10_000)
	v.SetDefault("index.progress_every", 100_000)
	v.SetDefault("db.dsn", "postgres://localhost:5432/archive?sslmode=disable")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.DelayMin <= 0 {
		return fmt.Errorf("crawler.delay_min must be > 0")
	}
	if c.Crawler.DelayMax <= c.Crawler.DelayMin {
		return fmt.Errorf("crawler.delay_max must be greater than crawler.delay_min")
	}
	if c.Crawler.QueueSize <= 0 {
		return fmt.Errorf("crawler.queue_size must be > 0")
	}
	if c.Crawler.MaxBodyBytes < 0 {
		return fmt.Errorf("crawler.max_body_bytes must be >= 0")
	}
	if c.Index.Path == "" {
		return fmt.Errorf("index.path must be set")
	}
	if c.Index.Workers < 0 {
		return fmt.Errorf("index.workers must be >= 0")
	}
	if c.Index.DocQueueSize <= 0 {
		return fmt.Errorf("index.doc_queue_size must be > 0")
	}
	if c.Index.ProgressEvery <= 0 {
		return fmt.Errorf("index.progress_every must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	return nil
}
