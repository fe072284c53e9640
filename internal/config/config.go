// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
	"github.com/JakeFAU/car-listing-crawler/internal/logging"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/local"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/mongodb"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/pubsubsink"
	"github.com/JakeFAU/car-listing-crawler/internal/storage/redisstream"
)

// EnvPrefix namespaces environment overrides, e.g. CARCRAWLER_CRAWL_MAX_PAGES.
const EnvPrefix = "CARCRAWLER"

// Sink types.
const (
	SinkMongoDB  = "mongodb"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
	SinkPubSub   = "pubsub"
	SinkMemory   = "memory"
)

// Archive types.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Logging   logging.Config        `mapstructure:"logging"`
	Crawl     CrawlConfig           `mapstructure:"crawl"`
	Session   SessionConfig         `mapstructure:"session"`
	Fetch     FetchConfig           `mapstructure:"fetch"`
	RateLimit RateLimitConfig       `mapstructure:"rate_limit"`
	Locators  crawler.FieldLocators `mapstructure:"locators"`
	Sink      SinkConfig            `mapstructure:"sink"`
	Archive   ArchiveConfig         `mapstructure:"archive"`
	Server    ServerConfig          `mapstructure:"server"`
}

// CrawlConfig governs the listing walk.
type CrawlConfig struct {
	BaseURL                string   `mapstructure:"base_url"`
	Brands                 []string `mapstructure:"brands"`
	PageSize               int      `mapstructure:"page_size"`
	MaxPages               int      `mapstructure:"max_pages"`
	MaxBlockRetries        int      `mapstructure:"max_block_retries"`
	MaxConsecutiveFailures int      `mapstructure:"max_consecutive_failures"`
	FollowDetails          bool     `mapstructure:"follow_details"`
	FiltersFile            string   `mapstructure:"filters_file"`
}

// SessionConfig controls cookie session lifetime, pacing and block detection.
type SessionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Duration      time.Duration `mapstructure:"duration"`
	MaxRequests   int           `mapstructure:"max_requests"`
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	UserAgents    []string      `mapstructure:"user_agents"`
	BlockStatuses []int         `mapstructure:"block_statuses"`
	BlockMarkers  []string      `mapstructure:"block_markers"`
}

// FetchConfig configures the HTTP client and its transport retries.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// RateLimitConfig caps requests per host on top of the session delay.
type RateLimitConfig struct {
	RPS    float64 `mapstructure:"rps"`
	Burst  int     `mapstructure:"burst"`
	MinRPS float64 `mapstructure:"min_rps"`
}

// SinkConfig selects where listing records are written.
type SinkConfig struct {
	Type     string             `mapstructure:"type"`
	MongoDB  mongodb.Config     `mapstructure:"mongodb"`
	Postgres postgres.Config    `mapstructure:"postgres"`
	Redis    redisstream.Config `mapstructure:"redis"`
	PubSub   pubsubsink.Config  `mapstructure:"pubsub"`
}

// ArchiveConfig selects where raw listing pages are kept.
type ArchiveConfig struct {
	Type   string       `mapstructure:"type"`
	Prefix string       `mapstructure:"prefix"`
	Local  local.Config `mapstructure:"local"`
	GCS    gcs.Config   `mapstructure:"gcs"`
}

// ServerConfig controls the optional ops HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

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
	cfg.Sink.Type = strings.ToLower(strings.TrimSpace(cfg.Sink.Type))
	cfg.Archive.Type = strings.ToLower(strings.TrimSpace(cfg.Archive.Type))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	session := crawler.DefaultSessionConfig()
	crawl := crawler.DefaultConfig()

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawl.base_url", crawl.BaseURL)
	v.SetDefault("crawl.brands", []string{})
	v.SetDefault("crawl.page_size", crawl.PageSize)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.max_block_retries", crawl.MaxBlockRetries)
	v.SetDefault("crawl.max_consecutive_failures", crawl.MaxConsecutiveFailures)
	v.SetDefault("crawl.follow_details", false)
	v.SetDefault("crawl.filters_file", "filters.json")
	v.SetDefault("session.enabled", session.Enabled)
	v.SetDefault("session.duration", session.Duration)
	v.SetDefault("session.max_requests", session.MaxRequests)
	v.SetDefault("session.min_delay", session.MinDelay)
	v.SetDefault("session.max_delay", session.MaxDelay)
	v.SetDefault("session.user_agents", session.UserAgents)
	v.SetDefault("session.block_statuses", crawler.DefaultBlockStatuses)
	v.SetDefault("session.block_markers", crawler.DefaultBlockMarkers)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial", 500*time.Millisecond)
	v.SetDefault("fetch.backoff_max", 10*time.Second)
	v.SetDefault("rate_limit.rps", 0.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("rate_limit.min_rps", 0.05)
	v.SetDefault("sink.type", SinkMongoDB)
	v.SetDefault("sink.mongodb.uri", mongodb.DefaultURI)
	v.SetDefault("sink.mongodb.database", mongodb.DefaultDatabase)
	v.SetDefault("sink.mongodb.collection", mongodb.DefaultCollection)
	v.SetDefault("sink.mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("sink.postgres.table", postgres.DefaultTable)
	v.SetDefault("sink.postgres.ensure_schema", true)
	v.SetDefault("sink.redis.stream", redisstream.DefaultStream)
	v.SetDefault("sink.pubsub.topic_id", "car-listings")
	v.SetDefault("archive.type", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local.base_dir", "data/pages")
	v.SetDefault("server.addr", "")
}

// bindEnv maps the unprefixed variables used by existing deployments.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"sink.mongodb.uri":       {EnvPrefix + "_SINK_MONGODB_URI", "MONGO_URI"},
		"sink.mongodb.database":  {EnvPrefix + "_SINK_MONGODB_DATABASE", "MONGO_DB_NAME"},
		"sink.postgres.dsn":      {EnvPrefix + "_SINK_POSTGRES_DSN", "DATABASE_URL"},
		"sink.redis.addr":        {EnvPrefix + "_SINK_REDIS_ADDR", "REDIS_ADDR"},
		"sink.pubsub.project_id": {EnvPrefix + "_SINK_PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
		"archive.gcs.bucket":     {EnvPrefix + "_ARCHIVE_GCS_BUCKET", "GCS_BUCKET"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.BaseURL) == "" {
		return fmt.Errorf("crawl.base_url is required")
	}
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.Session.MinDelay < 0 || c.Session.MaxDelay < c.Session.MinDelay {
		return fmt.Errorf("session delays must satisfy 0 <= min_delay <= max_delay")
	}
	if c.Session.Enabled && (c.Session.Duration <= 0 || c.Session.MaxRequests <= 0) {
		return fmt.Errorf("session.duration and session.max_requests must be > 0 when sessions are enabled")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if err := c.Locators.Validate(); err != nil {
		return err
	}

	switch c.Sink.Type {
	case SinkMongoDB, SinkMemory:
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required for the postgres sink")
		}
	case SinkRedis:
		if c.Sink.Redis.Addr == "" {
			return fmt.Errorf("sink.redis.addr is required for the redis sink")
		}
	case SinkPubSub:
		if c.Sink.PubSub.ProjectID == "" || c.Sink.PubSub.TopicID == "" {
			return fmt.Errorf("sink.pubsub.project_id and sink.pubsub.topic_id are required for the pubsub sink")
		}
	default:
		return fmt.Errorf("unknown sink.type %q", c.Sink.Type)
	}

	switch c.Archive.Type {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive.type %q", c.Archive.Type)
	}
	return nil
}
