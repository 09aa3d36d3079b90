// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Identity IdentityConfig `mapstructure:"identity"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SiteConfig names the retail site being crawled.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	SearchURL string `mapstructure:"search_url"`
	Pages     int    `mapstructure:"pages"`
}

// CrawlerConfig governs worker pool behavior.
type CrawlerConfig struct {
	Workers      int  `mapstructure:"workers"`
	DelaySeconds int  `mapstructure:"delay_seconds"`
	Force        bool `mapstructure:"force"`
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	PerHostRPS     float64 `mapstructure:"per_host_rps"`
	PerHostBurst   int     `mapstructure:"per_host_burst"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
}

// IdentityConfig configures user-agent rotation and the proxy provider.
type IdentityConfig struct {
	UserAgents  []string `mapstructure:"user_agents"`
	ProxyAPIURL string   `mapstructure:"proxy_api_url"`
	ProxyAPIKey string   `mapstructure:"proxy_api_key"`
	AllowDirect bool     `mapstructure:"allow_direct"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig controls the shared seen-URL cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// PubSubConfig holds metadata for stored-item notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects the raw-page archive backend.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KIBBLEWATCH")
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
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.delay_seconds", 5)
	v.SetDefault("crawler.force", false)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.per_host_rps", 1.0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("identity.allow_direct", false)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("redis.ttl_hours", 24)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Site.SearchURL == "" {
		return fmt.Errorf("site.search_url is required")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Archive.Backend {
	case "none", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be none, local or gcs")
	}
	if c.Archive.Backend == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir is required for the local backend")
	}
	if c.Archive.Backend == "gcs" && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required for the gcs backend")
	}
	return nil
}

// Delay converts the configured politeness delay to a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}

// Timeout converts the HTTP timeout to a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SeenTTL converts the redis TTL to a duration.
func (c Config) SeenTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}
