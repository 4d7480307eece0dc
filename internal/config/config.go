// Package config defines the top-level configuration for the tick scraper
// and provides validation helpers.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SCRAPER_* environment variables.
type Config struct {
	Redis     RedisConfig     `toml:"redis"`
	Series    SeriesConfig    `toml:"series"`
	Transport TransportConfig `toml:"transport"`
	Feeds     []FeedConfig    `toml:"feeds"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Replay    ReplayConfig    `toml:"replay"`
	Server    ServerConfig    `toml:"server"`
	LogLevel  string          `toml:"log_level"`
	LogFormat string          `toml:"log_format"`
	LogFile   LogFileConfig   `toml:"log_file"`
}

// RedisConfig holds connection parameters for the time-series store.
type RedisConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	DialTimeout duration `toml:"dial_timeout"`
}

// URL assembles the connection string in the form
// redis://{username}:{password}@{host}:{port}/{db}.
func (r RedisConfig) URL() string {
	scheme := "redis"
	if r.TLSEnabled {
		scheme = "rediss"
	}
	u := url.URL{
		Scheme: scheme,
		User:   url.UserPassword(r.Username, r.Password),
		Host:   net.JoinHostPort(r.Host, strconv.Itoa(r.Port)),
		Path:   "/" + strconv.Itoa(r.DB),
	}
	return u.String()
}

// SeriesConfig controls key naming and per-series options.
type SeriesConfig struct {
	// Namespace is prepended to every series key when set.
	Namespace       string   `toml:"namespace"`
	Retention       duration `toml:"retention"`
	DuplicatePolicy string   `toml:"duplicate_policy"`
	// SnapshotReset is "zero" or "delete".
	SnapshotReset string `toml:"snapshot_reset"`
}

// TransportConfig holds streaming connection timings shared by all feeds.
type TransportConfig struct {
	IdleTimeout       duration `toml:"idle_timeout"`
	HandshakeTimeout  duration `toml:"handshake_timeout"`
	WriteWait         duration `toml:"write_wait"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	ReadLimit         int64    `toml:"read_limit"`
}

// FeedConfig describes one exchange/feed-kind/symbol pipeline.
type FeedConfig struct {
	Exchange string `toml:"exchange"`
	Kind     string `toml:"kind"`
	Symbol   string `toml:"symbol"`
	// KeySymbol overrides the symbol used in series keys and labels.
	KeySymbol string `toml:"key_symbol"`
	// Endpoint overrides the exchange's default streaming URL.
	Endpoint string `toml:"endpoint"`
}

// PostgresConfig holds the audit database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	QueueSize     int    `toml:"queue_size"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ReplayConfig controls the replay journal of failed writes and undecodable
// frames.
type ReplayConfig struct {
	Enabled       bool     `toml:"enabled"`
	FlushInterval duration `toml:"flush_interval"`
	MaxEntries    int      `toml:"max_entries"`
	Prefix        string   `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// LogFileConfig enables a rotating log file alongside stdout.
type LogFileConfig struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Host:        "cache",
			Port:        6379,
			Username:    "default",
			DB:          0,
			PoolSize:    4,
			MaxRetries:  -1,
			DialTimeout: duration{5 * time.Second},
		},
		Series: SeriesConfig{
			Retention:       duration{24 * time.Hour},
			DuplicatePolicy: "LAST",
			SnapshotReset:   "zero",
		},
		Transport: TransportConfig{
			IdleTimeout:       duration{5 * time.Second},
			HandshakeTimeout:  duration{15 * time.Second},
			WriteWait:         duration{10 * time.Second},
			ReconnectDelay:    duration{2 * time.Second},
			MaxReconnectDelay: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
			QueueSize:     1024,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickscraper",
			ForcePathStyle: true,
		},
		Replay: ReplayConfig{
			FlushInterval: duration{time.Minute},
			MaxEntries:    10_000,
			Prefix:        "replay",
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8000,
		},
		LogLevel:  "info",
		LogFormat: "json",
		LogFile: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

var validExchanges = map[string]bool{
	"bitmex":   true,
	"binance":  true,
	"coinbase": true,
	"bybit":    true,
}

var validKinds = map[string]bool{
	"quote": true,
	"trade": true,
	"book":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Redis
	if c.Redis.Host == "" {
		errs = append(errs, "redis: host must not be empty")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("redis: port must be 1-65535, got %d", c.Redis.Port))
	}
	if c.Redis.Password == "" {
		errs = append(errs, "redis: password is required (set REDIS_PASSWORD)")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "redis: db must be >= 0")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Series
	if c.Series.Retention.Duration < 0 {
		errs = append(errs, "series: retention must be >= 0")
	}
	if m := strings.ToLower(c.Series.SnapshotReset); m != "zero" && m != "delete" {
		errs = append(errs, fmt.Sprintf("series: unknown snapshot_reset %q (valid: zero, delete)", c.Series.SnapshotReset))
	}

	// Transport
	if c.Transport.IdleTimeout.Duration <= 0 {
		errs = append(errs, "transport: idle_timeout must be > 0")
	}
	if c.Transport.MaxReconnectDelay.Duration < c.Transport.ReconnectDelay.Duration {
		errs = append(errs, "transport: max_reconnect_delay must not be less than reconnect_delay")
	}

	// Feeds
	if len(c.Feeds) == 0 {
		errs = append(errs, "feeds: at least one feed must be configured")
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		ex := strings.ToLower(f.Exchange)
		kind := strings.ToLower(f.Kind)
		if !validExchanges[ex] {
			errs = append(errs, fmt.Sprintf("feeds[%d]: unknown exchange %q", i, f.Exchange))
		}
		if !validKinds[kind] {
			errs = append(errs, fmt.Sprintf("feeds[%d]: unknown kind %q (valid: quote, trade, book)", i, f.Kind))
		}
		if strings.TrimSpace(f.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: symbol must not be empty", i))
		}
		id := ex + ":" + kind + ":" + strings.ToUpper(f.Symbol)
		if seen[id] {
			errs = append(errs, fmt.Sprintf("feeds[%d]: duplicate feed %s", i, id))
		}
		seen[id] = true
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, "postgres: dsn must be set when enabled")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Postgres.QueueSize < 1 {
			errs = append(errs, "postgres: queue_size must be >= 1")
		}
	}

	// Replay
	if c.Replay.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when replay is enabled")
		}
		if c.Replay.FlushInterval.Duration <= 0 {
			errs = append(errs, "replay: flush_interval must be > 0")
		}
		if c.Replay.MaxEntries < 1 {
			errs = append(errs, "replay: max_entries must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
