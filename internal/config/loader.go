package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SCRAPER_* environment variable overrides, and
// returns the final Config. A missing file is not an error; defaults and the
// environment are enough to run. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides reads well-known SCRAPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). REDIS_PASSWORD and REDIS_HOST are honoured as aliases for existing
// deployments; the SCRAPER_ names win when both are set.
func applyEnvOverrides(cfg *Config) error {
	// ── Redis ──
	setStr(&cfg.Redis.Host, "REDIS_HOST")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.Redis.Host, "SCRAPER_REDIS_HOST")
	setInt(&cfg.Redis.Port, "SCRAPER_REDIS_PORT")
	setStr(&cfg.Redis.Username, "SCRAPER_REDIS_USERNAME")
	setStr(&cfg.Redis.Password, "SCRAPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCRAPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCRAPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SCRAPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SCRAPER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.DialTimeout, "SCRAPER_REDIS_DIAL_TIMEOUT")

	// ── Series ──
	setStr(&cfg.Series.Namespace, "SCRAPER_SERIES_NAMESPACE")
	setDuration(&cfg.Series.Retention, "SCRAPER_SERIES_RETENTION")
	setStr(&cfg.Series.DuplicatePolicy, "SCRAPER_SERIES_DUPLICATE_POLICY")
	setStr(&cfg.Series.SnapshotReset, "SCRAPER_SERIES_SNAPSHOT_RESET")

	// ── Transport ──
	setDuration(&cfg.Transport.IdleTimeout, "SCRAPER_TRANSPORT_IDLE_TIMEOUT")
	setDuration(&cfg.Transport.HandshakeTimeout, "SCRAPER_TRANSPORT_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Transport.WriteWait, "SCRAPER_TRANSPORT_WRITE_WAIT")
	setDuration(&cfg.Transport.ReconnectDelay, "SCRAPER_TRANSPORT_RECONNECT_DELAY")
	setDuration(&cfg.Transport.MaxReconnectDelay, "SCRAPER_TRANSPORT_MAX_RECONNECT_DELAY")
	setInt64(&cfg.Transport.ReadLimit, "SCRAPER_TRANSPORT_READ_LIMIT")

	// ── Feeds ──
	if v := os.Getenv("SCRAPER_FEEDS"); v != "" {
		feeds, err := ParseFeeds(v)
		if err != nil {
			return err
		}
		cfg.Feeds = feeds
	}

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SCRAPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SCRAPER_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "SCRAPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SCRAPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SCRAPER_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.QueueSize, "SCRAPER_POSTGRES_QUEUE_SIZE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SCRAPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SCRAPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SCRAPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SCRAPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SCRAPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SCRAPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SCRAPER_S3_FORCE_PATH_STYLE")

	// ── Replay ──
	setBool(&cfg.Replay.Enabled, "SCRAPER_REPLAY_ENABLED")
	setDuration(&cfg.Replay.FlushInterval, "SCRAPER_REPLAY_FLUSH_INTERVAL")
	setInt(&cfg.Replay.MaxEntries, "SCRAPER_REPLAY_MAX_ENTRIES")
	setStr(&cfg.Replay.Prefix, "SCRAPER_REPLAY_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SCRAPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SCRAPER_SERVER_PORT")

	// ── Logging ──
	setStr(&cfg.LogLevel, "SCRAPER_LOG_LEVEL")
	setStr(&cfg.LogFormat, "SCRAPER_LOG_FORMAT")
	setStr(&cfg.LogFile.Path, "SCRAPER_LOG_FILE")

	return nil
}

// ParseFeeds parses a comma-separated feed list where each entry is
// exchange:kind:symbol[:key_symbol].
func ParseFeeds(s string) ([]FeedConfig, error) {
	var feeds []FeedConfig
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("config: feed %q: want exchange:kind:symbol[:key_symbol]", entry)
		}
		f := FeedConfig{
			Exchange: strings.TrimSpace(parts[0]),
			Kind:     strings.TrimSpace(parts[1]),
			Symbol:   strings.TrimSpace(parts[2]),
		}
		if len(parts) == 4 {
			f.KeySymbol = strings.TrimSpace(parts[3])
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
