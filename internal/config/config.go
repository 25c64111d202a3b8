package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the AppView server.
type Config struct {
	// Hostname is the public hostname where this service is reachable.
	Hostname string

	// Port is the HTTP server port.
	Port int

	// DatabasePath is the SQLite database file, or ":memory:".
	DatabasePath string

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string

	// FirehoseEnabled turns on Jetstream ingestion of listing commits.
	FirehoseEnabled bool

	// BlueskyPDS is the XRPC host used to resolve author profiles.
	BlueskyPDS string

	// StoreTimeout bounds every storage call made by the indexer and query
	// engine.
	StoreTimeout time.Duration

	// UseIndexes answers category and tag filters from secondary indexes
	// instead of scanning.
	UseIndexes bool

	// LogLevel is the minimum slog level.
	LogLevel slog.Level
}

// Load reads configuration from environment variables with sensible
// defaults. Variables from the given .env files are applied first without
// overriding the environment; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	port, err := intEnv("PORT", 3000)
	if err != nil {
		return nil, err
	}

	firehoseEnabled, err := boolEnv("MARKETPLACE_FIREHOSE_ENABLED", false)
	if err != nil {
		return nil, err
	}

	useIndexes, err := boolEnv("MARKETPLACE_USE_INDEXES", true)
	if err != nil {
		return nil, err
	}

	storeTimeout := 5 * time.Second
	if v := os.Getenv("MARKETPLACE_STORE_TIMEOUT"); v != "" {
		storeTimeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MARKETPLACE_STORE_TIMEOUT: %w", err)
		}
	}

	var level slog.Level
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	return &Config{
		Hostname:        stringEnv("MARKETPLACE_HOSTNAME", "localhost"),
		Port:            port,
		DatabasePath:    stringEnv("MARKETPLACE_DATABASE_PATH", "marketplace.db"),
		FirehoseURL:     stringEnv("MARKETPLACE_FIREHOSE_URL", "wss://jetstream1.us-east.bsky.network/subscribe"),
		FirehoseEnabled: firehoseEnabled,
		BlueskyPDS:      stringEnv("BLUESKY_PDS", "https://public.api.bsky.app"),
		StoreTimeout:    storeTimeout,
		UseIndexes:      useIndexes,
		LogLevel:        level,
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
