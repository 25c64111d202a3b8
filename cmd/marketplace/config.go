package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "marketplace"
	configFileType = "yaml"
	envPrefix      = "MARKETPLACE"

	cfgKeyAppView     = "appview"
	cfgKeyPDS         = "pds"
	cfgKeyKnownUsers  = "known_users"
	cfgKeyHandle      = "handle"
	cfgKeyPassword    = "password"
	cfgKeyDID         = "did"
	cfgKeyConcurrency = "concurrency"
	cfgKeyRate        = "requests_per_second"
	cfgKeyTimeout     = "timeout"

	defaultPDS = "https://bsky.social"
)

// cliConfig is the resolved CLI configuration. Precedence is flag, then
// MARKETPLACE_* environment variable, then config file, then default.
type cliConfig struct {
	AppView           string
	PDS               string
	KnownUsersPath    string
	Handle            string
	Password          string
	DID               string
	Concurrency       int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"appview":     cfgKeyAppView,
	"pds":         cfgKeyPDS,
	"known-users": cfgKeyKnownUsers,
	"handle":      cfgKeyHandle,
	"did":         cfgKeyDID,
	"concurrency": cfgKeyConcurrency,
	"rate":        cfgKeyRate,
	"timeout":     cfgKeyTimeout,
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("appview", "", "AppView base URL; empty means always use the fallback")
	fs.String("pds", defaultPDS, "XRPC host used to read repositories")
	fs.String("known-users", defaultKnownUsersPath(), "Known users cache file; empty keeps it in memory")
	fs.String("handle", "", "Handle to log in with (password from MARKETPLACE_PASSWORD)")
	fs.String("did", "", "Your DID, included in fallback aggregation")
	fs.Int("concurrency", 4, "Concurrent repository fetches in fallback mode")
	fs.Float64("rate", 5, "Repository fetches per second in fallback mode (0 disables)")
	fs.Duration("timeout", 10*time.Second, "Timeout for each repository fetch")
}

func defaultKnownUsersPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bluesky-marketplace", "known-users.yaml")
}

// loadConfig resolves configuration from fs, the environment and the config
// file. A missing default config file is not an error; a missing explicit
// one is.
func loadConfig(fs *pflag.FlagSet, path string) (*cliConfig, error) {
	v := viper.New()
	v.SetDefault(cfgKeyPDS, defaultPDS)
	v.SetDefault(cfgKeyKnownUsers, defaultKnownUsersPath())
	v.SetDefault(cfgKeyConcurrency, 4)
	v.SetDefault(cfgKeyRate, 5.0)
	v.SetDefault(cfgKeyTimeout, 10*time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	c := &cliConfig{
		AppView:           strings.TrimRight(v.GetString(cfgKeyAppView), "/"),
		PDS:               v.GetString(cfgKeyPDS),
		KnownUsersPath:    v.GetString(cfgKeyKnownUsers),
		Handle:            v.GetString(cfgKeyHandle),
		Password:          v.GetString(cfgKeyPassword),
		DID:               v.GetString(cfgKeyDID),
		Concurrency:       v.GetInt(cfgKeyConcurrency),
		RequestsPerSecond: v.GetFloat64(cfgKeyRate),
		Timeout:           v.GetDuration(cfgKeyTimeout),
	}
	if c.PDS == "" {
		return nil, fmt.Errorf("%s must not be empty", cfgKeyPDS)
	}
	if c.DID != "" && !strings.HasPrefix(c.DID, "did:") {
		return nil, fmt.Errorf("did %q must start with did:", c.DID)
	}
	return c, nil
}
