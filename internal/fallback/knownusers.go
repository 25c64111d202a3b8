package fallback

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// KnownUsers is the local, append-only set of identities known to have
// posted listings. It is persisted as a YAML file; persistence is
// best-effort and failures are only logged.
type KnownUsers struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	dids []string
}

type knownUsersFile struct {
	Users []string `yaml:"users"`
}

// LoadKnownUsers reads the cache at path. A missing or unreadable file
// yields an empty cache. An empty path keeps the cache in memory only.
func LoadKnownUsers(path string, logger *slog.Logger) *KnownUsers {
	k := &KnownUsers{path: path, logger: logger}
	if path == "" {
		return k
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to read known users cache", "path", path, "error", err)
		}
		return k
	}

	var f knownUsersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		logger.Warn("failed to parse known users cache", "path", path, "error", err)
		return k
	}
	for _, did := range f.Users {
		if did != "" && !slices.Contains(k.dids, did) {
			k.dids = append(k.dids, did)
		}
	}
	return k
}

// List returns the known identities in the order they were added.
func (k *KnownUsers) List() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.dids)
}

// Add records did and reports whether it was new.
func (k *KnownUsers) Add(did string) bool {
	if did == "" {
		return false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.Contains(k.dids, did) {
		return false
	}
	k.dids = append(k.dids, did)

	if err := k.save(); err != nil {
		k.logger.Warn("failed to update known users cache", "path", k.path, "error", err)
	}
	return true
}

// save writes the cache atomically. Callers hold mu.
func (k *KnownUsers) save() error {
	if k.path == "" {
		return nil
	}

	data, err := yaml.Marshal(knownUsersFile{Users: k.dids})
	if err != nil {
		return fmt.Errorf("marshal known users: %w", err)
	}

	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".known-users-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), k.path)
}
