package repo

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/odvcencio/keel/pkg/refs"
)

const (
	configFile = "config.toml"

	defaultBranchName  = "main"
	defaultLockTimeout = 2 * time.Second
)

var (
	ErrRemoteExists   = errors.New("remote already exists")
	ErrRemoteNotFound = errors.New("remote not found")
)

// Config is the repository-local settings file, .keel/config.toml.
type Config struct {
	Core     CoreConfig              `toml:"core"`
	User     UserConfig              `toml:"user"`
	Log      LogConfig               `toml:"log"`
	Remotes  map[string]RemoteConfig `toml:"remote,omitempty"`
	Branches map[string]BranchConfig `toml:"branch,omitempty"`
}

type CoreConfig struct {
	DefaultBranch string `toml:"default_branch"`
	LockTimeout   string `toml:"lock_timeout,omitempty"`
}

type UserConfig struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

// LogConfig is read by the CLI; File enables a rotating log file.
type LogConfig struct {
	File       string `toml:"file,omitempty"`
	Level      string `toml:"level,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
}

type RemoteConfig struct {
	URL string `toml:"url"`
}

// BranchConfig is a branch's upstream: Merge is the branch ref on Remote,
// e.g. remote "origin", merge "refs/heads/main".
type BranchConfig struct {
	Remote string `toml:"remote"`
	Merge  string `toml:"merge"`
}

// TrackingRef is the local remote-tracking ref that mirrors the upstream.
func (b BranchConfig) TrackingRef() string {
	return refs.RemotesPrefix + b.String()
}

// String renders the upstream as "<remote>/<branch>".
func (b BranchConfig) String() string {
	return b.Remote + "/" + strings.TrimPrefix(b.Merge, refs.HeadsPrefix)
}

// Remote is a named remote from config.
type Remote struct {
	Name string
	URL  string
}

// DefaultConfig returns the settings a fresh repository starts with.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			DefaultBranch: defaultBranchName,
			LockTimeout:   defaultLockTimeout.String(),
		},
		Remotes:  make(map[string]RemoteConfig),
		Branches: make(map[string]BranchConfig),
	}
}

// LockTimeout parses core.lock_timeout, falling back to the default when
// unset.
func (c *Config) LockTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Core.LockTimeout)
	if raw == "" {
		return defaultLockTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: core.lock_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: core.lock_timeout must be positive, got %s", raw)
	}
	return d, nil
}

// Identity renders [user] as "Name <email>", or "" when unset.
func (c *Config) Identity() string {
	name := strings.TrimSpace(c.User.Name)
	email := strings.TrimSpace(c.User.Email)
	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s <%s>", name, email)
	case name != "":
		return name
	case email != "":
		return "<" + email + ">"
	}
	return ""
}

// LoadConfig reads a config file. A missing file yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]RemoteConfig)
	}
	if cfg.Branches == nil {
		cfg.Branches = make(map[string]BranchConfig)
	}
	if strings.TrimSpace(cfg.Core.DefaultBranch) == "" {
		cfg.Core.DefaultBranch = defaultBranchName
	}
	return cfg, nil
}

// WriteConfig atomically replaces the config file at path.
func WriteConfig(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes(), ".config-tmp-*")
}

func writeFileAtomic(path string, data []byte, pattern string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), pattern)
	if err != nil {
		return fmt.Errorf("write %s: tmpfile: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: close: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: rename: %w", filepath.Base(path), err)
	}
	return nil
}

func (r *Repo) configPath() string {
	return ConfigPath(r.Dir)
}

// Config returns the current on-disk configuration.
func (r *Repo) Config() (*Config, error) {
	unlock, err := r.readLock("config")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return LoadConfig(r.configPath())
}

// UpdateConfig loads the config, applies fn and writes the result back
// under the repository lock.
func (r *Repo) UpdateConfig(fn func(*Config) error) error {
	unlock, err := r.writeLock("update config")
	if err != nil {
		return err
	}
	defer unlock()
	return r.updateConfigLocked(fn)
}

func (r *Repo) updateConfigLocked(fn func(*Config) error) error {
	cfg, err := LoadConfig(r.configPath())
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return WriteConfig(r.configPath(), cfg)
}

// AddRemote records a named remote URL.
func (r *Repo) AddRemote(name, url string) error {
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" {
		return fmt.Errorf("add remote: remote name is required")
	}
	if err := refs.ValidateName(refs.RemotesPrefix + name); err != nil || strings.Contains(name, "/") {
		return fmt.Errorf("add remote: invalid remote name %q", name)
	}
	if url == "" {
		return fmt.Errorf("add remote: remote URL is required")
	}

	unlock, err := r.writeLock("add remote")
	if err != nil {
		return err
	}
	defer unlock()
	return r.updateConfigLocked(func(cfg *Config) error {
		if _, ok := cfg.Remotes[name]; ok {
			return fmt.Errorf("add remote %q: %w", name, ErrRemoteExists)
		}
		cfg.Remotes[name] = RemoteConfig{URL: url}
		r.log.Info("added remote", "remote", name, "url", url)
		return nil
	})
}

// RemoveRemote deletes a remote, its remote-tracking refs and the upstream
// records of branches that tracked it.
func (r *Repo) RemoveRemote(name string) error {
	unlock, err := r.writeLock("remove remote")
	if err != nil {
		return err
	}
	defer unlock()

	err = r.updateConfigLocked(func(cfg *Config) error {
		if _, ok := cfg.Remotes[name]; !ok {
			return fmt.Errorf("remove remote %q: %w", name, ErrRemoteNotFound)
		}
		delete(cfg.Remotes, name)
		for branch, bc := range cfg.Branches {
			if bc.Remote == name {
				delete(cfg.Branches, branch)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	tracking, err := r.Refs.List(refs.RemotesPrefix + name + "/")
	if err != nil {
		return fmt.Errorf("remove remote %q: %w", name, err)
	}
	for _, ref := range tracking {
		if err := r.Refs.Delete(ref.Name); err != nil {
			return fmt.Errorf("remove remote %q: %w", name, err)
		}
	}
	r.log.Info("removed remote", "remote", name, "tracking_refs", len(tracking))
	return nil
}

// Remotes lists configured remotes sorted by name.
func (r *Repo) Remotes() ([]Remote, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	out := make([]Remote, 0, len(cfg.Remotes))
	for name, rc := range cfg.Remotes {
		out = append(out, Remote{Name: name, URL: rc.URL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoteURL returns the configured URL for a remote.
func (r *Repo) RemoteURL(name string) (string, error) {
	cfg, err := r.Config()
	if err != nil {
		return "", err
	}
	rc, ok := cfg.Remotes[name]
	if !ok {
		return "", fmt.Errorf("remote %q: %w", name, ErrRemoteNotFound)
	}
	return rc.URL, nil
}
