package repo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	for _, p := range []string{"objects", "refs/heads", "refs/tags", "logs", "HEAD", "config.toml"} {
		if _, err := os.Stat(filepath.Join(dir, DirName, p)); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	branch, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "main" {
		t.Fatalf("CurrentBranch = %q, want main", branch)
	}
}

func TestInitTwiceFails(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.Close()
	if _, err := Init(dir); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Init err = %v, want ErrAlreadyExists", err)
	}
}

func TestInitDefaultBranchOption(t *testing.T) {
	r := newTestRepo(t, WithDefaultBranch("trunk"))
	branch, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "trunk" {
		t.Fatalf("CurrentBranch = %q, want trunk", branch)
	}
	cfg, err := r.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.Core.DefaultBranch != "trunk" {
		t.Fatalf("default_branch = %q, want trunk", cfg.Core.DefaultBranch)
	}
}

func TestOpenSearchesUpward(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.Close()

	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	opened, err := Open(nested)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	want, _ := filepath.Abs(dir)
	if opened.RootDir != want {
		t.Fatalf("RootDir = %q, want %q", opened.RootDir, want)
	}
}

func TestOpenOutsideRepository(t *testing.T) {
	if _, err := Open(t.TempDir()); !errors.Is(err, ErrNotRepository) {
		t.Fatalf("Open err = %v, want ErrNotRepository", err)
	}
}

func TestClosedHandleRejectsOperations(t *testing.T) {
	r := newTestRepo(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.ListBranches(); !errors.Is(err, ErrClosed) {
		t.Fatalf("ListBranches after Close err = %v, want ErrClosed", err)
	}
	if _, err := r.Commit("main", "", "msg", "a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Commit after Close err = %v, want ErrClosed", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestConfigRoundTripAndRemotes(t *testing.T) {
	r := newTestRepo(t)

	err := r.UpdateConfig(func(cfg *Config) error {
		cfg.User.Name = "Ada"
		cfg.User.Email = "ada@example.com"
		cfg.Core.LockTimeout = "750ms"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if err := r.AddRemote("origin", "/srv/keel/project.bundle"); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}
	if err := r.AddRemote("origin", "elsewhere"); !errors.Is(err, ErrRemoteExists) {
		t.Fatalf("duplicate AddRemote err = %v, want ErrRemoteExists", err)
	}

	cfg, err := LoadConfig(r.configPath())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Identity(); got != "Ada <ada@example.com>" {
		t.Fatalf("Identity = %q", got)
	}
	if d, err := cfg.LockTimeout(); err != nil || d != 750*time.Millisecond {
		t.Fatalf("LockTimeout = %v, %v; want 750ms", d, err)
	}
	url, err := r.RemoteURL("origin")
	if err != nil || url != "/srv/keel/project.bundle" {
		t.Fatalf("RemoteURL = %q, %v", url, err)
	}

	if err := r.RemoveRemote("origin"); err != nil {
		t.Fatalf("RemoveRemote: %v", err)
	}
	remotes, err := r.Remotes()
	if err != nil {
		t.Fatalf("Remotes: %v", err)
	}
	if len(remotes) != 0 {
		t.Fatalf("Remotes after remove = %v, want none", remotes)
	}
	if err := r.RemoveRemote("origin"); !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("RemoveRemote missing err = %v, want ErrRemoteNotFound", err)
	}
}

func TestLoadConfigMissingFileDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Core.DefaultBranch != "main" {
		t.Fatalf("default branch = %q, want main", cfg.Core.DefaultBranch)
	}
	if d, err := cfg.LockTimeout(); err != nil || d != 2*time.Second {
		t.Fatalf("LockTimeout = %v, %v", d, err)
	}
}

func TestLoadConfigRejectsBadLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[core]\nlock_timeout = \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := cfg.LockTimeout(); err == nil {
		t.Fatal("expected lock_timeout parse error")
	}
}

func TestAuthorFallback(t *testing.T) {
	r := newTestRepo(t)
	t.Setenv(AuthorEnv, "")

	if got := r.authorOrDefault(""); got != unknownAuthor {
		t.Fatalf("authorOrDefault with nothing configured = %q", got)
	}
	if err := r.UpdateConfig(func(cfg *Config) error {
		cfg.User.Name = "Grace"
		return nil
	}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got := r.authorOrDefault(""); got != "Grace" {
		t.Fatalf("authorOrDefault from config = %q", got)
	}
	t.Setenv(AuthorEnv, "Env Person")
	if got := r.authorOrDefault(""); got != "Env Person" {
		t.Fatalf("authorOrDefault from env = %q", got)
	}
	if got := r.authorOrDefault("explicit"); got != "explicit" {
		t.Fatalf("authorOrDefault explicit = %q", got)
	}
}
