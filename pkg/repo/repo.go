// Package repo composes the object store, ref store, commit graph and merge
// engine into repository operations. It is the only package the CLI talks
// to.
package repo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/odvcencio/keel/pkg/graph"
	"github.com/odvcencio/keel/pkg/merge"
	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

// DirName is the metadata directory created at the repository root.
const DirName = ".keel"

var (
	ErrNotRepository     = errors.New("not a keel repository")
	ErrAlreadyExists     = errors.New("repository already exists")
	ErrClosed            = errors.New("repository is closed")
	ErrBusy              = errors.New("repository is busy")
	ErrBranchExists      = errors.New("branch already exists")
	ErrNoChanges         = errors.New("nothing to commit")
	ErrMergeInProgress   = errors.New("a merge is already in progress")
	ErrNoMergeInProgress = errors.New("no merge in progress")

	// ErrRefNotFound is refs.ErrRefNotFound, re-exported for callers that
	// only import repo.
	ErrRefNotFound = refs.ErrRefNotFound
)

// Repo is an opened repository handle. Methods are safe for concurrent use;
// mutating operations hold an exclusive repository lock, readers share it.
type Repo struct {
	RootDir string        // directory containing .keel/
	Dir     string        // .keel/ directory
	Store   *object.Store // content-addressed object store
	Refs    *refs.Store   // branches, tags, remote-tracking refs and HEAD

	graph  *graph.Graph
	merger *merge.Engine
	lock   *repoLock
	log    *slog.Logger
	signer CommitSigner
	now    func() time.Time
	closed atomic.Bool
}

type options struct {
	logger        *slog.Logger
	lockTimeout   time.Duration
	defaultBranch string
	signer        CommitSigner
}

// Option configures Init and Open.
type Option func(*options)

// WithLogger routes repository logs to l. The default discards them.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLockTimeout overrides core.lock_timeout from config.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithDefaultBranch sets the initial branch HEAD points at. Only Init uses it.
func WithDefaultBranch(name string) Option {
	return func(o *options) { o.defaultBranch = name }
}

// WithSigner signs every commit the handle creates.
func WithSigner(s CommitSigner) Option {
	return func(o *options) { o.signer = s }
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Init creates a new repository at path: .keel/objects, .keel/refs/heads,
// .keel/refs/tags, .keel/logs, config.toml and a HEAD pointing at the
// (unborn) default branch. It fails if .keel/ already exists.
func Init(path string, opts ...Option) (*Repo, error) {
	o := collectOptions(opts)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("init: abs path: %w", err)
	}
	dir := filepath.Join(abs, DirName)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("init: %w at %s", ErrAlreadyExists, dir)
	}

	for _, d := range []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "refs", "tags"),
		filepath.Join(dir, "logs"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	cfg := DefaultConfig()
	if o.defaultBranch != "" {
		cfg.Core.DefaultBranch = o.defaultBranch
	}
	if err := refs.ValidateName(refs.HeadsPrefix + cfg.Core.DefaultBranch); err != nil {
		return nil, fmt.Errorf("init: default branch: %w", err)
	}
	if err := WriteConfig(ConfigPath(dir), cfg); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	r, err := newRepo(abs, dir, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	if err := r.Refs.SetSymbolicHead(refs.HeadsPrefix + cfg.Core.DefaultBranch); err != nil {
		return nil, fmt.Errorf("init: write HEAD: %w", err)
	}
	r.log.Info("initialized repository", "dir", dir, "branch", cfg.Core.DefaultBranch)
	return r, nil
}

// Find searches upward from path for a .keel/ directory and returns it.
func Find(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("find: abs path: %w", err)
	}
	cur := abs
	for {
		dir := filepath.Join(cur, DirName)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("open %s: %w (or any parent up to /)", abs, ErrNotRepository)
		}
		cur = parent
	}
}

// ConfigPath returns the config file inside a .keel/ directory.
func ConfigPath(dir string) string {
	return filepath.Join(dir, configFile)
}

// Open searches upward from path for a .keel/ directory and opens the
// repository.
func Open(path string, opts ...Option) (*Repo, error) {
	o := collectOptions(opts)
	dir, err := Find(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(ConfigPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	r, err := newRepo(filepath.Dir(dir), dir, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return r, nil
}

func newRepo(root, dir string, cfg *Config, o options) (*Repo, error) {
	wait := o.lockTimeout
	if wait <= 0 {
		d, err := cfg.LockTimeout()
		if err != nil {
			return nil, err
		}
		wait = d
	}

	store := object.NewStore(dir)
	isCommit := func(h object.Hash) bool {
		t, err := store.TypeOf(h)
		return err == nil && t == object.TypeCommit
	}
	g := graph.New(store)
	r := &Repo{
		RootDir: root,
		Dir:     dir,
		Store:   store,
		Refs:    refs.NewStore(dir, refs.WithTargetCheck(isCommit), refs.WithLockTimeout(wait)),
		graph:   g,
		merger:  merge.New(store, g),
		lock:    newRepoLock(filepath.Join(dir, repoLockFile), wait),
		log:     o.logger.With("repo", root),
		signer:  o.signer,
		now:     time.Now,
	}
	return r, nil
}

// Close marks the handle closed. Later calls fail with ErrClosed. Close
// waits for in-flight operations.
func (r *Repo) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.lock.mu.Lock()
	defer r.lock.mu.Unlock()
	r.log.Debug("closed repository")
	return nil
}
