// Package refs stores mutable names (branches, tags, remote-tracking refs
// and HEAD) that point at commits in an object store.
package refs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/keel/pkg/object"
)

var (
	ErrRefNotFound = errors.New("ref not found")
	ErrCASMismatch = errors.New("ref compare-and-swap mismatch")
	ErrLocked      = errors.New("ref is locked")
	ErrInvalidName = errors.New("invalid ref name")

	ErrRefUpdatedButReflogAppendFailed = errors.New("ref updated but reflog append failed")
)

const (
	HeadsPrefix   = "refs/heads/"
	TagsPrefix    = "refs/tags/"
	RemotesPrefix = "refs/remotes/"

	headFile = "HEAD"
)

const (
	defaultLockRetryDelay = 5 * time.Millisecond
	defaultLockWaitLimit  = 2 * time.Second
)

// Ref is a named pointer to a commit.
type Ref struct {
	Name string
	Hash object.Hash
}

// UpdateReflogError indicates the ref file update succeeded, but appending
// the corresponding reflog entry failed.
type UpdateReflogError struct {
	Ref     string
	OldHash object.Hash
	NewHash object.Hash
	Err     error
}

func (e *UpdateReflogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"update ref %q: %s (old=%s new=%s): %v",
		e.Ref,
		ErrRefUpdatedButReflogAppendFailed,
		e.OldHash,
		e.NewHash,
		e.Err,
	)
}

func (e *UpdateReflogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *UpdateReflogError) Is(target error) bool {
	return target == ErrRefUpdatedButReflogAppendFailed
}

// Option configures a Store.
type Option func(*Store)

// WithTargetCheck installs a predicate consulted before every update; hashes
// it rejects fail with object.ErrNotFound so refs never dangle.
func WithTargetCheck(exists func(object.Hash) bool) Option {
	return func(s *Store) { s.exists = exists }
}

// WithLockTimeout bounds how long an update waits for a ref lockfile.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// Store keeps one file per ref under dir, e.g. dir/refs/heads/main. Updates
// go through a lockfile and a rename, so readers only ever observe the old
// or the new value.
type Store struct {
	dir      string
	exists   func(object.Hash) bool
	lockWait time.Duration
}

// NewStore returns a ref store rooted at dir (the repository metadata
// directory).
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, lockWait: defaultLockWaitLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateName checks a fully qualified ref name such as "refs/heads/main".
func ValidateName(name string) error {
	if name == headFile {
		return nil
	}
	if !strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("%w %q: must start with refs/", ErrInvalidName, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w %q: contains \"..\"", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		switch {
		case part == "", part == ".", part == "..":
			return fmt.Errorf("%w %q: empty or relative component", ErrInvalidName, name)
		case strings.HasSuffix(part, ".lock"):
			return fmt.Errorf("%w %q: component ends in .lock", ErrInvalidName, name)
		case strings.HasPrefix(part, "."):
			return fmt.Errorf("%w %q: component starts with a dot", ErrInvalidName, name)
		}
	}
	for _, r := range name {
		if r <= ' ' || r == 0x7f || strings.ContainsRune("~^:?*[\\", r) {
			return fmt.Errorf("%w %q: illegal character %q", ErrInvalidName, name, r)
		}
	}
	return nil
}

func (s *Store) refPath(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Get resolves a fully qualified ref name to its commit hash.
func (s *Store) Get(name string) (object.Hash, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if name == headFile {
		head, err := s.Head()
		if err != nil {
			return "", err
		}
		if head.Detached() {
			return head.Hash, nil
		}
		return s.Get(head.Ref)
	}
	h, err := readRefHash(s.refPath(name))
	if err != nil {
		return "", fmt.Errorf("resolve ref %q: %w", name, err)
	}
	if h == "" {
		return "", fmt.Errorf("resolve ref %q: %w", name, ErrRefNotFound)
	}
	return h, nil
}

// Set creates or overwrites a ref.
func (s *Store) Set(name string, h object.Hash) error {
	return s.update(name, h, false, "", "update")
}

// SetWithReason is Set with a reflog reason.
func (s *Store) SetWithReason(name string, h object.Hash, reason string) error {
	return s.update(name, h, false, "", reason)
}

// SetCAS updates a ref only if its current value equals expectedOld. An
// empty expectedOld requires the ref not to exist yet.
func (s *Store) SetCAS(name string, h, expectedOld object.Hash, reason string) error {
	return s.update(name, h, true, expectedOld, reason)
}

func (s *Store) update(name string, h object.Hash, checkOld bool, wantOld object.Hash, reason string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == headFile {
		return fmt.Errorf("update ref %q: use SetDetachedHead or SetSymbolicHead", name)
	}
	if err := object.ValidateHash(h); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	if s.exists != nil && !s.exists(h) {
		return fmt.Errorf("update ref %q: target %s: %w", name, h, object.ErrNotFound)
	}

	refPath := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	oldHash, err := s.withLock(refPath, func(lockFile *os.File) (object.Hash, error) {
		oldHash, err := readRefHash(refPath)
		if err != nil {
			return "", fmt.Errorf("read old hash: %w", err)
		}
		if checkOld && oldHash != wantOld {
			return "", fmt.Errorf("%w (expected %s, found %s)", ErrCASMismatch, displayHash(wantOld), displayHash(oldHash))
		}
		if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
		return oldHash, nil
	})
	if err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}

	if err := s.appendReflog(name, oldHash, h, reason); err != nil {
		return &UpdateReflogError{Ref: name, OldHash: oldHash, NewHash: h, Err: err}
	}
	return nil
}

// Delete removes a ref. Deleting a missing ref fails with ErrRefNotFound.
func (s *Store) Delete(name string) error {
	return s.DeleteCAS(name, "")
}

// DeleteCAS removes a ref if its current value equals expectedOld; an empty
// expectedOld skips the comparison.
func (s *Store) DeleteCAS(name string, expectedOld object.Hash) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == headFile {
		return fmt.Errorf("delete ref %q: HEAD cannot be deleted", name)
	}
	refPath := s.refPath(name)
	if _, err := os.Stat(refPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete ref %q: %w", name, ErrRefNotFound)
	}

	oldHash, err := s.withLock(refPath, func(*os.File) (object.Hash, error) {
		oldHash, err := readRefHash(refPath)
		if err != nil {
			return "", err
		}
		if oldHash == "" {
			return "", ErrRefNotFound
		}
		if expectedOld != "" && oldHash != expectedOld {
			return "", fmt.Errorf("%w (expected %s, found %s)", ErrCASMismatch, expectedOld, oldHash)
		}
		if err := os.Remove(refPath); err != nil {
			return "", err
		}
		return oldHash, nil
	}, withoutRename())
	if err != nil {
		return fmt.Errorf("delete ref %q: %w", name, err)
	}
	s.removeEmptyParents(filepath.Dir(refPath))

	if err := s.appendReflog(name, oldHash, "", "delete"); err != nil {
		return &UpdateReflogError{Ref: name, OldHash: oldHash, Err: err}
	}
	return nil
}

// List returns refs whose names start with prefix (e.g. "refs/heads/"),
// sorted by name. An empty prefix lists every ref under refs/.
func (s *Store) List(prefix string) ([]Ref, error) {
	root := filepath.Join(s.dir, "refs")
	var out []Ref
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		h, err := readRefHash(path)
		if err != nil {
			return err
		}
		if h == "" {
			return nil
		}
		out = append(out, Ref{Name: name, Hash: h})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type lockOptions struct {
	rename bool
}

type lockOption func(*lockOptions)

func withoutRename() lockOption {
	return func(o *lockOptions) { o.rename = false }
}

// withLock takes path's lockfile, runs fn with it and, unless disabled,
// renames the lockfile over path once fn succeeds. The lockfile is removed
// on every failure path.
func (s *Store) withLock(path string, fn func(*os.File) (object.Hash, error), opts ...lockOption) (object.Hash, error) {
	o := lockOptions{rename: true}
	for _, opt := range opts {
		opt(&o)
	}

	lockPath := path + ".lock"
	lockFile, err := acquireLock(lockPath, s.lockWait)
	if err != nil {
		return "", err
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	result, err := fn(lockFile)
	if err != nil {
		return "", err
	}
	if !o.rename {
		return result, nil
	}

	if err := lockFile.Sync(); err != nil {
		return "", fmt.Errorf("sync: %w", err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return "", fmt.Errorf("close: %w", err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, path); err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}
	cleanupLock = false
	return result, nil
}

func acquireLock(lockPath string, wait time.Duration) (*os.File, error) {
	deadline := time.Now().Add(wait)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: timeout waiting for %q", ErrLocked, lockPath)
			}
			time.Sleep(defaultLockRetryDelay)
			continue
		}
		return nil, err
	}
}

func readRefHash(refPath string) (object.Hash, error) {
	data, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}

func (s *Store) removeEmptyParents(dir string) {
	stop := filepath.Join(s.dir, "refs")
	// Category directories (refs/heads, refs/tags) are kept.
	for strings.HasPrefix(dir, stop+string(filepath.Separator)) && filepath.Dir(dir) != stop {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func displayHash(h object.Hash) string {
	if h == "" {
		return "<none>"
	}
	return string(h)
}
