package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

// ErrAmbiguousRevision is returned when an abbreviated hash matches more
// than one object.
var ErrAmbiguousRevision = errors.New("ambiguous revision")

const minAbbrevLen = 4

// Branch is a local branch and whether HEAD points at it.
type Branch struct {
	Name    string
	Hash    object.Hash
	Current bool
	// Upstream is "<remote>/<branch>" when the branch tracks one.
	Upstream string
}

// Head returns the decoded HEAD.
func (r *Repo) Head() (refs.Head, error) {
	unlock, err := r.readLock("head")
	if err != nil {
		return refs.Head{}, err
	}
	defer unlock()
	return r.Refs.Head()
}

// ResolveRef resolves a revision to a commit hash.
//
// Resolution order:
//  1. "HEAD", or any fully qualified "refs/..." name.
//  2. refs/heads/<name>, refs/tags/<name>, refs/remotes/<name>, refs/<name>.
//  3. A full or unique abbreviated (at least 4 characters) commit hash.
func (r *Repo) ResolveRef(name string) (object.Hash, error) {
	unlock, err := r.readLock("resolve ref")
	if err != nil {
		return "", err
	}
	defer unlock()
	return r.resolveLocked(name)
}

func (r *Repo) resolveLocked(name string) (object.Hash, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("resolve: empty revision: %w", ErrRefNotFound)
	}
	if name == "HEAD" || strings.HasPrefix(name, "refs/") {
		h, err := r.Refs.Get(name)
		if err != nil {
			return "", err
		}
		return h, nil
	}

	for _, prefix := range []string{refs.HeadsPrefix, refs.TagsPrefix, refs.RemotesPrefix, "refs/"} {
		h, err := r.Refs.Get(prefix + name)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrRefNotFound) && !errors.Is(err, refs.ErrInvalidName) {
			return "", err
		}
	}

	if h, ok, err := r.resolveHash(name); err != nil {
		return "", err
	} else if ok {
		return h, nil
	}
	return "", fmt.Errorf("resolve %q: %w", name, ErrRefNotFound)
}

func (r *Repo) resolveHash(name string) (object.Hash, bool, error) {
	if len(name) < minAbbrevLen || len(name) > object.HashSize || strings.Trim(name, "0123456789abcdef") != "" {
		return "", false, nil
	}
	if len(name) == object.HashSize {
		h := object.Hash(name)
		t, err := r.Store.TypeOf(h)
		if err != nil || t != object.TypeCommit {
			return "", false, nil
		}
		return h, true, nil
	}

	all, err := r.Store.List()
	if err != nil {
		return "", false, fmt.Errorf("resolve %q: %w", name, err)
	}
	var match object.Hash
	for _, h := range all {
		if !strings.HasPrefix(string(h), name) {
			continue
		}
		if t, err := r.Store.TypeOf(h); err != nil || t != object.TypeCommit {
			continue
		}
		if match != "" {
			return "", false, fmt.Errorf("resolve %q: %w", name, ErrAmbiguousRevision)
		}
		match = h
	}
	return match, match != "", nil
}

func branchRef(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty branch name", refs.ErrInvalidName)
	}
	ref := refs.HeadsPrefix + name
	if err := refs.ValidateName(ref); err != nil {
		return "", err
	}
	return ref, nil
}

// CreateBranch creates refs/heads/<name> at commit from. It fails with
// ErrBranchExists if the branch is already there.
func (r *Repo) CreateBranch(name string, from object.Hash) error {
	ref, err := branchRef(name)
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	unlock, err := r.writeLock("create branch")
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.Refs.SetCAS(ref, from, "", "branch: created from "+from.Short()); err != nil {
		if errors.Is(err, refs.ErrCASMismatch) {
			return fmt.Errorf("create branch %q: %w", name, ErrBranchExists)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	r.log.Info("created branch", "branch", name, "at", from.Short())
	return nil
}

// DeleteBranch removes a branch and its upstream record. The checked-out
// branch cannot be deleted.
func (r *Repo) DeleteBranch(name string) error {
	ref, err := branchRef(name)
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	unlock, err := r.writeLock("delete branch")
	if err != nil {
		return err
	}
	defer unlock()

	head, err := r.Refs.Head()
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	if head.Ref == ref {
		return fmt.Errorf("delete branch: cannot delete current branch %q", name)
	}
	if err := r.Refs.Delete(ref); err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	err = r.updateConfigLocked(func(cfg *Config) error {
		delete(cfg.Branches, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete branch %q: %w", name, err)
	}
	r.log.Info("deleted branch", "branch", name)
	return nil
}

// ListBranches returns local branches sorted by name.
func (r *Repo) ListBranches() ([]Branch, error) {
	unlock, err := r.readLock("list branches")
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := r.Refs.Head()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	list, err := r.Refs.List(refs.HeadsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	cfg, err := LoadConfig(r.configPath())
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	out := make([]Branch, 0, len(list))
	for _, ref := range list {
		b := Branch{
			Name:    strings.TrimPrefix(ref.Name, refs.HeadsPrefix),
			Hash:    ref.Hash,
			Current: ref.Name == head.Ref,
		}
		if bc, ok := cfg.Branches[b.Name]; ok {
			b.Upstream = bc.String()
		}
		out = append(out, b)
	}
	return out, nil
}

// CurrentBranch returns the checked-out branch name, or "" when HEAD is
// detached. The branch may be unborn.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return head.Branch(), nil
}

// Checkout points HEAD at a branch, or detaches it at any other revision.
// Only refs move; there is no working directory to update.
func (r *Repo) Checkout(name string) error {
	unlock, err := r.writeLock("checkout")
	if err != nil {
		return err
	}
	defer unlock()

	if r.mergePending() {
		return fmt.Errorf("checkout %q: %w", name, ErrMergeInProgress)
	}

	if ref, err := branchRef(name); err == nil {
		if _, err := r.Refs.Get(ref); err == nil {
			if err := r.Refs.SetSymbolicHead(ref); err != nil {
				return fmt.Errorf("checkout %q: %w", name, err)
			}
			r.log.Info("checked out branch", "branch", name)
			return nil
		} else if !errors.Is(err, ErrRefNotFound) {
			return fmt.Errorf("checkout %q: %w", name, err)
		}
	}

	h, err := r.resolveLocked(name)
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	if err := r.Refs.SetDetachedHead(h); err != nil {
		return fmt.Errorf("checkout %q: %w", name, err)
	}
	r.log.Info("detached HEAD", "at", h.Short())
	return nil
}

// CreateTag creates a lightweight tag at a commit. Without force an
// existing tag is an error.
func (r *Repo) CreateTag(name string, target object.Hash, force bool) error {
	name = strings.TrimSpace(name)
	ref := refs.TagsPrefix + name
	if err := refs.ValidateName(ref); err != nil || name == "" {
		return fmt.Errorf("create tag: invalid tag name %q", name)
	}
	unlock, err := r.writeLock("create tag")
	if err != nil {
		return err
	}
	defer unlock()

	if force {
		err = r.Refs.SetWithReason(ref, target, "tag")
	} else {
		err = r.Refs.SetCAS(ref, target, "", "tag")
	}
	if errors.Is(err, refs.ErrCASMismatch) {
		return fmt.Errorf("create tag: tag %q already exists", name)
	}
	if err != nil {
		return fmt.Errorf("create tag %q: %w", name, err)
	}
	return nil
}

// DeleteTag removes a tag.
func (r *Repo) DeleteTag(name string) error {
	unlock, err := r.writeLock("delete tag")
	if err != nil {
		return err
	}
	defer unlock()
	if err := r.Refs.Delete(refs.TagsPrefix + strings.TrimSpace(name)); err != nil {
		return fmt.Errorf("delete tag %q: %w", name, err)
	}
	return nil
}

// ListTags returns tags sorted by name, with short names.
func (r *Repo) ListTags() ([]refs.Ref, error) {
	unlock, err := r.readLock("list tags")
	if err != nil {
		return nil, err
	}
	defer unlock()

	list, err := r.Refs.List(refs.TagsPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	for i := range list {
		list[i].Name = strings.TrimPrefix(list[i].Name, refs.TagsPrefix)
	}
	return list, nil
}
