package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/keel/pkg/refs"
)

// ErrNoUpstream is returned when a branch has no [branch.<name>] record.
var ErrNoUpstream = errors.New("branch has no upstream")

// ListRemoteBranches returns remote-tracking refs named "<remote>/<branch>",
// sorted by name.
func (r *Repo) ListRemoteBranches() ([]refs.Ref, error) {
	unlock, err := r.readLock("list remote branches")
	if err != nil {
		return nil, err
	}
	defer unlock()

	list, err := r.Refs.List(refs.RemotesPrefix)
	if err != nil {
		return nil, fmt.Errorf("list remote branches: %w", err)
	}
	for i := range list {
		list[i].Name = strings.TrimPrefix(list[i].Name, refs.RemotesPrefix)
	}
	return list, nil
}

// parseUpstream splits "<remote>/<branch>" (optionally prefixed with
// "remotes/" or "refs/remotes/").
func parseUpstream(upstream string) (string, string, error) {
	s := strings.TrimSpace(upstream)
	s = strings.TrimPrefix(s, "refs/")
	s = strings.TrimPrefix(s, "remotes/")
	remote, branch, ok := strings.Cut(s, "/")
	if !ok || remote == "" || branch == "" {
		return "", "", fmt.Errorf("invalid upstream %q: want <remote>/<branch>", upstream)
	}
	if err := refs.ValidateName(refs.RemotesPrefix + remote + "/" + branch); err != nil {
		return "", "", err
	}
	return remote, branch, nil
}

// SetUpstream records that branch tracks upstream ("<remote>/<branch>"). The
// remote must be configured and its tracking ref fetched.
func (r *Repo) SetUpstream(branch, upstream string) error {
	unlock, err := r.writeLock("set upstream")
	if err != nil {
		return err
	}
	defer unlock()

	ref, err := branchRef(branch)
	if err != nil {
		return fmt.Errorf("set upstream: %w", err)
	}
	if _, err := r.Refs.Get(ref); err != nil {
		return fmt.Errorf("set upstream of %q: %w", branch, err)
	}
	return r.setUpstreamLocked(branch, upstream)
}

func (r *Repo) setUpstreamLocked(branch, upstream string) error {
	remote, remoteBranch, err := parseUpstream(upstream)
	if err != nil {
		return fmt.Errorf("set upstream: %w", err)
	}
	bc := BranchConfig{Remote: remote, Merge: refs.HeadsPrefix + remoteBranch}
	if _, err := r.Refs.Get(bc.TrackingRef()); err != nil {
		return fmt.Errorf("set upstream of %q: %w", branch, err)
	}
	err = r.updateConfigLocked(func(cfg *Config) error {
		if _, ok := cfg.Remotes[remote]; !ok {
			return fmt.Errorf("set upstream of %q: remote %q: %w", branch, remote, ErrRemoteNotFound)
		}
		cfg.Branches[branch] = bc
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("set upstream", "branch", branch, "upstream", bc.String())
	return nil
}

// Upstream returns the upstream of branch (empty means the current branch),
// or ErrNoUpstream.
func (r *Repo) Upstream(branch string) (BranchConfig, error) {
	if strings.TrimSpace(branch) == "" {
		cur, err := r.CurrentBranch()
		if err != nil {
			return BranchConfig{}, err
		}
		if cur == "" {
			return BranchConfig{}, fmt.Errorf("upstream: HEAD is detached")
		}
		branch = cur
	}
	cfg, err := r.Config()
	if err != nil {
		return BranchConfig{}, err
	}
	bc, ok := cfg.Branches[branch]
	if !ok {
		return BranchConfig{}, fmt.Errorf("upstream of %q: %w", branch, ErrNoUpstream)
	}
	return bc, nil
}

// CreateTrackingBranch creates name at the tip of upstream
// ("<remote>/<branch>") and records the upstream.
func (r *Repo) CreateTrackingBranch(name, upstream string) error {
	ref, err := branchRef(name)
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	remote, remoteBranch, err := parseUpstream(upstream)
	if err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}

	unlock, err := r.writeLock("create branch")
	if err != nil {
		return err
	}
	defer unlock()

	tracking := refs.RemotesPrefix + remote + "/" + remoteBranch
	tip, err := r.Refs.Get(tracking)
	if err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	if err := r.Refs.SetCAS(ref, tip, "", "branch: created from "+remote+"/"+remoteBranch); err != nil {
		if errors.Is(err, refs.ErrCASMismatch) {
			return fmt.Errorf("create branch %q: %w", name, ErrBranchExists)
		}
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	if err := r.setUpstreamLocked(name, upstream); err != nil {
		// Keep the branch and upstream record together.
		if derr := r.Refs.DeleteCAS(ref, tip); derr != nil {
			return errors.Join(err, derr)
		}
		return err
	}
	r.log.Info("created tracking branch", "branch", name, "upstream", remote+"/"+remoteBranch, "at", tip.Short())
	return nil
}

// MergeUpstream merges the upstream of into (empty means the current
// branch). A pull is FetchBundle followed by MergeUpstream.
func (r *Repo) MergeUpstream(into string, opts ...MergeOption) (*MergeResult, error) {
	branch := strings.TrimSpace(into)
	if branch == "" {
		cur, err := r.CurrentBranch()
		if err != nil {
			return nil, err
		}
		if cur == "" {
			return nil, fmt.Errorf("merge: HEAD is detached; name a branch to merge into")
		}
		branch = cur
	}
	up, err := r.Upstream(branch)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	opts = append([]MergeOption{WithMergeMessage(fmt.Sprintf("Merge %s into %s", up, branch))}, opts...)
	return r.Merge(branch, up.TrackingRef(), opts...)
}
