package repo

import (
	"fmt"
	"strings"

	"github.com/odvcencio/keel/pkg/merge"
	"github.com/odvcencio/keel/pkg/object"
)

// MergeResult is a merge outcome plus what the repository did with it.
type MergeResult struct {
	*merge.Outcome
	// Branch is the ref that was merged into.
	Branch string
	// Commit is the new branch tip for clean and fast-forward merges.
	Commit object.Hash
}

type mergeOptions struct {
	author  string
	message string
}

// MergeOption adjusts the merge commit.
type MergeOption func(*mergeOptions)

// WithMergeAuthor sets the merge commit author.
func WithMergeAuthor(author string) MergeOption {
	return func(o *mergeOptions) { o.author = author }
}

// WithMergeMessage sets the merge commit message.
func WithMergeMessage(message string) MergeOption {
	return func(o *mergeOptions) { o.message = message }
}

// Merge merges revision from into branch into (empty means the current
// branch).
//
// Fast-forward moves the branch to from; up-to-date changes nothing; a clean
// three-way merge records a commit with parents (into tip, from tip). A
// conflicted merge leaves refs untouched and records MERGE_STATE until
// ResolveAndCommit or AbortMerge.
func (r *Repo) Merge(into, from string, opts ...MergeOption) (*MergeResult, error) {
	var o mergeOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock, err := r.writeLock("merge")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if r.mergePending() {
		return nil, fmt.Errorf("merge: %w", ErrMergeInProgress)
	}

	ref, detached, err := r.commitTarget(into)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if detached != "" {
		return nil, fmt.Errorf("merge: HEAD is detached; name a branch to merge into")
	}
	ours, err := r.Refs.Get(ref)
	if err != nil {
		return nil, fmt.Errorf("merge into %s: %w", branchName(ref), err)
	}
	theirs, err := r.resolveLocked(from)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	out, err := r.merger.Merge(ours, theirs)
	if err != nil {
		return nil, err
	}
	res := &MergeResult{Outcome: out, Branch: ref}
	message := strings.TrimSpace(o.message)
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s", from, branchName(ref))
	}

	switch out.Status {
	case merge.StatusUpToDate:
		res.Commit = ours
		r.log.Info("merge: already up to date", "branch", branchName(ref), "from", from)

	case merge.StatusFastForward:
		if err := r.Refs.SetCAS(ref, theirs, ours, "merge "+from+": fast-forward"); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		res.Commit = theirs
		r.log.Info("merge: fast-forward", "branch", branchName(ref), "from", ours.Short(), "to", theirs.Short())

	case merge.StatusClean:
		h, err := r.writeCommit(out.Tree, []object.Hash{ours, theirs}, message, o.author)
		if err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		if err := r.Refs.SetCAS(ref, h, ours, "merge "+from); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		res.Commit = h
		r.log.Info("merge: committed", "branch", branchName(ref), "commit", h.Short(), "base", out.Base.Short())

	case merge.StatusConflicted:
		if err := r.saveMergeState(newMergeState(ref, from, message, out)); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
		r.log.Warn("merge: conflicts", "branch", branchName(ref), "from", from, "conflicts", len(out.Conflicts))
	}
	return res, nil
}

// PendingMerge returns the conflicted merge awaiting resolution, or
// ErrNoMergeInProgress.
func (r *Repo) PendingMerge() (*MergeState, error) {
	unlock, err := r.readLock("pending merge")
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, ok, err := r.loadMergeState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMergeInProgress
	}
	return st, nil
}

// ResolveAndCommit finalizes a conflicted merge. Every conflict path needs
// either new content in resolutions or an entry in deletions; other paths
// may be included and are applied as ordinary edits. The merge commit has
// parents (ours, theirs) and the branch moves only if it still points at
// ours.
func (r *Repo) ResolveAndCommit(resolutions map[string][]byte, deletions []string, message, author string) (object.Hash, error) {
	unlock, err := r.writeLock("resolve")
	if err != nil {
		return "", err
	}
	defer unlock()

	st, ok, err := r.loadMergeState()
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("resolve: %w", ErrNoMergeInProgress)
	}

	res := make(map[string]merge.Resolution, len(resolutions)+len(deletions))
	for path, content := range resolutions {
		res[path] = merge.Resolution{Content: content}
	}
	for _, path := range deletions {
		if _, dup := res[path]; dup {
			return "", fmt.Errorf("resolve: %q is both resolved and deleted", path)
		}
		res[path] = merge.Resolution{Delete: true}
	}

	tree, err := r.merger.Resolve(st.Tree, st.MergeConflicts(), res)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = st.Message
	}
	h, err := r.writeCommit(tree, []object.Hash{st.Ours, st.Theirs}, message, author)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	if err := r.Refs.SetCAS(st.Branch, h, st.Ours, "merge "+st.From+": resolved conflicts"); err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	if err := r.clearMergeState(); err != nil {
		return h, err
	}
	r.log.Info("merge: resolved", "branch", branchName(st.Branch), "commit", h.Short(), "conflicts", len(st.Conflicts))
	return h, nil
}

// AbortMerge discards a conflicted merge. Refs were never moved, so nothing
// else changes.
func (r *Repo) AbortMerge() error {
	unlock, err := r.writeLock("abort merge")
	if err != nil {
		return err
	}
	defer unlock()

	if !r.mergePending() {
		return fmt.Errorf("abort merge: %w", ErrNoMergeInProgress)
	}
	if err := r.clearMergeState(); err != nil {
		return err
	}
	r.log.Info("merge: aborted")
	return nil
}

// IsAncestor reports whether commit a is reachable from commit b.
func (r *Repo) IsAncestor(a, b object.Hash) (bool, error) {
	unlock, err := r.readLock("is ancestor")
	if err != nil {
		return false, err
	}
	defer unlock()
	return r.graph.IsAncestor(a, b)
}

// MergeBase returns the best common ancestor of a and b.
func (r *Repo) MergeBase(a, b object.Hash) (object.Hash, error) {
	unlock, err := r.readLock("merge base")
	if err != nil {
		return "", err
	}
	defer unlock()
	return r.graph.MergeBase(a, b)
}
