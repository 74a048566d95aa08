package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

// AuthorEnv overrides the configured identity when no author is passed.
const AuthorEnv = "KEEL_AUTHOR"

const unknownAuthor = "unknown"

// Commit records tree as a new commit on branch and advances the branch.
//
// An empty branch commits on HEAD: the checked-out branch, or the detached
// commit. A branch that does not exist yet is created with a root commit.
// If the branch exists and its tip already has tree, Commit fails with
// ErrNoChanges. The ref moves with compare-and-swap against the tip the
// commit was built on.
func (r *Repo) Commit(branch string, tree object.Hash, message, author string) (object.Hash, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("commit: message is required")
	}
	unlock, err := r.writeLock("commit")
	if err != nil {
		return "", err
	}
	defer unlock()

	ref, detached, err := r.commitTarget(branch)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if st, ok, err := r.loadMergeState(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	} else if ok && st.Branch == ref && ref != "" {
		return "", fmt.Errorf("commit on %s: %w", ref, ErrMergeInProgress)
	}

	var parent object.Hash
	if detached != "" {
		parent = detached
	} else {
		parent, err = r.Refs.Get(ref)
		if err != nil && !errors.Is(err, ErrRefNotFound) {
			return "", fmt.Errorf("commit: %w", err)
		}
	}

	var parents []object.Hash
	if parent != "" {
		tip, err := r.Store.ReadCommit(parent)
		if err != nil {
			return "", fmt.Errorf("commit: read tip %s: %w", parent.Short(), err)
		}
		if tip.TreeHash == tree {
			return "", fmt.Errorf("commit: %w", ErrNoChanges)
		}
		parents = []object.Hash{parent}
	}

	h, err := r.writeCommit(tree, parents, message, author)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	reason := "commit: " + subject(message)
	if parent == "" {
		reason = "commit (initial): " + subject(message)
	}
	if detached != "" {
		err = r.Refs.UpdateHeadCAS(h, parent, reason)
	} else {
		err = r.Refs.SetCAS(ref, h, parent, reason)
	}
	if err != nil {
		return h, fmt.Errorf("commit: %w", err)
	}

	r.log.Info("committed", "commit", h.Short(), "ref", refOrHead(ref), "parents", len(parents))
	return h, nil
}

// commitTarget returns the ref a commit advances, or the detached HEAD hash
// when committing on a detached HEAD.
func (r *Repo) commitTarget(branch string) (string, object.Hash, error) {
	if strings.TrimSpace(branch) != "" {
		ref, err := branchRef(branch)
		return ref, "", err
	}
	head, err := r.Refs.Head()
	if err != nil {
		return "", "", err
	}
	if head.Detached() {
		return "", head.Hash, nil
	}
	return head.Ref, "", nil
}

// writeCommit stores a commit stamped with the handle's clock and signed
// when a signer is configured.
func (r *Repo) writeCommit(tree object.Hash, parents []object.Hash, message, author string) (object.Hash, error) {
	c := &object.CommitObj{
		TreeHash:  tree,
		Parents:   parents,
		Author:    r.authorOrDefault(author),
		Timestamp: r.now().Unix(),
		Message:   message,
	}
	if r.signer != nil {
		sig, err := r.signer(object.CommitSigningPayload(c))
		if err != nil {
			return "", fmt.Errorf("sign commit: %w", err)
		}
		c.Signature = sig
	}
	h, err := r.Store.WriteCommit(c)
	if err != nil {
		return "", err
	}
	return h, nil
}

func (r *Repo) authorOrDefault(author string) string {
	if a := strings.TrimSpace(author); a != "" {
		return a
	}
	if a := strings.TrimSpace(os.Getenv(AuthorEnv)); a != "" {
		return a
	}
	if cfg, err := LoadConfig(r.configPath()); err == nil {
		if id := cfg.Identity(); id != "" {
			return id
		}
	} else {
		r.log.Warn("reading identity from config", "err", err)
	}
	return unknownAuthor
}

func subject(message string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return first
}

func refOrHead(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}

// branchName shortens refs/heads/x to x for messages.
func branchName(ref string) string {
	return strings.TrimPrefix(ref, refs.HeadsPrefix)
}
