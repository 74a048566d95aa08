package repo

import (
	"fmt"
	"strings"

	"github.com/odvcencio/keel/pkg/graph"
	"github.com/odvcencio/keel/pkg/refs"
)

// Log walks history from a revision, newest first. limit <= 0 returns
// everything; firstParent follows only first parents.
func (r *Repo) Log(rev string, limit int, firstParent bool) ([]graph.LogEntry, error) {
	unlock, err := r.readLock("log")
	if err != nil {
		return nil, err
	}
	defer unlock()

	start, err := r.resolveLocked(rev)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	entries, err := r.graph.Log(start, limit, firstParent)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	return entries, nil
}

// Reflog returns the movements of a ref, newest first. Short branch names
// are expanded to refs/heads/; an empty name means HEAD.
func (r *Repo) Reflog(name string, limit int) ([]refs.ReflogEntry, error) {
	unlock, err := r.readLock("reflog")
	if err != nil {
		return nil, err
	}
	defer unlock()

	name = strings.TrimSpace(name)
	switch {
	case name == "":
		name = "HEAD"
	case name != "HEAD" && !strings.HasPrefix(name, "refs/"):
		name = refs.HeadsPrefix + name
	}
	entries, err := r.Refs.Reflog(name, limit)
	if err != nil {
		return nil, fmt.Errorf("reflog %s: %w", name, err)
	}
	return entries, nil
}
