package repo

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	pathpkg "path"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/odvcencio/keel/pkg/merge"
	"github.com/odvcencio/keel/pkg/object"
)

const mergeStateFile = "MERGE_STATE"

// MergeState is a conflicted merge waiting for ResolveAndCommit or
// AbortMerge. It is persisted as TOML in .keel/MERGE_STATE.
type MergeState struct {
	Branch    string          `toml:"branch"`
	From      string          `toml:"from"`
	Base      object.Hash     `toml:"base"`
	Ours      object.Hash     `toml:"ours"`
	Theirs    object.Hash     `toml:"theirs"`
	Tree      object.Hash     `toml:"tree"`
	Message   string          `toml:"message"`
	Conflicts []ConflictState `toml:"conflict"`
}

// ConflictState is one persisted conflict.
type ConflictState struct {
	Path   string      `toml:"path"`
	Kind   string      `toml:"kind"`
	Base   *EntryState `toml:"base,omitempty"`
	Ours   *EntryState `toml:"ours,omitempty"`
	Theirs *EntryState `toml:"theirs,omitempty"`
}

// EntryState is a persisted tree entry.
type EntryState struct {
	Mode string            `toml:"mode"`
	Kind object.ObjectType `toml:"kind"`
	Hash object.Hash       `toml:"hash"`
}

func newMergeState(branch, from, message string, out *merge.Outcome) *MergeState {
	st := &MergeState{
		Branch:  branch,
		From:    from,
		Base:    out.Base,
		Ours:    out.Ours,
		Theirs:  out.Theirs,
		Tree:    out.Tree,
		Message: message,
	}
	for _, c := range out.Conflicts {
		st.Conflicts = append(st.Conflicts, ConflictState{
			Path:   c.Path,
			Kind:   string(c.Kind()),
			Base:   toEntryState(c.Base),
			Ours:   toEntryState(c.Ours),
			Theirs: toEntryState(c.Theirs),
		})
	}
	return st
}

// MergeConflicts converts the persisted conflicts back into merge.Conflict
// values.
func (st *MergeState) MergeConflicts() []merge.Conflict {
	out := make([]merge.Conflict, 0, len(st.Conflicts))
	for _, c := range st.Conflicts {
		out = append(out, merge.Conflict{
			Path:   c.Path,
			Base:   c.Base.entry(c.Path),
			Ours:   c.Ours.entry(c.Path),
			Theirs: c.Theirs.entry(c.Path),
		})
	}
	return out
}

func toEntryState(e *object.TreeEntry) *EntryState {
	if e == nil {
		return nil
	}
	return &EntryState{Mode: e.Mode, Kind: e.Kind, Hash: e.Hash}
}

func (e *EntryState) entry(path string) *object.TreeEntry {
	if e == nil {
		return nil
	}
	return &object.TreeEntry{Name: pathpkg.Base(path), Mode: e.Mode, Kind: e.Kind, Hash: e.Hash}
}

func (r *Repo) mergeStatePath() string {
	return filepath.Join(r.Dir, mergeStateFile)
}

func (r *Repo) mergePending() bool {
	_, err := os.Stat(r.mergeStatePath())
	return err == nil
}

func (r *Repo) loadMergeState() (*MergeState, bool, error) {
	var st MergeState
	if _, err := toml.DecodeFile(r.mergeStatePath(), &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read merge state: %w", err)
	}
	return &st, true, nil
}

func (r *Repo) saveMergeState(st *MergeState) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("write merge state: encode: %w", err)
	}
	return writeFileAtomic(r.mergeStatePath(), buf.Bytes(), ".merge-state-tmp-*")
}

func (r *Repo) clearMergeState() error {
	if err := os.Remove(r.mergeStatePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear merge state: %w", err)
	}
	return nil
}
