package repo

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/keel/pkg/bundle"
	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

// ExportBundle writes the named revisions (default: every local branch) and
// the objects they reach to w, leaving out history reachable from haves.
func (r *Repo) ExportBundle(w io.Writer, names []string, haves []object.Hash) (*bundle.Manifest, error) {
	unlock, err := r.readLock("export bundle")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var tips []refs.Ref
	if len(names) == 0 {
		tips, err = r.Refs.List(refs.HeadsPrefix)
		if err != nil {
			return nil, fmt.Errorf("export bundle: %w", err)
		}
	}
	for _, name := range names {
		full, h, err := r.qualifyLocked(name)
		if err != nil {
			return nil, fmt.Errorf("export bundle: %w", err)
		}
		tips = append(tips, refs.Ref{Name: full, Hash: h})
	}

	m, err := bundle.Write(w, r.Store, tips, haves)
	if err != nil {
		return nil, fmt.Errorf("export bundle: %w", err)
	}
	r.log.Info("exported bundle", "refs", len(m.Refs), "objects", m.Objects)
	return m, nil
}

// FetchBundle imports a bundle and records each advertised branch as
// refs/remotes/<remote>/<branch>. Tags land under refs/tags/ only when
// absent locally. Merging a tracking ref completes a pull.
func (r *Repo) FetchBundle(remote string, rd io.Reader) ([]refs.Ref, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" || strings.Contains(remote, "/") {
		return nil, fmt.Errorf("fetch bundle: invalid remote name %q", remote)
	}
	unlock, err := r.writeLock("fetch bundle")
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := bundle.Read(rd, r.Store)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle: %w", err)
	}

	var updated []refs.Ref
	for _, ref := range m.Refs {
		switch {
		case strings.HasPrefix(ref.Name, refs.HeadsPrefix):
			tracking := refs.RemotesPrefix + remote + "/" + strings.TrimPrefix(ref.Name, refs.HeadsPrefix)
			if err := r.Refs.SetWithReason(tracking, ref.Hash, "fetch "+remote); err != nil {
				return updated, fmt.Errorf("fetch bundle: %w", err)
			}
			updated = append(updated, refs.Ref{Name: tracking, Hash: ref.Hash})
		case strings.HasPrefix(ref.Name, refs.TagsPrefix):
			err := r.Refs.SetCAS(ref.Name, ref.Hash, "", "fetch "+remote)
			if errors.Is(err, refs.ErrCASMismatch) {
				r.log.Debug("fetch bundle: keeping local tag", "tag", ref.Name)
				continue
			}
			if err != nil {
				return updated, fmt.Errorf("fetch bundle: %w", err)
			}
			updated = append(updated, ref)
		default:
			r.log.Debug("fetch bundle: skipping ref", "ref", ref.Name)
		}
	}
	r.log.Info("fetched bundle", "remote", remote, "objects", m.Objects, "refs", len(updated))
	return updated, nil
}

// qualifyLocked maps a revision to the full ref name it should travel as.
func (r *Repo) qualifyLocked(name string) (string, object.Hash, error) {
	name = strings.TrimSpace(name)
	candidates := []string{name}
	if !strings.HasPrefix(name, "refs/") {
		candidates = []string{refs.HeadsPrefix + name, refs.TagsPrefix + name}
	}
	for _, full := range candidates {
		if h, err := r.Refs.Get(full); err == nil {
			return full, h, nil
		}
	}
	return "", "", fmt.Errorf("bundle ref %q: %w", name, ErrRefNotFound)
}
