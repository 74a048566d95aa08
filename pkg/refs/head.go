package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/keel/pkg/object"
)

const symbolicPrefix = "ref: "

// Head is the decoded content of HEAD: either a symbolic ref such as
// "refs/heads/main" or a detached commit hash.
type Head struct {
	Ref  string
	Hash object.Hash
}

// Detached reports whether HEAD points directly at a commit.
func (h Head) Detached() bool {
	return h.Ref == ""
}

// Branch returns the short branch name for a symbolic HEAD, or "" when
// detached or pointing outside refs/heads/.
func (h Head) Branch() string {
	if strings.HasPrefix(h.Ref, HeadsPrefix) {
		return strings.TrimPrefix(h.Ref, HeadsPrefix)
	}
	return ""
}

// Head reads HEAD.
func (s *Store) Head() (Head, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, headFile))
	if err != nil {
		return Head{}, fmt.Errorf("head: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, symbolicPrefix) {
		return Head{Ref: strings.TrimPrefix(content, symbolicPrefix)}, nil
	}
	if err := object.ValidateHash(object.Hash(content)); err != nil {
		return Head{}, fmt.Errorf("head: %w", err)
	}
	return Head{Hash: object.Hash(content)}, nil
}

// SetSymbolicHead points HEAD at a ref such as "refs/heads/main". The ref
// need not exist yet (an unborn branch).
func (s *Store) SetSymbolicHead(ref string) error {
	if err := ValidateName(ref); err != nil {
		return err
	}
	if ref == headFile {
		return fmt.Errorf("set HEAD: %w %q: HEAD cannot point at itself", ErrInvalidName, ref)
	}
	return s.writeHead(symbolicPrefix+ref, "", "checkout "+ref)
}

// SetDetachedHead points HEAD directly at a commit.
func (s *Store) SetDetachedHead(h object.Hash) error {
	if err := object.ValidateHash(h); err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	if s.exists != nil && !s.exists(h) {
		return fmt.Errorf("set HEAD: target %s: %w", h, object.ErrNotFound)
	}
	return s.writeHead(string(h), h, "checkout "+string(h))
}

func (s *Store) writeHead(content string, newHash object.Hash, reason string) error {
	headPath := filepath.Join(s.dir, headFile)
	old, _ := s.Get(headFile)
	_, err := s.withLock(headPath, func(lockFile *os.File) (object.Hash, error) {
		if _, err := lockFile.WriteString(content + "\n"); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
		return "", nil
	})
	if err != nil {
		return fmt.Errorf("set HEAD: %w", err)
	}
	if newHash == "" {
		newHash, _ = s.Get(headFile)
	}
	if err := s.appendReflog(headFile, old, newHash, reason); err != nil {
		return &UpdateReflogError{Ref: headFile, OldHash: old, NewHash: newHash, Err: err}
	}
	return nil
}

// UpdateHeadCAS moves a detached HEAD from expectedOld to h.
func (s *Store) UpdateHeadCAS(h, expectedOld object.Hash, reason string) error {
	if err := object.ValidateHash(h); err != nil {
		return fmt.Errorf("update HEAD: %w", err)
	}
	if s.exists != nil && !s.exists(h) {
		return fmt.Errorf("update HEAD: target %s: %w", h, object.ErrNotFound)
	}
	headPath := filepath.Join(s.dir, headFile)
	_, err := s.withLock(headPath, func(lockFile *os.File) (object.Hash, error) {
		cur, err := s.Head()
		if err != nil {
			return "", err
		}
		if !cur.Detached() || cur.Hash != expectedOld {
			return "", fmt.Errorf("%w (expected detached %s)", ErrCASMismatch, expectedOld)
		}
		if _, err := lockFile.WriteString(string(h) + "\n"); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
		return "", nil
	})
	if err != nil {
		return fmt.Errorf("update HEAD: %w", err)
	}
	if err := s.appendReflog(headFile, expectedOld, h, reason); err != nil {
		return &UpdateReflogError{Ref: headFile, OldHash: expectedOld, NewHash: h, Err: err}
	}
	return nil
}
