package object

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned when an object is not present in the store.
var ErrNotFound = errors.New("object not found")

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123...
//
// Objects are immutable and never deleted. Put is safe for concurrent use:
// each writer renames its own temp file over the final path, and every
// writer of the same hash carries identical bytes.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory. The objects/
// subdirectory is created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	if ValidateHash(h) != nil {
		return false
	}
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Put stores an object and returns its content hash. The on-disk format
// is "type len\0content". Writes are atomic: the full envelope is built in
// memory, written to a temp file and then renamed into place. Storing
// content that is already present performs no write.
func (s *Store) Put(objType ObjectType, data []byte) (Hash, error) {
	switch objType {
	case TypeBlob, TypeTree, TypeCommit:
	default:
		return "", fmt.Errorf("object write: unsupported type %q", objType)
	}

	raw := append(envelopeHeader(objType, len(data)), data...)
	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w", err)
	}

	if err := os.Rename(tmpName, s.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}

	return h, nil
}

// Get retrieves an object by hash, returning its type and raw content.
// A missing object yields an error wrapping ErrNotFound.
func (s *Store) Get(h Hash) (ObjectType, []byte, error) {
	if err := ValidateHash(h); err != nil {
		return "", nil, fmt.Errorf("object read: %w", err)
	}
	raw, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
		}
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}

	// Parse envelope: "type len\0content"
	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: invalid format (no NUL)", h)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("object read %s: invalid header %q", h, header)
	}
	objType := ObjectType(parts[0])
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: invalid length %q: %w", h, parts[1], err)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d)", h, length, len(content))
	}

	return objType, content, nil
}

// Len returns the number of objects in the store.
func (s *Store) Len() (int, error) {
	hashes, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// List returns every stored object hash in fan-out order.
func (s *Store) List() ([]Hash, error) {
	objectsDir := filepath.Join(s.root, "objects")
	var out []Hash
	err := filepath.WalkDir(objectsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		prefix := filepath.Base(filepath.Dir(path))
		h := Hash(prefix + d.Name())
		if ValidateHash(h) != nil {
			return nil
		}
		out = append(out, h)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Put(TypeBlob, MarshalBlob(b))
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	data, err := s.readTyped(h, TypeBlob)
	if err != nil {
		return nil, err
	}
	return UnmarshalBlob(data)
}

// WriteTree validates and stores a TreeObj. Every entry must have a unique,
// valid name and point at an object of its declared kind that is already
// stored.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	seen := make(map[string]struct{}, len(tr.Entries))
	for _, e := range tr.Entries {
		if err := ValidateEntryName(e.Name); err != nil {
			return "", fmt.Errorf("write tree: %w", err)
		}
		if _, dup := seen[e.Name]; dup {
			return "", fmt.Errorf("write tree: duplicate entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if err := checkMode(e.Kind, normalizeMode(e)); err != nil {
			return "", fmt.Errorf("write tree: entry %q: %w", e.Name, err)
		}
		if err := s.requireKind(e.Hash, e.Kind); err != nil {
			return "", fmt.Errorf("write tree: entry %q: %w", e.Name, err)
		}
	}
	return s.Put(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	data, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// WriteCommit validates and stores a CommitObj. The tree and every parent
// must already be stored.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	if strings.ContainsAny(c.Author, "\n\x00") {
		return "", fmt.Errorf("write commit: author contains a newline")
	}
	if err := s.requireKind(c.TreeHash, TypeTree); err != nil {
		return "", fmt.Errorf("write commit: tree: %w", err)
	}
	for _, p := range c.Parents {
		if err := s.requireKind(p, TypeCommit); err != nil {
			return "", fmt.Errorf("write commit: parent: %w", err)
		}
	}
	return s.Put(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

// TypeOf returns the stored type of h.
func (s *Store) TypeOf(h Hash) (ObjectType, error) {
	objType, _, err := s.Get(h)
	return objType, err
}

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return data, nil
}

func (s *Store) requireKind(h Hash, want ObjectType) error {
	if err := ValidateHash(h); err != nil {
		return err
	}
	objType, err := s.TypeOf(h)
	if err != nil {
		return err
	}
	if objType != want {
		return fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return nil
}
