package object

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Kind is TypeBlob for files and
// TypeTree for subdirectories.
type TreeEntry struct {
	Name string
	Mode string
	Kind ObjectType
	Hash Hash
}

// IsDir reports whether the entry points at a subtree.
func (e TreeEntry) IsDir() bool {
	return e.Kind == TypeTree
}

// SameContent reports whether two entries carry the same kind, mode and
// target hash. Names are not compared.
func (e TreeEntry) SameContent(other TreeEntry) bool {
	return e.Kind == other.Kind && e.Hash == other.Hash && normalizeMode(e) == normalizeMode(other)
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// Find returns the entry with the given name.
func (t *TreeObj) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	Timestamp int64
	Signature string
	Message   string
}
