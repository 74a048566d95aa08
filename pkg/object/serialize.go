package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

// MarshalBlob serializes a Blob to raw bytes (identity).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj. Entries are sorted by Name for
// deterministic output. Each entry is one line:
//
//	mode kind hash name
//
// The name goes last so it may contain spaces.
func MarshalTree(tr *TreeObj) []byte {
	sorted := sortedEntries(tr.Entries)

	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %s %s %s\n", normalizeMode(e), e.Kind, string(e.Hash), e.Name)
	}
	return buf.Bytes()
}

// UnmarshalTree parses a TreeObj from its serialized form.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, " ", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("unmarshal tree: malformed entry %q", line)
		}
		kind := ObjectType(parts[1])
		if kind != TypeBlob && kind != TypeTree {
			return nil, fmt.Errorf("unmarshal tree: entry %q: unknown kind %q", parts[3], parts[1])
		}
		if err := checkMode(kind, parts[0]); err != nil {
			return nil, fmt.Errorf("unmarshal tree: entry %q: %w", parts[3], err)
		}
		tr.Entries = append(tr.Entries, TreeEntry{
			Name: parts[3],
			Mode: parts[0],
			Kind: kind,
			Hash: Hash(parts[2]),
		})
	}
	return tr, nil
}

func sortedEntries(in []TreeEntry) []TreeEntry {
	sorted := make([]TreeEntry, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

func normalizeMode(e TreeEntry) string {
	if e.Kind == TypeTree {
		return TreeModeDir
	}
	if strings.TrimSpace(e.Mode) == "" {
		return TreeModeFile
	}
	return e.Mode
}

func checkMode(kind ObjectType, mode string) error {
	switch mode {
	case TreeModeDir:
		if kind != TypeTree {
			return fmt.Errorf("mode %s on %s entry", mode, kind)
		}
		return nil
	case TreeModeFile, TreeModeExecutable:
		if kind != TypeBlob {
			return fmt.Errorf("mode %s on %s entry", mode, kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// ValidateEntryName rejects names that cannot live in a single tree level.
func ValidateEntryName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty entry name")
	case name == "." || name == "..":
		return fmt.Errorf("reserved entry name %q", name)
	case strings.ContainsAny(name, "/\x00\n"):
		return fmt.Errorf("entry name %q contains a separator", name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	parent H     (zero or more)
//	author A
//	timestamp T
//	signature S  (optional)
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "timestamp %d\n", c.Timestamp)
	if strings.TrimSpace(c.Signature) != "" {
		fmt.Fprintf(&buf, "signature %s\n", c.Signature)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &CommitObj{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			c.TreeHash = Hash(val)
		case "parent":
			c.Parents = append(c.Parents, Hash(val))
		case "author":
			c.Author = val
		case "timestamp":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad timestamp %q: %w", val, err)
			}
			c.Timestamp = ts
		case "signature":
			c.Signature = val
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

// CommitSigningPayload returns the canonical bytes that are signed for a
// commit. The payload excludes the signature field itself.
func CommitSigningPayload(c *CommitObj) []byte {
	if c == nil {
		return nil
	}
	copyCommit := *c
	copyCommit.Signature = ""
	return MarshalCommit(&copyCommit)
}
