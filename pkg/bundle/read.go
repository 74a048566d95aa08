package bundle

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

// Read decodes a bundle from r into dst. Each object's hash is recomputed
// before it is stored, and every object it references must already be in
// dst (carried earlier in the bundle or present beforehand). Advertised ref
// targets must be present once all objects are read. Refs are returned but
// not written; the caller decides where they land.
func Read(r io.Reader, dst Sink) (*Manifest, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	line, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w: %v", ErrBadHeader, err)
	}
	if line != header {
		return nil, fmt.Errorf("bundle: %w: header %q", ErrBadHeader, line)
	}

	m := &Manifest{}
	count := -1
	for count < 0 {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("bundle: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "ref "):
			ref, err := parseRefLine(line)
			if err != nil {
				return nil, fmt.Errorf("bundle: %w", err)
			}
			m.Refs = append(m.Refs, ref)
		case strings.HasPrefix(line, "objects "):
			n, err := strconv.Atoi(strings.TrimPrefix(line, "objects "))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bundle: %w: bad object count %q", ErrCorrupt, line)
			}
			count = n
		default:
			return nil, fmt.Errorf("bundle: %w: unexpected line %q", ErrCorrupt, line)
		}
	}
	if len(m.Refs) == 0 {
		return nil, fmt.Errorf("bundle: %w", ErrEmpty)
	}

	for i := 0; i < count; i++ {
		t, want, data, err := readEntry(br)
		if err != nil {
			return nil, fmt.Errorf("bundle: entry %d: %w", i, err)
		}
		if got := object.HashObject(t, data); got != want {
			return nil, fmt.Errorf("bundle: %w: entry %d hashes to %s, header says %s", ErrCorrupt, i, got.Short(), want.Short())
		}
		deps, err := object.ReferencedHashes(t, data)
		if err != nil {
			return nil, fmt.Errorf("bundle: %w: entry %s: %v", ErrCorrupt, want.Short(), err)
		}
		for _, d := range deps {
			if !dst.Has(d) {
				return nil, fmt.Errorf("bundle: %w: %s references missing object %s", ErrCorrupt, want.Short(), d.Short())
			}
		}
		if _, err := dst.Put(t, data); err != nil {
			return nil, fmt.Errorf("bundle: store %s: %w", want.Short(), err)
		}
		m.Objects++
	}

	for _, ref := range m.Refs {
		if !dst.Has(ref.Hash) {
			return nil, fmt.Errorf("bundle: %w: ref %s points at missing object %s", ErrCorrupt, ref.Name, ref.Hash.Short())
		}
	}
	return m, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", unexpectedEOF(err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func parseRefLine(line string) (refs.Ref, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return refs.Ref{}, fmt.Errorf("%w: bad ref line %q", ErrCorrupt, line)
	}
	h := object.Hash(fields[1])
	if err := object.ValidateHash(h); err != nil {
		return refs.Ref{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := refs.ValidateName(fields[2]); err != nil {
		return refs.Ref{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return refs.Ref{Name: fields[2], Hash: h}, nil
}
