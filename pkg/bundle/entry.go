package bundle

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/odvcencio/keel/pkg/object"
)

// Entry type codes. Zero is reserved so a zeroed header never decodes.
const (
	codeBlob   byte = 1
	codeTree   byte = 2
	codeCommit byte = 3
)

const maxEntrySize = 1 << 31

func typeCode(t object.ObjectType) (byte, error) {
	switch t {
	case object.TypeBlob:
		return codeBlob, nil
	case object.TypeTree:
		return codeTree, nil
	case object.TypeCommit:
		return codeCommit, nil
	}
	return 0, fmt.Errorf("unsupported object type %q", t)
}

func codeType(code byte) (object.ObjectType, error) {
	switch code {
	case codeBlob:
		return object.TypeBlob, nil
	case codeTree:
		return object.TypeTree, nil
	case codeCommit:
		return object.TypeCommit, nil
	}
	return "", fmt.Errorf("%w: unknown entry type %d", ErrCorrupt, code)
}

// encodeEntryHeader packs the type into bits 4-6 of the first byte and the
// size as a little-endian base-128 varint starting in its low nibble.
func encodeEntryHeader(code byte, size uint64) []byte {
	b := (code & 0x7) << 4
	b |= byte(size & 0x0f)
	size >>= 4

	out := make([]byte, 0, 10)
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)

	for size > 0 {
		next := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			next |= 0x80
		}
		out = append(out, next)
	}
	return out
}

func readEntryHeader(r *bufio.Reader) (byte, uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	code := (b >> 4) & 0x7
	size := uint64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		if shift > 63 {
			return 0, 0, fmt.Errorf("%w: entry size overflows", ErrCorrupt)
		}
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, unexpectedEOF(err)
		}
		size |= uint64(b&0x7f) << shift
		shift += 7
	}
	return code, size, nil
}

func writeEntry(w io.Writer, t object.ObjectType, h object.Hash, data []byte) error {
	code, err := typeCode(t)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(string(h))
	if err != nil {
		return fmt.Errorf("entry %s: %w", h, err)
	}
	if _, err := w.Write(encodeEntryHeader(code, uint64(len(data)))); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readEntry(r *bufio.Reader) (object.ObjectType, object.Hash, []byte, error) {
	code, size, err := readEntryHeader(r)
	if err != nil {
		return "", "", nil, unexpectedEOF(err)
	}
	t, err := codeType(code)
	if err != nil {
		return "", "", nil, err
	}
	if size > maxEntrySize {
		return "", "", nil, fmt.Errorf("%w: entry of %d bytes exceeds limit", ErrCorrupt, size)
	}

	raw := make([]byte, object.HashSize/2)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", "", nil, unexpectedEOF(err)
	}
	// The buffer grows with bytes received, not with the declared size.
	var data bytes.Buffer
	if _, err := io.CopyN(&data, r, int64(size)); err != nil {
		return "", "", nil, unexpectedEOF(err)
	}
	return t, object.Hash(hex.EncodeToString(raw)), data.Bytes(), nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated bundle", ErrCorrupt)
	}
	return err
}
