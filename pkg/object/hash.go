package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the length of a hex-encoded Hash.
const HashSize = 2 * sha256.Size

// HashBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the SHA-256 of the envelope "type len\0content".
// The type tag keeps a blob and a tree with identical bytes apart.
func HashObject(objType ObjectType, data []byte) Hash {
	h := sha256.New()
	h.Write(envelopeHeader(objType, len(data)))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

func envelopeHeader(objType ObjectType, n int) []byte {
	return []byte(fmt.Sprintf("%s %d\x00", objType, n))
}

// ValidateHash reports whether h is a well-formed lowercase hex digest.
func ValidateHash(h Hash) error {
	if len(h) != HashSize {
		return fmt.Errorf("invalid hash %q: length %d, want %d", h, len(h), HashSize)
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid hash %q: non-hex character %q", h, c)
		}
	}
	return nil
}

// Short returns the first 8 characters of h for display.
func (h Hash) Short() string {
	if len(h) > 8 {
		return string(h[:8])
	}
	return string(h)
}
