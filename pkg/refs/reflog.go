package refs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/keel/pkg/object"
)

const zeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ReflogEntry records one movement of a ref.
type ReflogEntry struct {
	Ref       string
	OldHash   object.Hash
	NewHash   object.Hash
	Timestamp int64
	Reason    string
}

func (s *Store) appendReflog(ref string, oldHash, newHash object.Hash, reason string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	reason = strings.ReplaceAll(strings.TrimSpace(reason), "\n", " ")
	if reason == "" {
		reason = "update"
	}

	logPath := filepath.Join(s.dir, "logs", filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("reflog mkdir: %w", err)
	}

	line := fmt.Sprintf("%s %s %d %s\n", orZero(oldHash), orZero(newHash), time.Now().Unix(), reason)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reflog open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("reflog write: %w", err)
	}
	return nil
}

// Reflog returns the recorded movements of ref, newest first. A limit of
// zero or less returns every entry.
func (s *Store) Reflog(ref string, limit int) ([]ReflogEntry, error) {
	if err := ValidateName(ref); err != nil {
		return nil, err
	}
	logPath := filepath.Join(s.dir, "logs", filepath.FromSlash(ref))
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reflog: %w", err)
	}
	defer f.Close()

	var entries []ReflogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 4)
		if len(parts) < 4 {
			continue
		}
		ts, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, ReflogEntry{
			Ref:       ref,
			OldHash:   fromZero(parts[0]),
			NewHash:   fromZero(parts[1]),
			Timestamp: ts,
			Reason:    parts[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reflog: %w", err)
	}

	// Return newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func orZero(h object.Hash) string {
	if strings.TrimSpace(string(h)) == "" {
		return zeroHash
	}
	return string(h)
}

func fromZero(s string) object.Hash {
	if s == zeroHash {
		return ""
	}
	return object.Hash(s)
}
