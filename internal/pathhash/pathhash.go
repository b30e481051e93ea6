// internal/pathhash/pathhash.go
package pathhash

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/google/uuid"
)

// HashPath maps a file path to a 16-character hex identifier used to name
// per-file lease records. The path is cleaned first so that equivalent
// spellings of the same path collapse to one lease.
func HashPath(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:])[:16]
}

// NewID returns a fresh unique identifier for lock groups and journal
// operations.
func NewID() string {
	return uuid.New().String()
}
