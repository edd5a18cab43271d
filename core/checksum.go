// core/checksum.go
package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const checksumBufferSize = 8 * 1024

// FileChecksum streams the file at path through SHA-256 and returns the
// lowercase hex digest. For backup artifacts this covers exactly the bytes a
// restorer will read: the final on-disk file, after compression and, for
// encrypted mode, after framing.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buffer := make([]byte, checksumBufferSize)
	if _, err := io.CopyBuffer(h, f, buffer); err != nil {
		return "", fmt.Errorf("failed to read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestEqual compares two hex digests in constant time.
func DigestEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
