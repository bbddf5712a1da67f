// Package checksum fingerprints fetched page text. The research pipeline uses
// it to skip chunking a page whose text repeats another page of the same job.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Text returns the digest of text with whitespace runs collapsed, so pages
// that differ only in layout share a checksum. Empty text has no checksum.
func Text(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return Sum([]byte(strings.Join(fields, " ")))
}
