// Package fingerprint computes stable content digests for memory items.
// Text is normalized before hashing so that entries differing only in
// surrounding whitespace or letter case collapse to the same digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize applies the canonical normalization policy: trim surrounding
// whitespace and lower-case. Interior whitespace and punctuation are kept,
// so "Hello!" and "hello" remain distinct.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Fingerprint returns the hex-encoded SHA-256 digest of the normalized
// text. It is total: the empty string hashes to the SHA-256 of "".
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
