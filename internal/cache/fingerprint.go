// Package cache provides the semantic embedding cache: exact
// fingerprint lookup with an optional approximate near-duplicate index.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint computes the deterministic content fingerprint used for
// exact cache lookup: sha256 over whitespace-normalized content.
//
// Normalization collapses runs of whitespace so that trivially
// reformatted content maps to the same entry. Case is preserved:
// case changes can change embedding semantics.
func Fingerprint(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
