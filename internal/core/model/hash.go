package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ContentHash fingerprints a gene-set collection: the first 16 hex chars of
// SHA-256 over "name::g1,g2,..." entries joined by "||", with names and genes
// sorted. It does not depend on insertion order.
func ContentHash(sets map[string][]string) string {
	names := make([]string, 0, len(sets))
	for n := range sets {
		names = append(names, n)
	}
	sort.Strings(names)

	entries := make([]string, 0, len(names))
	for _, n := range names {
		entries = append(entries, n+"::"+strings.Join(UniqueSorted(sets[n]), ","))
	}
	sum := sha256.Sum256([]byte(strings.Join(entries, "||")))
	return hex.EncodeToString(sum[:])[:16]
}
