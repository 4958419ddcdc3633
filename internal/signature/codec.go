// Package signature computes deterministic digests over a canonical key and its provenance list.
//
// The digest is SHA-256 over a compact, key-sorted JSON document:
//
//	{"canonical_core":{"antagonist":"…","mechanism":"…","primary_fear":"…","setting":"…","twist":"…"},"research_used":["RC-001","RC-002"]}
//
// Identical (key, provenance set) pairs produce identical signatures across processes and platforms.
package signature

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/timmy/storydedup/internal/domain"
)

// Dimension is one canonical name/value pair of a normalized key.
type Dimension struct {
	Name  string
	Value string
}

// NormalizedKey is a canonical key with aliases resolved, every dimension present,
// and dimensions ordered alphabetically by canonical name.
type NormalizedKey []Dimension

// document is the exact shape that gets hashed.
type document struct {
	CanonicalCore map[string]string `json:"canonical_core"`
	ResearchUsed  []string          `json:"research_used"`
}

// Normalize fills missing dimensions with the empty string and orders them by name.
func Normalize(key domain.CanonicalKey) NormalizedKey {
	dims := key.Dimensions()
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(NormalizedKey, 0, len(names))
	for _, name := range names {
		out = append(out, Dimension{Name: name, Value: dims[name]})
	}
	return out
}

// Map returns the normalized key as a canonical-name mapping.
func (k NormalizedKey) Map() map[string]string {
	m := make(map[string]string, len(k))
	for _, d := range k {
		m[d.Name] = d.Value
	}
	return m
}

// Equal reports whether two normalized keys carry the same values.
func (k NormalizedKey) Equal(other NormalizedKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// Compute returns the hex SHA-256 signature of a normalized key and provenance list.
// The provenance list is sorted on a copy; the caller's slice is left untouched.
func Compute(key NormalizedKey, provenance []string) domain.Signature {
	sum := sha256.Sum256(Encode(key, provenance))
	return domain.Signature(hex.EncodeToString(sum[:]))
}

// FromMap resolves aliases in a loosely-typed key, normalizes it, and computes the signature.
func FromMap(key map[string]string, provenance []string) domain.Signature {
	return Compute(Normalize(domain.CanonicalKeyFromMap(key)), provenance)
}

// Of is shorthand for Compute(Normalize(key), provenance).
func Of(key domain.CanonicalKey, provenance []string) domain.Signature {
	return Compute(Normalize(key), provenance)
}

// Encode returns the byte string that Compute hashes.
func Encode(key NormalizedKey, provenance []string) []byte {
	sorted := SortedProvenance(provenance)

	core := key.Map()
	if len(core) == 0 {
		// A nil key still serializes every dimension.
		core = Normalize(domain.CanonicalKey{}).Map()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json sorts map keys and cannot fail on strings.
	_ = enc.Encode(document{CanonicalCore: core, ResearchUsed: sorted})
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// SortedProvenance returns a lexicographically sorted copy of the list, never nil.
func SortedProvenance(provenance []string) []string {
	sorted := make([]string, len(provenance))
	copy(sorted, provenance)
	sort.Strings(sorted)
	return sorted
}
