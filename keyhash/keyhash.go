// Package keyhash canonicalizes structured query/mutation keys into a
// stable string hash, so that two keys which are structurally equal —
// including maps whose entries were inserted in a different order — hash
// identically.
//
// A Key is either a string, an ordered sequence ([]any) whose elements
// are themselves Keys, or a map[string]any whose values are themselves
// Keys, bottoming out at string, float64/int, bool, or nil. This mirrors
// the shapes JSON can represent, since query keys are meant to survive a
// dehydrate/hydrate round trip through an ordinary JSON encoder.
package keyhash

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the canonical hash for key. Two keys equal after sorting
// map entries at every depth produce the same hash.
func Hash(key any) string {
	var b strings.Builder
	canonicalize(&b, key)
	sum := xxhash.Sum64String(b.String())
	return strconv.FormatUint(sum, 16)
}

// Canonical returns the canonical string serialization of key, without
// hashing it. Exposed so callers (and tests) can compare keys for
// structural equality without relying on hash collisions, and so the
// Query Cache can use it as a stable map key for exact lookups.
func Canonical(key any) string {
	var b strings.Builder
	canonicalize(&b, key)
	return b.String()
}

// Equal reports whether two keys are structurally equal per the
// canonicalization rules (sorted map keys at every depth, ordered
// sequences compared in order).
func Equal(a, b any) bool {
	return Canonical(a) == Canonical(b)
}

func canonicalize(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		writeQuoted(b, t)
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case []any:
		b.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, elem)
		}
		b.WriteByte(']')
	case map[string]any:
		writeObject(b, t)
	default:
		// Fall back to a stable textual form for anything else (e.g. a
		// caller-defined Stringer key). This keeps Hash total instead of
		// panicking on unexpected key shapes.
		writeQuoted(b, fmt.Sprintf("%v", t))
	}
}

func writeObject(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeQuoted(b, k)
		b.WriteByte(':')
		canonicalize(b, m[k])
	}
	b.WriteByte('}')
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// PartialMatch reports whether filterKey is a structural prefix/subset of
// key: for an ordered sequence, every element of filterKey must
// deep-equal the element of key at the same index; for a map, every
// entry in filterKey must be present and equal in key. String filter
// keys must equal the key exactly. Used by Query Cache filters for
// non-exact ("fuzzy") key matching.
func PartialMatch(filterKey, key any) bool {
	switch fk := filterKey.(type) {
	case []any:
		k, ok := key.([]any)
		if !ok || len(fk) > len(k) {
			return false
		}
		for i, elem := range fk {
			if !PartialMatch(elem, k[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		k, ok := key.(map[string]any)
		if !ok {
			return false
		}
		for fkey, fval := range fk {
			kval, present := k[fkey]
			if !present || !PartialMatch(fval, kval) {
				return false
			}
		}
		return true
	default:
		return Equal(filterKey, key)
	}
}
