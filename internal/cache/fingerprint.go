package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// Fingerprint derives a stable cache key from a tool name and its input.
// The input is serialised with encoding/json, which emits map keys in sorted
// order, so two inputs that differ only in key ordering produce the same
// fingerprint. String values are whitespace-trimmed first, so " AAPL" and
// "AAPL" share an entry. The result is an FNV-64a hash rendered as
// fixed-width hex.
func Fingerprint(tool string, input map[string]any) string {
	h := fnv.New64a()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	if raw, err := json.Marshal(normalise(input)); err == nil {
		h.Write(raw)
	} else {
		// Non-serialisable inputs fall back to the fmt rendering; map
		// iteration order makes this unstable, which only costs a cache miss.
		fmt.Fprintf(h, "%v", input)
	}
	return fmt.Sprintf("%s:%016x", tool, h.Sum64())
}

// normalise trims whitespace from every string value, recursing into nested
// maps and slices. The input is not modified.
func normalise(v any) any {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalise(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalise(inner)
		}
		return out
	default:
		return v
	}
}
