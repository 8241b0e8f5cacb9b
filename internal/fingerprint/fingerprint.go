// Package fingerprint computes content hashes used for change detection.
// They are compared for equality only and carry no security meaning.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"subwatch/internal/extract"
)

// Text hashes the UTF-8 bytes of s.
func Text(s string) string {
	return sum([]byte(s))
}

// Groups hashes the canonical encoding of groups: a JSON array of
// [title, [entries...]] pairs in output order.
func Groups(groups []extract.Group) string {
	return sum(canonical(groups))
}

func canonical(groups []extract.Group) []byte {
	pairs := make([][2]any, 0, len(groups))
	for _, g := range groups {
		entries := g.Entries
		if entries == nil {
			entries = []string{}
		}
		pairs = append(pairs, [2]any{g.Title, entries})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding strings and string slices cannot fail.
	_ = enc.Encode(pairs)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
