package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// Chunk splits s into pieces of at most limit runes.
//
// Pieces are cut on the last blank line (entry boundary) inside the window,
// then on the last newline, and only then mid-line. Separators at a cut are
// dropped so no piece starts or ends with blank lines.
func Chunk(s string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	rs := []rune(s)
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, strings.Trim(string(rs[start:]), "\n"))
			break
		}
		cut := lastIndex(rs[start:end], []rune("\n\n"))
		if cut <= 0 {
			cut = lastIndex(rs[start:end], []rune("\n"))
		}
		if cut <= 0 {
			cut = end - start
		}
		out = append(out, strings.Trim(string(rs[start:start+cut]), "\n"))
		start += cut
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func lastIndex(rs, sep []rune) int {
	for i := len(rs) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if rs[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
