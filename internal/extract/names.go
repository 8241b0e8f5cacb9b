package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var reTeacherSep = regexp.MustCompile(`[,\n;/&]| i | I `)

// honorifics are dropped before names are compared.
var honorifics = map[string]struct{}{
	"mgr": {}, "dr": {}, "inz": {}, "prof": {}, "hab": {},
	"lic": {}, "pan": {}, "pani": {}, "ks": {},
}

// Matcher reports whether teacher names refer to one of a fixed set of
// people.
//
// Names are compared on their tokens (lower case, no diacritics, no
// punctuation, no honorifics). Two names match when their surnames agree
// and their given names are absent on one side or agree up to initials,
// so "Jan Kowalski", "mgr J. Kowalski", "Kowalski Jan" and "Kowalski" all
// match while "Piotr Kowalski" does not.
type Matcher struct {
	names []personName
}

// NewMatcher builds a matcher for names. Blank names are ignored.
func NewMatcher(names []string) *Matcher {
	m := &Matcher{}
	for _, n := range names {
		if p := parseName(n); len(p) > 0 {
			m.names = append(m.names, p)
		}
	}
	return m
}

// Empty reports whether the matcher holds no usable name.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.names) == 0
}

// Match reports whether name matches any name of m.
func (m *Matcher) Match(name string) bool {
	if m.Empty() {
		return false
	}
	p := parseName(name)
	if len(p) == 0 {
		return false
	}
	for _, q := range m.names {
		if p.sameAs(q) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of names matches.
func (m *Matcher) MatchAny(names []string) bool {
	for _, n := range names {
		if m.Match(n) {
			return true
		}
	}
	return false
}

// SameTeacher reports whether a and b name the same person.
func SameTeacher(a, b string) bool {
	return NewMatcher([]string{a}).Match(b)
}

type personName []string

func parseName(s string) personName {
	return personName(nameTokens(s))
}

// readings returns the (surname, given names) splits of p. Multi-token
// names are read both "Given Surname" and "Surname Given".
func (p personName) readings() [][2][]string {
	last := len(p) - 1
	out := [][2][]string{{p[last:], p[:last]}}
	if len(p) > 1 {
		out = append(out, [2][]string{p[:1], p[1:]})
	}
	return out
}

func (p personName) sameAs(q personName) bool {
	for _, a := range p.readings() {
		for _, b := range q.readings() {
			if a[0][0] == b[0][0] && givenAgree(a[1], b[1]) {
				return true
			}
		}
	}
	return false
}

func givenAgree(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if !tokenAgree(a[i], b[i]) {
			return false
		}
	}
	return true
}

// tokenAgree treats a one-letter token as an initial.
func tokenAgree(a, b string) bool {
	switch {
	case a == b:
		return true
	case len([]rune(a)) == 1:
		return strings.HasPrefix(b, a)
	case len([]rune(b)) == 1:
		return strings.HasPrefix(a, b)
	}
	return false
}

func nameTokens(name string) []string {
	n := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, Normalize(name))
	fields := strings.Fields(n)
	out := fields[:0]
	for _, f := range fields {
		if _, ok := honorifics[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// teacherNames merges the heading with the names listed in the substitute
// cell. Duplicates collapse; first-seen order is kept.
func teacherNames(heading, substitute string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if isBlank(s) {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(heading)
	if strings.TrimSpace(substitute) != "" {
		for _, part := range reTeacherSep.Split(substitute, -1) {
			add(part)
		}
	}
	return out
}
