package extract

import "strings"

// CountEntries returns the number of rendered entries across groups.
func CountEntries(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Entries)
	}
	return n
}

// TallyKey is the tally name for a group title: the text before "/".
func TallyKey(title string) string {
	k, _, _ := strings.Cut(strings.TrimSpace(title), "/")
	return strings.TrimSpace(k)
}

// EntryTeacher returns the teacher named on the first line of a classless
// entry, cut at "/".
func EntryTeacher(entry string) (string, bool) {
	marker := "**" + teacherLabel + ":**"
	_, rest, ok := strings.Cut(entry, marker)
	if !ok {
		return "", false
	}
	line, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
	name, _, _ := strings.Cut(strings.TrimSpace(line), "/")
	return strings.TrimSpace(name), true
}

// Tally returns the per-teacher row counts contributed by groups.
//
// Classless entries credit the teacher named in each entry; every other
// group credits its title with its entry count.
func Tally(groups []Group) map[string]int {
	out := map[string]int{}
	for _, g := range groups {
		if g.Classless() {
			for _, e := range g.Entries {
				if name, ok := EntryTeacher(e); ok {
					out[name]++
				}
			}
			continue
		}
		out[TallyKey(g.Title)] += len(g.Entries)
	}
	return out
}

// Plural returns the Polish form of "zastępstwo" for n.
func Plural(n int) string {
	if n < 0 {
		n = -n
	}
	switch {
	case n == 1:
		return "zastępstwo"
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 12 || n%100 > 14):
		return "zastępstwa"
	default:
		return "zastępstw"
	}
}
