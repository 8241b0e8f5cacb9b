// Package stats builds the per-teacher substitution statistics shown by
// the live command and the year-end summary.
package stats

import (
	"fmt"
	"sort"
	"strings"

	"subwatch/internal/config"
	"subwatch/internal/extract"
	"subwatch/internal/storage"
)

const (
	// SummaryLimit caps the year-end summary.
	SummaryLimit = 24
	// CommandLimit caps the live statistics command.
	CommandLimit = 25
)

type Row struct {
	Name  string
	Count int
}

type View struct {
	Counter int
	Rows    []Row
	// Excluded is set when the server filters by teacher; those teachers
	// are left out of Rows.
	Excluded bool
	// Unconfigured is set when the server has no filters at all.
	Unconfigured bool
}

// Empty reports that nothing was delivered yet.
func (v View) Empty() bool { return v.Counter == 0 }

// NoData reports that the exclusion filter removed every row.
func (v View) NoData() bool { return v.Excluded && len(v.Rows) == 0 }

// Build returns the statistics of rec as seen by srv, sorted by count
// descending then name and trimmed to limit rows (0 means no limit).
func Build(rec storage.Record, srv config.Server, limit int) View {
	v := View{
		Counter:      rec.Counter,
		Excluded:     len(srv.Teachers) > 0,
		Unconfigured: !srv.Configured(),
	}
	if v.Unconfigured || v.Empty() {
		return v
	}

	var excluded *extract.Matcher
	if v.Excluded {
		excluded = extract.NewMatcher(srv.Teachers)
	}

	rows := make([]Row, 0, len(rec.Tally))
	for name, n := range rec.Tally {
		if excluded.Match(name) {
			continue
		}
		rows = append(rows, Row{Name: name, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Name < rows[j].Name
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	v.Rows = rows
	return v
}

// Markdown renders the ranking as markdown lines, or the no-data notice.
func (v View) Markdown() string {
	if v.NoData() {
		return "**Brak danych**\nNie znaleziono odpowiednich statystyk dla tego serwera."
	}
	lines := make([]string, 0, len(v.Rows))
	for _, r := range v.Rows {
		lines = append(lines, fmt.Sprintf("**%s**: Liczba zastępstw: %d", r.Name, r.Count))
	}
	return strings.Join(lines, "\n")
}
