// Package extract turns a substitution page into per-tenant entry groups.
//
// Scan walks the page once: it finds the extra-information banner and
// classifies table rows. Page.Select then applies one tenant's class and
// teacher filters and groups the retained rows.
package extract

import (
	"regexp"
	"strings"

	"subwatch/internal/document"
)

// ClasslessTitle is the title of the bucket holding rows without an
// identifiable class.
const ClasslessTitle = "Zastępstwa z nieprzypisanymi klasami!"

const (
	bannerClass   = "st0"
	fallbackClass = "st1"

	teacherLabel = "Nauczyciel"
	missingValue = "Brak"
)

// Column labels in cell order.
var labels = [4]string{"Lekcja", "Opis", "Zastępca", "Uwagi"}

var headerLabels = map[string]struct{}{
	"lekcja": {}, "opis": {}, "zastępca": {}, "uwagi": {},
}

// Filters selects rows for one tenant.
type Filters struct {
	Classes      []string
	Teachers     []string
	KnownClasses []string
}

// Active reports whether any selecting filter is configured.
func (f Filters) Active() bool {
	return len(f.Classes) > 0 || len(f.Teachers) > 0
}

// Row is a classified schedule row.
type Row struct {
	Heading string
	Fields  [4]string
}

func (r Row) Lesson() string      { return r.Fields[0] }
func (r Row) Description() string { return r.Fields[1] }
func (r Row) Substitute() string  { return r.Fields[2] }
func (r Row) Remarks() string     { return r.Fields[3] }

// Teachers returns the heading plus the names listed in the substitute cell.
func (r Row) Teachers() []string {
	return teacherNames(r.Heading, r.Substitute())
}

// Entry is one retained substitution.
type Entry struct {
	Row       Row
	Teachers  []string
	Classless bool
}

// Name is the teacher display name used as group title.
func (e Entry) Name() string {
	if e.Row.Heading != "" {
		return e.Row.Heading
	}
	return strings.Join(e.Teachers, ", ")
}

// Render formats the entry as labelled lines.
func (e Entry) Render() string {
	lines := make([]string, 0, 5)
	if e.Classless {
		lines = append(lines, "**"+teacherLabel+":** "+e.Name())
	}
	for i, label := range labels {
		v := e.Row.Fields[i]
		if !useful(v, label) {
			v = missingValue
		}
		lines = append(lines, "**"+label+":** "+v)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Group is a titled bundle of rendered entries.
type Group struct {
	Title   string
	Entries []string
}

// Classless reports whether g is the unassigned-class bucket.
func (g Group) Classless() bool {
	return strings.Contains(g.Title, ClasslessTitle)
}

// Result is the extractor output for one tenant.
type Result struct {
	ExtraInfo string
	Groups    []Group
}

// Page is the filter-independent view of a scanned document.
type Page struct {
	ExtraInfo string
	Rows      []Row
}

// Extract scans doc and selects rows with f.
func Extract(doc *document.Element, f Filters) Result {
	return Scan(doc).Select(f)
}

// Scan classifies the rows of doc. A nil document yields an empty page.
func Scan(doc *document.Element) *Page {
	p := &Page{}
	if doc == nil {
		return p
	}
	rows := doc.FindAll(document.Tag("tr"))

	if cell := firstMarkedCell(rows, bannerClass); cell != nil {
		p.ExtraInfo = bannerText(cell)
	}

	heading := ""
	for _, tr := range rows {
		cells := tr.FindAll(document.Tag("td"))
		if len(cells) > 0 && cells[0].HasClass(bannerClass) {
			continue
		}
		if len(cells) == 1 {
			heading = CleanText(cells[0])
			continue
		}
		if len(cells) < 4 {
			continue
		}
		var row Row
		row.Heading = heading
		keep := false
		for i := range labels {
			row.Fields[i] = CleanText(cells[i])
			if useful(row.Fields[i], labels[i]) {
				keep = true
			}
		}
		if keep {
			p.Rows = append(p.Rows, row)
		}
	}

	if p.ExtraInfo == "" && !hasRealRow(rows) {
		if cell := firstMarkedCell(rows, fallbackClass); cell != nil {
			p.ExtraInfo = bannerText(cell)
		}
	}
	return p
}

// Select applies f to the page rows. Groups keep first-seen order, with
// the classless bucket moved to the front.
func (p *Page) Select(f Filters) Result {
	res := Result{ExtraInfo: p.ExtraInfo}
	if !f.Active() {
		return res
	}

	classRes := compileClassPatterns(f.Classes)
	knownRes := compileKnownClasses(f.KnownClasses)
	wanted := NewMatcher(f.Teachers)

	var order []string
	grouped := map[string][]string{}
	for _, row := range p.Rows {
		teachers := row.Teachers()
		classMatch := matchesClass(row, classRes)
		teacherMatch := wanted.MatchAny(teachers)
		classless := len(f.Classes) > 0 && isClassless(row, knownRes, len(f.KnownClasses) > 0)
		if !classMatch && !teacherMatch && !classless {
			continue
		}

		e := Entry{Row: row, Teachers: teachers, Classless: classless}
		text := e.Render()
		if text == "" {
			continue
		}
		title := e.Name()
		if classless {
			title = ClasslessTitle
		}
		if _, ok := grouped[title]; !ok {
			order = append(order, title)
		}
		grouped[title] = append(grouped[title], text)
	}

	for _, title := range order {
		if entries := grouped[title]; len(entries) > 0 {
			res.Groups = append(res.Groups, Group{Title: title, Entries: entries})
		}
	}
	for i, g := range res.Groups {
		if g.Classless() && i > 0 {
			copy(res.Groups[1:i+1], res.Groups[0:i])
			res.Groups[0] = g
			break
		}
	}
	return res
}

func firstMarkedCell(rows []*document.Element, class string) *document.Element {
	for _, tr := range rows {
		for _, td := range tr.FindAll(document.Tag("td")) {
			if !td.HasClass(class) {
				continue
			}
			if !isBlank(strings.TrimSpace(CleanText(td))) {
				return td
			}
		}
	}
	return nil
}

// hasRealRow reports whether any 4+ cell row carries data other than
// blanks or column labels.
func hasRealRow(rows []*document.Element) bool {
	for _, tr := range rows {
		cells := tr.FindAll(document.Tag("td"))
		if len(cells) < 4 {
			continue
		}
		empty, header := true, true
		for _, td := range cells[:4] {
			t := strings.ToLower(CleanText(td))
			if !isBlank(t) {
				empty = false
			}
			if _, ok := headerLabels[strings.TrimSpace(t)]; !ok {
				header = false
			}
		}
		if !empty && !header {
			return true
		}
	}
	return false
}

func useful(value, label string) bool {
	return value != "" && !strings.EqualFold(value, label)
}

var reParens = regexp.MustCompile(`[()]`)

func compileClassPatterns(classes []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(classes))
	for _, c := range classes {
		tokens := strings.Fields(Normalize(c))
		if len(tokens) == 0 {
			continue
		}
		quoted := make([]string, len(tokens))
		for i, t := range tokens {
			quoted[i] = regexp.QuoteMeta(t)
		}
		out = append(out, regexp.MustCompile(`\b`+strings.Join(quoted, `\s*`)+`\b`))
	}
	return out
}

func compileKnownClasses(known []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(known))
	for _, k := range known {
		n := Normalize(k)
		if n == "" {
			continue
		}
		out = append(out, regexp.MustCompile(`\b`+regexp.QuoteMeta(n)+`\b`))
	}
	return out
}

func matchesClass(row Row, patterns []*regexp.Regexp) bool {
	if len(patterns) == 0 {
		return false
	}
	desc, _, _ := strings.Cut(row.Description(), "-")
	text := Normalize(strings.Join([]string{row.Lesson(), desc, row.Substitute(), row.Remarks()}, " "))
	text = reParens.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func isClassless(row Row, known []*regexp.Regexp, haveKnown bool) bool {
	full := strings.Join(row.Fields[:], " ")
	if haveKnown {
		text := Normalize(full)
		for _, re := range known {
			if re.MatchString(text) {
				return false
			}
		}
		return true
	}
	return !hasDigit(full)
}
