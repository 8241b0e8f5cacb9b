package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/document"
)

const pageHTML = `<html><body><table>
<tr><td class="st0">Dzisiaj   skrócone lekcje.<br>
Plan <a href="https://szkola.pl/plan">tutaj</a></td></tr>
<tr><td class="st1">Jan Kowalski</td></tr>
<tr><td class="st2">Lekcja</td><td>Opis</td><td>Zastępca</td><td>Uwagi</td></tr>
<tr><td>1</td><td>3A - Matematyka</td><td>Anna Nowak</td><td>&nbsp;</td></tr>
<tr><td>2</td><td>Wychowanie fizyczne</td><td>Piotr Zieliński</td><td>sala gim.</td></tr>
<tr><td class="st1">Maria Wiśniewska</td></tr>
<tr><td>3</td><td>(2B) Fizyka</td><td>J. Kowalski</td><td></td></tr>
</table></body></html>`

func mustParse(t *testing.T, s string) *document.Element {
	t.Helper()
	doc, err := document.ParseString(s)
	require.NoError(t, err)
	return doc
}

func TestScanBannerAndRows(t *testing.T) {
	t.Parallel()
	page := Scan(mustParse(t, pageHTML))

	assert.Equal(t, "Dzisiaj skrócone lekcje.\nPlan [tutaj](https://szkola.pl/plan)", page.ExtraInfo)
	require.Len(t, page.Rows, 3, "header row must be dropped")
	assert.Equal(t, "Jan Kowalski", page.Rows[0].Heading)
	assert.Equal(t, [4]string{"1", "3A - Matematyka", "Anna Nowak", ""}, page.Rows[0].Fields)
	assert.Equal(t, "Maria Wiśniewska", page.Rows[2].Heading)

	row := page.Rows[1]
	assert.Equal(t, "2", row.Lesson())
	assert.Equal(t, "Wychowanie fizyczne", row.Description())
	assert.Equal(t, "Piotr Zieliński", row.Substitute())
	assert.Equal(t, "sala gim.", row.Remarks())
	assert.Equal(t, []string{"Jan Kowalski", "Piotr Zieliński"}, row.Teachers())
}

func TestSelectByClass(t *testing.T) {
	t.Parallel()
	res := Extract(mustParse(t, pageHTML), Filters{Classes: []string{"3 A"}})

	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Jan Kowalski", res.Groups[0].Title)
	assert.Equal(t, []string{
		"**Lekcja:** 1\n**Opis:** 3A - Matematyka\n**Zastępca:** Anna Nowak\n**Uwagi:** Brak",
	}, res.Groups[0].Entries)
}

func TestClasslessBucketSortsFirst(t *testing.T) {
	t.Parallel()
	res := Extract(mustParse(t, pageHTML), Filters{
		Classes:      []string{"3A"},
		KnownClasses: []string{"1A", "2B", "3A"},
	})

	require.Len(t, res.Groups, 2)
	assert.Equal(t, ClasslessTitle, res.Groups[0].Title)
	assert.True(t, res.Groups[0].Classless())
	assert.Equal(t, []string{
		"**Nauczyciel:** Jan Kowalski\n**Lekcja:** 2\n**Opis:** Wychowanie fizyczne\n**Zastępca:** Piotr Zieliński\n**Uwagi:** sala gim.",
	}, res.Groups[0].Entries)
	assert.Equal(t, "Jan Kowalski", res.Groups[1].Title)
}

func TestClasslessWithoutKnownClassesNeedsNoDigit(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<table>
<tr><td>-</td><td>Zebranie rady</td><td>Jan Kowalski</td><td>aula</td></tr>
<tr><td>4</td><td>Historia</td><td>Jan Kowalski</td><td></td></tr>
</table>`)

	res := Extract(doc, Filters{Classes: []string{"3A"}})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, ClasslessTitle, res.Groups[0].Title)
	require.Len(t, res.Groups[0].Entries, 1)
	assert.Contains(t, res.Groups[0].Entries[0], "**Opis:** Zebranie rady")

	// Without class filters nothing is ever classless.
	res = Extract(doc, Filters{Teachers: []string{"Anna Nowak"}})
	assert.Empty(t, res.Groups)
}

func TestSelectByTeacherKeys(t *testing.T) {
	t.Parallel()
	page := Scan(mustParse(t, pageHTML))

	res := page.Select(Filters{Teachers: []string{"Kowalski"}})
	require.Len(t, res.Groups, 2)
	assert.Equal(t, "Jan Kowalski", res.Groups[0].Title)
	assert.Len(t, res.Groups[0].Entries, 2)
	assert.Equal(t, "Maria Wiśniewska", res.Groups[1].Title)

	res = page.Select(Filters{Teachers: []string{"Anna Nowak"}})
	require.Len(t, res.Groups, 1)
	assert.Len(t, res.Groups[0].Entries, 1)
	assert.Contains(t, res.Groups[0].Entries[0], "Anna Nowak")
}

func TestTeacherFilterBothDirections(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<table><tr><td>5</td><td>Chemia</td><td>J. Kowalski</td><td></td></tr></table>`)

	matched := Extract(doc, Filters{Teachers: []string{"Jan Kowalski"}})
	require.Len(t, matched.Groups, 1)
	assert.Equal(t, "J. Kowalski", matched.Groups[0].Title)

	other := Extract(doc, Filters{Teachers: []string{"Anna Nowak"}})
	assert.Empty(t, other.Groups)
}

func TestTeacherFilterSkipsNamesakes(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<table>
<tr><td>1</td><td>Fizyka</td><td>Piotr Kowalski</td><td></td></tr>
<tr><td>2</td><td>Chemia</td><td>mgr J. Kowalski</td><td></td></tr>
</table>`)

	res := Extract(doc, Filters{Teachers: []string{"Jan Kowalski"}})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "mgr J. Kowalski", res.Groups[0].Title)

	res = Extract(doc, Filters{Teachers: []string{"Kowalski"}})
	assert.Len(t, res.Groups, 2)
}

func TestBannerRowIsNotHeading(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<table>
<tr><td class="st0">Uwaga</td></tr>
<tr><td>1</td><td>Matematyka</td><td>Jan Kowalski</td><td></td></tr>
</table>`)

	page := Scan(doc)
	assert.Equal(t, "Uwaga", page.ExtraInfo)
	require.Len(t, page.Rows, 1)
	assert.Empty(t, page.Rows[0].Heading)

	res := page.Select(Filters{Teachers: []string{"Kowalski"}})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Jan Kowalski", res.Groups[0].Title)
	assert.Equal(t, map[string]int{"Jan Kowalski": 1}, Tally(res.Groups))
}

func TestNoFiltersRetainsNothing(t *testing.T) {
	t.Parallel()
	res := Extract(mustParse(t, pageHTML), Filters{KnownClasses: []string{"3A"}})
	assert.Empty(t, res.Groups)
	assert.NotEmpty(t, res.ExtraInfo)
}

func TestFallbackBanner(t *testing.T) {
	t.Parallel()
	empty := mustParse(t, `<table>
<tr><td class="st0">&nbsp;</td></tr>
<tr><td class="st1">Brak zastępstw na dziś</td></tr>
<tr><td>Lekcja</td><td>Opis</td><td>Zastępca</td><td>Uwagi</td></tr>
</table>`)
	assert.Equal(t, "Brak zastępstw na dziś", Scan(empty).ExtraInfo)

	withRows := mustParse(t, `<table>
<tr><td class="st1">Jan Kowalski</td></tr>
<tr><td>1</td><td>Fizyka</td><td>Anna Nowak</td><td></td></tr>
</table>`)
	assert.Equal(t, "", Scan(withRows).ExtraInfo)
}

func TestEndToEndSingleRow(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<table><tr><td>1</td><td>Matematyka</td><td>Jan Kowalski</td><td></td></tr></table>`)

	res := Extract(doc, Filters{Teachers: []string{"Kowalski"}})
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Jan Kowalski", res.Groups[0].Title)
	assert.Equal(t, []string{"**Lekcja:** 1\n**Opis:** Matematyka\n**Zastępca:** Jan Kowalski\n**Uwagi:** Brak"}, res.Groups[0].Entries)
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, pageHTML)
	f := Filters{Classes: []string{"3A"}, Teachers: []string{"Wiśniewska"}, KnownClasses: []string{"2B", "3A"}}
	assert.Equal(t, Extract(doc, f), Extract(doc, f))
}

func TestNilDocument(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Result{}, Extract(nil, Filters{Classes: []string{"1A"}}))
}

func TestClassPatternWholeWord(t *testing.T) {
	t.Parallel()
	patterns := compileClassPatterns([]string{"3 A"})
	tests := []struct {
		desc string
		want bool
	}{
		{desc: "kl. 3A", want: true},
		{desc: "3 A", want: true},
		{desc: "(3A)", want: true},
		{desc: "13A", want: false},
		{desc: "3AB", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			row := Row{Fields: [4]string{"", tt.desc, "", ""}}
			assert.Equal(t, tt.want, matchesClass(row, patterns))
		})
	}
}

func TestClassMatchIgnoresDescriptionSuffix(t *testing.T) {
	t.Parallel()
	patterns := compileClassPatterns([]string{"4B"})
	row := Row{Fields: [4]string{"2", "Biologia - zamiast 4B", "", ""}}
	assert.False(t, matchesClass(row, patterns))

	row.Fields[3] = "łączona z 4b"
	assert.True(t, matchesClass(row, patterns))
}
