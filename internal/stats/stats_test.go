package stats

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"subwatch/internal/config"
	"subwatch/internal/storage"
)

func TestBuildClassesOnly(t *testing.T) {
	t.Parallel()
	rec := storage.Record{Counter: 9, Tally: map[string]int{"Ewa Lis": 2, "Anna Nowak": 5, "Jan Kowalski": 2}}
	v := Build(rec, config.Server{Classes: []string{"3A"}}, SummaryLimit)

	assert.False(t, v.Excluded)
	assert.Equal(t, []Row{{"Anna Nowak", 5}, {"Ewa Lis", 2}, {"Jan Kowalski", 2}}, v.Rows)
}

func TestBuildExcludesFilteredTeachers(t *testing.T) {
	t.Parallel()
	rec := storage.Record{Counter: 9, Tally: map[string]int{"J. Kowalski": 4, "Anna Nowak": 5}}
	v := Build(rec, config.Server{Teachers: []string{"Jan Kowalski"}}, SummaryLimit)

	assert.True(t, v.Excluded)
	assert.Equal(t, []Row{{"Anna Nowak", 5}}, v.Rows)

	v = Build(storage.Record{Counter: 1, Tally: map[string]int{"Kowalski": 1}}, config.Server{Teachers: []string{"Jan Kowalski"}}, 0)
	assert.True(t, v.NoData())
}

func TestBuildKeepsNamesakes(t *testing.T) {
	t.Parallel()
	rec := storage.Record{Counter: 4, Tally: map[string]int{"Jan Kowalski": 3, "Piotr Kowalski": 1}}
	v := Build(rec, config.Server{Teachers: []string{"Jan Kowalski"}}, SummaryLimit)

	assert.Equal(t, []Row{{"Piotr Kowalski", 1}}, v.Rows)
}

func TestBuildLimit(t *testing.T) {
	t.Parallel()
	tally := map[string]int{}
	for i := 0; i < 40; i++ {
		tally[fmt.Sprintf("Nauczyciel %02d", i)] = i
	}
	v := Build(storage.Record{Counter: 100, Tally: tally}, config.Server{Classes: []string{"1A"}}, SummaryLimit)
	assert.Len(t, v.Rows, SummaryLimit)
	assert.Equal(t, Row{"Nauczyciel 39", 39}, v.Rows[0])

	v = Build(storage.Record{Counter: 100, Tally: tally}, config.Server{Classes: []string{"1A"}}, CommandLimit)
	assert.Len(t, v.Rows, CommandLimit)
}

func TestBuildEmptyAndUnconfigured(t *testing.T) {
	t.Parallel()
	v := Build(storage.Record{Tally: map[string]int{"x": 1}}, config.Server{Classes: []string{"1A"}}, 0)
	assert.True(t, v.Empty())
	assert.Empty(t, v.Rows)

	v = Build(storage.Record{Counter: 3, Tally: map[string]int{"x": 3}}, config.Server{}, 0)
	assert.True(t, v.Unconfigured)
	assert.Empty(t, v.Rows)
}

func TestMarkdown(t *testing.T) {
	t.Parallel()
	v := View{Counter: 3, Rows: []Row{{"Anna Nowak", 2}, {"Ewa Lis", 1}}}
	assert.Equal(t, "**Anna Nowak**: Liczba zastępstw: 2\n**Ewa Lis**: Liczba zastępstw: 1", v.Markdown())

	v = View{Counter: 3, Excluded: true}
	assert.Contains(t, v.Markdown(), "Brak danych")
}
