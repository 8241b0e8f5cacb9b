package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/document"
	"subwatch/internal/extract"
)

func TestTextKnownDigest(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Text(""))
	assert.Len(t, Text("zażółć"), 64)
	assert.Equal(t, Text("zażółć"), Text("zażółć"))
}

func TestGroupsCanonicalForm(t *testing.T) {
	t.Parallel()
	groups := []extract.Group{{Title: "A & B", Entries: []string{"**x**"}}}
	assert.Equal(t, `[["A & B",["**x**"]]]`, string(canonical(groups)))
	assert.Equal(t, `[]`, string(canonical(nil)))
	assert.Equal(t, Groups(nil), Groups([]extract.Group{}))
}

func TestFingerprintSensitivity(t *testing.T) {
	t.Parallel()
	render := func(banner, lesson string) extract.Result {
		doc, err := document.ParseString(`<table>
<tr><td class="st0">` + banner + `</td><td></td></tr>
<tr><td>` + lesson + `</td><td>Matematyka</td><td>Jan Kowalski</td><td></td></tr>
</table>`)
		require.NoError(t, err)
		return extract.Extract(doc, extract.Filters{Teachers: []string{"Kowalski"}})
	}

	base := render("Uwaga", "1")
	bannerOnly := render("Uwaga!", "1")
	rowChanged := render("Uwaga", "2")

	assert.NotEqual(t, Text(base.ExtraInfo), Text(bannerOnly.ExtraInfo))
	assert.Equal(t, Groups(base.Groups), Groups(bannerOnly.Groups))

	assert.Equal(t, Text(base.ExtraInfo), Text(rowChanged.ExtraInfo))
	assert.NotEqual(t, Groups(base.Groups), Groups(rowChanged.Groups))
}
