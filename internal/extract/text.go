package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"subwatch/internal/document"
)

var (
	reSpaceAroundNL = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	reMultiBlank    = regexp.MustCompile(`[ \t]{2,}`)
	reDoubleNL      = regexp.MustCompile(`\n\n`)
	reManyNL        = regexp.MustCompile(`\n{3,}`)
	reBlankRun      = regexp.MustCompile(`[ \t]+`)
	reNLBeforeLink  = regexp.MustCompile(`\n+\[`)
)

// CleanText renders an element's text in normalized form: <br> and CR/CRLF
// become LF, NBSP becomes a space, whitespace runs collapse and leading or
// trailing newlines and spaces are trimmed.
func CleanText(e *document.Element) string {
	if e == nil {
		return ""
	}
	return cleanString(e.Text())
}

func cleanString(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = reSpaceAroundNL.ReplaceAllString(s, "\n")
	s = reMultiBlank.ReplaceAllString(s, " ")
	s = reDoubleNL.ReplaceAllString(s, "\n")
	s = reManyNL.ReplaceAllString(s, "\n\n")
	return strings.Trim(s, "\n ")
}

// bannerText cleans a banner cell after rewriting its first link as
// [text](url). The cell itself is not modified.
func bannerText(cell *document.Element) string {
	c := cell.Clone()
	if a := c.Find(document.Tag("a")); a != nil {
		if href := a.Attr("href", ""); href != "" {
			c.Replace(a, &document.Text{Data: "[" + CleanText(a) + "](" + href + ")"})
		}
	}
	s := CleanText(c)
	s = reBlankRun.ReplaceAllString(s, " ")
	s = reNLBeforeLink.ReplaceAllString(s, " [")
	return s
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Normalize lower-cases s, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		switch r {
		case 'ł':
			return 'l'
		case 'Ł':
			return 'L'
		}
		return r
	}, out)
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

func isBlank(s string) bool {
	return s == "" || s == "&nbsp;"
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
