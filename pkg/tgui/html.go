package tgui

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H { return wrap("b", Esc(s)) }

// Link builds an HTML link.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

var (
	reMdBold = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMdLink = regexp.MustCompile(`\[([^\]\n]*)\]\(([^)\s]+)\)`)
)

// Markdown renders the tiny markdown subset produced by the extractor
// (**bold** and [text](url)) as Telegram HTML. Everything else is escaped.
func Markdown(s string) H {
	var b strings.Builder
	rest := s
	for rest != "" {
		loc := reMdLink.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(bold(rest))
			break
		}
		b.WriteString(bold(rest[:loc[0]]))
		text := rest[loc[2]:loc[3]]
		url := rest[loc[4]:loc[5]]
		if text == "" {
			text = url
		}
		b.WriteString(Link(text, url).String())
		rest = rest[loc[1]:]
	}
	return H(b.String())
}

func bold(s string) string {
	out := reMdBold.ReplaceAllStringFunc(html.EscapeString(s), func(m string) string {
		return "<b>" + m[2:len(m)-2] + "</b>"
	})
	return out
}
