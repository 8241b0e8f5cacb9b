package notifier

import (
	"fmt"
	"strings"
	"time"

	"subwatch/internal/extract"
	"subwatch/internal/stats"
)

const (
	updateTitle    = "**Zastępstwa zostały zaktualizowane!**"
	updateMention  = "Zastępstwa zostały zaktualizowane!"
	summaryTitle   = "**Podsumowanie roku szkolnego!**"
	summaryMention = "Podsumowanie roku szkolnego!"

	aboutHeading  = "**Informacja o tej wiadomości:**"
	bannerOnlyTxt = "Ta wiadomość zawiera informacje dodatkowe umieszczone nad zastępstwami. Nie znaleziono dla Ciebie żadnych zastępstw pasujących do Twoich filtrów."
	bannerTxt     = "Ta wiadomość zawiera informacje dodatkowe umieszczone nad zastępstwami. Wszystkie zastępstwa znajdują się pod tą wiadomością."
	classlessTxt  = "Te zastępstwa nie posiadają dołączonej klasy, więc zweryfikuj czy przypadkiem nie dotyczą one Ciebie!"

	groupFooter     = "Każdy nauczyciel, którego dotyczą zastępstwa pasujące do Twoich filtrów, zostanie załączany w oddzielnej wiadomości."
	classlessFooter = "Każdy nauczyciel, którego dotyczą zastępstwa bez dołączonej klasy, został załączony w tej wiadomości."
	summaryFooter   = "Udanych i przede wszystkim bezpiecznych wakacji!"

	// updateReaction marks the end of an update.
	updateReaction = "❤"
)

// headerMessage renders the banner message that opens every update.
func headerMessage(extraInfo string, withGroups bool, at time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(updateTitle)
	b.WriteString("\n\n")
	if extraInfo != "" {
		b.WriteString("**Informacje dodatkowe zastępstw:**\n")
		b.WriteString(extraInfo)
		b.WriteString("\n\n")
	}
	b.WriteString(aboutHeading)
	b.WriteString("\n")
	if withGroups {
		b.WriteString(bannerTxt)
	} else {
		b.WriteString(bannerOnlyTxt)
	}
	if loc != nil {
		at = at.In(loc)
	}
	b.WriteString("\n\nCzas aktualizacji: ")
	b.WriteString(at.Format("02-01-2006 15:04:05"))
	return b.String()
}

// groupMessage renders one entry group. Entries stay separated by a blank
// line so chunking never splits an entry.
func groupMessage(g extract.Group) string {
	body := strings.Join(g.Entries, "\n\n")
	footer := groupFooter
	if g.Classless() {
		body += "\n\n" + aboutHeading + "\n" + classlessTxt
		footer = classlessFooter
	}
	return "**" + g.Title + "**\n\n" + body + "\n\n" + footer
}

func summaryMessage(v stats.View) string {
	desc := fmt.Sprintf("Dla tego serwera w tym roku szkolnym dostarczono **%d** %s! Poniżej znajduje się lista nauczycieli z największą liczbą zarejestrowanych zastępstw.",
		v.Counter, extract.Plural(v.Counter))
	if v.Excluded {
		desc += " (Pominięto nauczycieli ustawionych w filtrze)."
	}
	parts := []string{summaryTitle, desc}
	if rows := v.Markdown(); rows != "" {
		parts = append(parts, rows)
	}
	parts = append(parts, summaryFooter)
	return strings.Join(parts, "\n\n")
}
