package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"subwatch/internal/config"
	"subwatch/internal/extract"
	"subwatch/internal/stats"
	"subwatch/internal/storage"
	kit "subwatch/internal/transport"
)

const (
	RepoName = "kacpergorka/zastepstwa"
	RepoURL  = "https://github.com/kacpergorka/zastepstwa"
)

type Replier interface {
	Reply(ctx context.Context, to kit.ChatTarget, markdown string) error
}

type ConfigSource interface {
	Snapshot() *config.Config
}

// Handlers implements the chat commands.
type Handlers struct {
	cfg     ConfigSource
	store   storage.Store
	reply   Replier
	started time.Time

	now func() time.Time
}

func NewHandlers(cfg ConfigSource, st storage.Store, reply Replier, started time.Time) *Handlers {
	return &Handlers{cfg: cfg, store: st, reply: reply, started: started, now: time.Now}
}

// Commands returns the command set for a Router.
func (h *Handlers) Commands() []Command {
	return []Command{
		{
			Name:        "statystyki",
			Description: "Wyświetl bieżące statystyki dostarczonych zastępstw w aktualnym roku szkolnym.",
			Handle:      h.statistics,
		},
		{
			Name:        "informacje",
			Description: "Wyświetl najważniejsze informacje dotyczące bota i jego oprogramowania.",
			Handle:      h.info,
		},
	}
}

func (h *Handlers) statistics(ctx context.Context, req *Request) error {
	cfg := h.cfg.Snapshot()
	id, srv, ok := cfg.ServerByChannel(req.Chat.ChatID)
	if !ok {
		return h.reply.Reply(ctx, req.Chat, unconfiguredMessage)
	}
	rec, err := h.store.Read(ctx, id)
	if err != nil {
		return fmt.Errorf("read record %s: %w", id, err)
	}
	return h.reply.Reply(ctx, req.Chat, statisticsMessage(stats.Build(rec, srv, stats.CommandLimit)))
}

func (h *Handlers) info(ctx context.Context, req *Request) error {
	cfg := h.cfg.Snapshot()
	version := cfg.Version
	if version == "" {
		version = "Brak danych"
	}
	return h.reply.Reply(ctx, req.Chat, infoMessage(version, len(cfg.Servers), h.now().Sub(h.started)))
}

const unconfiguredMessage = "**Polecenie nie zostało wykonane!**\n\nAby wykonać to polecenie, poproś administratora o skonfigurowanie zastępstw."

func statisticsMessage(v stats.View) string {
	const title = "**Statystyki zastępstw**"
	switch {
	case v.Empty():
		return title + "\n\nDla tego serwera od rozpoczęcia roku szkolnego nie odnotowano jeszcze żadnych zastępstw."
	case v.Unconfigured:
		return unconfiguredMessage
	}
	desc := fmt.Sprintf("Dla tego serwera od rozpoczęcia roku szkolnego dostarczono **%d** %s! Poniżej znajduje się lista nauczycieli z największą liczbą zarejestrowanych zastępstw.",
		v.Counter, extract.Plural(v.Counter))
	if v.Excluded {
		desc += " (Pominięto nauczycieli ustawionych w filtrze)."
	}
	parts := []string{title, desc}
	if rows := v.Markdown(); rows != "" {
		parts = append(parts, rows)
	}
	return strings.Join(parts, "\n\n")
}

func infoMessage(version string, servers int, uptime time.Duration) string {
	where := "serwerach"
	if servers == 1 {
		where = "serwerze"
	}
	lines := []string{
		"**Informacje dotyczące bota**",
		"",
		"Otwartoźródłowe oprogramowanie informujące o aktualizacjach zastępstw.",
		"",
		"**Wersja bota:** " + version,
		"**Repozytorium GitHuba:** [" + RepoName + "](" + RepoURL + ")",
		fmt.Sprintf("**Liczba serwerów:** Bot znajduje się na **%d** %s.", servers, where),
		"**Bot pracuje bez przerwy przez:** " + formatUptime(uptime),
	}
	return strings.Join(lines, "\n")
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	seconds := int((d - time.Duration(minutes)*time.Minute) / time.Second)
	return fmt.Sprintf("%d dni, %d godz., %d min., %d sek.", days, hours, minutes, seconds)
}
