package config

import (
	"reflect"
	"sort"
	"strings"

	logx "subwatch/pkg/logx"
)

// SummarizeChange returns the changed sections and log-safe attributes
// describing them. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.BotToken() != newCfg.BotToken() ||
		!reflect.DeepEqual(withoutToken(oldCfg.Telegram), withoutToken(newCfg.Telegram)) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_set", newCfg.BotToken() != ""),
			logx.Bool("telegram.token_changed", oldCfg.BotToken() != newCfg.BotToken()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.PathOrDefault()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Fetch, newCfg.Fetch) {
		changed = append(changed, "fetch")
		attrs = append(attrs, logx.String("fetch.timeout", newCfg.Fetch.Timeout))
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.updates", newCfg.Schedule.UpdatesOrDefault()),
			logx.String("schedule.year_end", newCfg.Schedule.YearEndOrDefault()),
			logx.Int("schedule.concurrency", newCfg.Schedule.ConcurrencyOrDefault()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.AddrOrDefault()),
		)
	}

	if strings.TrimSpace(oldCfg.YearEnd) != strings.TrimSpace(newCfg.YearEnd) {
		changed = append(changed, "koniec-roku-szkolnego")
		attrs = append(attrs, logx.String("koniec-roku-szkolnego", newCfg.YearEnd))
	}

	if ids := changedKeys(oldCfg.Servers, newCfg.Servers); len(ids) > 0 {
		changed = append(changed, "serwery")
		attrs = append(attrs,
			logx.Int("serwery.count", len(newCfg.Servers)),
			logx.Strings("serwery.changed", ids),
		)
	}

	if ids := changedKeys(oldCfg.Schools, newCfg.Schools); len(ids) > 0 {
		changed = append(changed, "szkoły")
		attrs = append(attrs,
			logx.Int("szkoły.count", len(newCfg.Schools)),
			logx.Strings("szkoły.changed", ids),
		)
	}

	return changed, attrs
}

func withoutToken(t TelegramConfig) TelegramConfig {
	t.Token = ""
	return t
}

// changedKeys lists keys added, removed or modified between a and b.
func changedKeys[V any](a, b map[string]V) []string {
	out := make([]string, 0, 4)
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
