package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Validate reports every problem found in cfg. It is the Watch validator,
// so a config that fails here is never committed on reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	loc, err := cfg.Schedule.Location()
	if err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		loc = time.UTC
	}
	if strings.TrimSpace(cfg.YearEnd) != "" {
		if _, err := ParseYearEnd(cfg.YearEnd, loc); err != nil {
			errs = append(errs, err)
		}
	}

	for _, id := range cfg.SchoolIDs() {
		s := cfg.Schools[id]
		raw := strings.TrimSpace(s.URL)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("szkoły.%s.url: invalid url %q", id, s.URL))
		}
	}

	ids := make([]string, 0, len(cfg.Servers))
	for id := range cfg.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := cfg.Servers[id]
		if s.School == "" {
			continue
		}
		if _, ok := cfg.Schools[s.School]; !ok {
			errs = append(errs, fmt.Errorf("serwery.%s.szkoła: unknown school %q", id, s.School))
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.broadcast_ttl", cfg.Telegram.BroadcastTTL},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"fetch.timeout", cfg.Fetch.Timeout},
		{"schedule.retry", cfg.Schedule.Retry},
		{"schedule.shutdown_grace", cfg.Schedule.ShutdownGrace},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Schedule.Concurrency < 0 {
		errs = append(errs, errors.New("schedule.concurrency: must be >= 0"))
	}
	if cfg.Telegram.RetryMax < 0 {
		errs = append(errs, errors.New("telegram.retry_max: must be >= 0"))
	}
	return errors.Join(errs...)
}
