package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	logx "subwatch/pkg/logx"
)

// Version is written into the config document on load.
const Version = "2.3.3.0-stable"

// Config is the single configuration document.
//
// The Polish keys are the domain part shared with existing deployments;
// the English sections configure the runtime.
type Config struct {
	Version string            `json:"wersja"`
	Token   string            `json:"token"`
	YearEnd string            `json:"koniec-roku-szkolnego"`
	Servers map[string]Server `json:"serwery"`
	Schools map[string]School `json:"szkoły"`

	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Fetch    FetchConfig    `json:"fetch"`
	Schedule ScheduleConfig `json:"schedule"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// Server is one subscriber: a chat receiving the filtered updates of a school.
type Server struct {
	School   string   `json:"szkoła"`
	Channel  int64    `json:"identyfikator-kanalu,omitempty"`
	Classes  []string `json:"wybrane-klasy"`
	Teachers []string `json:"wybrani-nauczyciele"`
}

// Configured reports whether any filter is set. Unconfigured servers
// receive nothing.
func (s Server) Configured() bool {
	return len(s.Classes) > 0 || len(s.Teachers) > 0
}

// School is one substitutions page.
type School struct {
	Name     string              `json:"nazwa"`
	URL      string              `json:"url"`
	Encoding string              `json:"kodowanie"`
	Classes  map[string][]string `json:"lista-klas"`
	Teachers []string            `json:"lista-nauczycieli"`
}

// KnownClasses flattens the class lists in grade order.
func (s School) KnownClasses() []string {
	grades := make([]string, 0, len(s.Classes))
	for g := range s.Classes {
		grades = append(grades, g)
	}
	sort.Slice(grades, func(i, j int) bool {
		a, errA := strconv.Atoi(grades[i])
		b, errB := strconv.Atoi(grades[j])
		if errA == nil && errB == nil && a != b {
			return a < b
		}
		return grades[i] < grades[j]
	})

	out := make([]string, 0, len(grades)*4)
	for _, g := range grades {
		for _, c := range s.Classes[g] {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// DisplayName falls back to the id when no name is configured.
func (s School) DisplayName(id string) string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return id
}

// TelegramConfig configures the chat transport.
//
// Defaults:
//   - token: top-level "token"
//   - poll_timeout: 10s
//   - rate_per_sec: 20
//   - retry_max: 2
//   - broadcast_ttl: 5s
type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	RetryMax     int     `json:"retry_max,omitempty"`
	BroadcastTTL string  `json:"broadcast_ttl,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// Logx converts the section to the logging service config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled:    c.File.Enabled,
			Path:       c.File.Path,
			MaxSizeMB:  c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAgeDays: c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		},
	}
}

// StorageConfig selects the tenant record backend.
//
// Driver values:
//   - "file" (default): Path is a directory, default ./resources
//   - "sqlite": Path is a database file, default ./resources/subwatch.db
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type FetchConfig struct {
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ScheduleConfig controls the two long-running loops.
//
// updates and year_end accept anything ParseSchedule does
// (durations, cron expressions, "HH:MM").
type ScheduleConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	Updates       string `json:"updates,omitempty"`
	YearEnd       string `json:"year_end,omitempty"`
	Retry         string `json:"retry,omitempty"`
	Concurrency   int    `json:"concurrency,omitempty"`
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

const (
	DefaultPollTimeout   = 10 * time.Second
	DefaultRatePerSec    = 20
	DefaultRetryMax      = 2
	DefaultBroadcastTTL  = 5 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
	DefaultUserAgent     = "subwatch"
	DefaultTimezone      = "Europe/Warsaw"
	DefaultUpdates       = "5m"
	DefaultYearEnd       = "24h"
	DefaultRetry         = time.Hour
	DefaultConcurrency   = 3
	DefaultShutdownGrace = 10 * time.Second
	DefaultStorageDir    = "./resources"
	DefaultMetricsAddr   = "127.0.0.1:9090"
)

// BotToken returns telegram.token, falling back to the top-level token.
func (c *Config) BotToken() string {
	if t := strings.TrimSpace(c.Telegram.Token); t != "" {
		return t
	}
	return strings.TrimSpace(c.Token)
}

func (c TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return durationOr(c.PollTimeout, DefaultPollTimeout)
}

func (c TelegramConfig) BroadcastTTLOrDefault() time.Duration {
	return durationOr(c.BroadcastTTL, DefaultBroadcastTTL)
}

func (c TelegramConfig) RatePerSecOrDefault() float64 {
	if c.RatePerSec <= 0 {
		return DefaultRatePerSec
	}
	return c.RatePerSec
}

func (c TelegramConfig) RetryMaxOrDefault() int {
	if c.RetryMax <= 0 {
		return DefaultRetryMax
	}
	return c.RetryMax
}

func (c FetchConfig) TimeoutOrDefault() time.Duration {
	return durationOr(c.Timeout, DefaultFetchTimeout)
}

func (c FetchConfig) UserAgentOrDefault() string {
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		return ua
	}
	return DefaultUserAgent
}

func (c ScheduleConfig) UpdatesOrDefault() string {
	if s := strings.TrimSpace(c.Updates); s != "" {
		return s
	}
	return DefaultUpdates
}

func (c ScheduleConfig) YearEndOrDefault() string {
	if s := strings.TrimSpace(c.YearEnd); s != "" {
		return s
	}
	return DefaultYearEnd
}

func (c ScheduleConfig) RetryOrDefault() time.Duration {
	return durationOr(c.Retry, DefaultRetry)
}

func (c ScheduleConfig) ConcurrencyOrDefault() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

func (c ScheduleConfig) ShutdownGraceOrDefault() time.Duration {
	return durationOr(c.ShutdownGrace, DefaultShutdownGrace)
}

// Location loads the configured timezone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	return time.LoadLocation(tz)
}

func (c StorageConfig) BusyTimeoutOrDefault() time.Duration {
	return durationOr(c.BusyTimeout, 0)
}

// PathOrDefault returns the configured path or the driver's default.
func (c StorageConfig) PathOrDefault() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "sqlite", "sqlite3":
		return DefaultStorageDir + "/subwatch.db"
	default:
		return DefaultStorageDir
	}
}

func (c MetricsConfig) AddrOrDefault() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Servers != nil {
		out.Servers = make(map[string]Server, len(c.Servers))
		for id, s := range c.Servers {
			s.Classes = cloneStrings(s.Classes)
			s.Teachers = cloneStrings(s.Teachers)
			out.Servers[id] = s
		}
	}
	if c.Schools != nil {
		out.Schools = make(map[string]School, len(c.Schools))
		for id, s := range c.Schools {
			s.Teachers = cloneStrings(s.Teachers)
			if s.Classes != nil {
				classes := make(map[string][]string, len(s.Classes))
				for g, list := range s.Classes {
					classes[g] = cloneStrings(list)
				}
				s.Classes = classes
			}
			out.Schools[id] = s
		}
	}
	return &out
}

// ServersForSchool returns the ids of servers bound to school, sorted.
func (c *Config) ServersForSchool(school string) []string {
	ids := make([]string, 0, 4)
	for id, s := range c.Servers {
		if s.School == school {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ServerByChannel finds the server delivering to chat.
func (c *Config) ServerByChannel(chat int64) (string, Server, bool) {
	ids := make([]string, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if s := c.Servers[id]; s.Channel != 0 && s.Channel == chat {
			return id, s, true
		}
	}
	return "", Server{}, false
}

// SchoolIDs returns the configured school ids, sorted.
// ServerIDs lists server ids in sorted order.
func (c *Config) ServerIDs() []string {
	ids := make([]string, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) SchoolIDs() []string {
	ids := make([]string, 0, len(c.Schools))
	for id := range c.Schools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Default returns the document written when no config file exists.
func Default() *Config {
	grades := func(n int) map[string][]string {
		m := make(map[string][]string, n)
		for i := 1; i <= n; i++ {
			m[strconv.Itoa(i)] = []string{}
		}
		return m
	}
	return &Config{
		Version: Version,
		YearEnd: "2026-06-26",
		Servers: map[string]Server{},
		Schools: map[string]School{
			"01": {
				Name:     "Zespół Szkół Przykładowych w Przykładowicach",
				URL:      "https://kacpergorka.com/zastepstwa/01",
				Encoding: "iso-8859-2",
				Classes:  grades(5),
				Teachers: []string{},
			},
			"02": {
				Name:     "LXVII Liceum Ogólnokształcące w Przykładowicach",
				URL:      "https://kacpergorka.com/zastepstwa/02",
				Encoding: "iso-8859-2",
				Classes:  grades(4),
				Teachers: []string{},
			},
		},
		Telegram: TelegramConfig{PollTimeout: "10s", BroadcastTTL: "5s"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LogFileConfig{Path: "./logs/subwatch.log"},
		},
		Storage:  StorageConfig{Driver: "file"},
		Fetch:    FetchConfig{Timeout: "30s", UserAgent: DefaultUserAgent},
		Schedule: ScheduleConfig{Timezone: DefaultTimezone, Updates: DefaultUpdates, YearEnd: DefaultYearEnd, Retry: "1h", Concurrency: DefaultConcurrency},
		Metrics:  MetricsConfig{Addr: DefaultMetricsAddr},
	}
}
